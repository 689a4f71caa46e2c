package api

import (
	"context"

	"github.com/advancex/advx/internal/common/apperrors"
	"github.com/advancex/advx/internal/common/httpclient"
)

const (
	PathLogin          = "/auth/login"
	PathLogout         = "/auth/logout"
	PathVerifyOTP      = "/auth/verify-otp"
	PathResendOTP      = "/auth/resend-otp"
	PathGoogleLogin    = "/auth/google/login"
	PathGoogleCallback = "/auth/google/callback"
	PathProfile        = "/auth/protected/profile"
)

// Auth covers sign-in and sign-out. Login and VerifyOTP responses carry the
// session token and expiry to be recorded by the session manager.
type Auth struct {
	d httpclient.Dispatcher
}

func (a *Auth) Login(ctx context.Context, creds Credentials) (*httpclient.Response, error) {
	if err := Validate(&creds); err != nil {
		return nil, err
	}
	return a.d.Post(ctx, PathLogin, creds)
}

func (a *Auth) Logout(ctx context.Context) (*httpclient.Response, error) {
	return a.d.Post(ctx, PathLogout, nil)
}

func (a *Auth) VerifyOTP(ctx context.Context, req OTPRequest) (*httpclient.Response, error) {
	if err := Validate(&req); err != nil {
		return nil, err
	}
	return a.d.Post(ctx, PathVerifyOTP, req)
}

// ResendOTP asks for a new one-time password for a pending sign in.
func (a *Auth) ResendOTP(ctx context.Context, token string) (*httpclient.Response, error) {
	if token == "" {
		return nil, apperrors.Invalid("missing token", apperrors.ValidationError{Field: "token", ErrStr: "missing required attribute"})
	}
	return a.d.Post(ctx, PathResendOTP, map[string]string{"token": token})
}

// GoogleLogin asks the backend where to send the user for Google sign-in.
// The URL is taken from a redirect Location, which is not followed, or from
// the body's url field.
func (a *Auth) GoogleLogin(ctx context.Context) (string, *httpclient.Response, error) {
	resp, err := a.d.Get(ctx, PathGoogleLogin, nil, httpclient.WithoutRedirects())
	if err != nil {
		return "", nil, err
	}
	if loc := resp.Location(); loc != "" {
		return loc, resp, nil
	}
	for _, field := range []string{"url", "authorization_url", "auth_url"} {
		if v := resp.Get(field).String(); v != "" {
			return v, resp, nil
		}
	}
	return "", resp, nil
}

// GoogleCallback forwards the provider's callback query (code, state).
func (a *Auth) GoogleCallback(ctx context.Context, query httpclient.Params) (*httpclient.Response, error) {
	return a.d.Get(ctx, PathGoogleCallback, query)
}

func (a *Auth) Profile(ctx context.Context) (*httpclient.Response, error) {
	return a.d.Post(ctx, PathProfile, nil)
}
