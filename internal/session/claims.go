package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the registered claims of a session token that happens to be a
// JWT. They are informational only: validity is decided by expires_at.
type Claims struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// InspectToken decodes token without verifying its signature. It reports
// false for opaque tokens.
func InspectToken(token string) (Claims, bool) {
	if token == "" {
		return Claims{}, false
	}
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, false
	}
	var c Claims
	c.Subject, _ = mc.GetSubject()
	c.Issuer, _ = mc.GetIssuer()
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, true
}
