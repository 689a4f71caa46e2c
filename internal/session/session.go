// Package session maintains the client's belief about whether an authenticated
// session is currently valid. The Manager owns the session lifecycle: it records
// sessions from login responses, persists them redundantly to storage scopes and
// a cookie mirror, sweeps for expiry on a fixed interval, and signs out.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/advancex/advx/internal/common/apperrors"
	"github.com/tidwall/gjson"
)

// Storage keys shared by every scope.
const (
	KeySessionToken = "session_token"
	KeyExpiresAt    = "expires_at"
	KeyEmail        = "email"
	KeyClientID     = "client_id"
	KeyUsername     = "username"
)

// AllKeys lists every key written by RecordSession.
var AllKeys = []string{KeySessionToken, KeyExpiresAt, KeyEmail, KeyClientID, KeyUsername}

// State of the session state machine.
type State int

const (
	StateUnknown State = iota
	StateSignedOut
	StateSignedIn
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed-out"
	case StateSignedIn:
		return "signed-in"
	default:
		return "unknown"
	}
}

// Profile is the opaque user record returned with a session.
type Profile struct {
	Email    string `json:"email,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Session is an authenticated session as seen by the client.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      Profile

	rawExpiry string
}

// Values returns the storage representation of the session.
func (s *Session) Values() map[string]string {
	return map[string]string{
		KeySessionToken: s.Token,
		KeyExpiresAt:    s.RawExpiry(),
		KeyEmail:        s.User.Email,
		KeyClientID:     s.User.ClientID,
		KeyUsername:     s.User.Name,
	}
}

// RawExpiry returns expires_at as it was received.
func (s *Session) RawExpiry() string {
	if s.rawExpiry == "" && !s.ExpiresAt.IsZero() {
		return s.ExpiresAt.Format(time.RFC3339)
	}
	return s.rawExpiry
}

// IsValid reports whether token and expiry describe a usable session at now:
// both must be present and expiry must lie strictly after now.
func IsValid(token string, expiry time.Time, now time.Time) bool {
	if token == "" || expiry.IsZero() {
		return false
	}
	return now.Before(expiry)
}

// ParseResponse extracts a session from a login or OTP verification response.
// A response lacking session_token or expires_at is rejected.
func ParseResponse(body []byte) (*Session, error) {
	if !gjson.ValidBytes(body) {
		return nil, apperrors.Invalid("session response is not valid JSON")
	}
	r := gjson.ParseBytes(body)
	token := r.Get(KeySessionToken).String()
	rawExpiry := r.Get(KeyExpiresAt).String()
	if token == "" || rawExpiry == "" {
		return nil, apperrors.Invalid("session response is missing session_token or expires_at")
	}
	expiry, err := ParseExpiry(rawExpiry)
	if err != nil {
		return nil, apperrors.Invalid("session response has an unreadable expires_at",
			apperrors.ValidationError{Field: KeyExpiresAt, Value: rawExpiry, ErrStr: err.Error()})
	}
	user := r.Get("user")
	return &Session{
		Token:     token,
		ExpiresAt: expiry,
		User: Profile{
			Email:    user.Get("email").String(),
			ClientID: user.Get("client_id").String(),
			Name:     user.Get("name").String(),
		},
		rawExpiry: rawExpiry,
	}, nil
}

// fromValues rebuilds a session from storage. Missing or unreadable values
// produce a session that IsValid rejects.
func fromValues(get func(string) (string, bool)) *Session {
	s := &Session{}
	s.Token, _ = get(KeySessionToken)
	s.rawExpiry, _ = get(KeyExpiresAt)
	s.User.Email, _ = get(KeyEmail)
	s.User.ClientID, _ = get(KeyClientID)
	s.User.Name, _ = get(KeyUsername)
	if s.rawExpiry != "" {
		s.ExpiresAt, _ = ParseExpiry(s.rawExpiry)
	}
	return s
}

var expiryLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseExpiry reads an expires_at value. RFC 3339 timestamps are preferred;
// timestamps without a zone are read in local time.
func ParseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}
