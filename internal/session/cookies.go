package session

import (
	"net/http"
	"net/url"
	"time"
)

// CookieMirror mirrors the session token and expiry into a cookie jar, so that
// every request sharing the jar carries them.
type CookieMirror struct {
	jar http.CookieJar
	url *url.URL
}

// NewCookieMirror mirrors into jar for requests to u.
func NewCookieMirror(jar http.CookieJar, u *url.URL) *CookieMirror {
	root := *u
	root.Path = "/"
	root.RawQuery = ""
	return &CookieMirror{jar: jar, url: &root}
}

// Mirror stores token and the raw expires_at value, both expiring at expiry.
func (m *CookieMirror) Mirror(token, rawExpiry string, expiry time.Time) {
	m.jar.SetCookies(m.url, []*http.Cookie{
		{Name: KeySessionToken, Value: token, Path: "/", Expires: expiry},
		{Name: KeyExpiresAt, Value: rawExpiry, Path: "/", Expires: expiry},
	})
}

// Clear expires every session cookie.
func (m *CookieMirror) Clear() {
	names := []string{KeySessionToken, KeyExpiresAt, KeyEmail, KeyClientID}
	cookies := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		cookies = append(cookies, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
	}
	m.jar.SetCookies(m.url, cookies)
}

// Value returns the current value of a mirrored cookie.
func (m *CookieMirror) Value(name string) (string, bool) {
	for _, c := range m.jar.Cookies(m.url) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}
