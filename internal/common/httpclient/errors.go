package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/advancex/advx/internal/common/apperrors"
	"github.com/tidwall/gjson"
)

// NetworkError reports a request that received no response.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request failed: %s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the transport cause, so
// errors.Is works for apperrors.ErrNetwork as well as context.Canceled.
func (e *NetworkError) Unwrap() []error {
	return []error{apperrors.ErrNetwork, e.Err}
}

// HTTPError represents a response with an error status.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string // extracted from the body when possible
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return apperrors.ErrHTTPStatus
}

func newHTTPError(method, url string, status int, body []byte) *HTTPError {
	return &HTTPError{
		Method:     method,
		URL:        url,
		StatusCode: status,
		Message:    errorMessage(status, body),
		Body:       body,
	}
}

// errorMessage looks for the usual error fields of a JSON error body.
func errorMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		for _, field := range []string{"detail", "error", "message"} {
			r := gjson.GetBytes(body, field)
			switch {
			case r.Type == gjson.String && r.String() != "":
				return r.String()
			case r.IsArray() || r.IsObject():
				return r.Raw
			}
		}
	}
	if status == http.StatusNotFound {
		return "server doesn't implement this endpoint"
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
