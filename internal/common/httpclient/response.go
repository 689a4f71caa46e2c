package httpclient

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Response is a successful backend response. The body is opaque JSON.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Path       string // path that produced the response, including any fallback prefix
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Get reads a gjson path from the body.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

func (r *Response) Location() string {
	return r.Header.Get("Location")
}
