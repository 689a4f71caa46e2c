package httpclient

import (
	"net/http"
	"net/http/httptest"
)

// TestBaseURL is the base URL of clients built by NewTestClient.
const TestBaseURL = "http://advx.test"

// NewTestClient returns a client whose requests are served in-process by
// handler through httptest.NewRecorder, without opening sockets.
func NewTestClient(handler http.Handler, opts ...ClientOption) *Client {
	opts = append([]ClientOption{WithTransport(handlerTransport{handler: handler})}, opts...)
	c, err := New(TestBaseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

type handlerTransport struct {
	handler http.Handler
}

func (t handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	rr := httptest.NewRecorder()
	t.handler.ServeHTTP(rr, req)
	resp := rr.Result()
	resp.Request = req
	return resp, nil
}
