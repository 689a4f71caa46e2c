package httpclient

import (
	"context"
)

// Dispatcher is the request surface consumed by the session and API packages.
type Dispatcher interface {
	// Get issues a read request with query parameters passed through verbatim.
	Get(ctx context.Context, path string, query Params, opts ...RequestOption) (*Response, error)
	// Post issues a write request with fallback-prefix recovery on 404.
	Post(ctx context.Context, path string, payload any, opts ...RequestOption) (*Response, error)
	Put(ctx context.Context, path string, payload any, opts ...RequestOption) (*Response, error)
	Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error)
}

var _ Dispatcher = (*Client)(nil)
