// Package httpclient is the request dispatcher for the advx backend. It owns the
// base URL, the default JSON headers and the cookie jar that carries the session
// cookie mirror, and it recovers from URL-prefix mismatches on POST by retrying a
// fixed, ordered list of fallback prefixes.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/advancex/advx/internal/common/logtrace"
	"github.com/google/uuid"
)

// Header names set by the dispatcher.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderAuthorization = "Authorization"
)

// Params are query parameters passed through verbatim.
type Params map[string]string

// TokenSource supplies the bearer token attached to outgoing requests.
// A token is only used while its expiry lies in the future.
type TokenSource interface {
	Token() string
	Expiry() time.Time
}

// Client dispatches requests to the backend.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	headers    http.Header
	prefixes   []string
	insecure   bool
	transport  http.RoundTripper
	now        func() time.Time

	mu     sync.RWMutex
	tokens TokenSource
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying *http.Client. A cookie jar is still
// installed if the given client has none.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTransport sets the round tripper of the underlying *http.Client.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithHeader adds a client-level header sent with every request.
// Per-request headers still take precedence.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithTokenSource attaches the source of the bearer token.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithInsecureSkipVerify disables TLS certificate validation.
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) {
		c.insecure = skip
	}
}

// New creates a client rooted at baseURL.
func New(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", baseURL)
	}

	c := &Client{
		baseURL: u,
		headers: http.Header{},
		now:     time.Now,
	}
	c.prefixes = append(c.prefixes, FallbackPrefixes...)
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.transport != nil {
		c.httpClient.Transport = c.transport
	} else if c.insecure {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	c.httpClient.Transport = newLoggingTransport(c.httpClient.Transport, c.now)
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		c.httpClient.Jar = jar
	}
	return c, nil
}

// BaseURL returns a copy of the configured base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Jar returns the cookie jar shared by every request of this client.
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// SetTokenSource attaches or replaces the bearer token source.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.mu.Lock()
	c.tokens = ts
	c.mu.Unlock()
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	headers    http.Header
	query      Params
	noRedirect bool
}

// WithRequestHeader sets a header for one request, overriding defaults.
func WithRequestHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		o.headers.Set(key, value)
	}
}

// WithQuery adds query parameters to a write request.
func WithQuery(p Params) RequestOption {
	return func(o *requestOptions) {
		for k, v := range p {
			o.query[k] = v
		}
	}
}

// WithoutRedirects returns 3xx responses as-is instead of following them.
func WithoutRedirects() RequestOption {
	return func(o *requestOptions) {
		o.noRedirect = true
	}
}

func newRequestOptions(opts []RequestOption) *requestOptions {
	ro := &requestOptions{headers: http.Header{}, query: Params{}}
	for _, opt := range opts {
		opt(ro)
	}
	return ro
}

// Get issues a read request. Reads never fall back to alternate prefixes.
func (c *Client) Get(ctx context.Context, path string, query Params, opts ...RequestOption) (*Response, error) {
	ro := newRequestOptions(append(opts, WithQuery(query)))
	return c.send(ctx, http.MethodGet, normalizePath(path), nil, ro)
}

// Post issues a write request. When the server answers 404 for path, the
// request is replayed against each of the client's fallback prefixes in order
// and the first success is returned. If every candidate fails, the error of
// the initial attempt is returned. Failures other than 404 on the initial
// attempt are returned without any fallback.
func (c *Client) Post(ctx context.Context, path string, payload any, opts ...RequestOption) (*Response, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	path = normalizePath(path)
	ro := newRequestOptions(opts)

	resp, err := c.send(ctx, http.MethodPost, path, body, ro)
	if err == nil {
		return resp, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	logger := logtrace.Logger(ctx)
	logger.Warn().Str("path", path).Msg("endpoint not found, trying fallback prefixes")

	resp, fallbackErr := firstSuccess(ctx, c.prefixes, func(ctx context.Context, prefix string) (*Response, error) {
		logger.Debug().Str("path", prefix+path).Msg("trying fallback")
		r, err := c.send(ctx, http.MethodPost, prefix+path, body, ro)
		if err != nil {
			logger.Warn().Err(err).Str("path", prefix+path).Msg("fallback failed")
			return nil, err
		}
		logger.Info().Str("path", prefix+path).Msg("fallback succeeded")
		return r, nil
	})
	if fallbackErr != nil {
		return nil, err
	}
	return resp, nil
}

// Put issues an update request.
func (c *Client) Put(ctx context.Context, path string, payload any, opts ...RequestOption) (*Response, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, http.MethodPut, normalizePath(path), body, newRequestOptions(opts))
}

// Delete issues a delete request.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.send(ctx, http.MethodDelete, normalizePath(path), nil, newRequestOptions(opts))
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, ro *requestOptions) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	requestID := uuid.Must(uuid.NewV7()).String()
	ctx = logtrace.WithRequestID(ctx, requestID)

	u := c.resolve(path, ro.query)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header[k] = append([]string(nil), v...)
	}
	for k, v := range ro.headers {
		req.Header[k] = append([]string(nil), v...)
	}
	req.Header.Set(HeaderRequestID, requestID)
	if req.Header.Get(HeaderAuthorization) == "" {
		if token := c.validToken(); token != "" {
			req.Header.Set(HeaderAuthorization, "Bearer "+token)
		}
	}

	hc := c.httpClient
	if ro.noRedirect {
		cp := *c.httpClient
		cp.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
		hc = &cp
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &NetworkError{Method: method, URL: u.String(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Method: method, URL: u.String(), Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return nil, newHTTPError(method, u.String(), resp.StatusCode, respBody)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
		Path:       path,
	}, nil
}

func (c *Client) validToken() string {
	c.mu.RLock()
	ts := c.tokens
	c.mu.RUnlock()
	if ts == nil {
		return ""
	}
	token, expiry := ts.Token(), ts.Expiry()
	if token == "" || expiry.IsZero() || !c.now().Before(expiry) {
		return ""
	}
	return token
}

// resolve joins the base path and p, keeping a trailing slash on p and
// merging any query string embedded in p with query.
func (c *Client) resolve(p string, query Params) *url.URL {
	u := *c.baseURL
	rawQuery := ""
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p, rawQuery = p[:i], p[i+1:]
	}
	u.Path = strings.TrimRight(u.Path, "/") + p
	u.RawPath = ""

	q, _ := url.ParseQuery(rawQuery)
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return &u
}

func normalizePath(p string) string {
	if p == "" || strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		return b, nil
	}
}
