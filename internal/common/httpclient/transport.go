package httpclient

import (
	"net/http"
	"time"

	"github.com/advancex/advx/internal/common/logtrace"
)

// loggingTransport logs every outgoing request and its outcome at debug level,
// tagged with the request id carried in the request context.
type loggingTransport struct {
	next http.RoundTripper
	now  func() time.Time
}

func newLoggingTransport(next http.RoundTripper, now func() time.Time) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &loggingTransport{next: next, now: now}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := t.now()
	ctx := req.Context()
	logger := logtrace.Logger(ctx)

	logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("query", req.URL.RawQuery).
		Msg("outgoing request")

	resp, err := t.next.RoundTrip(req)
	elapsed := t.now().Sub(start)
	if err != nil {
		logger.Debug().Err(err).Dur("duration", elapsed).Msg("request failed")
		return nil, err
	}
	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", elapsed).
		Msg("request completed")
	return resp, nil
}
