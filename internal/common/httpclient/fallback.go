package httpclient

import (
	"context"
	"errors"

	"github.com/avast/retry-go/v4"
)

// FallbackPrefixes are the path prefixes tried, in this order, when a POST
// answers 404. The list is fixed; it is a compatibility shim for deployments
// that mount the API under different roots, not a discovery protocol.
var FallbackPrefixes = []string{
	"",
	"/api",
	"/api/v1",
	"/api/v1/dashboard",
}

var errNoCandidates = errors.New("no fallback candidates")

// firstSuccess runs attempt for each candidate in order, strictly one after
// the other, and returns the first successful result. Every candidate failure
// moves on to the next candidate; when all fail the last error is returned.
func firstSuccess[T any](ctx context.Context, candidates []string, attempt func(ctx context.Context, candidate string) (T, error)) (T, error) {
	if len(candidates) == 0 {
		var zero T
		return zero, errNoCandidates
	}
	if ctx == nil {
		ctx = context.Background()
	}

	next := 0
	return retry.DoWithData(
		func() (T, error) {
			candidate := candidates[next]
			next++
			return attempt(ctx, candidate)
		},
		retry.Context(ctx),
		retry.Attempts(uint(len(candidates))),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}
