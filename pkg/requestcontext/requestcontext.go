// Package requestcontext carries per-request values that cut across layers:
// the request ID for log correlation and an optional frozen clock so tests
// and replays can pin "now" without patching time.Now everywhere.
package requestcontext

import (
	"context"
	"time"
)

type timeKey struct{}

type requestIDKey struct{}

// WithTime pins the clock for everything downstream of ctx. Intended for
// tests and deterministic replay paths.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, timeKey{}, t)
}

// Now returns the pinned clock if one is set, otherwise the wall clock.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(timeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithRequestID attaches the inbound request's correlation ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the correlation ID, or "" outside a request.
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return requestID
	}
	return ""
}
