// Package requestcontext provides transport-independent context accessors for
// turn- and request-scoped values.
//
// Middleware (HTTP) and the turn dispatcher set these values; services only read
// them, so no service needs to import net/http.
//
// Usage in services (read values):
//
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithReviewerID(ctx, 1001)
package requestcontext

import (
	"context"
	"time"

	id "trustdesk/pkg/domain"
)

type (
	requestIDKey   struct{}
	requestTimeKey struct{}
	reviewerIDKey  struct{}
	submitterKey   struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
	ContextKeyReviewerID  = reviewerIDKey{}
	ContextKeySubmitterID = submitterKey{}
)

// RequestID retrieves the correlation id of the current turn or HTTP request.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation id into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// ReviewerID retrieves the reviewer authenticated by a bearer token.
// Returns zero if the request was not authenticated.
func ReviewerID(ctx context.Context) id.SubmitterID {
	if rid, ok := ctx.Value(ContextKeyReviewerID).(id.SubmitterID); ok {
		return rid
	}
	return 0
}

// WithReviewerID injects an authenticated reviewer id.
func WithReviewerID(ctx context.Context, reviewerID id.SubmitterID) context.Context {
	return context.WithValue(ctx, ContextKeyReviewerID, reviewerID)
}

// SubmitterID retrieves the author of the turn being handled.
func SubmitterID(ctx context.Context) id.SubmitterID {
	if sid, ok := ctx.Value(ContextKeySubmitterID).(id.SubmitterID); ok {
		return sid
	}
	return 0
}

// WithSubmitterID injects the author of the turn being handled.
func WithSubmitterID(ctx context.Context, submitterID id.SubmitterID) context.Context {
	return context.WithValue(ctx, ContextKeySubmitterID, submitterID)
}

// Now retrieves the turn-scoped time from context.
// Falls back to time.Now() if not set.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that need a fixed clock
//   - The dispatcher, so every store write of one turn shares a timestamp
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
