package shared

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
)

// ContextKey is the type for context values set by the API layer.
type ContextKey string

const (
	// UserIDContextKey carries the authenticated user's ID.
	UserIDContextKey ContextKey = "userID"

	// TraceIDKey carries the request's trace ID.
	TraceIDKey ContextKey = "traceID"
)

// NewTraceID returns a fresh trace ID as 32 hex characters.
func NewTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// WithTraceID stores the trace ID on the context. Logs and error responses
// use it to correlate a request across components.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context, or "" when unset.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}
