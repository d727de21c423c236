package logger

import (
	"context"
	"log/slog"
)

// contextKey is a private type for context keys defined in this package.
// Using an unexported type prevents collisions with keys from other packages.
type contextKey int

const (
	// loggerKey is the context key under which a scoped logger is stored.
	loggerKey contextKey = iota
	// requestIDKey is the context key under which a correlation ID is stored.
	requestIDKey
)

// WithLogger returns a new context carrying the provided logger. Middleware
// and the task dispatcher use this to attach a logger annotated with
// request or task identifiers before handing the context down the call chain.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger stored in ctx by WithLogger. When the
// context carries no logger the process-wide default logger is returned,
// so callers never need a nil check before logging.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey).(*slog.Logger); ok && log != nil {
		return log
	}
	return slog.Default()
}

// WithRequestID returns a new context carrying the given correlation ID,
// with the context logger re-annotated so every subsequent log entry
// includes the ID under the "request_id" key.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	return WithLogger(ctx, FromContext(ctx).With(slog.String("request_id", requestID)))
}

// RequestIDFromContext returns the correlation ID stored in ctx by
// WithRequestID, or the empty string when none is set.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
