package middleware

import (
	"log/slog"
	"net/http"

	"github.com/pageforge/pageforge-api/internal/api/shared"
)

// TraceHeader is the request and response header carrying the trace ID.
// Upstream proxies may supply one; otherwise the middleware generates it.
const TraceHeader = "X-Pageforge-Trace-Id"

// TraceMiddleware attaches a trace ID to the request context and echoes it
// on the response. Apply it early so all subsequent handlers see the ID.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = shared.NewTraceID()
		}

		ctx := shared.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceHeader, traceID)

		slog.Debug("request started",
			slog.String("trace_id", traceID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
