package logging

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// TraceIDHeader carries request trace identifiers over HTTP.
const TraceIDHeader = "X-Trace-ID"

// TraceIDField is the structured field name for trace identifiers.
const TraceIDField = "trace_id"

type contextKey string

var loggerContextKey = contextKey("arena-logger")

// ContextWithLogger stores a logger in the provided context.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext retrieves the request logger or falls back to the global one.
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return L()
	}
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok && logger != nil {
		return logger
	}
	return L()
}

// HTTPTraceMiddleware tags each request with a trace id (reusing a caller
// supplied one) and stores a derived logger in the request context.
func HTTPTraceMiddleware(base *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := strings.TrimSpace(r.Header.Get(TraceIDHeader))
			if traceID == "" {
				traceID = uuid.NewString()
			}
			logger := base.With(String(TraceIDField, traceID))
			w.Header().Set(TraceIDHeader, traceID)
			logger.Debug("request received", String("method", r.Method), String("path", r.URL.Path))
			next.ServeHTTP(w, r.WithContext(ContextWithLogger(r.Context(), logger)))
		})
	}
}
