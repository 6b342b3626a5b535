package infrastructure

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey string

// RequestIDContextKey is the key for storing the request ID in context
const RequestIDContextKey contextKey = "request_id"

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDContextKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return id
	}
	return ""
}

// EnsureRequestID returns ctx carrying a request ID, generating a UUID v4 if needed
func EnsureRequestID(ctx context.Context) context.Context {
	if GetRequestID(ctx) == "" {
		return WithRequestID(ctx, uuid.NewString())
	}
	return ctx
}

// WithComponent creates a logger with a component field
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithError creates a logger with an error field
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// LoggerWithContext binds the request and trace identifiers in ctx to logger,
// for code paths that log without passing ctx along.
func LoggerWithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if reqID := GetRequestID(ctx); reqID != "" {
		logger = logger.With(slog.String("request_id", reqID))
	}
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		logger = logger.With(slog.String("trace_id", traceID))
	}
	return logger
}
