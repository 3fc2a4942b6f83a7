// Package requestid provides request ID propagation via context.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header carrying a caller-supplied request ID.
const Header = "X-Request-ID"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Ensure keeps an existing request ID or attaches a fresh one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return ctx, id
	}
	return New(ctx)
}

// Logger returns base annotated with the context's request ID.
func Logger(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	return base.With().Str("request_id", FromContext(ctx)).Logger()
}
