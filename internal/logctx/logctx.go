// Package logctx carries the request-scoped slog.Logger through contexts and
// enriches records with OpenTelemetry trace identifiers.
package logctx

import (
	"context"
	"log/slog"
)

type contextKey struct{}

var loggerKey contextKey

// WithLogger returns a new context carrying the provided logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger stored in ctx, or slog.Default()
// when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// With returns a context whose logger has the given attributes appended.
// Shorthand for WithLogger(ctx, LoggerFromContext(ctx).With(args...)).
func With(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, LoggerFromContext(ctx).With(args...))
}
