// Package shield provides the HTTP middleware stack for the dombind bridge:
// security headers, request IDs with per-request loggers, JSON body limits,
// and SQLite-backed per-IP rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(db) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the standard bridge middleware stack, ordered:
// SecurityHeaders → MaxJSONBody → RequestID → RateLimiter. db may be nil,
// in which case rate limiting is skipped.
func DefaultStack(db *sql.DB) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(1 << 20),
		RequestID,
	}
	if db != nil {
		stack = append(stack, NewRateLimiter(db, "/health").Middleware)
	}
	return stack
}

// GetLogger retrieves the per-request logger from the context. Returns
// slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
