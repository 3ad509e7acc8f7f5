package connectivity

import (
	"context"
	"log/slog"
)

// WithFallback answers a failed remote call with the in-process handler.
// A collaborator that normally consumes picker commits or highlight
// requests can go down without taking the service with it, as long as a
// local handler exists.
//
// Context cancellation is never retried locally: the caller gave up, the
// remote did not fail.
func WithFallback(local Handler, service string, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		if local == nil {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			resp, err := next(ctx, payload)
			if err == nil {
				return resp, nil
			}
			if ctx.Err() != nil {
				return nil, err
			}
			if logger != nil {
				logger.WarnContext(ctx, "remote failed, falling back to local",
					"service", service,
					"remote_error", err)
			}
			return local(ctx, payload)
		}
	}
}
