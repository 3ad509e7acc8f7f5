package connectivity

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// policyConfig is the per-route call policy parsed from the config JSON.
type policyConfig struct {
	TimeoutMs  int64 `json:"timeout_ms"`
	MaxRetries int   `json:"max_retries"`
	BackoffMs  int64 `json:"backoff_ms"`
}

func parsePolicyConfig(cfg json.RawMessage) policyConfig {
	var pc policyConfig
	if len(cfg) > 0 {
		_ = json.Unmarshal(cfg, &pc)
	}
	return pc
}

// RoutePolicy builds the middleware stack implied by a route's config JSON:
// a per-call timeout from timeout_ms and retries from max_retries/backoff_ms.
// Absent fields produce a pass-through. Reload applies this to every remote
// handler it builds.
func RoutePolicy(cfg json.RawMessage, logger *slog.Logger) HandlerMiddleware {
	pc := parsePolicyConfig(cfg)
	var mws []HandlerMiddleware
	if pc.TimeoutMs > 0 {
		mws = append(mws, WithTimeout(time.Duration(pc.TimeoutMs)*time.Millisecond))
	}
	if pc.MaxRetries > 0 {
		backoff := 100 * time.Millisecond
		if pc.BackoffMs > 0 {
			backoff = time.Duration(pc.BackoffMs) * time.Millisecond
		}
		mws = append(mws, WithRetry(pc.MaxRetries, backoff, logger))
	}
	return Chain(mws...)
}

// WithTimeout returns a HandlerMiddleware that applies a per-call timeout.
// A zero duration disables the timeout entirely.
func WithTimeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return next(ctx, payload)
		}
	}
}

// WithRetry returns a HandlerMiddleware that retries failed calls with
// exponential backoff. It respects context cancellation between retries.
//
// Parameters:
//   - maxRetries: maximum number of retry attempts (0 = no retry)
//   - baseBackoff: initial wait between retries, doubled each attempt
//   - logger: used to log retry attempts (may be nil for silent retries)
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				// Don't retry if context is done.
				if ctx.Err() != nil {
					return nil, lastErr
				}

				// Don't retry on circuit open — it won't help.
				if _, ok := err.(*ErrCircuitOpen); ok {
					return nil, err
				}

				if attempt < maxRetries {
					wait := baseBackoff * (1 << uint(attempt))
					if logger != nil {
						logger.WarnContext(ctx, "retrying call",
							"attempt", attempt+1,
							"max_retries", maxRetries,
							"backoff_ms", wait.Milliseconds(),
							"error", err)
					}
					select {
					case <-ctx.Done():
						return nil, lastErr
					case <-time.After(wait):
					}
				}
			}
			return nil, lastErr
		}
	}
}
