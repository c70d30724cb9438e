package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config declares a call's retry policy once, so per-method behavior is
// composed instead of inlined at every call site.
type Config struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	// Delay is the base backoff; attempt n waits Delay×n before retrying.
	Delay time.Duration
	// Permanent reports errors that must never be retried (e.g. an upstream
	// rejection, as opposed to a transport failure).
	Permanent func(error) bool
}

// FailFast is the policy for calls that surface the first error unchanged.
func FailFast() Config {
	return Config{MaxAttempts: 1}
}

// WithBackoff executes fn under cfg, sleeping a linearly growing delay
// between attempts.
func WithBackoff(ctx context.Context, cfg Config, logger *zap.Logger, operation string, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("Operation succeeded after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt))
			}
			return nil
		}

		if cfg.Permanent != nil && cfg.Permanent(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay * time.Duration(attempt)
		logger.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("retry_in", delay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return lastErr
}
