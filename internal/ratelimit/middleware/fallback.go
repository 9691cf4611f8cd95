package middleware

import (
	"context"
	"log/slog"
	"time"

	"geoverify/internal/ratelimit/models"
	"geoverify/pkg/platform/circuit"
)

// FallbackLimiter checks a shared primary store and switches to an
// in-process store while the primary keeps failing. Limits in degraded mode
// are per replica.
type FallbackLimiter struct {
	primary  Limiter
	fallback Limiter
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewFallbackLimiter(primary, fallback Limiter, breaker *circuit.Breaker, logger *slog.Logger) *FallbackLimiter {
	return &FallbackLimiter{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

// Degraded reports whether checks are currently served by the fallback.
func (f *FallbackLimiter) Degraded() bool {
	return f.breaker.IsOpen()
}

func (f *FallbackLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	result, err := f.primary.Allow(ctx, key, limit, window)
	if err == nil {
		if _, change := f.breaker.RecordSuccess(); change.Closed {
			f.logger.InfoContext(ctx, "rate limit store recovered", "breaker", f.breaker.Name())
		}
		if !f.breaker.IsOpen() {
			return result, nil
		}
		return f.fallback.Allow(ctx, key, limit, window)
	}

	useFallback, change := f.breaker.RecordFailure()
	if change.Opened {
		f.logger.WarnContext(ctx, "rate limit store failing, using in-memory fallback",
			"breaker", f.breaker.Name(),
			"error", err,
		)
	}
	if !useFallback {
		return nil, err
	}
	return f.fallback.Allow(ctx, key, limit, window)
}
