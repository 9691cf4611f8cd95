package service

import (
	"context"
	"log/slog"
	"time"

	"geoverify/internal/verification/metrics"
)

// Sweeper periodically deletes tokens that expired more than retention ago.
// Expiry itself is enforced lazily on access; this only reclaims storage.
type Sweeper struct {
	tokens    TokenStore
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time
}

func NewSweeper(tokens TokenStore, interval, retention time.Duration, logger *slog.Logger, m *metrics.Metrics) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		tokens:    tokens,
		interval:  interval,
		retention: retention,
		logger:    logger,
		metrics:   m,
		clock:     time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled. A non-positive interval
// disables sweeping and Run just waits for cancellation.
func (w *Sweeper) Run(ctx context.Context) error {
	if w.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "token sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce removes tokens whose expiry is older than now - retention.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := w.clock().Add(-w.retention)
	n, err := w.tokens.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	w.metrics.AddSwept(n)
	if n > 0 {
		w.logger.InfoContext(ctx, "expired tokens swept", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
