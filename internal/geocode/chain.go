package geocode

import (
	"context"
	"errors"
	"log/slog"

	"geoverify/internal/geo"
	"geoverify/pkg/platform/circuit"
)

// Fallback asks a remote primary and falls back to a local table. While
// the breaker is open the table is consulted first and the primary is only
// probed for addresses the table does not know.
type Fallback struct {
	primary  Geocoder
	fallback Geocoder
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewFallback(primary, fallback Geocoder, breaker *circuit.Breaker, logger *slog.Logger) *Fallback {
	if breaker == nil {
		breaker = circuit.New("geocoder")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (f *Fallback) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	if f.breaker.IsOpen() {
		if c, err := f.fallback.Geocode(ctx, address); err == nil {
			return c, nil
		}
	}

	c, err := f.primary.Geocode(ctx, address)
	if err == nil || errors.Is(err, ErrNotFound) {
		if _, change := f.breaker.RecordSuccess(); change.Closed {
			f.logger.InfoContext(ctx, "geocoder circuit closed", "breaker", f.breaker.Name())
		}
		if err == nil {
			return c, nil
		}
	} else if _, change := f.breaker.RecordFailure(); change.Opened {
		f.logger.WarnContext(ctx, "geocoder circuit opened", "breaker", f.breaker.Name(), "error", err)
	}
	return f.fallback.Geocode(ctx, address)
}
