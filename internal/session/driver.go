package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTickInterval is roughly one display frame at 60 Hz.
const DefaultTickInterval = 16 * time.Millisecond

// Ticker is advanced by the driver once per interval.
type Ticker interface {
	Tick(delta time.Duration) error
}

// TickFunc adapts a function to Ticker.
type TickFunc func(delta time.Duration) error

// Tick calls f(delta).
func (f TickFunc) Tick(delta time.Duration) error { return f(delta) }

// StartDriver advances t with the measured wall time between ticks until ctx
// is cancelled. The returned channel is closed once the loop has exited.
func StartDriver(ctx context.Context, t Ticker, interval time.Duration, logger *slog.Logger) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		logger.Info("Tick driver started", "interval", interval)

		last := time.Now()
		for {
			select {
			case now := <-ticker.C:
				delta := now.Sub(last)
				last = now
				if err := t.Tick(delta); err != nil {
					logger.Warn("Tick failed", "error", err)
				}
			case <-ctx.Done():
				logger.Info("Tick driver shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
