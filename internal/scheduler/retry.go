package scheduler

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Backoff computes retry delays: base * factor^attempt, capped, with a
// random jitter fraction so synchronized workers spread out.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
	Jitter float64
}

// DefaultBackoff is the delay policy used for in-tick gateway retries.
var DefaultBackoff = Backoff{
	Base:   2 * time.Second,
	Factor: 2.0,
	Max:    5 * time.Minute,
	Jitter: 0.2,
}

// NextDelay returns the delay before the given zero-based attempt.
func (b Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	delay := float64(b.Base)
	for i := 0; i < attempt; i++ {
		delay *= factor
		if b.Max > 0 && delay >= float64(b.Max) {
			delay = float64(b.Max)
			break
		}
	}
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		delay += delay * b.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Retry runs fn up to maxAttempts times with backoff delays between
// attempts, honoring context cancellation during waits.
func Retry(ctx context.Context, maxAttempts int, backoff Backoff, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.NextDelay(attempt - 1)):
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}

// RunForever drives a tick function on a fixed interval until the context is
// cancelled. Tick errors are logged, never fatal; one bad tick must not stop
// the loop.
func RunForever(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, tick func(ctx context.Context) error) {
	logger.Info("scheduler started",
		zap.String("scheduler", name),
		zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped", zap.String("scheduler", name))
			return
		case <-ticker.C:
			if err := tick(ctx); err != nil {
				logger.Error("scheduler tick failed",
					zap.String("scheduler", name),
					zap.Error(err))
			}
		}
	}
}
