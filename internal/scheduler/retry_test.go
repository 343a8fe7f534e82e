package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subcommerce/billing-engine/internal/scheduler"
)

func TestBackoff_NextDelay(t *testing.T) {
	b := scheduler.Backoff{
		Base:   2 * time.Second,
		Factor: 2.0,
		Max:    30 * time.Second,
	}

	t.Run("grows exponentially", func(t *testing.T) {
		assert.Equal(t, 2*time.Second, b.NextDelay(0))
		assert.Equal(t, 4*time.Second, b.NextDelay(1))
		assert.Equal(t, 8*time.Second, b.NextDelay(2))
		assert.Equal(t, 16*time.Second, b.NextDelay(3))
	})

	t.Run("caps at max", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, b.NextDelay(4))
		assert.Equal(t, 30*time.Second, b.NextDelay(10))
		assert.Equal(t, 30*time.Second, b.NextDelay(100))
	})

	t.Run("negative attempt treated as first", func(t *testing.T) {
		assert.Equal(t, 2*time.Second, b.NextDelay(-1))
	})

	t.Run("factor below one does not shrink", func(t *testing.T) {
		shrinking := scheduler.Backoff{Base: time.Second, Factor: 0.5, Max: time.Minute}
		assert.Equal(t, time.Second, shrinking.NextDelay(5))
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		jittered := scheduler.Backoff{Base: 10 * time.Second, Factor: 2.0, Max: time.Minute, Jitter: 0.2}
		for i := 0; i < 50; i++ {
			d := jittered.NextDelay(0)
			assert.GreaterOrEqual(t, d, 8*time.Second)
			assert.LessOrEqual(t, d, 12*time.Second)
		}
	})
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	fast := scheduler.Backoff{Base: time.Millisecond, Factor: 1.0, Max: time.Millisecond}

	t.Run("returns on first success", func(t *testing.T) {
		calls := 0
		err := scheduler.Retry(ctx, 3, fast, func(ctx context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := scheduler.Retry(ctx, 5, fast, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error after exhaustion", func(t *testing.T) {
		calls := 0
		wantErr := errors.New("still broken")
		err := scheduler.Retry(ctx, 3, fast, func(ctx context.Context) error {
			calls++
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		calls := 0
		slow := scheduler.Backoff{Base: time.Hour, Factor: 1.0, Max: time.Hour}
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := scheduler.Retry(cancelled, 3, slow, func(ctx context.Context) error {
			calls++
			return errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
