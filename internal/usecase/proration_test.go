package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/usecase"
)

func TestClassifyAction(t *testing.T) {
	assert.Equal(t, model.ActionUpgrade, usecase.ClassifyAction(100_000, 200_000))
	assert.Equal(t, model.ActionRenew, usecase.ClassifyAction(100_000, 100_000))
	assert.Equal(t, model.ActionDowngrade, usecase.ClassifyAction(200_000, 100_000))
}

func TestProrate(t *testing.T) {
	day := int64(24 * time.Hour / time.Millisecond)

	t.Run("mid-period upgrade", func(t *testing.T) {
		result := usecase.Prorate(100_000, 200_000, 15*day, 30*day)

		assert.True(t, result.Applied)
		assert.Equal(t, int64(50_000), result.Charge)
		assert.Equal(t, int64(150_000), result.AmountMinor)
	})

	t.Run("full period remaining charges full difference", func(t *testing.T) {
		result := usecase.Prorate(100_000, 200_000, 30*day, 30*day)

		assert.Equal(t, int64(100_000), result.Charge)
		assert.Equal(t, int64(200_000), result.AmountMinor)
	})

	t.Run("nothing remaining charges current price", func(t *testing.T) {
		result := usecase.Prorate(100_000, 200_000, 0, 30*day)

		assert.Equal(t, int64(0), result.Charge)
		assert.Equal(t, int64(100_000), result.AmountMinor)
	})

	t.Run("rounds to nearest minor unit", func(t *testing.T) {
		// 1 of 3 ms remaining on a 100 difference: 33.33... rounds to 33
		result := usecase.Prorate(100, 200, 1, 3)

		assert.Equal(t, int64(33), result.Charge)
		assert.Equal(t, int64(133), result.AmountMinor)
	})

	t.Run("non-positive total skips proration", func(t *testing.T) {
		result := usecase.Prorate(100_000, 200_000, 15*day, 0)

		assert.False(t, result.Applied)
		assert.Equal(t, int64(200_000), result.AmountMinor)
	})

	t.Run("remaining clamped to total", func(t *testing.T) {
		result := usecase.Prorate(100_000, 200_000, 60*day, 30*day)

		assert.Equal(t, int64(200_000), result.AmountMinor)
	})

	t.Run("downgrade delta never goes negative", func(t *testing.T) {
		result := usecase.Prorate(200_000, 0, 30*day, 30*day)

		assert.Equal(t, int64(0), result.AmountMinor)
	})
}

func TestProrateAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)
	now := start.Add(15 * 24 * time.Hour)

	result := usecase.ProrateAt(100_000, 200_000, now, start, end)

	assert.Equal(t, int64(50_000), result.Charge)
	assert.Equal(t, int64(150_000), result.AmountMinor)
}
