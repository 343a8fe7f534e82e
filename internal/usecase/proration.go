package usecase

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/subcommerce/billing-engine/internal/domain/model"
)

// ClassifyAction compares current and target plan prices: a higher target is
// an upgrade (prorated), equal is a renewal, lower is a downgrade applied at
// the new price immediately with no refund of past usage.
func ClassifyAction(currentAmountMinor, newAmountMinor int64) model.EffectiveAction {
	switch {
	case newAmountMinor > currentAmountMinor:
		return model.ActionUpgrade
	case newAmountMinor < currentAmountMinor:
		return model.ActionDowngrade
	default:
		return model.ActionRenew
	}
}

// ProrationResult carries the outcome of a proration computation. All
// amounts are integer minor units.
type ProrationResult struct {
	// AmountMinor is the amount to charge now.
	AmountMinor int64
	// Charge is the prorated difference added on top of the current price
	// for the unused remainder of the period.
	Charge int64
	// Applied is false when proration was skipped (non-positive period).
	Applied bool
}

// Prorate computes the charge for switching from currentAmountMinor to
// newAmountMinor with remaining time left of a total period, entirely in
// exact decimal arithmetic rounded to the nearest minor unit and clamped to
// zero. A non-positive total duration skips proration and charges the full
// new amount.
func Prorate(currentAmountMinor, newAmountMinor, remainingMs, totalMs int64) ProrationResult {
	if totalMs <= 0 {
		return ProrationResult{AmountMinor: clampMinor(newAmountMinor)}
	}
	if remainingMs < 0 {
		remainingMs = 0
	}
	if remainingMs > totalMs {
		remainingMs = totalMs
	}

	current := decimal.NewFromInt(currentAmountMinor)
	diff := decimal.NewFromInt(newAmountMinor - currentAmountMinor)
	ratio := decimal.NewFromInt(remainingMs).Div(decimal.NewFromInt(totalMs))

	charge := diff.Mul(ratio).Round(0)
	prorated := current.Add(charge).Round(0)

	result := ProrationResult{
		AmountMinor: clampMinor(prorated.IntPart()),
		Charge:      charge.IntPart(),
		Applied:     true,
	}
	return result
}

// ProrateAt is a convenience over Prorate using period timestamps.
func ProrateAt(currentAmountMinor, newAmountMinor int64, now, periodStart, periodEnd time.Time) ProrationResult {
	total := periodEnd.Sub(periodStart).Milliseconds()
	remaining := periodEnd.Sub(now).Milliseconds()
	return Prorate(currentAmountMinor, newAmountMinor, remaining, total)
}

func clampMinor(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
