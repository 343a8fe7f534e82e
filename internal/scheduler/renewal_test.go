package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subcommerce/billing-engine/internal/domain/gateway"
	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/infrastructure/database"
	"github.com/subcommerce/billing-engine/internal/scheduler"
	"go.uber.org/zap"
)

func renewalConfig() scheduler.RenewalConfig {
	return scheduler.RenewalConfig{
		Retry1Delay: 24 * time.Hour,
		Retry2Delay: 72 * time.Hour,
	}
}

func countRenewTransactions(t *testing.T, repos *database.Repositories, subID int64) int64 {
	t.Helper()
	var count int64
	require.NoError(t, repos.DB().Model(&model.Transaction{}).
		Where("subscription_id = ? AND effective_action = ?", subID, model.ActionRenew).
		Count(&count).Error)
	return count
}

func TestRenewalEngine_Success(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()
	repos := setupTestDB(t)
	plan := createPlan(t, repos, "pro", 299_000, false)

	// The period ended three days ago; the new period must still anchor on
	// the old period end, not on now.
	oldEnd := time.Now().UTC().Add(-3 * 24 * time.Hour).Truncate(time.Second)
	sub := createSubscription(t, repos, plan, oldEnd)

	gw := &fakeGateway{}
	events := &recordingPublisher{}
	engine := scheduler.NewRenewalEngine(repos, gw, events, renewalConfig(), logger)

	require.NoError(t, engine.Tick(ctx))
	assert.Equal(t, 1, gw.chargeCount())

	reloaded, err := repos.Subscription.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusActive, reloaded.Status)
	assert.Equal(t, model.DunningStageNone, reloaded.DunningStage)
	assert.Equal(t, 0, reloaded.RenewalAttemptCount)
	assert.True(t, reloaded.CurrentPeriodStart.Equal(oldEnd),
		"new period must start at the old period end")
	assert.True(t, reloaded.CurrentPeriodEnd.Equal(oldEnd.Add(plan.PeriodLength())),
		"new period end must advance by exactly one period")

	txn, err := repos.Transaction.FindRenewal(ctx, sub.ID, oldEnd.Add(plan.PeriodLength()))
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, model.TransactionStatusSucceeded, txn.Status)

	require.Len(t, events.succeeded, 1)
}

func TestRenewalEngine_DunningLadder(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()
	repos := setupTestDB(t)
	plan := createPlan(t, repos, "pro", 299_000, false)
	oldEnd := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	sub := createSubscription(t, repos, plan, oldEnd)

	gw := &fakeGateway{
		chargeFn: func(req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
			return &gateway.ChargeResponse{Reference: req.Reference, ResponseCode: "51"}, nil
		},
	}
	events := &recordingPublisher{}
	engine := scheduler.NewRenewalEngine(repos, gw, events, renewalConfig(), logger)

	forceDue := func() {
		reloaded, err := repos.Subscription.GetByID(ctx, sub.ID)
		require.NoError(t, err)
		past := time.Now().UTC().Add(-time.Minute)
		reloaded.NextRenewAttemptAt = &past
		require.NoError(t, repos.Subscription.Update(ctx, reloaded))
	}

	// Failure #1: past_due, retry_1, next attempt in about 24h.
	require.NoError(t, engine.ProcessSubscription(ctx, sub.ID))
	reloaded, err := repos.Subscription.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusPastDue, reloaded.Status)
	assert.Equal(t, model.DunningStageRetry1, reloaded.DunningStage)
	assert.Equal(t, 1, reloaded.RenewalAttemptCount)
	require.NotNil(t, reloaded.NextRenewAttemptAt)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), *reloaded.NextRenewAttemptAt, time.Minute)
	require.Len(t, events.failed, 1)
	require.Len(t, events.retries, 1)

	// Failure #2: retry_2, next attempt in about 72h.
	forceDue()
	require.NoError(t, engine.ProcessSubscription(ctx, sub.ID))
	reloaded, err = repos.Subscription.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DunningStageRetry2, reloaded.DunningStage)
	assert.Equal(t, 2, reloaded.RenewalAttemptCount)
	require.NotNil(t, reloaded.NextRenewAttemptAt)
	assert.WithinDuration(t, time.Now().UTC().Add(72*time.Hour), *reloaded.NextRenewAttemptAt, time.Minute)

	// Failure #3 inside the grace window parks the subscription with no
	// scheduled retry.
	forceDue()
	require.NoError(t, engine.ProcessSubscription(ctx, sub.ID))
	reloaded, err = repos.Subscription.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DunningStageGrace, reloaded.DunningStage)
	assert.Nil(t, reloaded.NextRenewAttemptAt)
	assert.Equal(t, model.SubscriptionStatusPastDue, reloaded.Status)

	// In grace, nothing is charged.
	charges := gw.chargeCount()
	require.NoError(t, engine.ProcessSubscription(ctx, sub.ID))
	assert.Equal(t, charges, gw.chargeCount())

	// All retries reused a single renewal ledger entry.
	assert.Equal(t, int64(1), countRenewTransactions(t, repos, sub.ID))
}

func TestRenewalEngine_GraceExpiry(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()
	repos := setupTestDB(t)
	base := createPlan(t, repos, "free", 0, false)
	require.NoError(t, repos.DB().Model(base).Update("is_base", true).Error)
	plan := createPlan(t, repos, "pro", 299_000, false)

	// Period ended past the 7-day grace window.
	oldEnd := time.Now().UTC().Add(-9 * 24 * time.Hour).Truncate(time.Second)
	sub := createSubscription(t, repos, plan, oldEnd)
	sub.Status = model.SubscriptionStatusPastDue
	sub.DunningStage = model.DunningStageGrace
	sub.RenewalAttemptCount = 3
	require.NoError(t, repos.Subscription.Update(ctx, sub))

	gw := &fakeGateway{}
	engine := scheduler.NewRenewalEngine(repos, gw, &recordingPublisher{}, renewalConfig(), logger)

	require.NoError(t, engine.Tick(ctx))
	assert.Equal(t, 0, gw.chargeCount())

	reloaded, err := repos.Subscription.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusExpired, reloaded.Status)
	assert.Equal(t, model.DunningStageFinal, reloaded.DunningStage)
	assert.Nil(t, reloaded.NextRenewAttemptAt)

	var downgrades []model.Transaction
	require.NoError(t, repos.DB().
		Where("subscription_id = ? AND effective_action = ?", sub.ID, model.ActionDowngrade).
		Find(&downgrades).Error)
	require.Len(t, downgrades, 1)
	assert.Equal(t, int64(0), downgrades[0].AmountTotal)

	// A second tick must not expire again or duplicate the downgrade.
	require.NoError(t, engine.Tick(ctx))
	require.NoError(t, repos.DB().
		Where("subscription_id = ? AND effective_action = ?", sub.ID, model.ActionDowngrade).
		Find(&downgrades).Error)
	assert.Len(t, downgrades, 1)
}

func TestRenewalEngine_Postpaid(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()
	repos := setupTestDB(t)
	plan := createPlan(t, repos, "enterprise", 1_000_000, true)
	oldEnd := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	sub := createSubscription(t, repos, plan, oldEnd)

	gw := &fakeGateway{}
	engine := scheduler.NewRenewalEngine(repos, gw, &recordingPublisher{}, renewalConfig(), logger)

	require.NoError(t, engine.Tick(ctx))

	// No charge is attempted; an open invoice is created instead.
	assert.Equal(t, 0, gw.chargeCount())

	var invoices []model.Transaction
	require.NoError(t, repos.DB().
		Where("subscription_id = ? AND effective_action = ?", sub.ID, model.ActionInvoice).
		Find(&invoices).Error)
	require.Len(t, invoices, 1)
	assert.Equal(t, model.TransactionStatusOpen, invoices[0].Status)
	assert.Equal(t, int64(1_000_000), invoices[0].AmountTotal)

	reloaded, err := repos.Subscription.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.CurrentPeriodEnd.Equal(oldEnd.Add(plan.PeriodLength())))
	assert.Equal(t, model.SubscriptionStatusActive, reloaded.Status)
}

func TestRenewalEngine_MissingToken(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()
	repos := setupTestDB(t)
	plan := createPlan(t, repos, "pro", 299_000, false)
	oldEnd := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	sub := createSubscription(t, repos, plan, oldEnd)
	sub.GatewayToken = nil
	require.NoError(t, repos.DB().Model(sub).Update("gateway_token", nil).Error)

	gw := &fakeGateway{}
	events := &recordingPublisher{}
	engine := scheduler.NewRenewalEngine(repos, gw, events, renewalConfig(), logger)

	require.NoError(t, engine.ProcessSubscription(ctx, sub.ID))

	// The gateway is never called; the failure path runs directly.
	assert.Equal(t, 0, gw.chargeCount())
	reloaded, err := repos.Subscription.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusPastDue, reloaded.Status)
	assert.Equal(t, model.DunningStageRetry1, reloaded.DunningStage)
	require.Len(t, events.failed, 1)
}
