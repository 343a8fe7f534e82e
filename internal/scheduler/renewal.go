package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/subcommerce/billing-engine/internal/domain/event"
	"github.com/subcommerce/billing-engine/internal/domain/gateway"
	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/infrastructure/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RenewalConfig holds the dunning schedule.
type RenewalConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Retry1Delay time.Duration `yaml:"retry1_delay"`
	Retry2Delay time.Duration `yaml:"retry2_delay"`
	BatchLimit  int           `yaml:"batch_limit"`
}

func (c *RenewalConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Retry1Delay <= 0 {
		c.Retry1Delay = 24 * time.Hour
	}
	if c.Retry2Delay <= 0 {
		c.Retry2Delay = 72 * time.Hour
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
}

// RenewalEngine renews subscriptions whose period ended and walks failed
// renewals through the dunning ladder none -> retry_1 -> retry_2 -> grace ->
// final. All subscription mutations run under the per-subscription advisory
// lock; the renewal ledger entry is made idempotent per period by a unique
// index, so a tick racing another process creates nothing twice.
type RenewalEngine struct {
	repos   *database.Repositories
	gateway gateway.Client
	events  event.Publisher
	cfg     RenewalConfig
	logger  *zap.Logger

	running atomic.Bool
}

// NewRenewalEngine creates a renewal scheduler.
func NewRenewalEngine(
	repos *database.Repositories,
	gatewayClient gateway.Client,
	events event.Publisher,
	cfg RenewalConfig,
	logger *zap.Logger,
) *RenewalEngine {
	cfg.applyDefaults()
	return &RenewalEngine{
		repos:   repos,
		gateway: gatewayClient,
		events:  events,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run drives the engine until the context is cancelled.
func (e *RenewalEngine) Run(ctx context.Context) {
	RunForever(ctx, "renewal", e.cfg.Interval, e.logger, e.Tick)
}

// Tick processes every subscription currently due. Per-item failures are
// logged and skipped so one bad record cannot halt the batch.
func (e *RenewalEngine) Tick(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug("renewal tick skipped, previous still running")
		return nil
	}
	defer e.running.Store(false)

	due, err := e.repos.Subscription.ListDueForRenewal(ctx, time.Now().UTC(), e.cfg.BatchLimit)
	if err != nil {
		return err
	}

	for _, sub := range due {
		if err := e.ProcessSubscription(ctx, sub.ID); err != nil {
			e.logger.Error("renewal processing failed",
				zap.Int64("subscription_id", sub.ID),
				zap.Error(err))
		}
	}
	return nil
}

// renewalAttempt carries what the locked preparation step decided across
// the gateway call, which deliberately happens outside any transaction.
type renewalAttempt struct {
	subscriptionID int64
	transactionID  int64
	paymentID      int64
	gatewayRef     string
	token          string
	amountMinor    int64
	currency       string
	orderInfo      string
}

// ProcessSubscription runs one renewal cycle for a subscription: a locked
// transaction decides what to do and prepares the ledger entry and payment,
// the charge happens outside the lock, and a second locked transaction
// applies the outcome.
func (e *RenewalEngine) ProcessSubscription(ctx context.Context, subscriptionID int64) error {
	var attempt *renewalAttempt
	err := e.repos.WithTransaction(ctx, func(repos *database.Repositories) error {
		if err := repos.Subscription.AcquireLock(ctx, subscriptionID); err != nil {
			return err
		}
		sub, err := repos.Subscription.GetByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil || !e.isDue(sub, time.Now().UTC()) {
			return nil
		}

		plan, err := repos.Plan.GetByID(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return fmt.Errorf("subscription %d references missing plan %d", sub.ID, sub.PlanID)
		}

		now := time.Now().UTC()
		if sub.DunningStage == model.DunningStageGrace {
			if now.Before(graceEnd(sub, plan)) {
				return nil
			}
			return e.expire(ctx, repos, sub)
		}

		if plan.IsPostpaid {
			return e.invoicePostpaid(ctx, repos, sub, plan)
		}

		attempt, err = e.prepareCharge(ctx, repos, sub, plan)
		return err
	})
	if err != nil || attempt == nil {
		return err
	}

	if attempt.token == "" {
		return e.applyFailure(ctx, attempt, "", "no stored payment method for renewal")
	}

	resp, chargeErr := e.gateway.Charge(ctx, &gateway.ChargeRequest{
		Token:       attempt.token,
		AmountMinor: attempt.amountMinor,
		Currency:    attempt.currency,
		Reference:   attempt.gatewayRef,
		OrderInfo:   attempt.orderInfo,
	})

	if chargeErr != nil {
		return e.applyFailure(ctx, attempt, "", chargeErr.Error())
	}
	if !resp.Succeeded() {
		return e.applyFailure(ctx, attempt, resp.ResponseCode,
			fmt.Sprintf("gateway declined renewal charge: %s", resp.ResponseCode))
	}
	return e.applySuccess(ctx, attempt, resp)
}

func (e *RenewalEngine) isDue(sub *model.Subscription, now time.Time) bool {
	if sub.Status != model.SubscriptionStatusActive && sub.Status != model.SubscriptionStatusPastDue {
		return false
	}
	if sub.NextRenewAttemptAt != nil {
		return !now.Before(*sub.NextRenewAttemptAt)
	}
	return !now.Before(sub.CurrentPeriodEnd)
}

// prepareCharge ensures the period's renewal ledger entry and a fresh
// pending payment exist, returning what the charge call needs. A
// subscription without a stored token cannot be charged and goes straight
// to the failure path.
func (e *RenewalEngine) prepareCharge(ctx context.Context, repos *database.Repositories, sub *model.Subscription, plan *model.Plan) (*renewalAttempt, error) {
	amount := snapshotPriceMinor(sub, plan)
	newPeriodEnd := sub.CurrentPeriodEnd.Add(periodLength(sub, plan))

	txn, err := repos.Transaction.FindRenewal(ctx, sub.ID, newPeriodEnd)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		txn = &model.Transaction{
			SubscriptionID:  sub.ID,
			PlanSnapshot:    sub.PlanSnapshot,
			AmountSubtotal:  amount,
			AmountTotal:     amount,
			Currency:        plan.Currency,
			PeriodStart:     sub.CurrentPeriodEnd,
			PeriodEnd:       newPeriodEnd,
			EffectiveAction: model.ActionRenew,
			Status:          model.TransactionStatusDraft,
		}
		if err := repos.Transaction.Create(ctx, txn); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Another process created it between the find and the
				// insert; the unique index did its job.
				return nil, nil
			}
			return nil, err
		}
	}

	payment := &model.Payment{
		UserID:      sub.UserID,
		AmountMinor: amount,
		Currency:    plan.Currency,
		Status:      model.PaymentStatusPending,
		GatewayRef:  fmt.Sprintf("REN%d%s", time.Now().Unix(), uuid.New().String()[:8]),
		PlanCode:    plan.Code,
		OrderInfo:   fmt.Sprintf("%s renewal", plan.DisplayName),
	}
	if err := repos.Payment.Create(ctx, payment); err != nil {
		return nil, err
	}
	if err := repos.Transaction.LinkPayment(ctx, txn.ID, payment.ID); err != nil {
		return nil, err
	}

	attempt := &renewalAttempt{
		subscriptionID: sub.ID,
		transactionID:  txn.ID,
		paymentID:      payment.ID,
		gatewayRef:     payment.GatewayRef,
		amountMinor:    amount,
		currency:       plan.Currency,
		orderInfo:      payment.OrderInfo,
	}
	if sub.GatewayToken != nil {
		attempt.token = *sub.GatewayToken
	}
	return attempt, nil
}

// invoicePostpaid creates the period's unpaid invoice instead of charging,
// then advances the period; settlement happens out of band.
func (e *RenewalEngine) invoicePostpaid(ctx context.Context, repos *database.Repositories, sub *model.Subscription, plan *model.Plan) error {
	amount := snapshotPriceMinor(sub, plan)
	newPeriodEnd := sub.CurrentPeriodEnd.Add(periodLength(sub, plan))

	existing, err := repos.Transaction.FindRenewal(ctx, sub.ID, newPeriodEnd)
	if err != nil {
		return err
	}
	if existing == nil {
		txn := &model.Transaction{
			SubscriptionID:  sub.ID,
			PlanSnapshot:    sub.PlanSnapshot,
			AmountSubtotal:  amount,
			AmountTotal:     amount,
			Currency:        plan.Currency,
			PeriodStart:     sub.CurrentPeriodEnd,
			PeriodEnd:       newPeriodEnd,
			EffectiveAction: model.ActionInvoice,
			Status:          model.TransactionStatusOpen,
		}
		if err := repos.Transaction.Create(ctx, txn); err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}

	advancePeriod(sub, newPeriodEnd)
	if err := repos.Subscription.Update(ctx, sub); err != nil {
		return err
	}

	e.logger.Info("postpaid subscription invoiced",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("amount_minor", amount),
		zap.Time("new_period_end", newPeriodEnd))
	return nil
}

// applySuccess settles the renewal payment and advances the billing period
// by exactly one period from the old period end, preserving the anchor.
func (e *RenewalEngine) applySuccess(ctx context.Context, attempt *renewalAttempt, resp *gateway.ChargeResponse) error {
	err := e.repos.WithTransaction(ctx, func(repos *database.Repositories) error {
		if err := repos.Subscription.AcquireLock(ctx, attempt.subscriptionID); err != nil {
			return err
		}
		sub, err := repos.Subscription.GetByID(ctx, attempt.subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return fmt.Errorf("subscription %d vanished during renewal", attempt.subscriptionID)
		}

		paidAt := time.Now().UTC()
		if resp.PaidAt != nil {
			paidAt = *resp.PaidAt
		}
		if _, err := repos.Payment.MarkPaid(ctx, attempt.gatewayRef, resp.TransactionNo, paidAt); err != nil {
			return err
		}
		if _, err := repos.Transaction.MarkSucceededByPaymentID(ctx, attempt.paymentID); err != nil {
			return err
		}

		txn, err := repos.Transaction.GetByID(ctx, attempt.transactionID)
		if err != nil {
			return err
		}
		if txn == nil {
			return fmt.Errorf("renewal transaction %d vanished", attempt.transactionID)
		}

		advancePeriod(sub, txn.PeriodEnd)
		return repos.Subscription.Update(ctx, sub)
	})
	if err != nil {
		return err
	}

	e.logger.Info("subscription renewed",
		zap.Int64("subscription_id", attempt.subscriptionID),
		zap.Int64("payment_id", attempt.paymentID))
	e.events.PaymentSucceeded(ctx, event.PaymentSucceeded{PaymentID: attempt.paymentID})
	return nil
}

// applyFailure records the failed charge and advances the dunning ladder:
// first failure schedules a retry in Retry1Delay, the second in Retry2Delay,
// later ones park the subscription in grace until the grace window runs out,
// at which point it expires with a scheduled downgrade to the base plan.
func (e *RenewalEngine) applyFailure(ctx context.Context, attempt *renewalAttempt, responseCode string, message string) error {
	var failedEvt *event.PaymentFailed
	var retryEvt *event.PaymentRetry
	err := e.repos.WithTransaction(ctx, func(repos *database.Repositories) error {
		if err := repos.Subscription.AcquireLock(ctx, attempt.subscriptionID); err != nil {
			return err
		}
		sub, err := repos.Subscription.GetByID(ctx, attempt.subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return fmt.Errorf("subscription %d vanished during renewal", attempt.subscriptionID)
		}
		plan, err := repos.Plan.GetByID(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return fmt.Errorf("subscription %d references missing plan %d", sub.ID, sub.PlanID)
		}

		if _, err := repos.Payment.MarkFailed(ctx, attempt.gatewayRef, responseCode, message); err != nil {
			return err
		}

		now := time.Now().UTC()
		sub.RenewalAttemptCount++
		sub.LastRenewalError = &message

		switch {
		case sub.RenewalAttemptCount == 1:
			sub.Status = model.SubscriptionStatusPastDue
			sub.DunningStage = model.DunningStageRetry1
			next := now.Add(e.cfg.Retry1Delay)
			sub.NextRenewAttemptAt = &next
		case sub.RenewalAttemptCount == 2:
			sub.DunningStage = model.DunningStageRetry2
			next := now.Add(e.cfg.Retry2Delay)
			sub.NextRenewAttemptAt = &next
		case now.Before(graceEnd(sub, plan)):
			sub.DunningStage = model.DunningStageGrace
			sub.NextRenewAttemptAt = nil
		default:
			return e.expire(ctx, repos, sub)
		}

		if err := repos.Subscription.Update(ctx, sub); err != nil {
			return err
		}

		failedEvt = &event.PaymentFailed{
			PaymentID:         attempt.paymentID,
			UserID:            sub.UserID.String(),
			AmountMinor:       attempt.amountMinor,
			PlanCode:          plan.Code,
			ErrorCode:         responseCode,
			TransactionStatus: string(model.TransactionStatusDraft),
		}
		if sub.NextRenewAttemptAt != nil {
			retryEvt = &event.PaymentRetry{
				PaymentID:  attempt.paymentID,
				RetryCount: sub.RenewalAttemptCount,
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Warn("renewal charge failed",
		zap.Int64("subscription_id", attempt.subscriptionID),
		zap.Int64("payment_id", attempt.paymentID),
		zap.String("response_code", responseCode))
	if failedEvt != nil {
		e.events.PaymentFailed(ctx, *failedEvt)
	}
	if retryEvt != nil {
		e.events.PaymentRetry(ctx, *retryEvt)
	}
	return nil
}

// expire ends the subscription after grace exhaustion: terminal dunning is a
// designed transition, not an error. Exactly one zero-amount downgrade entry
// schedules the reversion to the base plan.
func (e *RenewalEngine) expire(ctx context.Context, repos *database.Repositories, sub *model.Subscription) error {
	base, err := repos.Plan.GetBasePlan(ctx)
	if err != nil {
		return err
	}

	sub.Status = model.SubscriptionStatusExpired
	sub.DunningStage = model.DunningStageFinal
	sub.NextRenewAttemptAt = nil
	if err := repos.Subscription.Update(ctx, sub); err != nil {
		return err
	}

	now := time.Now().UTC()
	downgrade := &model.Transaction{
		SubscriptionID:  sub.ID,
		AmountSubtotal:  0,
		AmountTotal:     0,
		Currency:        "VND",
		PeriodStart:     now,
		PeriodEnd:       now,
		EffectiveAction: model.ActionDowngrade,
		Status:          model.TransactionStatusOpen,
	}
	if base != nil {
		downgrade.PlanSnapshot = base.Snapshot()
		downgrade.Currency = base.Currency
	}
	if err := repos.Transaction.Create(ctx, downgrade); err != nil {
		return err
	}

	e.logger.Warn("subscription expired after grace period",
		zap.Int64("subscription_id", sub.ID),
		zap.String("user_id", sub.UserID.String()))
	return nil
}

func advancePeriod(sub *model.Subscription, newPeriodEnd time.Time) {
	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = newPeriodEnd
	sub.Status = model.SubscriptionStatusActive
	sub.DunningStage = model.DunningStageNone
	sub.RenewalAttemptCount = 0
	sub.NextRenewAttemptAt = nil
	sub.LastRenewalError = nil
}

func graceEnd(sub *model.Subscription, plan *model.Plan) time.Time {
	return sub.CurrentPeriodEnd.Add(time.Duration(plan.GraceDays) * 24 * time.Hour)
}

func periodLength(sub *model.Subscription, plan *model.Plan) time.Duration {
	if sub.PlanSnapshot != nil {
		if v, ok := sub.PlanSnapshot["period_days"]; ok {
			if days, ok := v.(float64); ok && days > 0 {
				return time.Duration(days) * 24 * time.Hour
			}
		}
	}
	return plan.PeriodLength()
}

// snapshotPriceMinor prefers the grandfathered snapshot price over the
// plan's current one.
func snapshotPriceMinor(sub *model.Subscription, plan *model.Plan) int64 {
	if sub.PlanSnapshot != nil {
		if v, ok := sub.PlanSnapshot["price_minor"]; ok {
			switch price := v.(type) {
			case float64:
				return int64(price)
			case int64:
				return price
			case int:
				return int64(price)
			}
		}
	}
	return plan.PriceMinor
}
