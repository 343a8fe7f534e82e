package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subcommerce/billing-engine/internal/domain/gateway"
	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/scheduler"
	"github.com/subcommerce/billing-engine/internal/usecase"
	"go.uber.org/zap"
)

func TestReconciler_Tick(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()
	cfg := scheduler.ReconcilerConfig{
		StaleAfter:     10 * time.Minute,
		ExpireAfter:    15 * time.Minute,
		QueryCooldown:  3 * time.Minute,
		SuppressionTTL: 30 * time.Minute,
	}

	t.Run("settles a stuck payment the gateway reports paid", func(t *testing.T) {
		repos := setupTestDB(t)
		payment := createPendingPayment(t, repos, 12*time.Minute)

		gw := &fakeGateway{
			queryFn: func(req *gateway.QueryRequest) (*gateway.QueryResponse, error) {
				return &gateway.QueryResponse{
					Reference:         req.Reference,
					ResponseCode:      "00",
					TransactionStatus: "00",
					TransactionNo:     "14400996",
				}, nil
			},
		}
		events := &recordingPublisher{}
		settler := usecase.NewCallbackService(repos, gw, events, logger)
		r := scheduler.NewReconciler(repos, gw, settler, cfg, logger)

		require.NoError(t, r.Tick(ctx))

		reloaded, err := repos.Payment.GetByID(ctx, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusPaid, reloaded.Status)
		require.Len(t, events.succeeded, 1)
	})

	t.Run("marks a stuck payment the gateway reports failed", func(t *testing.T) {
		repos := setupTestDB(t)
		payment := createPendingPayment(t, repos, 12*time.Minute)

		gw := &fakeGateway{
			queryFn: func(req *gateway.QueryRequest) (*gateway.QueryResponse, error) {
				return &gateway.QueryResponse{
					Reference:         req.Reference,
					ResponseCode:      "24",
					TransactionStatus: "02",
				}, nil
			},
		}
		settler := usecase.NewCallbackService(repos, gw, &recordingPublisher{}, logger)
		r := scheduler.NewReconciler(repos, gw, settler, cfg, logger)

		require.NoError(t, r.Tick(ctx))

		reloaded, err := repos.Payment.GetByID(ctx, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusFailed, reloaded.Status)
	})

	t.Run("fresh pending payments are left alone", func(t *testing.T) {
		repos := setupTestDB(t)
		createPendingPayment(t, repos, 2*time.Minute)

		gw := &fakeGateway{}
		settler := usecase.NewCallbackService(repos, gw, &recordingPublisher{}, logger)
		r := scheduler.NewReconciler(repos, gw, settler, cfg, logger)

		require.NoError(t, r.Tick(ctx))
		assert.Equal(t, 0, gw.queryCount())
	})

	t.Run("per-reference cooldown prevents repeat queries", func(t *testing.T) {
		repos := setupTestDB(t)
		createPendingPayment(t, repos, 12*time.Minute)

		gw := &fakeGateway{
			queryFn: func(req *gateway.QueryRequest) (*gateway.QueryResponse, error) {
				// Still pending on the gateway side.
				return &gateway.QueryResponse{Reference: req.Reference, ResponseCode: "", TransactionStatus: ""}, nil
			},
		}
		settler := usecase.NewCallbackService(repos, gw, &recordingPublisher{}, logger)
		r := scheduler.NewReconciler(repos, gw, settler, cfg, logger)

		require.NoError(t, r.Tick(ctx))
		require.NoError(t, r.Tick(ctx))
		assert.Equal(t, 1, gw.queryCount())
	})

	t.Run("systemic failure suppresses all queries until the TTL", func(t *testing.T) {
		repos := setupTestDB(t)
		createPendingPayment(t, repos, 12*time.Minute)
		createPendingPayment(t, repos, 12*time.Minute)

		gw := &fakeGateway{
			queryFn: func(req *gateway.QueryRequest) (*gateway.QueryResponse, error) {
				return nil, &gateway.ProviderError{
					Code:     "API_ERROR",
					Message:  "certificate signed by unknown authority",
					Systemic: true,
				}
			},
		}
		settler := usecase.NewCallbackService(repos, gw, &recordingPublisher{}, logger)
		r := scheduler.NewReconciler(repos, gw, settler, cfg, logger)

		require.NoError(t, r.Tick(ctx))
		require.NoError(t, r.Tick(ctx))

		// The first query tripped the breaker; nothing else reached the
		// gateway in either tick.
		assert.Equal(t, 1, gw.queryCount())
	})

	t.Run("ordinary failures do not suppress the batch", func(t *testing.T) {
		repos := setupTestDB(t)
		createPendingPayment(t, repos, 12*time.Minute)
		createPendingPayment(t, repos, 12*time.Minute)

		gw := &fakeGateway{
			queryFn: func(req *gateway.QueryRequest) (*gateway.QueryResponse, error) {
				return nil, &gateway.ProviderError{Code: "99", Message: "temporary error"}
			},
		}
		settler := usecase.NewCallbackService(repos, gw, &recordingPublisher{}, logger)
		r := scheduler.NewReconciler(repos, gw, settler, cfg, logger)

		require.NoError(t, r.Tick(ctx))
		assert.Equal(t, 2, gw.queryCount())
	})

	t.Run("expires abandoned payments and voids their ledger entry", func(t *testing.T) {
		repos := setupTestDB(t)
		payment := createPendingPayment(t, repos, 20*time.Minute)
		plan := createPlan(t, repos, "pro", 299_000, false)
		sub := createSubscription(t, repos, plan, time.Now().UTC().Add(10*24*time.Hour))
		txn := &model.Transaction{
			SubscriptionID:  sub.ID,
			PaymentID:       &payment.ID,
			AmountSubtotal:  299_000,
			AmountTotal:     299_000,
			Currency:        "VND",
			PeriodStart:     sub.CurrentPeriodStart,
			PeriodEnd:       sub.CurrentPeriodEnd,
			EffectiveAction: model.ActionUpgrade,
			Status:          model.TransactionStatusDraft,
		}
		require.NoError(t, repos.Transaction.Create(ctx, txn))

		gw := &fakeGateway{}
		settler := usecase.NewCallbackService(repos, gw, &recordingPublisher{}, logger)
		r := scheduler.NewReconciler(repos, gw, settler, cfg, logger)

		require.NoError(t, r.Tick(ctx))

		reloaded, err := repos.Payment.GetByID(ctx, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCancelled, reloaded.Status)

		voided, err := repos.Transaction.GetByID(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TransactionStatusVoid, voided.Status)

		// Cancelled means no query either.
		assert.Equal(t, 0, gw.queryCount())
	})
}
