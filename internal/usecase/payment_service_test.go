package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/subcommerce/billing-engine/internal/domain/gateway"
	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/usecase"
	apperrors "github.com/subcommerce/billing-engine/pkg/errors"
	"go.uber.org/zap"
)

func TestPaymentService_CreatePayment(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	t.Run("first payment has no subscription and no ledger entry", func(t *testing.T) {
		repos := setupTestDB(t)
		createTestPlan(t, repos, "pro", 299_000)

		mockGateway := new(MockGatewayClient)
		mockGateway.On("BuildPaymentURL", mock.Anything).Return("https://gateway/pay?x=1", nil)
		service := usecase.NewPaymentService(repos, mockGateway, logger)

		userID := uuid.New()
		result, err := service.CreatePayment(ctx, usecase.CreatePaymentInput{
			UserID:   userID,
			PlanCode: "pro",
			ClientIP: "203.0.113.10",
		})

		require.NoError(t, err)
		assert.Equal(t, int64(299_000), result.AmountMinor)
		assert.Equal(t, "https://gateway/pay?x=1", result.RedirectURL)

		payment, err := repos.Payment.GetByID(ctx, result.PaymentID)
		require.NoError(t, err)
		require.NotNil(t, payment)
		assert.Equal(t, model.PaymentStatusPending, payment.Status)
		assert.Equal(t, userID, payment.UserID)

		txn, err := repos.Transaction.GetByPaymentID(ctx, result.PaymentID)
		require.NoError(t, err)
		assert.Nil(t, txn)
	})

	t.Run("same idempotency key returns the same payment", func(t *testing.T) {
		repos := setupTestDB(t)
		createTestPlan(t, repos, "pro", 299_000)

		mockGateway := new(MockGatewayClient)
		mockGateway.On("BuildPaymentURL", mock.Anything).Return("https://gateway/pay?x=1", nil)
		service := usecase.NewPaymentService(repos, mockGateway, logger)

		input := usecase.CreatePaymentInput{
			UserID:         uuid.New(),
			PlanCode:       "pro",
			IdempotencyKey: "order-42",
		}
		first, err := service.CreatePayment(ctx, input)
		require.NoError(t, err)

		second, err := service.CreatePayment(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, first.PaymentID, second.PaymentID)

		var count int64
		require.NoError(t, repos.DB().Model(&model.Payment{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("upgrade creates a prorated draft ledger entry", func(t *testing.T) {
		repos := setupTestDB(t)
		basic := createTestPlan(t, repos, "basic", 100_000)
		createTestPlan(t, repos, "premium", 200_000)

		userID := uuid.New()
		// Exactly half the 30-day period remains.
		start := time.Now().UTC().Add(-15 * 24 * time.Hour)
		createTestSubscription(t, repos, userID, basic, start)

		mockGateway := new(MockGatewayClient)
		mockGateway.On("BuildPaymentURL", mock.Anything).Return("https://gateway/pay?x=2", nil)
		service := usecase.NewPaymentService(repos, mockGateway, logger)

		result, err := service.CreatePayment(ctx, usecase.CreatePaymentInput{
			UserID:   userID,
			PlanCode: "premium",
		})
		require.NoError(t, err)
		assert.InDelta(t, 150_000, result.AmountMinor, 100)

		txn, err := repos.Transaction.GetByPaymentID(ctx, result.PaymentID)
		require.NoError(t, err)
		require.NotNil(t, txn)
		assert.Equal(t, model.ActionUpgrade, txn.EffectiveAction)
		assert.Equal(t, model.TransactionStatusDraft, txn.Status)
		assert.True(t, txn.ProrationApplied)
		assert.InDelta(t, 50_000, txn.ProrationCharge, 100)
	})

	t.Run("unknown plan is rejected without side effects", func(t *testing.T) {
		repos := setupTestDB(t)

		mockGateway := new(MockGatewayClient)
		service := usecase.NewPaymentService(repos, mockGateway, logger)

		_, err := service.CreatePayment(ctx, usecase.CreatePaymentInput{
			UserID:   uuid.New(),
			PlanCode: "ghost",
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))

		var count int64
		require.NoError(t, repos.DB().Model(&model.Payment{}).Count(&count).Error)
		assert.Equal(t, int64(0), count)
		mockGateway.AssertNotCalled(t, "BuildPaymentURL", mock.Anything)
	})

	t.Run("missing user id is rejected", func(t *testing.T) {
		repos := setupTestDB(t)
		service := usecase.NewPaymentService(repos, new(MockGatewayClient), logger)

		_, err := service.CreatePayment(ctx, usecase.CreatePaymentInput{PlanCode: "pro"})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrInvalidArgument, apperrors.CodeOf(err))
	})

	t.Run("billing period mismatch is rejected", func(t *testing.T) {
		repos := setupTestDB(t)
		createTestPlan(t, repos, "pro", 299_000)
		service := usecase.NewPaymentService(repos, new(MockGatewayClient), logger)

		_, err := service.CreatePayment(ctx, usecase.CreatePaymentInput{
			UserID:        uuid.New(),
			PlanCode:      "pro",
			BillingPeriod: model.BillingPeriodYearly,
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrInvalidArgument, apperrors.CodeOf(err))
	})
}

func TestPaymentService_RegenerateRedirectURL(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()
	repos := setupTestDB(t)
	createTestPlan(t, repos, "pro", 299_000)

	mockGateway := new(MockGatewayClient)
	mockGateway.On("BuildPaymentURL", mock.Anything).Return("https://gateway/pay?x=3", nil)
	service := usecase.NewPaymentService(repos, mockGateway, logger)

	result, err := service.CreatePayment(ctx, usecase.CreatePaymentInput{
		UserID:   uuid.New(),
		PlanCode: "pro",
	})
	require.NoError(t, err)

	redirectURL, err := service.RegenerateRedirectURL(ctx, result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "https://gateway/pay?x=3", redirectURL)

	// A settled payment cannot be redirected again.
	payment, err := repos.Payment.GetByID(ctx, result.PaymentID)
	require.NoError(t, err)
	_, err = repos.Payment.MarkPaid(ctx, payment.GatewayRef, "TXN1", time.Now().UTC())
	require.NoError(t, err)

	_, err = service.RegenerateRedirectURL(ctx, result.PaymentID)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrConflict, apperrors.CodeOf(err))
}

func TestPaymentService_QueryStatus_Throttled(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()
	repos := setupTestDB(t)
	createTestPlan(t, repos, "pro", 299_000)

	mockGateway := new(MockGatewayClient)
	mockGateway.On("BuildPaymentURL", mock.Anything).Return("https://gateway/pay", nil)
	service := usecase.NewPaymentService(repos, mockGateway, logger)

	result, err := service.CreatePayment(ctx, usecase.CreatePaymentInput{
		UserID:   uuid.New(),
		PlanCode: "pro",
	})
	require.NoError(t, err)

	mockGateway.On("QueryTransaction", mock.Anything, mock.Anything).
		Return(&gateway.QueryResponse{Throttled: true, RetryAfter: 3 * time.Minute}, nil)

	status, err := service.QueryStatus(ctx, result.PaymentID, "203.0.113.10")
	require.NoError(t, err)
	assert.Equal(t, "throttled", status.Status)
	assert.Equal(t, int64(180_000), status.RetryAfterMs)
}
