package usecase_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/usecase"
	"go.uber.org/zap"
)

// Walks the whole happy path: a payment is created, the gateway notifies
// success over the IPN, and the payment settles with exactly one event even
// when the notification is replayed.
func TestPaymentFlow_CreateThenIPN(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()
	repos := setupTestDB(t)
	createTestPlan(t, repos, "pro", 299_000)

	mockGateway := new(MockGatewayClient)
	mockGateway.On("BuildPaymentURL", mock.Anything).Return("https://gateway/pay", nil)
	mockGateway.On("VerifyCallback", mock.Anything).Return(true)

	events := &recordingPublisher{}
	paymentService := usecase.NewPaymentService(repos, mockGateway, logger)
	callbackService := usecase.NewCallbackService(repos, mockGateway, events, logger)

	result, err := paymentService.CreatePayment(ctx, usecase.CreatePaymentInput{
		UserID:        uuid.New(),
		PlanCode:      "pro",
		BillingPeriod: model.BillingPeriodMonthly,
		ClientIP:      "203.0.113.10",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(299_000), result.AmountMinor)
	assert.Equal(t, "https://gateway/pay", result.RedirectURL)

	payment, err := repos.Payment.GetByID(ctx, result.PaymentID)
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, model.PaymentStatusPending, payment.Status)

	resp := callbackService.HandleIPN(ctx, ipnParams(payment))
	assert.Equal(t, "00", resp.RspCode)

	settled, err := repos.Payment.GetByID(ctx, result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, settled.Status)
	assert.Equal(t, 1, events.successCount())

	// Replayed notification acknowledges without settling twice.
	resp = callbackService.HandleIPN(ctx, ipnParams(payment))
	assert.Equal(t, "02", resp.RspCode)
	assert.Equal(t, 1, events.successCount())
}
