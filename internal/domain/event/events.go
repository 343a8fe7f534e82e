package event

import "context"

// Channel names consumed by the subscription and notification services.
const (
	ChannelPaymentSuccess = "payment.success"
	ChannelPaymentFailed  = "payment.failed"
	ChannelPaymentRetry   = "payment.retry"
)

// PaymentSucceeded announces a settled payment.
type PaymentSucceeded struct {
	PaymentID int64 `json:"payment_id"`
}

// PaymentFailed announces a failed payment with enough context for
// notification dispatch.
type PaymentFailed struct {
	PaymentID         int64  `json:"payment_id"`
	UserID            string `json:"user_id"`
	AmountMinor       int64  `json:"amount_minor"`
	PlanCode          string `json:"plan_code"`
	ErrorCode         string `json:"error_code"`
	TransactionStatus string `json:"transaction_status,omitempty"`
}

// PaymentRetry announces a scheduled payment retry.
type PaymentRetry struct {
	PaymentID  int64 `json:"payment_id"`
	RetryCount int   `json:"retry_count"`
}

// Publisher delivers collaborator events. Implementations are fire-and-forget
// with a bounded timeout; failures are logged, never propagated to the
// money-movement path.
type Publisher interface {
	PaymentSucceeded(ctx context.Context, evt PaymentSucceeded)
	PaymentFailed(ctx context.Context, evt PaymentFailed)
	PaymentRetry(ctx context.Context, evt PaymentRetry)
}
