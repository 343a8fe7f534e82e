package repository

import (
	"context"
	"time"

	"github.com/subcommerce/billing-engine/internal/domain/model"
)

// PaymentRepository persists gateway payment attempts.
type PaymentRepository interface {
	Create(ctx context.Context, payment *model.Payment) error

	// GetByID returns a payment by id, or (nil, nil) when absent.
	GetByID(ctx context.Context, id int64) (*model.Payment, error)

	// GetByGatewayRef returns a payment by gateway reference, or (nil, nil) when absent.
	GetByGatewayRef(ctx context.Context, ref string) (*model.Payment, error)

	// GetByIdempotencyKey returns a payment by idempotency key, or (nil, nil) when absent.
	GetByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error)

	// MarkPaid applies the paid transition with a conditional update
	// (WHERE status <> 'paid') and reports how many rows changed.
	// Zero rows means another writer already applied it.
	MarkPaid(ctx context.Context, gatewayRef string, gatewayTxnNo string, paidAt time.Time) (int64, error)

	// MarkFailed records a failure code on a payment that has not reached a
	// terminal state yet. Zero rows means the payment already settled.
	MarkFailed(ctx context.Context, gatewayRef string, responseCode string, message string) (int64, error)

	// CancelStale cancels a pending payment. Zero rows means it raced with
	// a success and must not be touched.
	CancelStale(ctx context.Context, paymentID int64) (int64, error)

	// ListStalePending returns pending payments created before the cutoff.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.Payment, error)
}
