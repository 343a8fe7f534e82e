package repository

import (
	"context"
	"time"

	"github.com/subcommerce/billing-engine/internal/domain/model"
)

// TransactionRepository persists ledger entries.
type TransactionRepository interface {
	// Create inserts a ledger entry. A unique-constraint violation on the
	// (subscription_id, effective_action, period_end) renewal index is
	// returned as gorm.ErrDuplicatedKey.
	Create(ctx context.Context, txn *model.Transaction) error

	// GetByID returns a ledger entry by id, or (nil, nil) when absent.
	GetByID(ctx context.Context, id int64) (*model.Transaction, error)

	// GetByPaymentID returns the ledger entry linked to a payment, or (nil, nil).
	GetByPaymentID(ctx context.Context, paymentID int64) (*model.Transaction, error)

	// FindRenewal returns the non-void renew entry for the period, or (nil, nil).
	FindRenewal(ctx context.Context, subscriptionID int64, periodEnd time.Time) (*model.Transaction, error)

	// MarkSucceededByPaymentID finalizes the draft entry linked to a paid
	// payment. Zero rows means there was no draft entry to finalize.
	MarkSucceededByPaymentID(ctx context.Context, paymentID int64) (int64, error)

	// LinkPayment points a ledger entry at a new payment attempt and puts
	// it back in draft, used when a renewal charge is retried.
	LinkPayment(ctx context.Context, id int64, paymentID int64) error

	// VoidByPaymentID voids the draft entry linked to a cancelled payment.
	VoidByPaymentID(ctx context.Context, paymentID int64) (int64, error)

	// UpdateStatus sets the status of a ledger entry.
	UpdateStatus(ctx context.Context, id int64, status model.TransactionStatus) error
}
