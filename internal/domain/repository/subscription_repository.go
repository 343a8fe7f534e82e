package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/subcommerce/billing-engine/internal/domain/model"
)

// SubscriptionRepository persists the subscription aggregate.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *model.Subscription) error

	// GetByID returns a subscription by id, or (nil, nil) when absent.
	GetByID(ctx context.Context, id int64) (*model.Subscription, error)

	// GetActiveByUserID returns the user's active or past-due subscription,
	// or (nil, nil) when the user has none.
	GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*model.Subscription, error)

	// ListDueForRenewal returns subscriptions whose period has ended or
	// whose next retry is due.
	ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error)

	// Update persists mutable fields of the aggregate.
	Update(ctx context.Context, sub *model.Subscription) error

	// AcquireLock takes the per-subscription advisory lock for the duration
	// of the surrounding database transaction.
	AcquireLock(ctx context.Context, subscriptionID int64) error
}
