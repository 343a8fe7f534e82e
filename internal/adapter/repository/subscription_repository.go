package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type subscriptionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB, logger *zap.Logger) repository.SubscriptionRepository {
	return &subscriptionRepository{db: db, logger: logger}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		r.logger.Error("Failed to create subscription",
			zap.String("user_id", sub.UserID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		First(&sub, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get subscription",
			zap.Int64("subscription_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ? AND status IN ?", userID,
			[]model.SubscriptionStatus{model.SubscriptionStatusActive, model.SubscriptionStatusPastDue}).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get active subscription",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("status IN ?", []model.SubscriptionStatus{
			model.SubscriptionStatusActive, model.SubscriptionStatusPastDue,
		}).
		Where(
			r.db.Where("next_renew_attempt_at IS NOT NULL AND next_renew_attempt_at <= ?", now).
				Or("next_renew_attempt_at IS NULL AND current_period_end <= ?", now),
		).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		r.logger.Error("Failed to list subscriptions due for renewal", zap.Error(err))
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	return subs, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *model.Subscription) error {
	err := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]interface{}{
			"plan_id":               sub.PlanID,
			"plan_snapshot":         sub.PlanSnapshot,
			"status":                sub.Status,
			"current_period_start":  sub.CurrentPeriodStart,
			"current_period_end":    sub.CurrentPeriodEnd,
			"renewal_attempt_count": sub.RenewalAttemptCount,
			"next_renew_attempt_at": sub.NextRenewAttemptAt,
			"dunning_stage":         sub.DunningStage,
			"last_renewal_error":    sub.LastRenewalError,
		}).Error
	if err != nil {
		r.logger.Error("Failed to update subscription",
			zap.Int64("subscription_id", sub.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// AcquireLock takes a transaction-scoped advisory lock on the subscription
// id. Outside Postgres (sqlite tests) this is a no-op; the surrounding
// database transaction still serializes conflicting writers there.
func (r *subscriptionRepository) AcquireLock(ctx context.Context, subscriptionID int64) error {
	if r.db.Dialector.Name() != "postgres" {
		return nil
	}
	if err := r.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", subscriptionID).Error; err != nil {
		r.logger.Error("Failed to acquire subscription lock",
			zap.Int64("subscription_id", subscriptionID),
			zap.Error(err))
		return fmt.Errorf("failed to acquire subscription lock: %w", err)
	}
	return nil
}
