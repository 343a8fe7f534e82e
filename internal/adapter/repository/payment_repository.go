package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type paymentRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *gorm.DB, logger *zap.Logger) repository.PaymentRepository {
	return &paymentRepository{db: db, logger: logger}
}

func (r *paymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			r.logger.Error("Failed to create payment",
				zap.String("gateway_ref", payment.GatewayRef),
				zap.Error(err))
		}
		return err
	}
	return nil
}

func (r *paymentRepository) GetByID(ctx context.Context, id int64) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).First(&payment, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get payment by id",
			zap.Int64("payment_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (r *paymentRepository) GetByGatewayRef(ctx context.Context, ref string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("gateway_ref = ?", ref).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get payment by gateway ref",
			zap.String("gateway_ref", ref),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (r *paymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get payment by idempotency key",
			zap.Error(err))
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

// MarkPaid is the compare-and-swap at the heart of at-most-once settlement:
// the conditional update keeps a second writer from re-applying the paid
// transition, whichever callback path gets there first.
func (r *paymentRepository) MarkPaid(ctx context.Context, gatewayRef string, gatewayTxnNo string, paidAt time.Time) (int64, error) {
	updates := map[string]interface{}{
		"status":  model.PaymentStatusPaid,
		"paid_at": paidAt,
	}
	if gatewayTxnNo != "" {
		updates["gateway_txn_no"] = gatewayTxnNo
	}

	result := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("gateway_ref = ? AND status <> ?", gatewayRef, model.PaymentStatusPaid).
		Updates(updates)
	if result.Error != nil {
		r.logger.Error("Failed to mark payment paid",
			zap.String("gateway_ref", gatewayRef),
			zap.Error(result.Error))
		return 0, fmt.Errorf("failed to mark payment paid: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *paymentRepository) MarkFailed(ctx context.Context, gatewayRef string, responseCode string, message string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("gateway_ref = ? AND status IN ?", gatewayRef,
			[]model.PaymentStatus{model.PaymentStatusPending, model.PaymentStatusProcessing}).
		Updates(map[string]interface{}{
			"status":          model.PaymentStatusFailed,
			"response_code":   responseCode,
			"failure_message": message,
		})
	if result.Error != nil {
		r.logger.Error("Failed to mark payment failed",
			zap.String("gateway_ref", gatewayRef),
			zap.Error(result.Error))
		return 0, fmt.Errorf("failed to mark payment failed: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *paymentRepository) CancelStale(ctx context.Context, paymentID int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ? AND status = ?", paymentID, model.PaymentStatusPending).
		Update("status", model.PaymentStatusCancelled)
	if result.Error != nil {
		r.logger.Error("Failed to cancel stale payment",
			zap.Int64("payment_id", paymentID),
			zap.Error(result.Error))
		return 0, fmt.Errorf("failed to cancel payment: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *paymentRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.PaymentStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		r.logger.Error("Failed to list stale pending payments", zap.Error(err))
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}
	return payments, nil
}
