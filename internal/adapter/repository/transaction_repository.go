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

type transactionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTransactionRepository creates a new ledger repository
func NewTransactionRepository(db *gorm.DB, logger *zap.Logger) repository.TransactionRepository {
	return &transactionRepository{db: db, logger: logger}
}

func (r *transactionRepository) Create(ctx context.Context, txn *model.Transaction) error {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			r.logger.Error("Failed to create transaction",
				zap.Int64("subscription_id", txn.SubscriptionID),
				zap.String("action", string(txn.EffectiveAction)),
				zap.Error(err))
		}
		return err
	}
	return nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.WithContext(ctx).First(&txn, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get transaction",
			zap.Int64("transaction_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &txn, nil
}

func (r *transactionRepository) GetByPaymentID(ctx context.Context, paymentID int64) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get transaction by payment id",
			zap.Int64("payment_id", paymentID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &txn, nil
}

func (r *transactionRepository) FindRenewal(ctx context.Context, subscriptionID int64, periodEnd time.Time) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND effective_action = ? AND period_end = ? AND status <> ?",
			subscriptionID, model.ActionRenew, periodEnd, model.TransactionStatusVoid).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to find renewal transaction",
			zap.Int64("subscription_id", subscriptionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to find renewal transaction: %w", err)
	}
	return &txn, nil
}

func (r *transactionRepository) MarkSucceededByPaymentID(ctx context.Context, paymentID int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("payment_id = ? AND status IN ?", paymentID,
			[]model.TransactionStatus{model.TransactionStatusDraft, model.TransactionStatusOpen}).
		Update("status", model.TransactionStatusSucceeded)
	if result.Error != nil {
		r.logger.Error("Failed to finalize transaction",
			zap.Int64("payment_id", paymentID),
			zap.Error(result.Error))
		return 0, fmt.Errorf("failed to finalize transaction: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *transactionRepository) LinkPayment(ctx context.Context, id int64, paymentID int64) error {
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"payment_id": paymentID,
			"status":     model.TransactionStatusDraft,
		}).Error
	if err != nil {
		r.logger.Error("Failed to relink transaction payment",
			zap.Int64("transaction_id", id),
			zap.Int64("payment_id", paymentID),
			zap.Error(err))
		return fmt.Errorf("failed to relink transaction payment: %w", err)
	}
	return nil
}

func (r *transactionRepository) VoidByPaymentID(ctx context.Context, paymentID int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("payment_id = ? AND status IN ?", paymentID,
			[]model.TransactionStatus{model.TransactionStatusDraft, model.TransactionStatusOpen}).
		Update("status", model.TransactionStatusVoid)
	if result.Error != nil {
		r.logger.Error("Failed to void transaction",
			zap.Int64("payment_id", paymentID),
			zap.Error(result.Error))
		return 0, fmt.Errorf("failed to void transaction: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *transactionRepository) UpdateStatus(ctx context.Context, id int64, status model.TransactionStatus) error {
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		r.logger.Error("Failed to update transaction status",
			zap.Int64("transaction_id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}
