package repository

import (
	"context"
	"fmt"

	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type auditLogRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *gorm.DB, logger *zap.Logger) repository.AuditLogRepository {
	return &auditLogRepository{db: db, logger: logger}
}

func (r *auditLogRepository) Create(ctx context.Context, entry *model.AuditLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		r.logger.Error("Failed to create audit log entry",
			zap.String("action", entry.Action),
			zap.Error(err))
		return fmt.Errorf("failed to create audit log entry: %w", err)
	}
	return nil
}
