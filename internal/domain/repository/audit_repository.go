package repository

import (
	"context"

	"github.com/subcommerce/billing-engine/internal/domain/model"
)

// AuditLogRepository records audit entries for money-moved anomalies.
type AuditLogRepository interface {
	Create(ctx context.Context, entry *model.AuditLog) error
}
