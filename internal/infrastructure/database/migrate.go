package database

import (
	"github.com/subcommerce/billing-engine/internal/domain/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate runs database migrations
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	logger.Info("Running database migrations...")

	err := db.AutoMigrate(
		&model.Plan{},
		&model.Subscription{},
		&model.Payment{},
		&model.Transaction{},
		&model.AuditLog{},
	)
	if err != nil {
		logger.Error("Failed to run migrations", zap.Error(err))
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		logger.Error("Failed to create custom indexes", zap.Error(err))
		return err
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

// createCustomIndexes creates partial unique indexes that GORM tags cannot
// express. These back the idempotency guarantees: one active subscription
// per user and one live renewal ledger entry per billing period.
func createCustomIndexes(db *gorm.DB) error {
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS unique_active_subscription_per_user ON subscriptions (user_id) WHERE status IN ('active', 'past_due')`).Error; err != nil {
		return err
	}

	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS unique_live_renewal_per_period ON transactions (subscription_id, effective_action, period_end) WHERE effective_action = 'renew' AND status <> 'void'`).Error; err != nil {
		return err
	}

	return nil
}
