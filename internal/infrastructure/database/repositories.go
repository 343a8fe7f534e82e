package database

import (
	"context"

	adapter "github.com/subcommerce/billing-engine/internal/adapter/repository"
	domainRepo "github.com/subcommerce/billing-engine/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repositories holds all repository instances bound to one database handle.
// Transaction rebinds the whole set to a transaction handle, which is the
// unit-of-work boundary the use cases run their atomic steps inside.
type Repositories struct {
	Plan         domainRepo.PlanRepository
	Payment      domainRepo.PaymentRepository
	Transaction  domainRepo.TransactionRepository
	Subscription domainRepo.SubscriptionRepository
	AuditLog     domainRepo.AuditLogRepository

	db     *gorm.DB
	logger *zap.Logger
}

// NewRepositories creates repository instances with a database connection
func NewRepositories(db *gorm.DB, logger *zap.Logger) *Repositories {
	return &Repositories{
		Plan:         adapter.NewPlanRepository(db, logger),
		Payment:      adapter.NewPaymentRepository(db, logger),
		Transaction:  adapter.NewTransactionRepository(db, logger),
		Subscription: adapter.NewSubscriptionRepository(db, logger),
		AuditLog:     adapter.NewAuditLogRepository(db, logger),
		db:           db,
		logger:       logger,
	}
}

// DB exposes the underlying handle for infrastructure wiring.
func (r *Repositories) DB() *gorm.DB {
	return r.db
}

// WithTransaction runs fn with a repository set bound to one database
// transaction; everything inside commits or rolls back together.
func (r *Repositories) WithTransaction(ctx context.Context, fn func(repos *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx, r.logger))
	})
}
