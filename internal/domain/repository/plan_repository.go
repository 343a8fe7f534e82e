package repository

import (
	"context"

	"github.com/subcommerce/billing-engine/internal/domain/model"
)

// PlanRepository provides read access to plans.
type PlanRepository interface {
	// GetByCode returns the plan with the given code, or (nil, nil) when absent.
	GetByCode(ctx context.Context, code string) (*model.Plan, error)

	// GetByID returns the plan with the given id, or (nil, nil) when absent.
	GetByID(ctx context.Context, id int64) (*model.Plan, error)

	// GetBasePlan returns the base/free plan subscriptions fall back to.
	GetBasePlan(ctx context.Context) (*model.Plan, error)

	// ListActive returns all active plans ordered by sort order.
	ListActive(ctx context.Context) ([]*model.Plan, error)
}
