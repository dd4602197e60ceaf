package repository

import (
	"context"

	"bookbrief-billing/internal/domain/model"
)

// PlanRepository is the read-only port for the plan catalog.
type PlanRepository interface {
	FindByKey(ctx context.Context, key string) (*model.Plan, error)
	// FindByPriceID resolves a provider price back to its plan.
	FindByPriceID(ctx context.Context, priceID string) (*model.Plan, error)
	ListAll(ctx context.Context) ([]*model.Plan, error)
}
