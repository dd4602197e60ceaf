// Package catalog serves the configured plans through the plan repository port.
package catalog

import (
	"context"
	"fmt"
	"sort"

	"bookbrief-billing/internal/config"
	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/repository"
)

var _ repository.PlanRepository = (*Plans)(nil)

// Plans is immutable after construction and safe for concurrent use.
type Plans struct {
	byKey   map[string]*model.Plan
	byPrice map[string]*model.Plan
	ordered []*model.Plan
}

func NewPlans(cfg map[string]config.PlanConfig) (*Plans, error) {
	p := &Plans{
		byKey:   make(map[string]*model.Plan, len(cfg)),
		byPrice: make(map[string]*model.Plan, len(cfg)),
	}
	for key, c := range cfg {
		plan, err := model.NewPlan(key, c.PriceID, model.Interval(c.Interval), c.TrialDays)
		if err != nil {
			return nil, fmt.Errorf("plan %q: %w", key, err)
		}
		plan.TrialFeePriceID = c.TrialFeePriceID
		plan.StudentOnly = c.StudentOnly
		if other, dup := p.byPrice[plan.PriceID]; dup {
			return nil, fmt.Errorf("plans %q and %q share price %s: %w", other.Key, key, plan.PriceID, domain.ErrInvalidArgument)
		}
		p.byKey[key] = plan
		p.byPrice[plan.PriceID] = plan
		p.ordered = append(p.ordered, plan)
	}
	sort.Slice(p.ordered, func(i, j int) bool { return p.ordered[i].Key < p.ordered[j].Key })
	return p, nil
}

func (p *Plans) FindByKey(_ context.Context, key string) (*model.Plan, error) {
	if plan, ok := p.byKey[key]; ok {
		c := *plan
		return &c, nil
	}
	return nil, domain.ErrNotFound
}

func (p *Plans) FindByPriceID(_ context.Context, priceID string) (*model.Plan, error) {
	if plan, ok := p.byPrice[priceID]; ok {
		c := *plan
		return &c, nil
	}
	return nil, domain.ErrNotFound
}

// ListAll returns copies ordered by key.
func (p *Plans) ListAll(_ context.Context) ([]*model.Plan, error) {
	out := make([]*model.Plan, 0, len(p.ordered))
	for _, plan := range p.ordered {
		c := *plan
		out = append(out, &c)
	}
	return out, nil
}
