package model

import (
	"bookbrief-billing/internal/domain"
)

// Plan is a purchasable tier backed by a provider price. Key doubles as the tier id.
type Plan struct {
	Key             string
	PriceID         string
	TrialFeePriceID string // one-off fee charged when the trial starts
	TrialDays       int
	Interval        Interval
	StudentOnly     bool
}

func (p *Plan) IsZero() bool { return p == nil || p.Key == "" }

func (p *Plan) HasTrial() bool { return p != nil && p.TrialDays > 0 }

// NewPlan validates and constructs a plan.
func NewPlan(key, priceID string, interval Interval, trialDays int) (*Plan, error) {
	if key == "" || priceID == "" || trialDays < 0 {
		return nil, domain.ErrInvalidArgument
	}
	if interval != IntervalMonth && interval != IntervalYear {
		return nil, domain.ErrInvalidArgument
	}
	return &Plan{
		Key:       key,
		PriceID:   priceID,
		TrialDays: trialDays,
		Interval:  interval,
	}, nil
}
