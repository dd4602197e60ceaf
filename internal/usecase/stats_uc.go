package usecase

import (
	"context"
	"fmt"

	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/repository"
	"bookbrief-billing/internal/infra/logging"

	"github.com/rs/zerolog"
)

var _ StatsUseCase = (*statsUC)(nil)

// StatsUseCase feeds the subscription gauges.
type StatsUseCase interface {
	// SubscriptionsByStatus reports every known status, zero included.
	SubscriptionsByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}

type statsUC struct {
	subs repository.SubscriptionRepository
	log  *zerolog.Logger
}

func NewStatsUseCase(subs repository.SubscriptionRepository, logger *zerolog.Logger) *statsUC {
	l := logger.With().Str("component", "StatsUC").Logger()
	return &statsUC{subs: subs, log: &l}
}

func (s *statsUC) SubscriptionsByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	defer logging.TraceDuration(s.log, "StatsUC.SubscriptionsByStatus")()

	counts, err := s.subs.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	out := make(map[model.SubscriptionStatus]int, len(counts)+len(model.LiveStatuses)+1)
	for _, st := range model.LiveStatuses {
		out[st] = 0
	}
	out[model.SubscriptionStatusCanceled] = 0
	for st, n := range counts {
		out[st] = n
	}
	return out, nil
}
