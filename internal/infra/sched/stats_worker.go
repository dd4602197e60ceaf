package sched

import (
	"context"
	"time"

	"bookbrief-billing/internal/infra/metrics"
	"bookbrief-billing/internal/usecase"

	"github.com/rs/zerolog"
)

// StatsWorker refreshes the gauges that are cheaper to poll than to track.
type StatsWorker struct {
	stats     usecase.StatsUseCase
	poolStats func()
	interval  time.Duration
	log       *zerolog.Logger
}

// NewStatsWorker takes an optional poolStats hook that publishes the store's pool gauges.
func NewStatsWorker(stats usecase.StatsUseCase, poolStats func(), interval time.Duration, logger *zerolog.Logger) *StatsWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "StatsWorker").Logger()
	return &StatsWorker{stats: stats, poolStats: poolStats, interval: interval, log: &l}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	w.Tick(ctx)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

func (w *StatsWorker) Tick(ctx context.Context) {
	counts, err := w.stats.SubscriptionsByStatus(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("count subscriptions")
	} else {
		metrics.SetSubscriptionsTotal(counts)
	}
	if w.poolStats != nil {
		w.poolStats()
	}
}
