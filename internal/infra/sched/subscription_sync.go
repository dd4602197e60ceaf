package sched

import (
	"context"
	"errors"
	"time"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/ports/repository"
	"bookbrief-billing/internal/domain/ports/usecase"
	"bookbrief-billing/internal/infra/metrics"
	"bookbrief-billing/internal/infra/worker"

	"github.com/rs/zerolog"
)

// SubscriptionSync periodically re-reads live subscriptions whose period ended
// a while ago. It heals records whose lifecycle webhooks never arrived.
type SubscriptionSync struct {
	resyncer   usecase.SubscriptionResyncer
	subs       repository.SubscriptionRepository
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	pool       *worker.Pool
	log        *zerolog.Logger
}

func NewSubscriptionSync(
	resyncer usecase.SubscriptionResyncer,
	subs repository.SubscriptionRepository,
	interval, staleAfter time.Duration,
	batch int,
	logger *zerolog.Logger,
) *SubscriptionSync {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	if batch <= 0 {
		batch = 100
	}
	l := logger.With().Str("component", "SubscriptionSync").Logger()
	return &SubscriptionSync{
		resyncer: resyncer, subs: subs,
		interval: interval, staleAfter: staleAfter, batch: batch,
		pool: worker.NewPool(1, logger),
		log:  &l,
	}
}

// WithConcurrency resyncs up to n subscriptions at once.
func (w *SubscriptionSync) WithConcurrency(n int) *SubscriptionSync {
	if n > 0 {
		w.pool = worker.NewPool(n, w.log)
	}
	return w
}

func (w *SubscriptionSync) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Int("workers", w.pool.Size()).Msg("Starting subscription sync")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping subscription sync")
			return nil
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one pass and returns how many subscriptions were resynced.
func (w *SubscriptionSync) Tick(ctx context.Context) int {
	cutoff := time.Now().Add(-w.staleAfter)
	stale, err := w.subs.ListStale(ctx, cutoff, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale subscriptions")
		return 0
	}
	tasks := make([]worker.Task, len(stale))
	for i, s := range stale {
		id := s.ID
		tasks[i] = func(ctx context.Context) error { return w.resyncer.Resync(ctx, id) }
	}
	errs := w.pool.Run(ctx, tasks)

	synced := 0
	for i, err := range errs {
		id := stale[i].ID
		switch {
		case err == nil:
			synced++
			metrics.IncSubscriptionsResynced("ok")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// not started before shutdown
		case domain.IsRetryable(err):
			metrics.IncSubscriptionsResynced("retry")
			w.log.Warn().Err(err).Str("subscription_id", id).Msg("resync deferred")
		default:
			metrics.IncSubscriptionsResynced("error")
			w.log.Error().Err(err).Str("subscription_id", id).Msg("resync failed")
		}
	}
	if synced > 0 {
		w.log.Info().Int("count", synced).Msg("stale subscriptions resynced")
	}
	return synced
}
