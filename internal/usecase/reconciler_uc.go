// File: internal/usecase/reconciler_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/adapter"
	"bookbrief-billing/internal/domain/ports/repository"
	portuc "bookbrief-billing/internal/domain/ports/usecase"
	"bookbrief-billing/internal/infra/logging"
	"bookbrief-billing/internal/infra/metrics"
)

// Compile-time check
var _ ReconcilerUseCase = (*reconcilerUC)(nil)
var _ portuc.SubscriptionResyncer = (*reconcilerUC)(nil)

// ReconcilerUseCase applies verified billing events to the subscription and user records.
type ReconcilerUseCase interface {
	// Reconcile applies exactly the state changes the event implies. Failures are
	// typed (see domain.Err*) so the delivery layer can decide about redelivery.
	Reconcile(ctx context.Context, ev model.BillingEvent) error
	// Resync fetches canonical state and applies it as a subscription update.
	Resync(ctx context.Context, subscriptionID string) error
}

// ReconcilerOptions tunes the optional guards around reconciliation.
type ReconcilerOptions struct {
	// RejectStale drops subscription updates older than the stored state.
	RejectStale bool
	// Locker serialises reconciliations of one subscription; nil disables locking.
	Locker  adapter.Locker
	LockTTL time.Duration
	Now     func() time.Time
}

type reconcilerUC struct {
	subs     repository.SubscriptionRepository
	users    repository.UserRepository
	provider adapter.BillingProvider
	opts     ReconcilerOptions
	log      *zerolog.Logger
}

func NewReconcilerUseCase(
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	provider adapter.BillingProvider,
	opts ReconcilerOptions,
	logger *zerolog.Logger,
) *reconcilerUC {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := logger.With().Str("component", "Reconciler").Logger()
	return &reconcilerUC{subs: subs, users: users, provider: provider, opts: opts, log: &l}
}

func (uc *reconcilerUC) Reconcile(ctx context.Context, ev model.BillingEvent) error {
	return uc.reconcile(ctx, ev, false)
}

// reconcile is Reconcile plus the resync flag. A resynced cancellation keeps
// the user tier when another live subscription still backs it.
func (uc *reconcilerUC) reconcile(ctx context.Context, ev model.BillingEvent, resync bool) (err error) {
	if ev == nil {
		return fmt.Errorf("%w: nil event", domain.ErrUnsupportedEvent)
	}
	meta := ev.Meta()
	ctx = logging.WithEventID(ctx, meta.ID)
	log := logging.With(ctx, uc.log)
	defer logging.TraceDuration(log, "Reconciler.Reconcile")()

	outcome := "applied"
	defer func() {
		if err != nil {
			outcome = outcomeOf(err)
		}
		metrics.IncReconcile(string(ev.Type()), outcome)
	}()

	if subID := ev.SubscriptionRef(); subID != "" && uc.opts.Locker != nil {
		release, lerr := uc.lock(ctx, subID)
		if lerr != nil {
			return lerr
		}
		defer release()
	}

	var tr model.Transition
	switch e := ev.(type) {
	case model.CheckoutCompleted:
		tr, err = uc.checkoutCompleted(ctx, e)
	case model.InvoicePaid:
		if e.SubscriptionID == "" {
			log.Debug().Str("invoice_id", e.InvoiceID).Msg("invoice without subscription, nothing to reconcile")
			outcome = "ignored"
			return nil
		}
		tr, err = uc.invoicePaid(ctx, e)
	case model.SubscriptionUpdated:
		tr, err = uc.subscriptionUpdated(ctx, e)
	case model.SubscriptionDeleted:
		tr, err = uc.subscriptionDeleted(ctx, e)
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnsupportedEvent, ev)
	}
	if err != nil {
		log.Warn().Err(err).Str("type", string(ev.Type())).Msg("reconcile rejected")
		return err
	}

	if _, deleted := ev.(model.SubscriptionDeleted); resync && deleted && tr.User != nil {
		other, lerr := uc.otherLiveSubscription(ctx, tr.UserID, tr.SubscriptionID)
		if lerr != nil {
			return lerr
		}
		if other != "" {
			log.Info().
				Str("subscription_id", tr.SubscriptionID).
				Str("live_subscription_id", other).
				Msg("user keeps tier of another live subscription")
			tr.User = nil
		}
	}

	if tr.Stale {
		outcome = "stale"
		log.Info().
			Str("type", string(ev.Type())).
			Str("subscription_id", tr.SubscriptionID).
			Time("event_created", meta.Created).
			Msg("stale event skipped")
		return nil
	}

	if err := uc.persist(ctx, tr); err != nil {
		log.Error().Err(err).Str("subscription_id", tr.SubscriptionID).Msg("reconcile persistence failed")
		return err
	}

	log.Info().
		Str("type", string(ev.Type())).
		Str("subscription_id", tr.SubscriptionID).
		Bool("user_updated", tr.User != nil).
		Msg("billing event reconciled")
	return nil
}

// Resync applies the canonical provider state as a subscription update. The
// synthetic event has no creation time: the snapshot may predate a provider
// event still in flight, so it must neither be judged stale nor move the
// stored watermark.
func (uc *reconcilerUC) Resync(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return domain.ErrInvalidArgument
	}
	snap, err := uc.fetch(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if snap.UserRef == "" {
		// Records created before metadata was attached still know their owner.
		if prev, ferr := uc.subs.FindByID(ctx, subscriptionID); ferr == nil {
			snap.UserRef = prev.UserID
		}
	}
	ev := model.SubscriptionUpdated{
		EventMeta:    model.EventMeta{ID: "resync:" + subscriptionID},
		Subscription: *snap,
	}
	if snap.Status == model.SubscriptionStatusCanceled {
		if ev.Subscription.CanceledAt == nil {
			now := uc.opts.Now().UTC()
			ev.Subscription.CanceledAt = &now
		}
		return uc.reconcile(ctx, model.SubscriptionDeleted(ev), true)
	}
	return uc.reconcile(ctx, ev, true)
}

// ---- per-variant loading; the state changes live in model/transition.go ----

func (uc *reconcilerUC) checkoutCompleted(ctx context.Context, e model.CheckoutCompleted) (model.Transition, error) {
	snap := e.Subscription
	if snap == nil {
		if e.SubscriptionID == "" {
			return model.Transition{}, fmt.Errorf("%w: checkout %s has no subscription", domain.ErrUnsupportedEvent, e.SessionID)
		}
		fetched, err := uc.fetch(ctx, e.SubscriptionID)
		if err != nil {
			return model.Transition{}, err
		}
		snap = fetched
	}
	user, err := uc.resolveUser(ctx, firstNonEmpty(e.UserRef, snap.UserRef))
	if err != nil {
		return model.Transition{}, err
	}
	prev, err := uc.loadSubscription(ctx, snap.ID)
	if err != nil {
		return model.Transition{}, err
	}
	return model.CheckoutTransition(*snap, user.ID, e.CustomerRef, prev, e.Created), nil
}

func (uc *reconcilerUC) invoicePaid(ctx context.Context, e model.InvoicePaid) (model.Transition, error) {
	snap, err := uc.fetch(ctx, e.SubscriptionID)
	if err != nil {
		return model.Transition{}, err
	}
	user, err := uc.resolveUser(ctx, firstNonEmpty(e.UserRef, snap.UserRef))
	if err != nil {
		return model.Transition{}, err
	}
	prev, err := uc.loadSubscription(ctx, snap.ID)
	if err != nil {
		return model.Transition{}, err
	}
	return model.InvoicePaidTransition(*snap, user.ID, prev), nil
}

func (uc *reconcilerUC) subscriptionUpdated(ctx context.Context, e model.SubscriptionUpdated) (model.Transition, error) {
	user, err := uc.resolveUser(ctx, e.Subscription.UserRef)
	if err != nil {
		return model.Transition{}, err
	}
	prev, err := uc.loadSubscription(ctx, e.Subscription.ID)
	if err != nil {
		return model.Transition{}, err
	}
	return model.SubscriptionUpdatedTransition(e.Subscription, user.ID, prev, e.Created, uc.opts.RejectStale), nil
}

func (uc *reconcilerUC) subscriptionDeleted(ctx context.Context, e model.SubscriptionDeleted) (model.Transition, error) {
	user, err := uc.resolveUser(ctx, e.Subscription.UserRef)
	if err != nil {
		return model.Transition{}, err
	}
	prev, err := uc.loadSubscription(ctx, e.Subscription.ID)
	if err != nil {
		return model.Transition{}, err
	}
	return model.SubscriptionDeletedTransition(e.Subscription, user.ID, prev, e.Created), nil
}

// persist writes the subscription first and the user second. The two writes are
// independent; a failure between them is healed by the next event.
func (uc *reconcilerUC) persist(ctx context.Context, tr model.Transition) error {
	switch {
	case tr.Subscription.Upsert != nil:
		if err := uc.subs.Upsert(ctx, tr.Subscription.Upsert); err != nil {
			return fmt.Errorf("%w: upsert subscription %s: %v", domain.ErrPersistenceFailed, tr.SubscriptionID, err)
		}
	case tr.Subscription.Patch != nil:
		err := uc.subs.Update(ctx, tr.SubscriptionID, *tr.Subscription.Patch)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: subscription %s vanished before update", domain.ErrPersistenceFailed, tr.SubscriptionID)
		}
		if err != nil {
			return fmt.Errorf("%w: update subscription %s: %v", domain.ErrPersistenceFailed, tr.SubscriptionID, err)
		}
	}

	if tr.User == nil || tr.User.IsEmpty() {
		return nil
	}
	if err := uc.users.UpdateBilling(ctx, tr.UserID, *tr.User); err != nil {
		return fmt.Errorf("%w: update user %s: %v", domain.ErrPersistenceFailed, tr.UserID, err)
	}
	return nil
}

// ---- helpers ----

func (uc *reconcilerUC) fetch(ctx context.Context, subscriptionID string) (*model.SubscriptionSnapshot, error) {
	snap, err := uc.provider.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrProviderLookupFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: subscription %s: %v", domain.ErrProviderLookupFailed, subscriptionID, err)
	}
	if snap == nil || snap.ID == "" {
		return nil, fmt.Errorf("%w: subscription %s: empty response", domain.ErrProviderLookupFailed, subscriptionID)
	}
	return snap, nil
}

// resolveUser checks the reference before anything is written.
func (uc *reconcilerUC) resolveUser(ctx context.Context, ref string) (*model.User, error) {
	if ref == "" {
		return nil, domain.ErrMissingUserReference
	}
	u, err := uc.users.FindByID(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s does not exist", domain.ErrMissingUserReference, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load user %s: %v", domain.ErrPersistenceFailed, ref, err)
	}
	return u, nil
}

func (uc *reconcilerUC) loadSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	s, err := uc.subs.FindByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load subscription %s: %v", domain.ErrPersistenceFailed, id, err)
	}
	return s, nil
}

// otherLiveSubscription returns the id of a live subscription of userID other
// than exceptID, or "" when there is none.
func (uc *reconcilerUC) otherLiveSubscription(ctx context.Context, userID, exceptID string) (string, error) {
	subs, err := uc.subs.ListByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: list subscriptions of %s: %v", domain.ErrPersistenceFailed, userID, err)
	}
	for _, s := range subs {
		if s.ID != exceptID && s.Status.IsLive() {
			return s.ID, nil
		}
	}
	return "", nil
}

func (uc *reconcilerUC) lock(ctx context.Context, subscriptionID string) (func(), error) {
	key := "reconcile:sub:" + subscriptionID
	token, err := uc.opts.Locker.TryLock(ctx, key, uc.opts.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrBusy) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Locker down: fall back to the row-level last-write-wins, as the deduper does.
		logging.With(ctx, uc.log).Warn().Err(err).Str("key", key).Msg("lock unavailable, reconciling without it")
		return func() {}, nil
	}
	return func() {
		// A fresh context so cancellation of the request still frees the lease.
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := uc.opts.Locker.Unlock(uctx, key, token); err != nil {
			uc.log.Warn().Err(err).Str("key", key).Msg("unlock failed, lease will expire")
		}
	}, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingUserReference):
		return "missing_user"
	case errors.Is(err, domain.ErrProviderLookupFailed):
		return "provider_failed"
	case errors.Is(err, domain.ErrPersistenceFailed):
		return "persistence_failed"
	case errors.Is(err, domain.ErrBusy):
		return "busy"
	case errors.Is(err, domain.ErrUnsupportedEvent):
		return "unsupported"
	default:
		return "error"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
