package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/adapter"
	"bookbrief-billing/internal/domain/ports/repository"
	"bookbrief-billing/internal/infra/logging"
	"bookbrief-billing/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ BillingUseCase = (*billingUC)(nil)

// BillingUseCase starts provider-side billing flows. Local records are only
// changed by the webhooks these flows trigger, except the customer id.
type BillingUseCase interface {
	CreateCheckout(ctx context.Context, userID, planKey string) (*adapter.CheckoutSession, error)
	CreatePortal(ctx context.Context, userID string) (string, error)
	ChangePlan(ctx context.Context, userID, planKey string) error
	Cancel(ctx context.Context, userID string) (time.Time, error)
	Invoices(ctx context.Context, userID, startingAfter string) (*adapter.InvoicePage, error)
}

type BillingOptions struct {
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
	CheckoutLimit   int
	CheckoutWindow  time.Duration
	InvoicePageSize int
}

type billingUC struct {
	users    repository.UserRepository
	subs     repository.SubscriptionRepository
	plans    repository.PlanRepository
	provider adapter.BillingProvider
	limiter  adapter.RateLimiter // optional
	opts     BillingOptions
	log      *zerolog.Logger
}

func NewBillingUseCase(
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	provider adapter.BillingProvider,
	limiter adapter.RateLimiter,
	opts BillingOptions,
	logger *zerolog.Logger,
) *billingUC {
	if opts.InvoicePageSize <= 0 {
		opts.InvoicePageSize = 10
	}
	l := logger.With().Str("component", "BillingUC").Logger()
	return &billingUC{users: users, subs: subs, plans: plans, provider: provider, limiter: limiter, opts: opts, log: &l}
}

func (b *billingUC) CreateCheckout(ctx context.Context, userID, planKey string) (cs *adapter.CheckoutSession, err error) {
	defer logging.TraceDuration(b.log, "BillingUC.CreateCheckout")()
	defer observe("checkout", &err)

	if err := b.allowCheckout(ctx, userID); err != nil {
		return nil, err
	}
	plan, err := b.plan(ctx, planKey)
	if err != nil {
		return nil, err
	}
	user, err := b.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if plan.StudentOnly && !user.IsStudent {
		return nil, fmt.Errorf("%w: plan %s is for students only", domain.ErrForbidden, plan.Key)
	}
	if plan.HasTrial() && user.HadTrial {
		return nil, domain.ErrTrialAlreadyUsed
	}

	customerID, err := b.provider.EnsureCustomer(ctx, user.StripeCustomerID, user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: ensure customer: %v", domain.ErrProviderLookupFailed, err)
	}
	if customerID != user.StripeCustomerID {
		if err := b.users.UpdateBilling(ctx, user.ID, model.UserBillingPatch{StripeCustomerID: &customerID}); err != nil {
			return nil, fmt.Errorf("%w: store customer: %v", domain.ErrPersistenceFailed, err)
		}
	}

	cs, err = b.provider.CreateCheckoutSession(ctx, adapter.CheckoutRequest{
		UserID:     user.ID,
		CustomerID: customerID,
		Plan:       plan,
		SuccessURL: b.opts.SuccessURL,
		CancelURL:  b.opts.CancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout: %v", domain.ErrProviderLookupFailed, err)
	}
	logging.With(ctx, b.log).Info().Str("plan", plan.Key).Str("session_id", cs.ID).Msg("checkout session created")
	return cs, nil
}

func (b *billingUC) CreatePortal(ctx context.Context, userID string) (url string, err error) {
	defer observe("portal", &err)

	user, err := b.user(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.StripeCustomerID == "" {
		return "", domain.ErrNoBillingCustomer
	}
	url, err = b.provider.CreatePortalSession(ctx, user.StripeCustomerID, b.opts.PortalReturnURL)
	if err != nil {
		return "", fmt.Errorf("%w: create portal: %v", domain.ErrProviderLookupFailed, err)
	}
	return url, nil
}

// ChangePlan moves the latest live subscription onto another plan. Moving to a
// pricier plan invoices the difference right away; anything else takes effect
// without proration.
func (b *billingUC) ChangePlan(ctx context.Context, userID, planKey string) (err error) {
	defer logging.TraceDuration(b.log, "BillingUC.ChangePlan")()
	defer observe("upgrade", &err)

	plan, err := b.plan(ctx, planKey)
	if err != nil {
		return err
	}
	sub, err := b.latestLive(ctx, userID)
	if err != nil {
		return err
	}
	snap, err := b.provider.FetchSubscription(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderLookupFailed, err)
	}
	if snap.PriceID == plan.PriceID {
		return fmt.Errorf("%w: already on plan %s", domain.ErrInvalidArgument, plan.Key)
	}

	current, err := b.provider.PriceAmount(ctx, snap.PriceID)
	if err != nil {
		return fmt.Errorf("%w: current price: %v", domain.ErrProviderLookupFailed, err)
	}
	next, err := b.provider.PriceAmount(ctx, plan.PriceID)
	if err != nil {
		return fmt.Errorf("%w: new price: %v", domain.ErrProviderLookupFailed, err)
	}
	proration := adapter.ProrationNone
	if next > current {
		proration = adapter.ProrationAlwaysInvoice
	}

	if err := b.provider.ChangePrice(ctx, sub.ID, snap.ItemID, plan.PriceID, proration); err != nil {
		return fmt.Errorf("%w: change price: %v", domain.ErrProviderLookupFailed, err)
	}
	logging.With(ctx, b.log).Info().
		Str("subscription_id", sub.ID).
		Str("plan", plan.Key).
		Str("proration", string(proration)).
		Msg("plan change requested")
	return nil
}

func (b *billingUC) Cancel(ctx context.Context, userID string) (at time.Time, err error) {
	defer observe("cancel", &err)

	sub, err := b.latestLive(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	at, err = b.provider.CancelAtPeriodEnd(ctx, sub.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: cancel: %v", domain.ErrProviderLookupFailed, err)
	}
	logging.With(ctx, b.log).Info().Str("subscription_id", sub.ID).Time("cancel_at", at).Msg("cancellation scheduled")
	return at, nil
}

func (b *billingUC) Invoices(ctx context.Context, userID, startingAfter string) (page *adapter.InvoicePage, err error) {
	defer observe("invoices", &err)

	user, err := b.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.StripeCustomerID == "" {
		return &adapter.InvoicePage{Invoices: []adapter.Invoice{}}, nil
	}
	page, err = b.provider.ListInvoices(ctx, user.StripeCustomerID, startingAfter, b.opts.InvoicePageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: list invoices: %v", domain.ErrProviderLookupFailed, err)
	}
	return page, nil
}

// ---- helpers ----

func (b *billingUC) allowCheckout(ctx context.Context, userID string) error {
	if b.limiter == nil || b.opts.CheckoutLimit <= 0 {
		return nil
	}
	ok, err := b.limiter.Allow(ctx, "ratelimit:checkout:"+userID, b.opts.CheckoutLimit, b.opts.CheckoutWindow)
	if err != nil {
		// Fail open: a limiter outage must not block purchases.
		b.log.Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

func (b *billingUC) plan(ctx context.Context, key string) (*model.Plan, error) {
	plan, err := b.plans.FindByKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown plan %q", domain.ErrInvalidArgument, key)
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (b *billingUC) user(ctx context.Context, id string) (*model.User, error) {
	u, err := b.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// latestLive picks the newest active or trialing subscription. past_due and
// incomplete ones can be neither upgraded nor canceled from here.
func (b *billingUC) latestLive(ctx context.Context, userID string) (*model.Subscription, error) {
	subs, err := b.subs.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	for _, s := range subs {
		if s.Status == model.SubscriptionStatusActive || s.Status == model.SubscriptionStatusTrialing {
			return s, nil
		}
	}
	return nil, domain.ErrNoActiveSubscription
}

func observe(op string, err *error) {
	result := "ok"
	if *err != nil {
		result = "error"
		switch {
		case errors.Is(*err, domain.ErrRateLimited):
			result = "rate_limited"
		case errors.Is(*err, domain.ErrProviderLookupFailed):
			result = "provider_error"
		}
	}
	metrics.IncBillingAPI(op, result)
}
