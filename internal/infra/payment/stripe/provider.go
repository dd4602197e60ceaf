package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/adapter"
	"bookbrief-billing/internal/infra/logging"

	"github.com/rs/zerolog"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Compile-time check
var _ adapter.BillingProvider = (*Provider)(nil)

// Provider talks to the Stripe API through its own client; no package-level key.
type Provider struct {
	sc    *client.API
	tiers TierResolver
	log   *zerolog.Logger
}

// NewProvider builds a client for key. backends may be nil; tests pass a
// backend pointed at an httptest server.
func NewProvider(key string, backends *stripelib.Backends, tiers TierResolver, logger *zerolog.Logger) *Provider {
	sc := &client.API{}
	sc.Init(key, backends)
	l := logger.With().Str("component", "StripeProvider").Logger()
	return &Provider{sc: sc, tiers: tiers, log: &l}
}

// NewBackends points every Stripe backend at url (stripe-mock, test servers).
// An empty url returns nil so the client keeps api.stripe.com and its default
// retries.
func NewBackends(url string) *stripelib.Backends {
	if url == "" {
		return nil
	}
	cfg := &stripelib.BackendConfig{
		URL:               stripelib.String(url),
		MaxNetworkRetries: stripelib.Int64(0),
	}
	b := stripelib.GetBackendWithConfig(stripelib.APIBackend, cfg)
	return &stripelib.Backends{API: b, Connect: b, Uploads: b}
}

func (p *Provider) FetchSubscription(ctx context.Context, subscriptionID string) (*model.SubscriptionSnapshot, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.sc.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: get subscription %s: %v", domain.ErrProviderLookupFailed, subscriptionID, describe(err))
	}
	if sub.LastResponse == nil || len(sub.LastResponse.RawJSON) == 0 {
		return nil, fmt.Errorf("%w: get subscription %s: empty body", domain.ErrProviderLookupFailed, subscriptionID)
	}
	snap, err := decodeSubscription(sub.LastResponse.RawJSON, p.tiers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderLookupFailed, err)
	}
	return &snap, nil
}

func (p *Provider) EnsureCustomer(ctx context.Context, customerID, userID, email string) (string, error) {
	if customerID != "" {
		return customerID, nil
	}
	params := &stripelib.CustomerParams{Email: stripelib.String(email)}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	cus, err := p.sc.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", describe(err))
	}
	p.log.Info().Str("customer_id", logging.PII(cus.ID)).Msg("stripe customer created")
	return cus.ID, nil
}

func (p *Provider) CreateCheckoutSession(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	if req.Plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	params := &stripelib.CheckoutSessionParams{
		Mode:              stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL:        stripelib.String(req.SuccessURL),
		CancelURL:         stripelib.String(req.CancelURL),
		ClientReferenceID: stripelib.String(req.UserID),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{Price: stripelib.String(req.Plan.PriceID), Quantity: stripelib.Int64(1)},
		},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": req.UserID},
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", req.UserID)
	if req.CustomerID != "" {
		params.Customer = stripelib.String(req.CustomerID)
	}
	if req.Plan.HasTrial() {
		params.SubscriptionData.TrialPeriodDays = stripelib.Int64(int64(req.Plan.TrialDays))
		if req.Plan.TrialFeePriceID != "" {
			params.LineItems = append(params.LineItems, &stripelib.CheckoutSessionLineItemParams{
				Price:    stripelib.String(req.Plan.TrialFeePriceID),
				Quantity: stripelib.Int64(1),
			})
		}
	}

	cs, err := p.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", describe(err))
	}
	return &adapter.CheckoutSession{ID: cs.ID, URL: cs.URL}, nil
}

func (p *Provider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(customerID),
		ReturnURL: stripelib.String(returnURL),
	}
	params.Context = ctx
	s, err := p.sc.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", describe(err))
	}
	return s.URL, nil
}

func (p *Provider) PriceAmount(ctx context.Context, priceID string) (int64, error) {
	params := &stripelib.PriceParams{}
	params.Context = ctx
	pr, err := p.sc.Prices.Get(priceID, params)
	if err != nil {
		return 0, fmt.Errorf("get price %s: %w", priceID, describe(err))
	}
	return pr.UnitAmount, nil
}

func (p *Provider) ChangePrice(ctx context.Context, subscriptionID, itemID, priceID string, proration adapter.Proration) error {
	params := &stripelib.SubscriptionParams{
		Items: []*stripelib.SubscriptionItemsParams{
			{ID: stripelib.String(itemID), Price: stripelib.String(priceID)},
		},
		ProrationBehavior: stripelib.String(string(proration)),
		CancelAtPeriodEnd: stripelib.Bool(false),
	}
	params.Context = ctx
	if _, err := p.sc.Subscriptions.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("update subscription %s: %w", subscriptionID, describe(err))
	}
	return nil
}

func (p *Provider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error) {
	params := &stripelib.SubscriptionParams{CancelAtPeriodEnd: stripelib.Bool(true)}
	params.Context = ctx
	sub, err := p.sc.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return time.Time{}, fmt.Errorf("cancel subscription %s: %w", subscriptionID, describe(err))
	}
	if sub.CancelAt > 0 {
		return unix(sub.CancelAt), nil
	}
	// Fall back to the period end reported on the items.
	if sub.LastResponse != nil {
		if snap, err := decodeSubscription(sub.LastResponse.RawJSON, p.tiers); err == nil {
			return snap.PeriodEnd, nil
		}
	}
	return time.Time{}, nil
}

func (p *Provider) ListInvoices(ctx context.Context, customerID, startingAfter string, limit int) (*adapter.InvoicePage, error) {
	params := &stripelib.InvoiceListParams{Customer: stripelib.String(customerID)}
	params.Context = ctx
	params.Limit = stripelib.Int64(int64(limit))
	params.Single = true
	if startingAfter != "" {
		params.StartingAfter = stripelib.String(startingAfter)
	}

	page := &adapter.InvoicePage{Invoices: []adapter.Invoice{}}
	it := p.sc.Invoices.List(params)
	for it.Next() {
		inv := it.Invoice()
		page.Invoices = append(page.Invoices, adapter.Invoice{
			ID:         inv.ID,
			Number:     inv.Number,
			Status:     string(inv.Status),
			AmountPaid: inv.AmountPaid,
			Currency:   string(inv.Currency),
			Created:    unix(inv.Created),
			HostedURL:  inv.HostedInvoiceURL,
			PDFURL:     inv.InvoicePDF,
		})
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list invoices: %w", describe(err))
	}
	if meta := it.Meta(); meta != nil {
		page.HasMore = meta.HasMore
	}
	return page, nil
}

// describe keeps the Stripe error code and request id.
func describe(err error) error {
	var se *stripelib.Error
	if errors.As(err, &se) {
		return fmt.Errorf("stripe %d %s (request %s): %s", se.HTTPStatusCode, se.Code, se.RequestID, se.Msg)
	}
	return err
}
