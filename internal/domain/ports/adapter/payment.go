package adapter

import (
	"context"
	"time"

	"bookbrief-billing/internal/domain/model"
)

// EventVerifier authenticates a raw provider webhook and decodes it.
// It returns domain.ErrAuthenticity for forged or corrupt payloads and
// domain.ErrUnsupportedEvent for event types the reconciler does not handle.
type EventVerifier interface {
	Verify(payload []byte, sigHeader string) (model.BillingEvent, error)
}

// Proration decides how a plan change is billed.
type Proration string

const (
	ProrationAlwaysInvoice Proration = "always_invoice"
	ProrationNone          Proration = "none"
)

// CheckoutRequest describes a subscription checkout for one plan.
type CheckoutRequest struct {
	UserID     string
	CustomerID string
	Plan       *model.Plan
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Invoice is the minimal provider invoice shown to users.
type Invoice struct {
	ID         string    `json:"id"`
	Number     string    `json:"number"`
	Status     string    `json:"status"`
	AmountPaid int64     `json:"amount_paid"`
	Currency   string    `json:"currency"`
	Created    time.Time `json:"created"`
	HostedURL  string    `json:"hosted_invoice_url"`
	PDFURL     string    `json:"invoice_pdf"`
}

type InvoicePage struct {
	Invoices []Invoice `json:"invoices"`
	HasMore  bool      `json:"has_more"`
}

// BillingProvider is the hex port for the payment provider.
type BillingProvider interface {
	// FetchSubscription returns the provider's canonical view of a subscription.
	FetchSubscription(ctx context.Context, subscriptionID string) (*model.SubscriptionSnapshot, error)

	// EnsureCustomer returns customerID when set, otherwise creates a customer linked to the user.
	EnsureCustomer(ctx context.Context, customerID, userID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (url string, err error)

	// PriceAmount returns the unit amount of a price in minor units.
	PriceAmount(ctx context.Context, priceID string) (int64, error)
	ChangePrice(ctx context.Context, subscriptionID, itemID, priceID string, proration Proration) error
	// CancelAtPeriodEnd schedules cancellation and returns when access ends.
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error)
	ListInvoices(ctx context.Context, customerID, startingAfter string, limit int) (*InvoicePage, error)
}
