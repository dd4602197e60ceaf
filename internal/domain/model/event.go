package model

import "time"

type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventInvoicePaid         EventType = "invoice_paid"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
)

// BillingEvent is a verified provider lifecycle event. The set of variants is
// closed: CheckoutCompleted, InvoicePaid, SubscriptionUpdated, SubscriptionDeleted.
type BillingEvent interface {
	Type() EventType
	Meta() EventMeta
	// SubscriptionRef is the provider subscription id the event targets, if any.
	SubscriptionRef() string
	sealed()
}

// EventMeta identifies a delivery. Created is the provider's creation time.
type EventMeta struct {
	ID      string
	Created time.Time
}

func (m EventMeta) Meta() EventMeta { return m }

// CheckoutCompleted arrives when a checkout session finishes. Subscription is
// nil when the payload only references the subscription by id.
type CheckoutCompleted struct {
	EventMeta
	SessionID      string
	SubscriptionID string
	UserRef        string
	CustomerRef    string
	Subscription   *SubscriptionSnapshot
}

// InvoicePaid arrives for every paid invoice; SubscriptionID is empty for one-off invoices.
type InvoicePaid struct {
	EventMeta
	InvoiceID      string
	SubscriptionID string
	UserRef        string
	CustomerRef    string
}

// SubscriptionUpdated carries the full subscription state at event time.
type SubscriptionUpdated struct {
	EventMeta
	Subscription SubscriptionSnapshot
}

// SubscriptionDeleted carries the subscription state at deletion.
type SubscriptionDeleted struct {
	EventMeta
	Subscription SubscriptionSnapshot
}

func (CheckoutCompleted) Type() EventType   { return EventCheckoutCompleted }
func (InvoicePaid) Type() EventType         { return EventInvoicePaid }
func (SubscriptionUpdated) Type() EventType { return EventSubscriptionUpdated }
func (SubscriptionDeleted) Type() EventType { return EventSubscriptionDeleted }

func (e CheckoutCompleted) SubscriptionRef() string {
	if e.Subscription != nil && e.Subscription.ID != "" {
		return e.Subscription.ID
	}
	return e.SubscriptionID
}
func (e InvoicePaid) SubscriptionRef() string         { return e.SubscriptionID }
func (e SubscriptionUpdated) SubscriptionRef() string { return e.Subscription.ID }
func (e SubscriptionDeleted) SubscriptionRef() string { return e.Subscription.ID }

func (CheckoutCompleted) sealed()   {}
func (InvoicePaid) sealed()         {}
func (SubscriptionUpdated) sealed() {}
func (SubscriptionDeleted) sealed() {}
