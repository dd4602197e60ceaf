package stripe

import (
	"encoding/json"
	"fmt"
	"strings"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/adapter"

	"github.com/stripe/stripe-go/v82/webhook"
)

// Compile-time check
var _ adapter.EventVerifier = (*Verifier)(nil)

// Verifier authenticates Stripe webhook deliveries and decodes the four
// lifecycle events the reconciler understands.
type Verifier struct {
	secret string
	tiers  TierResolver
}

func NewVerifier(secret string, tiers TierResolver) *Verifier {
	return &Verifier{secret: secret, tiers: tiers}
}

func (v *Verifier) Verify(payload []byte, sigHeader string) (model.BillingEvent, error) {
	if strings.TrimSpace(v.secret) == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", domain.ErrAuthenticity)
	}
	if strings.TrimSpace(sigHeader) == "" {
		return nil, fmt.Errorf("%w: missing Stripe signature", domain.ErrAuthenticity)
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthenticity, err)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", domain.ErrAuthenticity, event.ID)
	}

	meta := model.EventMeta{ID: event.ID, Created: unix(event.Created)}
	raw := event.Data.Raw

	switch string(event.Type) {
	case "checkout.session.completed":
		cs, subID, snap, err := decodeCheckout(raw, v.tiers)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAuthenticity, err)
		}
		if cs.Mode != "" && cs.Mode != "subscription" {
			return nil, fmt.Errorf("%w: checkout mode %s", domain.ErrUnsupportedEvent, cs.Mode)
		}
		ref := userRef(cs.Metadata)
		if ref == "" {
			ref = strings.TrimSpace(cs.ClientReferenceID)
		}
		return model.CheckoutCompleted{
			EventMeta:      meta,
			SessionID:      cs.ID,
			SubscriptionID: subID,
			UserRef:        ref,
			CustomerRef:    cs.Customer.String(),
			Subscription:   snap,
		}, nil

	case "invoice.paid":
		var inv invoiceObject
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: decode invoice: %v", domain.ErrAuthenticity, err)
		}
		return model.InvoicePaid{
			EventMeta:      meta,
			InvoiceID:      inv.ID,
			SubscriptionID: inv.subscriptionID(),
			UserRef:        userRef(inv.Parent.SubscriptionDetails.Metadata, inv.Metadata),
			CustomerRef:    inv.Customer.String(),
		}, nil

	case "customer.subscription.updated":
		snap, err := decodeSubscription(raw, v.tiers)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAuthenticity, err)
		}
		return model.SubscriptionUpdated{EventMeta: meta, Subscription: snap}, nil

	case "customer.subscription.deleted":
		snap, err := decodeSubscription(raw, v.tiers)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAuthenticity, err)
		}
		return model.SubscriptionDeleted{EventMeta: meta, Subscription: snap}, nil

	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedEvent, event.Type)
	}
}
