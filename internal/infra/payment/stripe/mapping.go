package stripe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"bookbrief-billing/internal/domain/model"
)

// TierResolver maps a price without lookup key to a tier id.
type TierResolver func(priceID string) (tier string, ok bool)

// TiersFromPlans resolves prices through the plan catalog.
func TiersFromPlans(plans []*model.Plan) TierResolver {
	byPrice := make(map[string]string, len(plans))
	for _, p := range plans {
		byPrice[p.PriceID] = p.Key
	}
	return func(priceID string) (string, bool) {
		tier, ok := byPrice[priceID]
		return tier, ok
	}
}

func (o *subscriptionObject) snapshot(tiers TierResolver) model.SubscriptionSnapshot {
	snap := model.SubscriptionSnapshot{
		ID:                o.ID,
		UserRef:           userRef(o.Metadata),
		CustomerRef:       o.Customer.String(),
		Status:            model.ParseSubscriptionStatus(o.Status),
		CancelAtPeriodEnd: o.CancelAtPeriodEnd,
		CanceledAt:        unixPtr(o.CanceledAt),
		PeriodStart:       unix(o.CurrentPeriodStart),
		PeriodEnd:         unix(o.CurrentPeriodEnd),
		TrialStart:        unixPtr(o.TrialStart),
		TrialEnd:          unixPtr(o.TrialEnd),
		Interval:          model.IntervalMonth,
	}
	item := o.firstItem()
	if item == nil {
		return snap
	}
	snap.ItemID = item.ID
	snap.PriceID = item.Price.ID
	snap.TierID = tierOf(item, tiers)
	if item.Price.Recurring != nil && item.Price.Recurring.Interval == string(model.IntervalYear) {
		snap.Interval = model.IntervalYear
	}
	if snap.PeriodStart.IsZero() {
		snap.PeriodStart = unix(item.CurrentPeriodStart)
	}
	if snap.PeriodEnd.IsZero() {
		snap.PeriodEnd = unix(item.CurrentPeriodEnd)
	}
	return snap
}

func tierOf(item *subscriptionItem, tiers TierResolver) string {
	if item.Price.LookupKey != "" {
		return item.Price.LookupKey
	}
	if tiers != nil {
		if tier, ok := tiers(item.Price.ID); ok {
			return tier
		}
	}
	return item.Price.ID
}

func decodeSubscription(raw []byte, tiers TierResolver) (model.SubscriptionSnapshot, error) {
	var obj subscriptionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return model.SubscriptionSnapshot{}, fmt.Errorf("decode subscription: %w", err)
	}
	if obj.ID == "" {
		return model.SubscriptionSnapshot{}, fmt.Errorf("decode subscription: missing id")
	}
	return obj.snapshot(tiers), nil
}

// decodeCheckout returns the session and, when the subscription was expanded,
// its snapshot.
func decodeCheckout(raw []byte, tiers TierResolver) (*checkoutSessionObject, string, *model.SubscriptionSnapshot, error) {
	var cs checkoutSessionObject
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, "", nil, fmt.Errorf("decode checkout.session: %w", err)
	}
	sub := bytes.TrimSpace(cs.Subscription)
	if len(sub) == 0 || bytes.Equal(sub, []byte("null")) {
		return &cs, "", nil, nil
	}
	if sub[0] == '"' {
		var id string
		if err := json.Unmarshal(sub, &id); err != nil {
			return nil, "", nil, fmt.Errorf("decode checkout.session subscription: %w", err)
		}
		return &cs, id, nil, nil
	}
	snap, err := decodeSubscription(sub, tiers)
	if err != nil {
		return nil, "", nil, err
	}
	return &cs, snap.ID, &snap, nil
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := unix(sec)
	return &t
}
