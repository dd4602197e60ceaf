package model

import "time"

// SubscriptionChange is the write a transition asks for: a full record to
// upsert, or a patch of the stored one. Exactly one is set.
type SubscriptionChange struct {
	Upsert *Subscription
	Patch  *SubscriptionPatch
}

// Transition is the outcome of applying one event to the loaded state.
type Transition struct {
	SubscriptionID string
	UserID         string
	Subscription   SubscriptionChange
	User           *UserBillingPatch // nil leaves the user record untouched
	Stale          bool              // event older than the stored state, nothing to write
}

// RecordFromSnapshot builds the full local record for a provider snapshot.
func RecordFromSnapshot(snap SubscriptionSnapshot, userID string) Subscription {
	start, end := snap.ActivePeriod()
	return Subscription{
		ID:                snap.ID,
		UserID:            userID,
		CustomerID:        snap.CustomerRef,
		TierID:            snap.TierID,
		Status:            snap.Status,
		CancelAtPeriodEnd: snap.CancelAtPeriodEnd,
		StartDate:         start,
		ExpiresAt:         end,
		Interval:          snap.Interval,
		CanceledAt:        copyTime(snap.CanceledAt),
	}
}

// IsStale reports whether an event created at `at` predates the newest event
// already applied to prev. Unknown times never count as stale.
func IsStale(prev *Subscription, at time.Time) bool {
	return prev != nil && prev.LastEventAt != nil && !at.IsZero() && at.Before(*prev.LastEventAt)
}

func newestEvent(prev *Subscription, at time.Time) *time.Time {
	var last *time.Time
	if prev != nil {
		last = copyTime(prev.LastEventAt)
	}
	if at.IsZero() {
		return last
	}
	if last == nil || at.After(*last) {
		t := at.UTC()
		return &t
	}
	return last
}

// CheckoutTransition upserts the canonical subscription, moves the user onto
// its tier and records the provider customer. A trial marks the user for good.
func CheckoutTransition(snap SubscriptionSnapshot, userID, customerRef string, prev *Subscription, at time.Time) Transition {
	if customerRef == "" {
		customerRef = snap.CustomerRef
	}
	rec := RecordFromSnapshot(snap, userID)
	rec.CustomerID = customerRef
	rec.LastEventAt = newestEvent(prev, at)

	tier := snap.TierID
	up := &UserBillingPatch{CurrentTier: &tier, MarkHadTrial: snap.InTrial()}
	if customerRef != "" {
		up.StripeCustomerID = &customerRef
	}
	return Transition{
		SubscriptionID: snap.ID,
		UserID:         userID,
		Subscription:   SubscriptionChange{Upsert: &rec},
		User:           up,
	}
}

// InvoicePaidTransition refreshes status and period end from canonical state.
// The user record is not touched. An invoice carries only part of the state, so
// it never moves LastEventAt: a full update created before it must still apply.
func InvoicePaidTransition(snap SubscriptionSnapshot, userID string, prev *Subscription) Transition {
	if prev == nil {
		rec := RecordFromSnapshot(snap, userID)
		return Transition{SubscriptionID: snap.ID, UserID: userID, Subscription: SubscriptionChange{Upsert: &rec}}
	}
	status := snap.Status
	_, end := snap.ActivePeriod()
	return Transition{
		SubscriptionID: snap.ID,
		UserID:         userID,
		Subscription: SubscriptionChange{Patch: &SubscriptionPatch{
			Status:    &status,
			ExpiresAt: &end,
		}},
	}
}

// SubscriptionUpdatedTransition overwrites the mutable fields with the payload.
// The user follows the new tier only while the subscription is not set to
// cancel at period end. With rejectStale an event older than the stored state
// is dropped.
func SubscriptionUpdatedTransition(snap SubscriptionSnapshot, userID string, prev *Subscription, at time.Time, rejectStale bool) Transition {
	if rejectStale && IsStale(prev, at) {
		return Transition{SubscriptionID: snap.ID, UserID: userID, Stale: true}
	}

	t := Transition{SubscriptionID: snap.ID, UserID: userID}
	if prev == nil {
		rec := RecordFromSnapshot(snap, userID)
		rec.LastEventAt = newestEvent(nil, at)
		t.Subscription = SubscriptionChange{Upsert: &rec}
	} else {
		tier, status, cancel, interval := snap.TierID, snap.Status, snap.CancelAtPeriodEnd, snap.Interval
		start, end := snap.ActivePeriod()
		t.Subscription = SubscriptionChange{Patch: &SubscriptionPatch{
			TierID:            &tier,
			Status:            &status,
			CancelAtPeriodEnd: &cancel,
			StartDate:         &start,
			ExpiresAt:         &end,
			Interval:          &interval,
			CanceledAt:        copyTime(snap.CanceledAt),
			CanceledAtSet:     true,
			LastEventAt:       newestEvent(prev, at),
		}}
	}

	if !snap.CancelAtPeriodEnd {
		tier := snap.TierID
		t.User = &UserBillingPatch{CurrentTier: &tier}
	}
	return t
}

// SubscriptionDeletedTransition cancels the record and drops the user to the
// basic tier whatever the prior state.
func SubscriptionDeletedTransition(snap SubscriptionSnapshot, userID string, prev *Subscription, at time.Time) Transition {
	canceledAt := copyTime(snap.CanceledAt)
	if canceledAt == nil && !at.IsZero() {
		t := at.UTC()
		canceledAt = &t
	}
	basic := TierBasic
	out := Transition{
		SubscriptionID: snap.ID,
		UserID:         userID,
		User:           &UserBillingPatch{CurrentTier: &basic},
	}

	if prev == nil {
		rec := RecordFromSnapshot(snap, userID)
		rec.Status = SubscriptionStatusCanceled
		rec.CancelAtPeriodEnd = true
		rec.CanceledAt = canceledAt
		rec.LastEventAt = newestEvent(nil, at)
		out.Subscription = SubscriptionChange{Upsert: &rec}
		return out
	}

	status, cancel := SubscriptionStatusCanceled, true
	patch := &SubscriptionPatch{
		Status:            &status,
		CancelAtPeriodEnd: &cancel,
		LastEventAt:       newestEvent(prev, at),
	}
	if canceledAt != nil {
		patch.CanceledAt = canceledAt
		patch.CanceledAtSet = true
	}
	out.Subscription = SubscriptionChange{Patch: patch}
	return out
}
