package model

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

// LiveStatuses are the statuses a subscription can still bill or grant access in.
var LiveStatuses = []SubscriptionStatus{
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusIncomplete,
}

// ParseSubscriptionStatus maps a provider status onto the local enum.
// Provider states without a local counterpart collapse to the closest one.
func ParseSubscriptionStatus(s string) SubscriptionStatus {
	switch s {
	case "trialing":
		return SubscriptionStatusTrialing
	case "active":
		return SubscriptionStatusActive
	case "past_due", "unpaid":
		return SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return SubscriptionStatusCanceled
	default:
		return SubscriptionStatusIncomplete
	}
}

func (s SubscriptionStatus) IsLive() bool {
	for _, l := range LiveStatuses {
		if s == l {
			return true
		}
	}
	return false
}

type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// Subscription mirrors one provider subscription locally. ID is the provider id.
type Subscription struct {
	ID                string
	UserID            string
	CustomerID        string
	TierID            string
	Status            SubscriptionStatus
	CancelAtPeriodEnd bool
	StartDate         time.Time // start of the active window
	ExpiresAt         time.Time // end of the active window
	Interval          Interval
	CanceledAt        *time.Time
	LastEventAt       *time.Time // creation time of the newest provider event applied
}

// SubscriptionPatch carries the fields one event overwrites. Nil fields are left as stored.
type SubscriptionPatch struct {
	TierID            *string
	Status            *SubscriptionStatus
	CancelAtPeriodEnd *bool
	StartDate         *time.Time
	ExpiresAt         *time.Time
	Interval          *Interval
	CanceledAt        *time.Time
	CanceledAtSet     bool // write CanceledAt even when nil
	LastEventAt       *time.Time
}

// Apply returns a copy of s with the patch fields overwritten.
func (p SubscriptionPatch) Apply(s Subscription) Subscription {
	if p.TierID != nil {
		s.TierID = *p.TierID
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.CancelAtPeriodEnd != nil {
		s.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
	}
	if p.StartDate != nil {
		s.StartDate = *p.StartDate
	}
	if p.ExpiresAt != nil {
		s.ExpiresAt = *p.ExpiresAt
	}
	if p.Interval != nil {
		s.Interval = *p.Interval
	}
	if p.CanceledAtSet {
		s.CanceledAt = copyTime(p.CanceledAt)
	}
	if p.LastEventAt != nil {
		s.LastEventAt = copyTime(p.LastEventAt)
	}
	return s
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SubscriptionSnapshot is the provider's view of a subscription, decoded from a
// webhook payload or fetched on demand.
type SubscriptionSnapshot struct {
	ID                string
	UserRef           string
	CustomerRef       string
	TierID            string
	PriceID           string
	ItemID            string
	Status            SubscriptionStatus
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	PeriodStart       time.Time
	PeriodEnd         time.Time
	TrialStart        *time.Time
	TrialEnd          *time.Time
	Interval          Interval
}

// ActivePeriod is the window a subscription is paid (or trialed) for.
// A trialing subscription with a known trial window uses that window.
func (s SubscriptionSnapshot) ActivePeriod() (start, end time.Time) {
	if s.Status == SubscriptionStatusTrialing && s.TrialStart != nil && s.TrialEnd != nil {
		return *s.TrialStart, *s.TrialEnd
	}
	return s.PeriodStart, s.PeriodEnd
}

func (s SubscriptionSnapshot) InTrial() bool {
	return s.Status == SubscriptionStatusTrialing && s.TrialStart != nil && s.TrialEnd != nil
}
