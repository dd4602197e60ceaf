package model

import (
	"strings"
	"time"

	"bookbrief-billing/internal/domain"

	"github.com/google/uuid"
)

// TierBasic is the tier of a user without a paid subscription.
const TierBasic = "basic"

// User is the billing projection of a platform account.
type User struct {
	ID               string
	Email            string
	IsStudent        bool
	CurrentTier      string
	StripeCustomerID string
	HadTrial         bool
	CreatedAt        time.Time
}

// NewUser creates a user on the basic tier. Students are recognised by an
// academic mail domain.
func NewUser(id, email string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidArgument
	}
	return &User{
		ID:          id,
		Email:       email,
		IsStudent:   isAcademicEmail(email),
		CurrentTier: TierBasic,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func isAcademicEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at >= 0 && strings.Contains(email[at:], ".edu")
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

// UserBillingPatch carries the billing fields one event overwrites.
// HadTrial can only be raised, never cleared.
type UserBillingPatch struct {
	CurrentTier      *string
	StripeCustomerID *string
	MarkHadTrial     bool
}

func (p UserBillingPatch) IsEmpty() bool {
	return p.CurrentTier == nil && p.StripeCustomerID == nil && !p.MarkHadTrial
}

// Apply returns a copy of u with the patch applied.
func (p UserBillingPatch) Apply(u User) User {
	if p.CurrentTier != nil {
		u.CurrentTier = *p.CurrentTier
	}
	if p.StripeCustomerID != nil {
		u.StripeCustomerID = *p.StripeCustomerID
	}
	if p.MarkHadTrial {
		u.HadTrial = true
	}
	return u
}
