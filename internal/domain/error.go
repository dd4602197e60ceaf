package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("operation not allowed")

	// Reconciliation outcomes
	ErrMissingUserReference = errors.New("event carries no resolvable user reference")
	ErrProviderLookupFailed = errors.New("billing provider lookup failed")
	ErrPersistenceFailed    = errors.New("record store rejected the write")
	ErrAuthenticity         = errors.New("event failed authenticity check")
	ErrUnsupportedEvent     = errors.New("unsupported billing event")
	ErrBusy                 = errors.New("subscription is being reconciled elsewhere")

	// Billing API
	ErrTrialAlreadyUsed     = errors.New("trial already used")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrNoBillingCustomer    = errors.New("user has no billing customer")
	ErrRateLimited          = errors.New("rate limit exceeded")
)

// IsRetryable reports whether a failed reconciliation should be redelivered.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderLookupFailed) ||
		errors.Is(err, ErrPersistenceFailed) ||
		errors.Is(err, ErrBusy)
}
