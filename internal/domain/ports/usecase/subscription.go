package usecase

import (
	"context"
)

// SubscriptionResyncer defines the reconciliation entry point needed by external
// components like background workers and the operator CLI.
type SubscriptionResyncer interface {
	// Resync re-applies the provider's canonical state of one subscription.
	Resync(ctx context.Context, subscriptionID string) error
}
