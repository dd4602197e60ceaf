package repository

import (
	"context"
	"time"

	"bookbrief-billing/internal/domain/model"
)

// SubscriptionRepository is the port for mirrored provider subscriptions.
// Every method is atomic for a single row; nothing spans rows.
type SubscriptionRepository interface {
	// Upsert creates the record or overwrites every field of the existing one.
	Upsert(ctx context.Context, sub *model.Subscription) error
	// Update overwrites the patch fields of an existing record, ErrNotFound otherwise.
	Update(ctx context.Context, id string, patch model.SubscriptionPatch) error
	FindByID(ctx context.Context, id string) (*model.Subscription, error)
	// ListByUser returns the user's subscriptions, newest period first.
	ListByUser(ctx context.Context, userID string) ([]*model.Subscription, error)
	// ListStale returns live subscriptions whose period ended before cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*model.Subscription, error)

	// --- Statistics read-only methods ---
	CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}
