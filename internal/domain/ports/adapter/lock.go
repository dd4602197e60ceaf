package adapter

import (
	"context"
	"time"
)

// Locker hands out short-lived exclusive leases on a key.
type Locker interface {
	// TryLock returns a token for Unlock, or domain.ErrBusy when the key stays held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// DedupeState is the outcome of claiming an event id.
type DedupeState int

const (
	DedupeClaimed  DedupeState = iota // first delivery, caller processes it
	DedupeInFlight                    // another delivery is processing it right now
	DedupeDone                        // already processed
)

// EventDeduper makes event processing idempotent across redeliveries.
type EventDeduper interface {
	Claim(ctx context.Context, eventID string) (DedupeState, error)
	// Complete marks the claimed event processed.
	Complete(ctx context.Context, eventID string) error
	// Release drops the claim so a redelivery is processed again.
	Release(ctx context.Context, eventID string) error
}
