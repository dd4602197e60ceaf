package redis

import (
	"context"
	"errors"
	"time"

	"bookbrief-billing/internal/domain/ports/adapter"
)

var _ adapter.EventDeduper = (*EventDeduper)(nil)

const (
	dedupeProcessing = "processing"
	dedupeDone       = "done"
)

// EventDeduper remembers provider event ids. A claim expires after claimTTL so
// a crashed worker does not block redelivery forever; completed ids are kept
// for doneTTL, longer than the provider's retry horizon.
type EventDeduper struct {
	cli      RedisClient
	claimTTL time.Duration
	doneTTL  time.Duration
}

func NewEventDeduper(cli RedisClient, claimTTL, doneTTL time.Duration) *EventDeduper {
	return &EventDeduper{cli: cli, claimTTL: claimTTL, doneTTL: doneTTL}
}

func dedupeKey(eventID string) string { return "webhook:event:" + eventID }

func (d *EventDeduper) Claim(ctx context.Context, eventID string) (adapter.DedupeState, error) {
	key := dedupeKey(eventID)
	ok, err := d.cli.SetNX(ctx, key, dedupeProcessing, d.claimTTL)
	if err != nil {
		return adapter.DedupeClaimed, err
	}
	if ok {
		return adapter.DedupeClaimed, nil
	}
	v, err := d.cli.Get(ctx, key)
	if errors.Is(err, Nil) {
		// Expired between the two calls; let the caller retry the claim.
		return adapter.DedupeInFlight, nil
	}
	if err != nil {
		return adapter.DedupeClaimed, err
	}
	if v == dedupeDone {
		return adapter.DedupeDone, nil
	}
	return adapter.DedupeInFlight, nil
}

func (d *EventDeduper) Complete(ctx context.Context, eventID string) error {
	return d.cli.Set(ctx, dedupeKey(eventID), dedupeDone, d.doneTTL)
}

func (d *EventDeduper) Release(ctx context.Context, eventID string) error {
	return d.cli.Del(ctx, dedupeKey(eventID))
}
