package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/repository"
	"bookbrief-billing/internal/infra/metrics"

	"github.com/rs/zerolog"
)

var _ repository.UserRepository = (*userRepoCacheDecorator)(nil)

type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache RedisClient
	ttl   time.Duration
	log   zerolog.Logger
}

// NewUserRepoCacheDecorator caches FindByID results. Writes go to the inner
// repository first and then drop the cached entry.
func NewUserRepoCacheDecorator(inner repository.UserRepository, cache RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.UserRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &userRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   logger.With().Str("component", "user_cache").Logger(),
	}
}

func userKey(id string) string { return fmt.Sprintf("user:id:%s", id) }

func (d *userRepoCacheDecorator) Save(ctx context.Context, u *model.User) error {
	if err := d.inner.Save(ctx, u); err != nil {
		return err
	}
	d.invalidate(ctx, u.ID)
	return nil
}

func (d *userRepoCacheDecorator) UpdateBilling(ctx context.Context, id string, patch model.UserBillingPatch) error {
	if err := d.inner.UpdateBilling(ctx, id, patch); err != nil {
		return err
	}
	d.invalidate(ctx, id)
	return nil
}

func (d *userRepoCacheDecorator) FindByID(ctx context.Context, id string) (*model.User, error) {
	key := userKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var user model.User
		if json.Unmarshal([]byte(val), &user) == nil {
			metrics.IncCacheRequest("user", "hit")
			return &user, nil
		}
	} else if !errors.Is(err, Nil) {
		d.log.Warn().Err(err).Msg("cache read failed")
	}

	metrics.IncCacheRequest("user", "miss")
	user, err := d.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if bytes, err := json.Marshal(user); err == nil {
		_ = d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return user, nil
}

func (d *userRepoCacheDecorator) invalidate(ctx context.Context, id string) {
	if err := d.cache.Del(ctx, userKey(id)); err != nil {
		d.log.Warn().Err(err).Str("user_id", id).Msg("cache invalidation failed")
	}
}
