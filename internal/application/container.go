// Package application wires configuration into stores, adapters and use cases.
// Both binaries build their object graph through it.
package application

import (
	"context"
	"database/sql"
	"fmt"

	"bookbrief-billing/internal/config"
	"bookbrief-billing/internal/domain/ports/adapter"
	"bookbrief-billing/internal/domain/ports/repository"
	"bookbrief-billing/internal/infra/catalog"
	"bookbrief-billing/internal/infra/db/postgres"
	"bookbrief-billing/internal/infra/db/sqlite"
	"bookbrief-billing/internal/infra/payment/stripe"
	red "bookbrief-billing/internal/infra/redis"
	"bookbrief-billing/internal/usecase"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

// Container holds the wired services. Optional Redis-backed pieces are nil
// when redis.url is empty.
type Container struct {
	Users    repository.UserRepository
	Subs     repository.SubscriptionRepository
	Plans    *catalog.Plans
	Provider *stripe.Provider
	Verifier *stripe.Verifier

	Locker  adapter.Locker
	Deduper adapter.EventDeduper
	Limiter adapter.RateLimiter

	Reconciler usecase.ReconcilerUseCase
	Billing    usecase.BillingUseCase
	Profiles   usecase.ProfileUseCase
	Stats      usecase.StatsUseCase

	pool    *pgxpool.Pool
	db      *sql.DB
	redis   *red.Client
	closers []func()
}

// Build opens every backing service named in cfg. On error the partially
// opened services are closed again.
func Build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Container, error) {
	c := &Container{}
	if err := c.build(ctx, cfg, logger); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (err error) {
	if c.Plans, err = catalog.NewPlans(cfg.Stripe.Plans); err != nil {
		return fmt.Errorf("plans: %w", err)
	}
	plans, _ := c.Plans.ListAll(ctx)
	tiers := stripe.TiersFromPlans(plans)

	if err = c.openStore(ctx, cfg.Database); err != nil {
		return err
	}

	if cfg.Redis.URL != "" {
		if c.redis, err = red.NewClient(ctx, &cfg.Redis); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		cli := c.redis
		c.closers = append(c.closers, func() { _ = cli.Close() })
		c.Users = red.NewUserRepoCacheDecorator(c.Users, c.redis, cfg.Redis.TTL, logger)
		c.Locker = red.NewLocker(c.redis)
		c.Deduper = red.NewEventDeduper(c.redis, cfg.Reconciler.LockTTL, cfg.Reconciler.DedupeTTL)
		c.Limiter = red.NewRateLimiter(c.redis)
	} else {
		logger.Warn().Msg("redis disabled: no cache, locks, webhook dedupe or rate limits")
	}

	c.Provider = stripe.NewProvider(cfg.Stripe.SecretKey, stripe.NewBackends(cfg.Stripe.APIURL), tiers, logger)
	c.Verifier = stripe.NewVerifier(cfg.Stripe.WebhookSecret, tiers)

	c.Reconciler = usecase.NewReconcilerUseCase(c.Subs, c.Users, c.Provider, usecase.ReconcilerOptions{
		RejectStale: cfg.Reconciler.RejectStale(),
		Locker:      c.Locker,
		LockTTL:     cfg.Reconciler.LockTTL,
	}, logger)
	c.Billing = usecase.NewBillingUseCase(c.Users, c.Subs, c.Plans, c.Provider, c.Limiter, usecase.BillingOptions{
		SuccessURL:      cfg.Stripe.SuccessURL,
		CancelURL:       cfg.Stripe.CancelURL,
		PortalReturnURL: cfg.Stripe.PortalReturnURL,
		CheckoutLimit:   cfg.RateLimit.CheckoutLimit,
		CheckoutWindow:  cfg.RateLimit.CheckoutWindow,
	}, logger)
	c.Profiles = usecase.NewProfileUseCase(c.Users, c.Subs, logger)
	c.Stats = usecase.NewStatsUseCase(c.Subs, logger)
	return nil
}

func (c *Container) openStore(ctx context.Context, cfg config.DatabaseConfig) error {
	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.URL)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		c.db = db
		c.closers = append(c.closers, func() { _ = db.Close() })
		c.Users = sqlite.NewUserRepo(db)
		c.Subs = sqlite.NewSubscriptionRepo(db)
	default:
		pool, err := postgres.NewPgxPool(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		c.pool = pool
		c.closers = append(c.closers, pool.Close)
		c.Users = postgres.NewPostgresUserRepo(pool)
		c.Subs = postgres.NewPostgresSubscriptionRepo(pool)
	}
	return nil
}

// Health pings the record store and, when configured, Redis.
func (c *Container) Health(ctx context.Context) error {
	switch {
	case c.pool != nil:
		if err := c.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	case c.db != nil:
		if err := c.db.PingContext(ctx); err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// ReportPoolStats publishes the pool gauges of whichever store is open.
func (c *Container) ReportPoolStats() {
	switch {
	case c.pool != nil:
		postgres.ReportPoolStats(c.pool)
	case c.db != nil:
		sqlite.ReportPoolStats(c.db)
	}
}

// Close releases everything Build opened, newest first.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
