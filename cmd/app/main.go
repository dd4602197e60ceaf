// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookbrief-billing/internal/application"
	"bookbrief-billing/internal/config"
	"bookbrief-billing/internal/infra/api"
	"bookbrief-billing/internal/infra/logging"
	"bookbrief-billing/internal/infra/metrics"
	"bookbrief-billing/internal/infra/sched"
	"bookbrief-billing/internal/infra/web"

	"golang.org/x/sync/errgroup"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted ids)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Stores, adapters, use cases ----
	c, err := application.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer c.Close()

	// ---- HTTP ----
	webhook := api.NewStripeWebhookHandler(c.Verifier, c.Reconciler, c.Deduper, logger)
	billingAPI := web.NewServer(c.Profiles, c.Billing, web.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer), logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(cfg.Server, webhook, billingAPI, c.Health, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ---- Workers ----
	syncer := sched.NewSubscriptionSync(c.Reconciler, c.Subs,
		cfg.Scheduler.SyncInterval, cfg.Scheduler.StaleAfter, cfg.Scheduler.SyncBatch, logger).
		WithConcurrency(cfg.Scheduler.SyncConcurrency)
	stats := sched.NewStatsWorker(c.Stats, c.ReportPoolStats, cfg.Scheduler.StatsInterval, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Str("version", version).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return syncer.Run(gctx) })
	g.Go(func() error { return stats.Run(gctx) })

	// ---- Graceful shutdown ----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("stopped with error")
		c.Close()
		os.Exit(1)
	}
	logger.Info().Msg("stopped")
}
