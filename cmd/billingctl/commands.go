// File: cmd/billingctl/commands.go
package main

import (
	"context"
	"fmt"
	"time"

	"bookbrief-billing/internal/application"
	"bookbrief-billing/internal/config"
	"bookbrief-billing/internal/infra/db/migrations"
	"bookbrief-billing/internal/infra/logging"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	dev        bool
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.LoadConfig(o.configPath, o.dev)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operator tooling for the billing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to YAML config file")
	root.PersistentFlags().BoolVar(&opts.dev, "dev", false, "console logs")

	root.AddCommand(newMigrateCmd(opts), newResyncCmd(opts))
	return root
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := migrations.Up(cfg.Database.Driver, cfg.Database.URL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := migrations.Down(cfg.Database.Driver, cfg.Database.URL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back one migration")
			return nil
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			v, dirty, err := migrations.Version(cfg.Database.Driver, cfg.Database.URL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
			return nil
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func newResyncCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "resync <subscription-id>",
		Short: "Re-apply the provider's current state of one subscription",
		Long: `Fetches the subscription from Stripe and applies it through the
reconciler exactly like a subscription update event.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Log, cfg.Runtime.Dev)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c, err := application.Build(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}
			defer c.Close()

			if err := c.Reconciler.Resync(ctx, args[0]); err != nil {
				return fmt.Errorf("resync %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "subscription %s resynced\n", args[0])
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	return cmd
}
