package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/reconciler/internal/bootstrap"
	"github.com/erp/reconciler/internal/infrastructure/auth"
	"github.com/erp/reconciler/internal/infrastructure/config"
	"github.com/erp/reconciler/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	logLevel string
	timeout  time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operator commands for the Stripe reconciler",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Abort the command after this long")

	cmd.AddCommand(
		newSyncCustomerCmd(opts),
		newReconcileOnceCmd(opts),
		newUsageSyncOnceCmd(opts),
		newTokenCmd(),
	)
	return cmd
}

func newSyncCustomerCmd(opts *rootOptions) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "sync-customer",
		Short: "Re-sync every Stripe subscription of one account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(accountID)
			if err != nil {
				return fmt.Errorf("invalid account id %q: %w", accountID, err)
			}
			return withContainer(cmd.Context(), opts, func(ctx context.Context, c *bootstrap.Container) error {
				customerID, err := c.CustomerSync.SyncCustomerSubscriptions(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced account %s (stripe customer %s)\n", id, customerID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account-id", "", "Local account UUID")
	_ = cmd.MarkFlagRequired("account-id")
	return cmd
}

func newReconcileOnceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-once",
		Short: "Run one event reconciliation tick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), opts, func(ctx context.Context, c *bootstrap.Container) error {
				if err := c.EventReconciliationJob(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "event reconciliation tick completed")
				return nil
			})
		},
	}
}

func newUsageSyncOnceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "usage-sync-once",
		Short: "Run one usage sync pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), opts, func(ctx context.Context, c *bootstrap.Container) error {
				result, err := c.UsageSync.SyncUsage(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "subscriptions=%d synced=%d skipped_staff=%d failed=%d\n",
					result.Subscriptions, result.Synced, result.SkippedStaff, result.Failed)
				return nil
			})
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the operator API routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			httpCfg, err := config.LoadHTTP()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if ttl > 0 {
				httpCfg.OperatorTokenTTL = ttl
			}
			token, err := auth.NewOperatorTokens(*httpCfg).Issue(subject)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Recorded as the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Override http.operator_token_ttl")
	return cmd
}

// withContainer loads configuration, builds the container, runs fn and releases
// everything it opened.
func withContainer(parent context.Context, opts *rootOptions, fn func(context.Context, *bootstrap.Container) error) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}

	log, err := logger.New(&logger.Config{
		Level:  level,
		Format: "console",
		Output: "stderr",
	}, cfg.App.Name, cfg.App.Env)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	c, err := bootstrap.New(ctx, cfg, log, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release resources", zap.Error(err))
		}
	}()

	return fn(ctx, c)
}
