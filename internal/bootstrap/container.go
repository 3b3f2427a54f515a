// Package bootstrap wires configuration, infrastructure and application services
// into the components shared by cmd/server and cmd/billingctl.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	billingapp "github.com/erp/reconciler/internal/application/billing"
	infraBilling "github.com/erp/reconciler/internal/infrastructure/billing"
	"github.com/erp/reconciler/internal/infrastructure/config"
	"github.com/erp/reconciler/internal/infrastructure/metrics"
	"github.com/erp/reconciler/internal/infrastructure/notification"
	"github.com/erp/reconciler/internal/infrastructure/persistence"
	"github.com/erp/reconciler/internal/infrastructure/scheduler"
	"github.com/erp/reconciler/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Job names, used as scheduler names, metric labels and trigger route parameters
const (
	JobEventReconciliation = "event_reconciliation"
	JobUsageSync           = "usage_sync"
)

// Container holds the long-lived components of one process
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Tracer   *telemetry.TracerProvider
	Database *persistence.Database
	Stripe   *infraBilling.StripeAdapter
	Notifier *notification.Notifier
	Metrics  *metrics.Recorder

	Reconciliation *billingapp.ReconciliationService
	UsageSync      *billingapp.UsageSyncService
	CustomerSync   *billingapp.CustomerSyncService
}

// New connects to the database and the provider and assembles every service.
// On error the components opened so far are closed.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, version string) (c *Container, err error) {
	c = &Container{Config: cfg, Logger: log, Metrics: metrics.NewRecorder()}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
			c = nil
		}
	}()

	c.Tracer, err = telemetry.NewTracerProvider(ctx, telemetry.ConfigFromSettings(cfg.Telemetry, version), log)
	if err != nil {
		return c, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	c.Database, err = persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		return c, err
	}
	dbTracing := telemetry.DefaultDBTracingConfig()
	dbTracing.Enabled = cfg.Telemetry.Enabled
	if err = telemetry.RegisterDBTracing(c.Database.DB, dbTracing, log); err != nil {
		return c, fmt.Errorf("failed to register database tracing: %w", err)
	}
	if err = c.Metrics.WatchDBPool(c.Database.SQL(), cfg.Database.DBName); err != nil {
		return c, fmt.Errorf("failed to register pool metrics: %w", err)
	}
	log.Info("Database connected successfully")

	c.Stripe, err = infraBilling.NewStripeAdapter(StripeConfigFrom(cfg.Stripe), log.Named("stripe"))
	if err != nil {
		return c, fmt.Errorf("failed to initialize stripe adapter: %w", err)
	}

	c.Notifier, err = notification.NewFromConfig(cfg, log)
	if err != nil {
		return c, err
	}

	modelPrices, err := billingapp.WithLookupKeyOverrides(billingapp.DefaultModelPrices(), cfg.Stripe.ModelPriceLookupKeys)
	if err != nil {
		return c, fmt.Errorf("invalid model price lookup keys: %w", err)
	}

	c.wireServices(modelPrices)
	return c, nil
}

func (c *Container) wireServices(modelPrices []billingapp.ModelPrice) {
	db := c.Database.DB
	log := c.Logger

	accounts := persistence.NewGormAccountRepository(db)
	customers := persistence.NewGormBillingCustomerRepository(db)
	subscriptions := persistence.NewGormBillingSubscriptionRepository(db)
	ledger := persistence.NewGormProcessedEventRepository(db)
	meters := persistence.NewGormUsageMeterRepository(db)

	catalog := infraBilling.NewPriceCatalog(c.Stripe, StripeConfigFrom(c.Config.Stripe))

	synchronizer := billingapp.NewSubscriptionSynchronizer(billingapp.SubscriptionSynchronizerDeps{
		Accounts:      accounts,
		Customers:     customers,
		Subscriptions: subscriptions,
		Transactor:    persistence.NewGormSubscriptionTransactor(c.Database),
		Provider:      c.Stripe,
		Gateway:       c.Stripe,
		Catalog:       catalog,
		Logger:        log.Named("synchronizer"),
	})

	pollerCfg := billingapp.DefaultEventPollerConfig()
	pollerCfg.PageSize = c.Config.Reconciler.EventsPageSize
	pollerCfg.StalePageThreshold = c.Config.Reconciler.StalePageThreshold
	poller := billingapp.NewEventPoller(c.Stripe, ledger, pollerCfg, log.Named("poller"))

	dispatcher := billingapp.NewEventDispatcher(billingapp.EventDispatcherDeps{
		Ledger:              ledger,
		CustomerHandler:     billingapp.NewCustomerEventHandler(accounts, customers, log.Named("customer_events")),
		SubscriptionHandler: billingapp.NewSubscriptionEventHandler(synchronizer, c.Notifier, log.Named("subscription_events")),
		Metrics:             c.Metrics,
		Logger:              log.Named("dispatcher"),
	}, billingapp.EventDispatcherConfig{StalenessHorizon: c.Config.Reconciler.EventStalenessHorizon})

	c.Reconciliation = billingapp.NewReconciliationService(poller, dispatcher, c.Metrics, log.Named(JobEventReconciliation))

	usageCfg := billingapp.DefaultUsageSyncConfig()
	usageCfg.ModelPrices = modelPrices
	c.UsageSync = billingapp.NewUsageSyncService(billingapp.UsageSyncDeps{
		Accounts:      accounts,
		Subscriptions: subscriptions,
		Meters:        meters,
		Catalog:       catalog,
		Gateway:       c.Stripe,
		Biller:        c.Stripe,
		Metrics:       c.Metrics,
		Logger:        log.Named(JobUsageSync),
	}, usageCfg)

	c.CustomerSync = billingapp.NewCustomerSyncService(customers, c.Stripe, synchronizer, c.Notifier, log.Named("customer_sync"))
}

// EventReconciliationJob runs one event reconciliation tick
func (c *Container) EventReconciliationJob(ctx context.Context) error {
	return c.Reconciliation.RunEventReconciliationTick(ctx)
}

// UsageSyncJob runs one usage sync pass
func (c *Container) UsageSyncJob(ctx context.Context) error {
	_, err := c.UsageSync.SyncUsage(ctx)
	return err
}

// Schedulers builds the two periodic loops. Disabled loops are still returned so
// their trigger endpoints answer with a not-running error.
func (c *Container) Schedulers() ([]*scheduler.PeriodicScheduler, error) {
	rc := c.Config.Reconciler
	loops := []struct {
		job scheduler.Job
		cfg scheduler.PeriodicSchedulerConfig
	}{
		{c.EventReconciliationJob, scheduler.PeriodicSchedulerConfig{
			Name:        JobEventReconciliation,
			Enabled:     rc.EventReconciliationEnabled,
			Interval:    rc.EventPollInterval,
			TickTimeout: rc.TickTimeout,
			RunOnStart:  true,
		}},
		{c.UsageSyncJob, scheduler.PeriodicSchedulerConfig{
			Name:        JobUsageSync,
			Enabled:     rc.UsageSyncEnabled,
			Interval:    rc.UsageSyncInterval,
			TickTimeout: rc.TickTimeout,
			RunOnStart:  true,
		}},
	}

	out := make([]*scheduler.PeriodicScheduler, 0, len(loops))
	for _, loop := range loops {
		s, err := scheduler.NewPeriodicScheduler(loop.job, loop.cfg, c.Metrics, c.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s scheduler: %w", loop.cfg.Name, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Close releases the notifier, the database and the tracer, in that order
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.Notifier != nil {
		if err := c.Notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close notifier: %w", err))
		}
	}
	if c.Database != nil {
		if err := c.Database.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	if c.Tracer != nil {
		if err := c.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StripeConfigFrom maps the stripe settings onto the adapter configuration
func StripeConfigFrom(cfg config.StripeConfig) *infraBilling.StripeConfig {
	return &infraBilling.StripeConfig{
		SecretKey:            cfg.SecretKey,
		IsTestMode:           cfg.IsTestMode,
		MaxNetworkRetries:    cfg.MaxNetworkRetries,
		FreePriceLookupKey:   cfg.FreePriceLookupKey,
		PaidPriceLookupKey:   cfg.PaidPriceLookupKey,
		ModelPriceLookupKeys: cfg.ModelPriceLookupKeys,
	}
}
