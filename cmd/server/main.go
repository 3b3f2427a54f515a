package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/erp/reconciler/internal/bootstrap"
	"github.com/erp/reconciler/internal/infrastructure/auth"
	"github.com/erp/reconciler/internal/infrastructure/config"
	"github.com/erp/reconciler/internal/infrastructure/logger"
	"github.com/erp/reconciler/internal/infrastructure/scheduler"
	"github.com/erp/reconciler/internal/interfaces/http/handler"
	"github.com/erp/reconciler/internal/interfaces/http/router"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "reconciler: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, cfg.App.Name, cfg.App.Env)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting Stripe reconciler",
		zap.String("version", version),
		zap.String("env", cfg.App.Env),
		zap.Bool("event_reconciliation", cfg.Reconciler.EventReconciliationEnabled),
		zap.Bool("usage_sync", cfg.Reconciler.UsageSyncEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.New(ctx, cfg, log, version)
	if err != nil {
		log.Error("Failed to initialize", zap.Error(err))
		return err
	}

	schedulers, err := container.Schedulers()
	if err != nil {
		_ = container.Close(context.Background())
		return err
	}
	for _, s := range schedulers {
		if err := s.Start(ctx); err != nil {
			_ = container.Close(context.Background())
			return fmt.Errorf("failed to start %s scheduler: %w", s.Name(), err)
		}
	}

	var srv *http.Server
	if cfg.HTTP.Enabled {
		srv, err = newHTTPServer(cfg, container, schedulers)
		if err != nil {
			stopSchedulers(schedulers, cfg, log)
			_ = container.Close(context.Background())
			return err
		}
		go func() {
			log.Info("HTTP server starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server failed", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Reconciler.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server forced to shutdown", zap.Error(err))
		}
	}
	stopSchedulers(schedulers, cfg, log)

	if err := container.Close(shutdownCtx); err != nil {
		log.Error("Error releasing resources", zap.Error(err))
	}

	log.Info("Reconciler exited gracefully")
	return nil
}

func newHTTPServer(cfg *config.Config, c *bootstrap.Container, schedulers []*scheduler.PeriodicScheduler) (*http.Server, error) {
	triggers := make([]handler.JobTrigger, 0, len(schedulers))
	for _, s := range schedulers {
		triggers = append(triggers, s)
	}

	routerCfg := router.DefaultConfig()
	routerCfg.ServiceName = cfg.Telemetry.ServiceName
	routerCfg.Tracing = cfg.Telemetry.Enabled
	routerCfg.TrustedProxies = cfg.HTTP.TrustedProxies

	deps := router.Deps{
		Health:   handler.NewHealthHandler(map[string]handler.Pinger{"database": c.Database}, 0, c.Logger),
		Metrics:  c.Metrics.Handler(),
		Observer: c.Metrics,
		Registrars: []router.RouteRegistrar{
			handler.NewSystemHandler(cfg.App.Name, version),
			handler.NewBillingHandler(c.CustomerSync),
			handler.NewJobsHandler(triggers...),
		},
		Logger: c.Logger.Named("http"),
	}
	if tokens := auth.NewOperatorTokens(cfg.HTTP); tokens.Enabled() {
		deps.Operator = tokens
	} else {
		c.Logger.Warn("Operator routes are unauthenticated, http.operator_secret is empty")
	}

	engine, err := router.New(routerCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP router: %w", err)
	}

	return &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}, nil
}

// stopSchedulers waits for in-flight ticks, bounded by the shutdown timeout
func stopSchedulers(schedulers []*scheduler.PeriodicScheduler, cfg *config.Config, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Reconciler.ShutdownTimeout)
	defer cancel()

	for _, s := range schedulers {
		if err := s.Stop(ctx); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			log.Error("Failed to stop scheduler", zap.String("job", s.Name()), zap.Error(err))
		}
	}
}
