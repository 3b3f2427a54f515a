package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/reconciler/internal/infrastructure/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/erp/reconciler/internal/infrastructure/scheduler"

// Tick outcomes reported to the TickObserver
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePanic   = "panic"
)

// Job is one unit of periodic work. An error fails the tick, not the scheduler.
type Job func(ctx context.Context) error

// TickObserver records tick outcomes
type TickObserver interface {
	ObserveTick(job, outcome string, d time.Duration)
}

// PeriodicSchedulerConfig holds configuration for a periodic scheduler
type PeriodicSchedulerConfig struct {
	// Name identifies the job in logs, spans and metrics
	Name string

	// Enabled determines if the scheduler is active
	Enabled bool

	// Interval is the pause between the end of one tick and the start of the next
	Interval time.Duration

	// TickTimeout bounds a single tick
	TickTimeout time.Duration

	// RunOnStart runs the first tick immediately instead of after one interval
	RunOnStart bool
}

// Validate checks the configuration
func (c PeriodicSchedulerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: %s interval must be positive", ErrInvalidConfig, c.Name)
	}
	if c.TickTimeout <= 0 {
		return fmt.Errorf("%w: %s tick timeout must be positive", ErrInvalidConfig, c.Name)
	}
	return nil
}

// PeriodicScheduler runs a Job in a loop for the lifetime of the process.
// Ticks of the same scheduler never overlap, including ticks started by TriggerImmediate.
type PeriodicScheduler struct {
	job      Job
	config   PeriodicSchedulerConfig
	observer TickObserver
	logger   *zap.Logger
	tracer   trace.Tracer

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	tickMu    sync.Mutex
	isRunning bool
}

// NewPeriodicScheduler creates a new periodic scheduler. observer may be nil.
func NewPeriodicScheduler(job Job, config PeriodicSchedulerConfig, observer TickObserver, log *zap.Logger) (*PeriodicScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &PeriodicScheduler{
		job:      job,
		config:   config,
		observer: observer,
		logger:   log.With(zap.String("job", config.Name)),
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Name returns the job name
func (s *PeriodicScheduler) Name() string {
	return s.config.Name
}

// Start launches the loop. A disabled scheduler logs and returns nil without running.
func (s *PeriodicScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Scheduler is disabled")
		return nil
	}
	s.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(ctx)

	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("tick_timeout", s.config.TickTimeout),
	)
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to wind down, or for ctx to expire
func (s *PeriodicScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is running
func (s *PeriodicScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// TriggerImmediate runs one tick now and returns its error.
// It waits for a periodic tick in progress to finish first.
func (s *PeriodicScheduler) TriggerImmediate(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.logger.Info("Triggering immediate run")
	return s.runTick(ctx, "manual")
}

func (s *PeriodicScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		_ = s.runTick(ctx, "periodic")
	}

	timer := time.NewTimer(s.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Scheduler loop stopping")
			return
		case <-timer.C:
			_ = s.runTick(ctx, "periodic")
			timer.Reset(s.config.Interval)
		}
	}
}

// runTick executes the job once with a timeout, a span and panic recovery
func (s *PeriodicScheduler) runTick(ctx context.Context, trigger string) (err error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	tickCtx, cancel := context.WithTimeout(ctx, s.config.TickTimeout)
	defer cancel()

	tickCtx, span := s.tracer.Start(tickCtx, "scheduler."+s.config.Name,
		trace.WithAttributes(
			attribute.String("scheduler.job", s.config.Name),
			attribute.String("scheduler.trigger", trigger),
		))
	defer span.End()

	tickCtx, tickLogger := logger.WithJob(tickCtx, logger.WithTraceContext(tickCtx, s.logger), s.config.Name)

	startedAt := time.Now()
	outcome := OutcomeSuccess
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomePanic
			err = fmt.Errorf("%w: %v", ErrTickPanicked, r)
			tickLogger.Error("Scheduled job panicked",
				zap.Any("panic", r),
				zap.Stack("stacktrace"))
			span.SetStatus(codes.Error, "panic")
		}

		duration := time.Since(startedAt)
		if s.observer != nil {
			s.observer.ObserveTick(s.config.Name, outcome, duration)
		}
	}()

	if err = s.job(tickCtx); err != nil {
		outcome = OutcomeFailure
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		tickLogger.Error("Scheduled job failed",
			zap.String("trigger", trigger),
			zap.Duration("duration", time.Since(startedAt)),
			zap.Error(err))
		return err
	}

	tickLogger.Debug("Scheduled job completed",
		zap.String("trigger", trigger),
		zap.Duration("duration", time.Since(startedAt)))
	return nil
}
