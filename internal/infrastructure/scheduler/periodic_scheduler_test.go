package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveTick(job, outcome string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, job+":"+outcome)
}

func (o *recordingObserver) all() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

func testConfig() PeriodicSchedulerConfig {
	return PeriodicSchedulerConfig{
		Name:        "event_reconciliation",
		Enabled:     true,
		Interval:    10 * time.Millisecond,
		TickTimeout: time.Second,
		RunOnStart:  true,
	}
}

func TestPeriodicSchedulerConfig_Validate(t *testing.T) {
	cfg := testConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Interval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = testConfig()
	cfg.Name = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = testConfig()
	cfg.TickTimeout = -time.Second
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestPeriodicScheduler_RunsPeriodically(t *testing.T) {
	var ticks atomic.Int32
	observer := &recordingObserver{}
	s, err := NewPeriodicScheduler(func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	}, testConfig(), observer, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())

	stoppedAt := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stoppedAt, ticks.Load())
	assert.Contains(t, observer.all(), "event_reconciliation:success")
}

func TestPeriodicScheduler_StartTwice(t *testing.T) {
	s, err := NewPeriodicScheduler(func(ctx context.Context) error { return nil }, testConfig(), nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
}

func TestPeriodicScheduler_StopWhenNotRunning(t *testing.T) {
	s, err := NewPeriodicScheduler(func(ctx context.Context) error { return nil }, testConfig(), nil, zap.NewNop())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Stop(context.Background()), ErrSchedulerNotRunning)
	assert.ErrorIs(t, s.TriggerImmediate(context.Background()), ErrSchedulerNotRunning)
}

func TestPeriodicScheduler_Disabled(t *testing.T) {
	var ticks atomic.Int32
	cfg := testConfig()
	cfg.Enabled = false
	s, err := NewPeriodicScheduler(func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	}, cfg, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))

	assert.False(t, s.IsRunning())
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, ticks.Load())
}

func TestPeriodicScheduler_FailingTickKeepsRunning(t *testing.T) {
	var ticks atomic.Int32
	observer := &recordingObserver{}
	s, err := NewPeriodicScheduler(func(ctx context.Context) error {
		if ticks.Add(1) == 1 {
			return errors.New("provider unavailable")
		}
		return nil
	}, testConfig(), observer, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	outcomes := observer.all()
	require.GreaterOrEqual(t, len(outcomes), 2)
	assert.Equal(t, "event_reconciliation:failure", outcomes[0])
	assert.Equal(t, "event_reconciliation:success", outcomes[1])
}

func TestPeriodicScheduler_RecoversPanic(t *testing.T) {
	var ticks atomic.Int32
	observer := &recordingObserver{}
	s, err := NewPeriodicScheduler(func(ctx context.Context) error {
		if ticks.Add(1) == 1 {
			panic("nil snapshot")
		}
		return nil
	}, testConfig(), observer, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, "event_reconciliation:panic", observer.all()[0])
}

func TestPeriodicScheduler_TriggerImmediate(t *testing.T) {
	t.Run("returns the tick error", func(t *testing.T) {
		cfg := testConfig()
		cfg.RunOnStart = false
		cfg.Interval = time.Hour
		jobErr := errors.New("ledger unavailable")
		s, err := NewPeriodicScheduler(func(ctx context.Context) error { return jobErr }, cfg, nil, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))
		defer func() { _ = s.Stop(context.Background()) }()

		assert.ErrorIs(t, s.TriggerImmediate(context.Background()), jobErr)
	})

	t.Run("panic becomes an error", func(t *testing.T) {
		cfg := testConfig()
		cfg.RunOnStart = false
		cfg.Interval = time.Hour
		s, err := NewPeriodicScheduler(func(ctx context.Context) error { panic("boom") }, cfg, nil, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))
		defer func() { _ = s.Stop(context.Background()) }()

		assert.ErrorIs(t, s.TriggerImmediate(context.Background()), ErrTickPanicked)
	})

	t.Run("never overlaps a periodic tick", func(t *testing.T) {
		var inFlight, maxInFlight atomic.Int32
		var ticks atomic.Int32
		cfg := testConfig()
		cfg.Interval = time.Millisecond
		s, err := NewPeriodicScheduler(func(ctx context.Context) error {
			n := inFlight.Add(1)
			if n > maxInFlight.Load() {
				maxInFlight.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			ticks.Add(1)
			return nil
		}, cfg, nil, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, s.Start(context.Background()))

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.TriggerImmediate(context.Background())
			}()
		}
		wg.Wait()
		require.NoError(t, s.Stop(context.Background()))

		assert.Equal(t, int32(1), maxInFlight.Load())
		assert.GreaterOrEqual(t, ticks.Load(), int32(5))
	})
}

func TestPeriodicScheduler_TickTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.RunOnStart = false
	cfg.Interval = time.Hour
	cfg.TickTimeout = 10 * time.Millisecond
	s, err := NewPeriodicScheduler(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, cfg, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	assert.ErrorIs(t, s.TriggerImmediate(context.Background()), context.DeadlineExceeded)
}

func TestPeriodicScheduler_StopWaitsForInFlightTick(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	cfg := testConfig()
	s, err := NewPeriodicScheduler(func(ctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	}, cfg, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	<-started
	require.NoError(t, s.Stop(context.Background()))

	assert.True(t, finished.Load())
}

func TestPeriodicScheduler_StopTimeout(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, err := NewPeriodicScheduler(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, testConfig(), nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
	close(release)
}
