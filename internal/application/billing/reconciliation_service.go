package billing

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReconciliationService runs one event reconciliation tick: poll the provider
// event log, then dispatch the unprocessed events in order.
// It holds no state between ticks; deduplication is derived from the ledger.
type ReconciliationService struct {
	poller     *EventPoller
	dispatcher *EventDispatcher
	metrics    MetricsRecorder
	logger     *zap.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(poller *EventPoller, dispatcher *EventDispatcher, metrics MetricsRecorder, logger *zap.Logger) *ReconciliationService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &ReconciliationService{
		poller:     poller,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// RunEventReconciliationTick polls and applies provider events.
// An error means the tick could not complete; per-event failures are not errors.
func (s *ReconciliationService) RunEventReconciliationTick(ctx context.Context) error {
	startedAt := time.Now()

	events, err := s.poller.Poll(ctx)
	if err != nil {
		return err
	}

	result, err := s.dispatcher.Dispatch(ctx, events)

	duration := time.Since(startedAt)
	s.metrics.ObserveSyncDuration("event_reconciliation", duration)
	s.logger.Info("Event reconciliation finished",
		zap.Int("events", len(events)),
		zap.Int("handled", result.Handled),
		zap.Int("stale", result.Stale),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", duration))

	return err
}
