package billing

import (
	"context"
	"time"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"go.uber.org/zap"
)

// EventHandler applies a single provider event to local state.
// Handlers must be idempotent: the ledger entry is written after handling, so a
// crash in between replays the event on the next poll.
type EventHandler interface {
	Handle(ctx context.Context, event *domainBilling.ProviderEvent) error
}

// EventDispatcherConfig contains configuration for event dispatching
type EventDispatcherConfig struct {
	// StalenessHorizon is the age after which events are ledgered without being handled
	StalenessHorizon time.Duration
}

// DefaultEventDispatcherConfig returns default configuration
func DefaultEventDispatcherConfig() EventDispatcherConfig {
	return EventDispatcherConfig{
		StalenessHorizon: 24 * time.Hour,
	}
}

// EventDispatcherDeps groups the collaborators of the dispatcher
type EventDispatcherDeps struct {
	Ledger              domainBilling.ProcessedEventRepository
	CustomerHandler     EventHandler
	SubscriptionHandler EventHandler
	Metrics             MetricsRecorder
	Logger              *zap.Logger
}

// DispatchResult summarizes one dispatch run
type DispatchResult struct {
	Handled int
	Stale   int
	Failed  int
}

// Total returns the number of events the dispatcher looked at
func (r DispatchResult) Total() int {
	return r.Handled + r.Stale + r.Failed
}

// EventDispatcher routes events to handlers strictly in order and records
// successfully applied events in the processed-event ledger.
type EventDispatcher struct {
	ledger              domainBilling.ProcessedEventRepository
	customerHandler     EventHandler
	subscriptionHandler EventHandler
	metrics             MetricsRecorder
	logger              *zap.Logger
	config              EventDispatcherConfig
	now                 func() time.Time
}

// NewEventDispatcher creates a new event dispatcher
func NewEventDispatcher(deps EventDispatcherDeps, config EventDispatcherConfig) *EventDispatcher {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &EventDispatcher{
		ledger:              deps.Ledger,
		customerHandler:     deps.CustomerHandler,
		subscriptionHandler: deps.SubscriptionHandler,
		metrics:             metrics,
		logger:              deps.Logger,
		config:              config,
		now:                 time.Now,
	}
}

// Dispatch handles events sequentially in the given order.
// A failing event is logged and left out of the ledger so the next poll retries it;
// the remaining events are still processed. If ctx is canceled, dispatching stops
// between events and the in-flight event is allowed to finish.
func (d *EventDispatcher) Dispatch(ctx context.Context, events []*domainBilling.ProviderEvent) (DispatchResult, error) {
	var result DispatchResult

	for i, event := range events {
		if err := ctx.Err(); err != nil {
			d.logger.Info("Stopping event dispatch",
				zap.Int("remaining", len(events)-i),
				zap.Error(err))
			return result, err
		}

		outcome := d.dispatchOne(context.WithoutCancel(ctx), event)
		d.metrics.ObserveEvent(event.Type, outcome)

		switch outcome {
		case OutcomeStale:
			result.Stale++
		case OutcomeFailed:
			result.Failed++
		default:
			result.Handled++
		}
	}

	return result, nil
}

func (d *EventDispatcher) dispatchOne(ctx context.Context, event *domainBilling.ProviderEvent) string {
	log := d.logger.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type.String()),
	)

	if event.IsOlderThan(d.config.StalenessHorizon, d.now()) {
		log.Info("Event is older than staleness horizon, marking as processed",
			zap.Duration("horizon", d.config.StalenessHorizon),
			zap.Time("created_at", event.CreatedTime()))
		if err := d.markProcessed(ctx, event); err != nil {
			log.Error("Failed to mark stale event as processed", zap.Error(err))
			return OutcomeFailed
		}
		return OutcomeStale
	}

	outcome := OutcomeHandled
	var err error
	switch {
	case event.Type.IsCustomerEvent():
		log.Info("Handling provider customer event")
		err = d.customerHandler.Handle(ctx, event)
	case event.Type.IsSubscriptionEvent():
		log.Info("Handling provider subscription event")
		err = d.subscriptionHandler.Handle(ctx, event)
	default:
		outcome = OutcomeIgnored
	}
	if err != nil {
		log.Error("Failed to process event", zap.Error(err))
		return OutcomeFailed
	}

	if err := d.markProcessed(ctx, event); err != nil {
		log.Error("Failed to mark event as processed", zap.Error(err))
		return OutcomeFailed
	}
	return outcome
}

func (d *EventDispatcher) markProcessed(ctx context.Context, event *domainBilling.ProviderEvent) error {
	entry, err := domainBilling.NewProcessedEvent(event)
	if err != nil {
		return err
	}
	return d.ledger.Create(ctx, entry)
}
