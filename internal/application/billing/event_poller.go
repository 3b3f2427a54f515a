package billing

import (
	"context"
	"fmt"
	"slices"
	"sort"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"go.uber.org/zap"
)

// EventPollerConfig contains configuration for event polling
type EventPollerConfig struct {
	// PageSize is the number of events requested per page (provider maximum is 100)
	PageSize int64

	// StalePageThreshold is the number of consecutive pages made up entirely of
	// already-processed events that are tolerated; pagination stops on the next one
	StalePageThreshold int

	// EventTypes narrows the fetched event types; empty means every reconciled type
	EventTypes []domainBilling.EventType
}

// DefaultEventPollerConfig returns default configuration
func DefaultEventPollerConfig() EventPollerConfig {
	return EventPollerConfig{
		PageSize:           100,
		StalePageThreshold: 4,
	}
}

// EventPoller fetches provider events that are not yet in the processed-event ledger
type EventPoller struct {
	source EventSource
	ledger domainBilling.ProcessedEventRepository
	config EventPollerConfig
	logger *zap.Logger
}

// NewEventPoller creates a new event poller
func NewEventPoller(
	source EventSource,
	ledger domainBilling.ProcessedEventRepository,
	config EventPollerConfig,
	logger *zap.Logger,
) *EventPoller {
	return &EventPoller{
		source: source,
		ledger: ledger,
		config: config,
		logger: logger,
	}
}

// Poll pages through the provider event log and returns every allow-listed event
// missing from the ledger, sorted by (created, id) ascending.
//
// Pagination stops when the provider has no more pages or once more than
// StalePageThreshold consecutive pages contained nothing new.
func (p *EventPoller) Poll(ctx context.Context) ([]*domainBilling.ProviderEvent, error) {
	p.logger.Info("Starting provider event retrieval",
		zap.Int("event_types", len(p.eventTypes())),
		zap.Int64("page_size", p.config.PageSize))

	var (
		unprocessed   []*domainBilling.ProviderEvent
		stalePages    int
		startingAfter string
		pages         int
	)

	for {
		page, err := p.source.ListEvents(ctx, p.eventTypes(), startingAfter, p.config.PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
		pages++

		fresh, err := p.filterUnprocessed(ctx, page.Events)
		if err != nil {
			return nil, err
		}
		unprocessed = append(unprocessed, fresh...)

		if len(fresh) == 0 {
			stalePages++
		} else {
			stalePages = 0
		}

		if !page.HasMore || len(page.Events) == 0 {
			break
		}
		if stalePages > p.config.StalePageThreshold {
			p.logger.Info("Stopping event retrieval after already-processed pages",
				zap.Int("stale_pages", stalePages))
			break
		}
		startingAfter = page.Events[len(page.Events)-1].ID
	}

	SortEvents(unprocessed)

	p.logger.Info("Provider event retrieval finished",
		zap.Int("pages", pages),
		zap.Int("unprocessed", len(unprocessed)))

	return unprocessed, nil
}

// filterUnprocessed drops events already in the ledger and events outside the allow-list
func (p *EventPoller) filterUnprocessed(ctx context.Context, events []*domainBilling.ProviderEvent) ([]*domainBilling.ProviderEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}

	processed, err := p.ledger.FindProcessedIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to read processed events: %w", err)
	}

	fresh := make([]*domainBilling.ProviderEvent, 0, len(events))
	for _, event := range events {
		event.Type = domainBilling.NormalizeEventType(string(event.Type))
		if _, done := processed[event.ID]; done {
			p.logger.Debug("Event already processed, skipping", zap.String("event_id", event.ID))
			continue
		}
		if !p.allowed(event.Type) {
			p.logger.Debug("Event type not reconciled, skipping",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type.String()))
			continue
		}
		fresh = append(fresh, event)
	}
	return fresh, nil
}

func (p *EventPoller) eventTypes() []domainBilling.EventType {
	if len(p.config.EventTypes) == 0 {
		return domainBilling.ReconciledEventTypes()
	}
	return p.config.EventTypes
}

func (p *EventPoller) allowed(eventType domainBilling.EventType) bool {
	if len(p.config.EventTypes) == 0 {
		return eventType.IsReconciled()
	}
	return slices.Contains(p.config.EventTypes, eventType)
}

// SortEvents orders events by creation time, then by ID for equal timestamps
func SortEvents(events []*domainBilling.ProviderEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Created != events[j].Created {
			return events[i].Created < events[j].Created
		}
		return events[i].ID < events[j].ID
	})
}
