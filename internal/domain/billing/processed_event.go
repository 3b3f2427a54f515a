package billing

import (
	"strings"
	"time"

	"github.com/erp/reconciler/internal/domain/shared"
)

// EventType is a provider event type name
type EventType string

const (
	EventTypeCustomerCreated             EventType = "customer.created"
	EventTypeCustomerUpdated             EventType = "customer.updated"
	EventTypeCustomerSubscriptionCreated EventType = "customer.subscription.created"
	EventTypeCustomerSubscriptionUpdated EventType = "customer.subscription.updated"
	EventTypeCustomerSubscriptionPaused  EventType = "customer.subscription.paused"
	EventTypeCustomerSubscriptionResumed EventType = "customer.subscription.resumed"
	EventTypeCustomerSubscriptionDeleted EventType = "customer.subscription.deleted"
)

// ReconciledEventTypes returns the allow-list of event types the reconciler fetches
func ReconciledEventTypes() []EventType {
	return []EventType{
		EventTypeCustomerCreated,
		EventTypeCustomerUpdated,
		EventTypeCustomerSubscriptionCreated,
		EventTypeCustomerSubscriptionUpdated,
		EventTypeCustomerSubscriptionPaused,
		EventTypeCustomerSubscriptionResumed,
		EventTypeCustomerSubscriptionDeleted,
	}
}

// NormalizeEventType strips quoting artifacts some serializers leave around type names
func NormalizeEventType(raw string) EventType {
	return EventType(strings.Trim(strings.TrimSpace(raw), `"'\`))
}

// String returns the string representation of EventType
func (t EventType) String() string {
	return string(t)
}

// IsReconciled returns true if the type is on the allow-list
func (t EventType) IsReconciled() bool {
	for _, allowed := range ReconciledEventTypes() {
		if t == allowed {
			return true
		}
	}
	return false
}

// IsCustomerEvent returns true for customer lifecycle events
func (t EventType) IsCustomerEvent() bool {
	return t == EventTypeCustomerCreated || t == EventTypeCustomerUpdated
}

// IsSubscriptionEvent returns true for subscription lifecycle events
func (t EventType) IsSubscriptionEvent() bool {
	switch t {
	case EventTypeCustomerSubscriptionCreated,
		EventTypeCustomerSubscriptionUpdated,
		EventTypeCustomerSubscriptionPaused,
		EventTypeCustomerSubscriptionResumed,
		EventTypeCustomerSubscriptionDeleted:
		return true
	default:
		return false
	}
}

// ProcessedEvent is a write-once ledger entry. Its existence means the event
// must never be applied again.
type ProcessedEvent struct {
	EventID   string
	EventType EventType
	CreatedAt int64 // Provider creation time (unix seconds)
}

// NewProcessedEvent creates a ledger entry for a provider event
func NewProcessedEvent(event *ProviderEvent) (*ProcessedEvent, error) {
	if event == nil || event.ID == "" {
		return nil, shared.NewDomainError("INVALID_EVENT", "Event ID cannot be empty")
	}
	return &ProcessedEvent{
		EventID:   event.ID,
		EventType: event.Type,
		CreatedAt: event.Created,
	}, nil
}

// CreatedTime returns the provider creation time
func (e *ProcessedEvent) CreatedTime() time.Time {
	return time.Unix(e.CreatedAt, 0).UTC()
}
