package billing

import (
	"context"
	"time"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/google/uuid"
)

// EventPage is a single page of provider events
type EventPage struct {
	Events  []*domainBilling.ProviderEvent
	HasMore bool
}

// EventSource lists provider events, newest first.
// startingAfter is the ID of the last event of the previous page, empty for the first page.
type EventSource interface {
	ListEvents(ctx context.Context, types []domainBilling.EventType, startingAfter string, limit int64) (*EventPage, error)
}

// CustomerSource reads customers and their subscriptions from the provider
type CustomerSource interface {
	GetCustomer(ctx context.Context, stripeCustomerID string) (*domainBilling.ProviderCustomer, error)
	ListSubscriptionsForCustomer(ctx context.Context, stripeCustomerID string) ([]*domainBilling.ProviderSubscription, error)
}

// SubscriptionGateway mutates provider subscriptions
type SubscriptionGateway interface {
	CancelSubscription(ctx context.Context, stripeSubscriptionID string) error

	// EnsureSubscribedToPrice adds price to the subscription unless an item already carries it
	EnsureSubscribedToPrice(ctx context.Context, stripeSubscriptionID string, price *domainBilling.Price) error

	// SubscribeToFreePlan creates a free-plan subscription for the customer
	SubscribeToFreePlan(ctx context.Context, stripeCustomerID string) error
}

// UsageBiller reports metered usage to the provider
type UsageBiller interface {
	ReportMeteredUsage(ctx context.Context, stripeCustomerID, meterEventName string, quantity int64) error
}

// PriceCatalog classifies subscriptions and resolves prices
type PriceCatalog interface {
	// ClassifySubscription returns the kind of a snapshot, or nil if it matches no known plan
	ClassifySubscription(snapshot *domainBilling.ProviderSubscription) *domainBilling.SubscriptionKind

	FindPriceByLookupKey(ctx context.Context, lookupKey string) (*domainBilling.Price, error)
}

// Notifier pushes best-effort notifications to the rest of the system.
// Calls must not wait on delivery; an error means the notification was dropped.
type Notifier interface {
	NotifyPlanChanged(ctx context.Context, accountID uuid.UUID) error
	NotifyRefreshCredentials(ctx context.Context, accountID uuid.UUID) error
}

// MetricsRecorder records reconciliation outcomes
type MetricsRecorder interface {
	ObserveEvent(eventType domainBilling.EventType, outcome string)
	ObserveUsageReport(meterEventName string, outcome string)
	ObserveSyncDuration(job string, d time.Duration)
}

// Event and usage report outcomes
const (
	OutcomeHandled = "handled"
	OutcomeStale   = "stale"
	OutcomeFailed  = "failed"
	OutcomeIgnored = "ignored"
	OutcomeSuccess = "success"
)

type nopMetrics struct{}

func (nopMetrics) ObserveEvent(domainBilling.EventType, string) {}
func (nopMetrics) ObserveUsageReport(string, string)            {}
func (nopMetrics) ObserveSyncDuration(string, time.Duration)    {}

type nopNotifier struct{}

func (nopNotifier) NotifyPlanChanged(context.Context, uuid.UUID) error        { return nil }
func (nopNotifier) NotifyRefreshCredentials(context.Context, uuid.UUID) error { return nil }
