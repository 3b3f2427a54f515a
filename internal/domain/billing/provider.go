package billing

import "time"

// ProviderEvent is an event read from the provider's event log.
// Exactly one of Customer or Subscription is set for reconciled types whose
// payload decoded cleanly; both are nil for unknown or malformed payloads.
type ProviderEvent struct {
	ID           string
	Type         EventType
	Created      int64 // unix seconds
	Customer     *ProviderCustomer
	Subscription *ProviderSubscription
}

// CreatedTime returns the event creation time
func (e *ProviderEvent) CreatedTime() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// IsOlderThan reports whether the event was created more than horizon before now
func (e *ProviderEvent) IsOlderThan(horizon time.Duration, now time.Time) bool {
	return now.Add(-horizon).Unix() > e.Created
}

// ProviderCustomer is a provider customer snapshot
type ProviderCustomer struct {
	ID    string
	Email string // empty when the provider has no email on file
}

// ProviderSubscriptionItem is a single price line of a provider subscription
type ProviderSubscriptionItem struct {
	ID             string
	PriceID        string
	PriceLookupKey string
}

// ProviderSubscription is a provider subscription snapshot
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             SubscriptionStatus
	CancelAt           *time.Time
	CancellationReason *CancellationReason
	PeriodStart        int64 // unix seconds, zero when absent
	PeriodEnd          int64 // unix seconds, zero when absent
	Items              []ProviderSubscriptionItem
}

// HasPrice reports whether any item of the subscription carries priceID
func (s *ProviderSubscription) HasPrice(priceID string) bool {
	for _, item := range s.Items {
		if item.PriceID == priceID {
			return true
		}
	}
	return false
}

// CanceledDueToPaymentFailure reports whether the provider canceled the subscription
// because a payment failed
func (s *ProviderSubscription) CanceledDueToPaymentFailure() bool {
	return s.Status == SubscriptionStatusCanceled &&
		s.CancellationReason != nil &&
		*s.CancellationReason == CancellationReasonPaymentFailed
}

// Price is a provider price resolved from the catalog
type Price struct {
	ID        string
	LookupKey string
}
