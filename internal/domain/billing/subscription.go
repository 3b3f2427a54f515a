package billing

import (
	"time"

	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/google/uuid"
)

// SubscriptionKind classifies a subscription by the plan it grants
type SubscriptionKind string

const (
	// SubscriptionKindFree is the base free plan every customer falls back to
	SubscriptionKindFree SubscriptionKind = "free"

	// SubscriptionKindPaid is the base paid plan
	SubscriptionKindPaid SubscriptionKind = "paid"

	// SubscriptionKindTrial is a trial of the paid plan
	SubscriptionKindTrial SubscriptionKind = "trial"
)

// String returns the string representation of SubscriptionKind
func (k SubscriptionKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is one of the known kinds
func (k SubscriptionKind) IsValid() bool {
	switch k {
	case SubscriptionKindFree, SubscriptionKindPaid, SubscriptionKindTrial:
		return true
	default:
		return false
	}
}

// SubscriptionStatus is the provider lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// AllSubscriptionStatuses returns every status the provider can report
func AllSubscriptionStatuses() []SubscriptionStatus {
	return []SubscriptionStatus{
		SubscriptionStatusIncomplete,
		SubscriptionStatusIncompleteExpired,
		SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusCanceled,
		SubscriptionStatusUnpaid,
		SubscriptionStatusPaused,
	}
}

// String returns the string representation of SubscriptionStatus
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is part of the provider vocabulary
func (s SubscriptionStatus) IsValid() bool {
	for _, status := range AllSubscriptionStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// IsActive returns true if the subscription is in an active state
func (s SubscriptionStatus) IsActive() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// EndsService returns true for the statuses after which the customer needs a fallback plan
func (s SubscriptionStatus) EndsService() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusPaused
}

// CancellationReason is the provider-reported reason for a cancellation
type CancellationReason string

const (
	CancellationReasonRequested       CancellationReason = "cancellation_requested"
	CancellationReasonPaymentDisputed CancellationReason = "payment_disputed"
	CancellationReasonPaymentFailed   CancellationReason = "payment_failed"
)

// String returns the string representation of CancellationReason
func (r CancellationReason) String() string {
	return string(r)
}

// IsValid returns true if the reason is known
func (r CancellationReason) IsValid() bool {
	switch r {
	case CancellationReasonRequested, CancellationReasonPaymentDisputed, CancellationReasonPaymentFailed:
		return true
	default:
		return false
	}
}

// Subscription is the local mirror of a provider subscription.
// StripeSubscriptionID is the reconciliation key: updates are keyed by it and
// at most one row exists per provider subscription.
type Subscription struct {
	shared.BaseEntity
	CustomerID           uuid.UUID           // Owning Customer
	Kind                 *SubscriptionKind   // nil when the price catalog could not classify it
	StripeSubscriptionID string              // Provider subscription ID (unique)
	Status               SubscriptionStatus  // Provider lifecycle state
	CancelAt             *time.Time          // Scheduled or actual cancellation time
	CancellationReason   *CancellationReason // Why the provider canceled it
	PeriodStart          *int64              // Current billing period start (unix seconds)
	PeriodEnd            *int64              // Current billing period end (unix seconds)
}

// NewSubscriptionFromSnapshot creates a new local subscription for a provider snapshot
func NewSubscriptionFromSnapshot(customerID uuid.UUID, kind *SubscriptionKind, snapshot *ProviderSubscription) (*Subscription, error) {
	if customerID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CUSTOMER", "Customer ID cannot be empty")
	}
	if snapshot == nil || snapshot.ID == "" {
		return nil, shared.NewDomainError("INVALID_SUBSCRIPTION", "Provider subscription ID cannot be empty")
	}
	if !snapshot.Status.IsValid() {
		return nil, shared.NewDomainError("INVALID_STATUS", "Unknown subscription status: "+snapshot.Status.String())
	}

	sub := &Subscription{
		BaseEntity:           shared.NewBaseEntity(),
		CustomerID:           customerID,
		StripeSubscriptionID: snapshot.ID,
	}
	sub.applySnapshot(kind, snapshot)
	return sub, nil
}

// ApplySnapshot overwrites the provider-owned fields with the snapshot's values
// and re-points the subscription to customerID.
func (s *Subscription) ApplySnapshot(customerID uuid.UUID, kind *SubscriptionKind, snapshot *ProviderSubscription) error {
	if snapshot == nil || snapshot.ID != s.StripeSubscriptionID {
		return shared.NewDomainError("SUBSCRIPTION_MISMATCH", "Snapshot does not belong to this subscription")
	}
	if !snapshot.Status.IsValid() {
		return shared.NewDomainError("INVALID_STATUS", "Unknown subscription status: "+snapshot.Status.String())
	}
	s.CustomerID = customerID
	s.applySnapshot(kind, snapshot)
	s.Touch()
	return nil
}

// MarkCanceled sets the local status to canceled without waiting for the provider event.
func (s *Subscription) MarkCanceled() {
	s.Status = SubscriptionStatusCanceled
	s.Touch()
}

func (s *Subscription) applySnapshot(kind *SubscriptionKind, snapshot *ProviderSubscription) {
	s.Kind = kind
	s.Status = snapshot.Status
	s.CancelAt = snapshot.CancelAt
	s.CancellationReason = snapshot.CancellationReason
	start, end := snapshot.PeriodStart, snapshot.PeriodEnd
	s.PeriodStart = &start
	s.PeriodEnd = &end
}

// IsActive returns true if the subscription status is active
func (s *Subscription) IsActive() bool {
	return s.Status.IsActive()
}

// HasKind reports whether the subscription was classified as kind
func (s *Subscription) HasKind(kind SubscriptionKind) bool {
	return s.Kind != nil && *s.Kind == kind
}
