package billing

import (
	"time"

	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/google/uuid"
)

// Customer is the billing identity of a local account.
// There is at most one Customer per account and StripeCustomerID maps back to at most one Customer.
type Customer struct {
	shared.BaseEntity
	AccountID          uuid.UUID  // Local account this customer bills
	StripeCustomerID   string     // Provider customer ID, immutable once set
	TrialStartedAt     *time.Time // Set at most once, never cleared
	HasOverdueInvoices bool       // Set on payment-failure cancellation, never cleared here
}

// NewCustomer creates a new billing customer bound to an account
func NewCustomer(accountID uuid.UUID, stripeCustomerID string) (*Customer, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ACCOUNT", "Account ID cannot be empty")
	}
	if stripeCustomerID == "" {
		return nil, shared.NewDomainError("INVALID_CUSTOMER", "Provider customer ID cannot be empty")
	}

	return &Customer{
		BaseEntity:       shared.NewBaseEntity(),
		AccountID:        accountID,
		StripeCustomerID: stripeCustomerID,
	}, nil
}

// StartTrial records the start of the customer's first trial.
// Returns false without changes if a trial start was already recorded.
func (c *Customer) StartTrial(startedAt time.Time) bool {
	if c.TrialStartedAt != nil {
		return false
	}
	t := startedAt.UTC()
	c.TrialStartedAt = &t
	c.Touch()
	return true
}

// FlagOverdueInvoices marks the customer as having unpaid invoices.
// Returns false if the flag was already set.
func (c *Customer) FlagOverdueInvoices() bool {
	if c.HasOverdueInvoices {
		return false
	}
	c.HasOverdueInvoices = true
	c.Touch()
	return true
}
