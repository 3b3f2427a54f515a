package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CustomerRepository persists billing customers.
// Find methods return (nil, nil) when nothing matches.
type CustomerRepository interface {
	// FindByID retrieves a customer by its local ID
	FindByID(ctx context.Context, id uuid.UUID) (*Customer, error)

	// FindByStripeCustomerID retrieves a customer by provider customer ID
	FindByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*Customer, error)

	// FindByAccountID retrieves the customer of an account
	FindByAccountID(ctx context.Context, accountID uuid.UUID) (*Customer, error)

	// Create persists a new customer
	Create(ctx context.Context, customer *Customer) error

	// Update persists changes to the mutable fields of a customer
	Update(ctx context.Context, customer *Customer) error
}

// SubscriptionRepository persists local subscriptions
type SubscriptionRepository interface {
	// FindByStripeSubscriptionID retrieves a subscription by provider subscription ID
	FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)

	// FindActiveByAccountID retrieves the active subscription of an account, if any
	FindActiveByAccountID(ctx context.Context, accountID uuid.UUID) (*Subscription, error)

	// HasActiveByAccountID reports whether the account has any active subscription
	HasActiveByAccountID(ctx context.Context, accountID uuid.UUID) (bool, error)

	// FindActiveByKind returns active subscriptions of a kind joined with their customers
	FindActiveByKind(ctx context.Context, kind SubscriptionKind) ([]*CustomerSubscription, error)

	// Create persists a new subscription
	Create(ctx context.Context, subscription *Subscription) error

	// Update persists changes to an existing subscription
	Update(ctx context.Context, subscription *Subscription) error
}

// CustomerSubscription pairs a subscription with the customer that owns it
type CustomerSubscription struct {
	Customer     *Customer
	Subscription *Subscription
}

// SubscriptionTransactor runs fn with a SubscriptionRepository bound to one
// transaction. Writes made through it commit together or not at all.
type SubscriptionTransactor interface {
	WithinTransaction(ctx context.Context, fn func(subscriptions SubscriptionRepository) error) error
}

// ProcessedEventRepository is the processed-event ledger. Entries are never updated or deleted.
type ProcessedEventRepository interface {
	// FindProcessedIDs returns the subset of eventIDs already present in the ledger
	FindProcessedIDs(ctx context.Context, eventIDs []string) (map[string]struct{}, error)

	// Create writes a ledger entry; writing an existing event ID is a no-op
	Create(ctx context.Context, event *ProcessedEvent) error
}

// UsageMeterRepository reads per-model usage meters
type UsageMeterRepository interface {
	// FindCurrent returns every meter whose billing period contains at
	FindCurrent(ctx context.Context, at time.Time) ([]*UsageMeter, error)
}

// AccountRepository reads local accounts
type AccountRepository interface {
	// FindByEmail retrieves an account by email (case-insensitive)
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// FindByID retrieves an account by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// FindStaff returns every staff account
	FindStaff(ctx context.Context) ([]*Account, error)
}
