package billing

import (
	"context"
	"fmt"
	"time"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"go.uber.org/zap"
)

// SubscriptionSynchronizerDeps groups the collaborators of the synchronizer
type SubscriptionSynchronizerDeps struct {
	Accounts      domainBilling.AccountRepository
	Customers     domainBilling.CustomerRepository
	Subscriptions domainBilling.SubscriptionRepository
	Transactor    domainBilling.SubscriptionTransactor
	Provider      CustomerSource
	Gateway       SubscriptionGateway
	Catalog       PriceCatalog
	Logger        *zap.Logger
}

// SubscriptionSynchronizer reconciles local Customer and Subscription rows with a
// provider subscription snapshot. Applying the same snapshot twice converges to
// the same local state.
type SubscriptionSynchronizer struct {
	accounts      domainBilling.AccountRepository
	customers     domainBilling.CustomerRepository
	subscriptions domainBilling.SubscriptionRepository
	transactor    domainBilling.SubscriptionTransactor
	provider      CustomerSource
	gateway       SubscriptionGateway
	catalog       PriceCatalog
	logger        *zap.Logger
}

// NewSubscriptionSynchronizer creates a new subscription synchronizer
func NewSubscriptionSynchronizer(deps SubscriptionSynchronizerDeps) *SubscriptionSynchronizer {
	return &SubscriptionSynchronizer{
		accounts:      deps.Accounts,
		customers:     deps.Customers,
		subscriptions: deps.Subscriptions,
		transactor:    deps.Transactor,
		provider:      deps.Provider,
		gateway:       deps.Gateway,
		catalog:       deps.Catalog,
		logger:        deps.Logger,
	}
}

// Sync applies snapshot to local state and returns the resolved customer.
func (s *SubscriptionSynchronizer) Sync(ctx context.Context, snapshot *domainBilling.ProviderSubscription) (*domainBilling.Customer, error) {
	kind := s.catalog.ClassifySubscription(snapshot)

	customer, err := s.FindOrCreateCustomer(ctx, snapshot.CustomerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotResolved, snapshot.CustomerID)
	}

	log := s.logger.With(
		zap.String("stripe_subscription_id", snapshot.ID),
		zap.String("stripe_customer_id", customer.StripeCustomerID),
		zap.String("account_id", customer.AccountID.String()),
	)

	if err := s.updateCustomerFlags(ctx, customer, kind, snapshot); err != nil {
		return nil, err
	}

	existing, err := s.subscriptions.FindByStripeSubscriptionID(ctx, snapshot.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}

	if existing != nil {
		if err := existing.ApplySnapshot(customer.ID, kind, snapshot); err != nil {
			return nil, err
		}
		if err := s.subscriptions.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update subscription: %w", err)
		}
		log.Info("Updated subscription", zap.String("status", snapshot.Status.String()))
	} else {
		created, err := s.createSubscription(ctx, log, customer, kind, snapshot)
		if err != nil {
			return nil, err
		}
		if !created {
			return customer, nil
		}
	}

	if snapshot.Status.EndsService() {
		if err := s.ensureFallbackPlan(ctx, log, customer); err != nil {
			return nil, err
		}
	}

	return customer, nil
}

// FindOrCreateCustomer returns the local customer of a provider customer, creating it
// from the provider's customer record when needed. Returns (nil, nil) when the provider
// customer has no email or no account matches it.
func (s *SubscriptionSynchronizer) FindOrCreateCustomer(ctx context.Context, stripeCustomerID string) (*domainBilling.Customer, error) {
	customer, err := s.customers.FindByStripeCustomerID(ctx, stripeCustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find billing customer: %w", err)
	}
	if customer != nil {
		return customer, nil
	}

	providerCustomer, err := s.provider.GetCustomer(ctx, stripeCustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get provider customer: %w", err)
	}
	if providerCustomer.Email == "" {
		return nil, nil
	}

	account, err := s.accounts.FindByEmail(ctx, providerCustomer.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	if account == nil {
		return nil, nil
	}

	bound, err := s.customers.FindByAccountID(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find billing customer for account: %w", err)
	}
	if bound != nil {
		return nil, fmt.Errorf("account %s is already bound to provider customer %s",
			account.ID, bound.StripeCustomerID)
	}

	customer, err = domainBilling.NewCustomer(account.ID, providerCustomer.ID)
	if err != nil {
		return nil, err
	}
	if err := s.customers.Create(ctx, customer); err != nil {
		return nil, fmt.Errorf("failed to create billing customer: %w", err)
	}

	s.logger.Info("Created billing customer from provider record",
		zap.String("stripe_customer_id", stripeCustomerID),
		zap.String("account_id", account.ID.String()))
	return customer, nil
}

// updateCustomerFlags records the first trial start and payment-failure cancellations
func (s *SubscriptionSynchronizer) updateCustomerFlags(
	ctx context.Context,
	customer *domainBilling.Customer,
	kind *domainBilling.SubscriptionKind,
	snapshot *domainBilling.ProviderSubscription,
) error {
	changed := false

	isTrial := kind != nil && *kind == domainBilling.SubscriptionKindTrial
	if isTrial && snapshot.Status == domainBilling.SubscriptionStatusTrialing && customer.TrialStartedAt == nil {
		if snapshot.PeriodStart == 0 {
			return fmt.Errorf("%w: %s", ErrMissingPeriodStart, snapshot.ID)
		}
		changed = customer.StartTrial(time.Unix(snapshot.PeriodStart, 0)) || changed
	}

	if snapshot.CanceledDueToPaymentFailure() {
		changed = customer.FlagOverdueInvoices() || changed
	}

	if !changed {
		return nil
	}
	if err := s.customers.Update(ctx, customer); err != nil {
		return fmt.Errorf("failed to update billing customer: %w", err)
	}
	return nil
}

// createSubscription creates the local row for a new provider subscription.
// Returns false when creation was skipped because the account already holds
// another active subscription.
func (s *SubscriptionSynchronizer) createSubscription(
	ctx context.Context,
	log *zap.Logger,
	customer *domainBilling.Customer,
	kind *domainBilling.SubscriptionKind,
	snapshot *domainBilling.ProviderSubscription,
) (bool, error) {
	active, err := s.subscriptions.FindActiveByAccountID(ctx, customer.AccountID)
	if err != nil {
		return false, fmt.Errorf("failed to find active subscription: %w", err)
	}

	if active != nil {
		isTrial := kind != nil && *kind == domainBilling.SubscriptionKindTrial
		if !active.HasKind(domainBilling.SubscriptionKindFree) || !isTrial {
			// Accepted race: if a cancellation of the active subscription is applied
			// after this event, the account is left without a subscription.
			log.Info("Account already has an active subscription, skipping creation",
				zap.String("active_stripe_subscription_id", active.StripeSubscriptionID))
			return false, nil
		}

		if err := s.gateway.CancelSubscription(ctx, active.StripeSubscriptionID); err != nil {
			return false, fmt.Errorf("failed to cancel free subscription %s: %w", active.StripeSubscriptionID, err)
		}
	}

	sub, err := domainBilling.NewSubscriptionFromSnapshot(customer.ID, kind, snapshot)
	if err != nil {
		return false, err
	}

	// The free row's cancel and the trial row's create commit together.
	err = s.transactor.WithinTransaction(ctx, func(subscriptions domainBilling.SubscriptionRepository) error {
		if active != nil {
			active.MarkCanceled()
			if err := subscriptions.Update(ctx, active); err != nil {
				return fmt.Errorf("failed to update canceled free subscription: %w", err)
			}
		}
		if err := subscriptions.Create(ctx, sub); err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if active != nil {
		log.Info("Canceled free subscription in favor of trial",
			zap.String("free_stripe_subscription_id", active.StripeSubscriptionID))
	}
	log.Info("Created subscription",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("status", snapshot.Status.String()))
	return true, nil
}

// ensureFallbackPlan enrolls the customer in the free plan when no active subscription remains
func (s *SubscriptionSynchronizer) ensureFallbackPlan(ctx context.Context, log *zap.Logger, customer *domainBilling.Customer) error {
	hasActive, err := s.subscriptions.HasActiveByAccountID(ctx, customer.AccountID)
	if err != nil {
		return fmt.Errorf("failed to check active subscriptions: %w", err)
	}
	if hasActive {
		return nil
	}

	if err := s.gateway.SubscribeToFreePlan(ctx, customer.StripeCustomerID); err != nil {
		return fmt.Errorf("failed to subscribe customer to free plan: %w", err)
	}
	log.Info("Subscribed customer to free plan")
	return nil
}
