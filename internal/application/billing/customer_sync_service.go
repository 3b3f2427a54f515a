package billing

import (
	"context"
	"fmt"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CustomerSyncService re-syncs every provider subscription of one customer on demand
type CustomerSyncService struct {
	customers    domainBilling.CustomerRepository
	provider     CustomerSource
	synchronizer *SubscriptionSynchronizer
	notifier     Notifier
	logger       *zap.Logger
}

// NewCustomerSyncService creates a new customer sync service
func NewCustomerSyncService(
	customers domainBilling.CustomerRepository,
	provider CustomerSource,
	synchronizer *SubscriptionSynchronizer,
	notifier Notifier,
	logger *zap.Logger,
) *CustomerSyncService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &CustomerSyncService{
		customers:    customers,
		provider:     provider,
		synchronizer: synchronizer,
		notifier:     notifier,
		logger:       logger,
	}
}

// SyncCustomerSubscriptions lists the account's subscriptions at the provider and
// syncs each one. It stops at the first failing subscription and returns the
// provider customer ID on success.
func (s *CustomerSyncService) SyncCustomerSubscriptions(ctx context.Context, accountID uuid.UUID) (string, error) {
	customer, err := s.customers.FindByAccountID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("failed to find billing customer: %w", err)
	}
	if customer == nil {
		return "", fmt.Errorf("billing customer for account %s: %w", accountID, shared.ErrNotFound)
	}

	subscriptions, err := s.provider.ListSubscriptionsForCustomer(ctx, customer.StripeCustomerID)
	if err != nil {
		return "", fmt.Errorf("failed to list provider subscriptions: %w", err)
	}

	for _, snapshot := range subscriptions {
		if _, err := s.synchronizer.Sync(ctx, snapshot); err != nil {
			return "", fmt.Errorf("failed to sync subscription %s for account %s: %w", snapshot.ID, accountID, err)
		}
	}

	if len(subscriptions) > 0 {
		notifyAccount(ctx, s.notifier, s.logger, accountID)
	}

	s.logger.Info("Synced customer subscriptions",
		zap.String("account_id", accountID.String()),
		zap.String("stripe_customer_id", customer.StripeCustomerID),
		zap.Int("subscriptions", len(subscriptions)))

	return customer.StripeCustomerID, nil
}
