package billing

import (
	"context"
	"fmt"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"go.uber.org/zap"
)

// CustomerEventHandler binds provider customers to local accounts on
// customer.created and customer.updated events
type CustomerEventHandler struct {
	accounts  domainBilling.AccountRepository
	customers domainBilling.CustomerRepository
	logger    *zap.Logger
}

// NewCustomerEventHandler creates a new customer event handler
func NewCustomerEventHandler(
	accounts domainBilling.AccountRepository,
	customers domainBilling.CustomerRepository,
	logger *zap.Logger,
) *CustomerEventHandler {
	return &CustomerEventHandler{
		accounts:  accounts,
		customers: customers,
		logger:    logger,
	}
}

// Handle creates a Customer for the account matching the provider customer's email.
// Customers without an email or without a matching account are skipped, and an
// already-known provider customer is left unchanged.
func (h *CustomerEventHandler) Handle(ctx context.Context, event *domainBilling.ProviderEvent) error {
	if event.Customer == nil {
		return fmt.Errorf("%w for %s", ErrUnexpectedPayload, event.ID)
	}
	providerCustomer := event.Customer
	log := h.logger.With(
		zap.String("event_id", event.ID),
		zap.String("stripe_customer_id", providerCustomer.ID),
	)

	if providerCustomer.Email == "" {
		log.Info("Provider customer has no email, skipping")
		return nil
	}

	account, err := h.accounts.FindByEmail(ctx, providerCustomer.Email)
	if err != nil {
		return fmt.Errorf("failed to find account by email: %w", err)
	}
	if account == nil {
		log.Info("No account found for provider customer email, skipping")
		return nil
	}

	existing, err := h.customers.FindByStripeCustomerID(ctx, providerCustomer.ID)
	if err != nil {
		return fmt.Errorf("failed to find billing customer: %w", err)
	}
	if existing != nil {
		// Customer identity fields are not expected to change.
		log.Debug("Billing customer already exists, nothing to refresh",
			zap.String("customer_id", existing.ID.String()))
		return nil
	}

	bound, err := h.customers.FindByAccountID(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("failed to find billing customer for account: %w", err)
	}
	if bound != nil {
		log.Info("Account is already bound to another provider customer, skipping",
			zap.String("account_id", account.ID.String()),
			zap.String("bound_stripe_customer_id", bound.StripeCustomerID))
		return nil
	}

	customer, err := domainBilling.NewCustomer(account.ID, providerCustomer.ID)
	if err != nil {
		return err
	}
	if err := h.customers.Create(ctx, customer); err != nil {
		return fmt.Errorf("failed to create billing customer: %w", err)
	}

	log.Info("Created billing customer",
		zap.String("customer_id", customer.ID.String()),
		zap.String("account_id", account.ID.String()))
	return nil
}
