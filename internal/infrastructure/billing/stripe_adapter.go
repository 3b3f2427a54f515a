package billing

import (
	"context"
	"fmt"
	"strconv"

	billingapp "github.com/erp/reconciler/internal/application/billing"
	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/billing/meterevent"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/event"
	"github.com/stripe/stripe-go/v81/price"
	"github.com/stripe/stripe-go/v81/subscription"
	"github.com/stripe/stripe-go/v81/subscriptionitem"
	"go.uber.org/zap"
)

// StripeAdapter implements the provider ports of the reconciliation engine on top of the Stripe API
type StripeAdapter struct {
	config *StripeConfig
	logger *zap.Logger
}

// NewStripeAdapter creates a new Stripe adapter
func NewStripeAdapter(config *StripeConfig, logger *zap.Logger) (*StripeAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Initialize Stripe client
	config.InitStripeClient()

	return &StripeAdapter{
		config: config,
		logger: logger,
	}, nil
}

// ListEvents fetches a single page of events of the given types, newest first
func (a *StripeAdapter) ListEvents(
	ctx context.Context,
	types []domainBilling.EventType,
	startingAfter string,
	limit int64,
) (*billingapp.EventPage, error) {
	a.logger.Debug("Listing Stripe events",
		zap.String("starting_after", startingAfter),
		zap.Int64("limit", limit))

	params := &stripe.EventListParams{}
	for _, t := range types {
		params.Types = append(params.Types, stripe.String(t.String()))
	}
	params.Limit = stripe.Int64(limit)
	params.Single = true
	params.Context = ctx
	if startingAfter != "" {
		params.StartingAfter = stripe.String(startingAfter)
	}

	page := &billingapp.EventPage{}
	iter := event.List(params)
	for iter.Next() {
		evt, err := toProviderEvent(iter.Event())
		if err != nil {
			// Kept with an empty payload so the handler rejects it and the event is retried.
			a.logger.Warn("Failed to decode Stripe event payload",
				zap.String("event_id", evt.ID),
				zap.Error(err))
		}
		page.Events = append(page.Events, evt)
	}

	if err := iter.Err(); err != nil {
		a.logger.Error("Failed to list Stripe events", zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to list events: %w", err)
	}

	if meta := iter.Meta(); meta != nil {
		page.HasMore = meta.HasMore
	}

	return page, nil
}

// GetCustomer retrieves a customer from Stripe
func (a *StripeAdapter) GetCustomer(ctx context.Context, customerID string) (*domainBilling.ProviderCustomer, error) {
	a.logger.Debug("Getting Stripe customer", zap.String("customer_id", customerID))

	params := &stripe.CustomerParams{}
	params.Context = ctx

	cust, err := customer.Get(customerID, params)
	if err != nil {
		a.logger.Error("Failed to get Stripe customer",
			zap.String("customer_id", customerID),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to get customer: %w", err)
	}

	return toProviderCustomer(cust), nil
}

// ListSubscriptionsForCustomer lists every subscription of a customer, including canceled ones
func (a *StripeAdapter) ListSubscriptionsForCustomer(ctx context.Context, customerID string) ([]*domainBilling.ProviderSubscription, error) {
	a.logger.Debug("Listing Stripe subscriptions", zap.String("customer_id", customerID))

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	var subscriptions []*domainBilling.ProviderSubscription
	iter := subscription.List(params)
	for iter.Next() {
		subscriptions = append(subscriptions, toProviderSubscription(iter.Subscription()))
	}

	if err := iter.Err(); err != nil {
		a.logger.Error("Failed to list Stripe subscriptions",
			zap.String("customer_id", customerID),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to list subscriptions: %w", err)
	}

	return subscriptions, nil
}

// CancelSubscription cancels a subscription immediately
func (a *StripeAdapter) CancelSubscription(ctx context.Context, subscriptionID string) error {
	a.logger.Debug("Canceling Stripe subscription", zap.String("subscription_id", subscriptionID))

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	sub, err := subscription.Cancel(subscriptionID, params)
	if err != nil {
		a.logger.Error("Failed to cancel Stripe subscription",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
		return fmt.Errorf("stripe: failed to cancel subscription: %w", err)
	}

	a.logger.Info("Canceled Stripe subscription",
		zap.String("subscription_id", sub.ID),
		zap.String("status", string(sub.Status)))
	return nil
}

// EnsureSubscribedToPrice adds a subscription item for p unless the subscription already has one
func (a *StripeAdapter) EnsureSubscribedToPrice(ctx context.Context, subscriptionID string, p *domainBilling.Price) error {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return fmt.Errorf("stripe: failed to get subscription: %w", err)
	}
	if toProviderSubscription(sub).HasPrice(p.ID) {
		return nil
	}

	itemParams := &stripe.SubscriptionItemParams{
		Subscription: stripe.String(subscriptionID),
		Price:        stripe.String(p.ID),
	}
	itemParams.Context = ctx

	item, err := subscriptionitem.New(itemParams)
	if err != nil {
		a.logger.Error("Failed to add price to Stripe subscription",
			zap.String("subscription_id", subscriptionID),
			zap.String("price_id", p.ID),
			zap.Error(err))
		return fmt.Errorf("stripe: failed to add subscription item: %w", err)
	}

	a.logger.Info("Subscribed Stripe subscription to price",
		zap.String("subscription_id", subscriptionID),
		zap.String("price_id", p.ID),
		zap.String("subscription_item_id", item.ID))
	return nil
}

// SubscribeToFreePlan creates a free-plan subscription for the customer
func (a *StripeAdapter) SubscribeToFreePlan(ctx context.Context, customerID string) error {
	freePrice, err := a.FindPriceByLookupKey(ctx, a.config.FreePriceLookupKey)
	if err != nil {
		return err
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price: stripe.String(freePrice.ID),
			},
		},
	}
	params.Context = ctx

	sub, err := subscription.New(params)
	if err != nil {
		a.logger.Error("Failed to create Stripe free plan subscription",
			zap.String("customer_id", customerID),
			zap.Error(err))
		return fmt.Errorf("stripe: failed to create subscription: %w", err)
	}

	a.logger.Info("Created Stripe free plan subscription",
		zap.String("customer_id", customerID),
		zap.String("subscription_id", sub.ID))
	return nil
}

// ReportMeteredUsage sends a billing meter event carrying quantity for the customer
func (a *StripeAdapter) ReportMeteredUsage(ctx context.Context, customerID, meterEventName string, quantity int64) error {
	if quantity < 0 {
		return fmt.Errorf("stripe: quantity cannot be negative")
	}

	params := &stripe.BillingMeterEventParams{
		EventName: stripe.String(meterEventName),
		Payload: map[string]string{
			"stripe_customer_id": customerID,
			"value":              strconv.FormatInt(quantity, 10),
		},
	}
	params.Context = ctx

	if _, err := meterevent.New(params); err != nil {
		return fmt.Errorf("stripe: failed to create meter event: %w", err)
	}

	a.logger.Debug("Reported Stripe meter event",
		zap.String("customer_id", customerID),
		zap.String("event_name", meterEventName),
		zap.Int64("quantity", quantity))
	return nil
}

// FindPriceByLookupKey returns the active price carrying lookupKey
func (a *StripeAdapter) FindPriceByLookupKey(ctx context.Context, lookupKey string) (*domainBilling.Price, error) {
	params := &stripe.PriceListParams{
		LookupKeys: stripe.StringSlice([]string{lookupKey}),
		Active:     stripe.Bool(true),
	}
	params.Limit = stripe.Int64(1)
	params.Single = true
	params.Context = ctx

	iter := price.List(params)
	if iter.Next() {
		return toPrice(iter.Price()), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe: failed to list prices: %w", err)
	}
	return nil, fmt.Errorf("%w: lookup key %s", ErrPriceNotFound, lookupKey)
}
