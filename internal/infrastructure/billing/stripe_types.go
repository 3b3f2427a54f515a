package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/stripe/stripe-go/v81"
)

// ErrPriceNotFound is returned when no active price carries a lookup key
var ErrPriceNotFound = errors.New("stripe: price not found")

// toProviderEvent maps a Stripe event, decoding the payload of reconciled event types.
// The payload stays nil when it cannot be decoded.
func toProviderEvent(evt *stripe.Event) (*domainBilling.ProviderEvent, error) {
	out := &domainBilling.ProviderEvent{
		ID:      evt.ID,
		Type:    domainBilling.NormalizeEventType(string(evt.Type)),
		Created: evt.Created,
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return out, nil
	}

	switch {
	case out.Type.IsCustomerEvent():
		var cust stripe.Customer
		if err := json.Unmarshal(evt.Data.Raw, &cust); err != nil {
			return out, fmt.Errorf("stripe: failed to decode customer of event %s: %w", evt.ID, err)
		}
		out.Customer = toProviderCustomer(&cust)
	case out.Type.IsSubscriptionEvent():
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return out, fmt.Errorf("stripe: failed to decode subscription of event %s: %w", evt.ID, err)
		}
		out.Subscription = toProviderSubscription(&sub)
	}
	return out, nil
}

func toProviderCustomer(cust *stripe.Customer) *domainBilling.ProviderCustomer {
	return &domainBilling.ProviderCustomer{
		ID:    cust.ID,
		Email: cust.Email,
	}
}

func toProviderSubscription(sub *stripe.Subscription) *domainBilling.ProviderSubscription {
	out := &domainBilling.ProviderSubscription{
		ID:          sub.ID,
		Status:      mapStripeSubscriptionStatus(sub.Status),
		PeriodStart: sub.CurrentPeriodStart,
		PeriodEnd:   sub.CurrentPeriodEnd,
	}

	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	if sub.CancelAt > 0 {
		t := time.Unix(sub.CancelAt, 0).UTC()
		out.CancelAt = &t
	}

	if sub.CancellationDetails != nil && sub.CancellationDetails.Reason != "" {
		reason := domainBilling.CancellationReason(sub.CancellationDetails.Reason)
		if reason.IsValid() {
			out.CancellationReason = &reason
		}
	}

	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			out.Items = append(out.Items, domainBilling.ProviderSubscriptionItem{
				ID:             item.ID,
				PriceID:        item.Price.ID,
				PriceLookupKey: item.Price.LookupKey,
			})
		}
	}

	return out
}

// mapStripeSubscriptionStatus maps Stripe subscription status to our internal status
func mapStripeSubscriptionStatus(status stripe.SubscriptionStatus) domainBilling.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return domainBilling.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue:
		return domainBilling.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return domainBilling.SubscriptionStatusCanceled
	case stripe.SubscriptionStatusIncomplete:
		return domainBilling.SubscriptionStatusIncomplete
	case stripe.SubscriptionStatusIncompleteExpired:
		return domainBilling.SubscriptionStatusIncompleteExpired
	case stripe.SubscriptionStatusTrialing:
		return domainBilling.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusUnpaid:
		return domainBilling.SubscriptionStatusUnpaid
	case stripe.SubscriptionStatusPaused:
		return domainBilling.SubscriptionStatusPaused
	default:
		return domainBilling.SubscriptionStatus(status)
	}
}

func toPrice(p *stripe.Price) *domainBilling.Price {
	return &domainBilling.Price{
		ID:        p.ID,
		LookupKey: p.LookupKey,
	}
}
