package billing

import (
	"context"
	"sync"
	"time"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
)

type priceFinder interface {
	FindPriceByLookupKey(ctx context.Context, lookupKey string) (*domainBilling.Price, error)
}

// priceCacheTTL bounds how long a resolved price is reused
const priceCacheTTL = 10 * time.Minute

type cachedPrice struct {
	price   *domainBilling.Price
	expires time.Time
}

// PriceCatalog classifies subscriptions by the lookup keys of their prices
// and caches prices resolved by lookup key.
type PriceCatalog struct {
	prices             priceFinder
	freePriceLookupKey string
	paidPriceLookupKey string

	mu    sync.Mutex
	cache map[string]cachedPrice
	ttl   time.Duration
	now   func() time.Time
}

// NewPriceCatalog creates a price catalog using the plan lookup keys of config
func NewPriceCatalog(prices priceFinder, config *StripeConfig) *PriceCatalog {
	return &PriceCatalog{
		prices:             prices,
		freePriceLookupKey: config.FreePriceLookupKey,
		paidPriceLookupKey: config.PaidPriceLookupKey,
		cache:              make(map[string]cachedPrice),
		ttl:                priceCacheTTL,
		now:                time.Now,
	}
}

// ClassifySubscription returns trial for a trialing paid-plan subscription, paid for any
// other paid-plan subscription, free for a free-plan subscription and nil otherwise.
// The paid plan wins when a subscription carries both prices.
func (c *PriceCatalog) ClassifySubscription(snapshot *domainBilling.ProviderSubscription) *domainBilling.SubscriptionKind {
	var hasPaid, hasFree bool
	for _, item := range snapshot.Items {
		switch item.PriceLookupKey {
		case c.paidPriceLookupKey:
			hasPaid = true
		case c.freePriceLookupKey:
			hasFree = true
		}
	}

	var kind domainBilling.SubscriptionKind
	switch {
	case hasPaid && snapshot.Status == domainBilling.SubscriptionStatusTrialing:
		kind = domainBilling.SubscriptionKindTrial
	case hasPaid:
		kind = domainBilling.SubscriptionKindPaid
	case hasFree:
		kind = domainBilling.SubscriptionKindFree
	default:
		return nil
	}
	return &kind
}

// FindPriceByLookupKey resolves a price through the provider. Found prices are
// reused until the cache TTL expires; errors are never cached.
func (c *PriceCatalog) FindPriceByLookupKey(ctx context.Context, lookupKey string) (*domainBilling.Price, error) {
	c.mu.Lock()
	entry, ok := c.cache[lookupKey]
	c.mu.Unlock()
	if ok && c.now().Before(entry.expires) {
		return entry.price, nil
	}

	p, err := c.prices.FindPriceByLookupKey(ctx, lookupKey)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[lookupKey] = cachedPrice{price: p, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return p, nil
}
