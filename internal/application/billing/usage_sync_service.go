package billing

import (
	"context"
	"fmt"
	"time"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ModelPrice maps a (model, mode) pair to its metered price and meter event name
type ModelPrice struct {
	Model          string
	Mode           domainBilling.CompletionMode
	LookupKey      string
	MeterEventName string
}

// DefaultModelPrices returns the billed model and mode combinations
func DefaultModelPrices() []ModelPrice {
	return []ModelPrice{
		{Model: "claude-opus-4", Mode: domainBilling.CompletionModeMax, LookupKey: "claude-opus-4-requests-max", MeterEventName: "claude_opus_4/requests/max"},
		{Model: "claude-opus-4", Mode: domainBilling.CompletionModeNormal, LookupKey: "claude-opus-4-requests", MeterEventName: "claude_opus_4/requests"},
		{Model: "claude-sonnet-4", Mode: domainBilling.CompletionModeMax, LookupKey: "claude-sonnet-4-requests-max", MeterEventName: "claude_sonnet_4/requests/max"},
		{Model: "claude-sonnet-4", Mode: domainBilling.CompletionModeNormal, LookupKey: "claude-sonnet-4-requests", MeterEventName: "claude_sonnet_4/requests"},
		{Model: "claude-3-7-sonnet", Mode: domainBilling.CompletionModeMax, LookupKey: "claude-3-7-sonnet-requests-max", MeterEventName: "claude_3_7_sonnet/requests/max"},
		{Model: "claude-3-7-sonnet", Mode: domainBilling.CompletionModeNormal, LookupKey: "claude-3-7-sonnet-requests", MeterEventName: "claude_3_7_sonnet/requests"},
		{Model: "claude-3-5-sonnet", Mode: domainBilling.CompletionModeNormal, LookupKey: "claude-3-5-sonnet-requests", MeterEventName: "claude_3_5_sonnet/requests"},
	}
}

// WithLookupKeyOverrides returns prices with lookup keys replaced where overrides has
// an entry for "<model>/<mode>". Keys naming a pair outside prices are rejected.
func WithLookupKeyOverrides(prices []ModelPrice, overrides map[string]string) ([]ModelPrice, error) {
	known := make(map[string]struct{}, len(prices))
	for _, p := range prices {
		known[p.Model+"/"+p.Mode.String()] = struct{}{}
	}
	for key := range overrides {
		if _, ok := known[key]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, key)
		}
	}

	out := make([]ModelPrice, len(prices))
	for i, p := range prices {
		if key, ok := overrides[p.Model+"/"+p.Mode.String()]; ok && key != "" {
			p.LookupKey = key
		}
		out[i] = p
	}
	return out, nil
}

// UsageSyncConfig contains configuration for usage syncing
type UsageSyncConfig struct {
	// ModelPrices is the (model, mode) matrix to bill
	ModelPrices []ModelPrice

	// BilledKind is the subscription kind whose usage is billed
	BilledKind domainBilling.SubscriptionKind
}

// DefaultUsageSyncConfig returns default configuration
func DefaultUsageSyncConfig() UsageSyncConfig {
	return UsageSyncConfig{
		ModelPrices: DefaultModelPrices(),
		BilledKind:  domainBilling.SubscriptionKindPaid,
	}
}

// UsageSyncDeps groups the collaborators of the usage sync service
type UsageSyncDeps struct {
	Accounts      domainBilling.AccountRepository
	Subscriptions domainBilling.SubscriptionRepository
	Meters        domainBilling.UsageMeterRepository
	Catalog       PriceCatalog
	Gateway       SubscriptionGateway
	Biller        UsageBiller
	Metrics       MetricsRecorder
	Logger        *zap.Logger
}

// UsageSyncResult summarizes one usage sync run
type UsageSyncResult struct {
	Subscriptions int
	Synced        int
	SkippedStaff  int
	Failed        int
}

// UsageSyncService mirrors local model request usage to the provider as metered billing events
type UsageSyncService struct {
	accounts      domainBilling.AccountRepository
	subscriptions domainBilling.SubscriptionRepository
	meters        domainBilling.UsageMeterRepository
	catalog       PriceCatalog
	gateway       SubscriptionGateway
	biller        UsageBiller
	metrics       MetricsRecorder
	logger        *zap.Logger
	config        UsageSyncConfig
	now           func() time.Time
}

// NewUsageSyncService creates a new usage sync service
func NewUsageSyncService(deps UsageSyncDeps, config UsageSyncConfig) *UsageSyncService {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &UsageSyncService{
		accounts:      deps.Accounts,
		subscriptions: deps.Subscriptions,
		meters:        deps.Meters,
		catalog:       deps.Catalog,
		gateway:       deps.Gateway,
		biller:        deps.Biller,
		metrics:       metrics,
		logger:        deps.Logger,
		config:        config,
		now:           time.Now,
	}
}

type resolvedModelPrice struct {
	ModelPrice
	price *domainBilling.Price
}

// SyncUsage reports the current-period request counts of every billed account.
// Failures for one account are logged and do not stop the others. If ctx is
// canceled, the run stops between accounts.
func (s *UsageSyncService) SyncUsage(ctx context.Context) (*UsageSyncResult, error) {
	startedAt := s.now()
	s.logger.Info("Starting usage sync")

	staff, err := s.staffAccountIDs(ctx)
	if err != nil {
		return nil, err
	}

	meters, err := s.meters.FindCurrent(ctx, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage meters: %w", err)
	}
	metersByAccount := domainBilling.GroupUsageMetersByAccount(meters)

	subscriptions, err := s.subscriptions.FindActiveByKind(ctx, s.config.BilledKind)
	if err != nil {
		return nil, fmt.Errorf("failed to load billed subscriptions: %w", err)
	}
	s.logger.Info("Loaded billed subscriptions", zap.Int("count", len(subscriptions)))

	prices, err := s.resolvePrices(ctx)
	if err != nil {
		return nil, err
	}

	result := &UsageSyncResult{Subscriptions: len(subscriptions)}
	for i, cs := range subscriptions {
		if err := ctx.Err(); err != nil {
			s.logger.Info("Stopping usage sync",
				zap.Int("remaining", len(subscriptions)-i),
				zap.Error(err))
			return result, err
		}

		accountID := cs.Customer.AccountID
		if _, isStaff := staff[accountID]; isStaff {
			result.SkippedStaff++
			continue
		}

		if err := s.syncAccount(context.WithoutCancel(ctx), cs, metersByAccount[accountID], prices); err != nil {
			result.Failed++
			s.logger.Error("Failed to sync usage for account",
				zap.String("account_id", accountID.String()),
				zap.String("stripe_customer_id", cs.Customer.StripeCustomerID),
				zap.Error(err))
			continue
		}
		result.Synced++
	}

	duration := s.now().Sub(startedAt)
	s.metrics.ObserveSyncDuration("usage_sync", duration)
	s.logger.Info("Usage sync finished",
		zap.Int("subscriptions", result.Subscriptions),
		zap.Int("synced", result.Synced),
		zap.Int("skipped_staff", result.SkippedStaff),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", duration))

	return result, nil
}

// syncAccount ensures price subscriptions and reports usage for every model and mode.
// The ensure call always precedes the report for the same price.
func (s *UsageSyncService) syncAccount(
	ctx context.Context,
	cs *domainBilling.CustomerSubscription,
	meters domainBilling.UsageMeters,
	prices []resolvedModelPrice,
) error {
	customerID := cs.Customer.StripeCustomerID
	subscriptionID := cs.Subscription.StripeSubscriptionID

	for _, mp := range prices {
		requests := meters.Requests(mp.Model, mp.Mode)

		if requests > 0 {
			if err := s.gateway.EnsureSubscribedToPrice(ctx, subscriptionID, mp.price); err != nil {
				return fmt.Errorf("failed to subscribe %s to price %s: %w", subscriptionID, mp.LookupKey, err)
			}
		}

		// Zero is reported too so the provider meter never goes stale.
		if err := s.biller.ReportMeteredUsage(ctx, customerID, mp.MeterEventName, requests); err != nil {
			s.metrics.ObserveUsageReport(mp.MeterEventName, OutcomeFailed)
			return fmt.Errorf("failed to bill usage of %d for %s: %s: %w", requests, customerID, mp.MeterEventName, err)
		}
		s.metrics.ObserveUsageReport(mp.MeterEventName, OutcomeSuccess)
	}
	return nil
}

// resolvePrices looks up every model price once per run
func (s *UsageSyncService) resolvePrices(ctx context.Context) ([]resolvedModelPrice, error) {
	resolved := make([]resolvedModelPrice, 0, len(s.config.ModelPrices))
	for _, mp := range s.config.ModelPrices {
		price, err := s.catalog.FindPriceByLookupKey(ctx, mp.LookupKey)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve price %s: %w", mp.LookupKey, err)
		}
		resolved = append(resolved, resolvedModelPrice{ModelPrice: mp, price: price})
	}
	return resolved, nil
}

func (s *UsageSyncService) staffAccountIDs(ctx context.Context) (map[uuid.UUID]struct{}, error) {
	staff, err := s.accounts.FindStaff(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load staff accounts: %w", err)
	}
	ids := make(map[uuid.UUID]struct{}, len(staff))
	for _, account := range staff {
		ids[account.ID] = struct{}{}
	}
	return ids, nil
}
