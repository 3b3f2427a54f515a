package billing

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
	"time"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// ============================================================================
// In-memory repositories
// ============================================================================

type memAccountRepository struct {
	accounts []*domainBilling.Account
	err      error
}

func (r *memAccountRepository) FindByEmail(ctx context.Context, email string) (*domainBilling.Account, error) {
	if r.err != nil {
		return nil, r.err
	}
	for _, a := range r.accounts {
		if strings.EqualFold(a.Email, email) {
			return a, nil
		}
	}
	return nil, nil
}

func (r *memAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*domainBilling.Account, error) {
	for _, a := range r.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (r *memAccountRepository) FindStaff(ctx context.Context) ([]*domainBilling.Account, error) {
	if r.err != nil {
		return nil, r.err
	}
	var staff []*domainBilling.Account
	for _, a := range r.accounts {
		if a.IsStaff {
			staff = append(staff, a)
		}
	}
	return staff, nil
}

type memCustomerRepository struct {
	mu        sync.Mutex
	customers map[uuid.UUID]domainBilling.Customer
	updates   int
}

func newMemCustomerRepository() *memCustomerRepository {
	return &memCustomerRepository{customers: make(map[uuid.UUID]domainBilling.Customer)}
}

func (r *memCustomerRepository) find(match func(c domainBilling.Customer) bool) *domainBilling.Customer {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if match(c) {
			cp := c
			return &cp
		}
	}
	return nil
}

func (r *memCustomerRepository) FindByID(ctx context.Context, id uuid.UUID) (*domainBilling.Customer, error) {
	return r.find(func(c domainBilling.Customer) bool { return c.ID == id }), nil
}

func (r *memCustomerRepository) FindByStripeCustomerID(ctx context.Context, id string) (*domainBilling.Customer, error) {
	return r.find(func(c domainBilling.Customer) bool { return c.StripeCustomerID == id }), nil
}

func (r *memCustomerRepository) FindByAccountID(ctx context.Context, id uuid.UUID) (*domainBilling.Customer, error) {
	return r.find(func(c domainBilling.Customer) bool { return c.AccountID == id }), nil
}

func (r *memCustomerRepository) Create(ctx context.Context, c *domainBilling.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.customers {
		if existing.StripeCustomerID == c.StripeCustomerID || existing.AccountID == c.AccountID {
			return errors.New("duplicate customer")
		}
	}
	r.customers[c.ID] = *c
	return nil
}

func (r *memCustomerRepository) Update(ctx context.Context, c *domainBilling.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customers[c.ID] = *c
	r.updates++
	return nil
}

func (r *memCustomerRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.customers)
}

type memSubscriptionRepository struct {
	mu            sync.Mutex
	subscriptions map[uuid.UUID]domainBilling.Subscription
	customers     *memCustomerRepository
	createErr     error
}

func newMemSubscriptionRepository(customers *memCustomerRepository) *memSubscriptionRepository {
	return &memSubscriptionRepository{
		subscriptions: make(map[uuid.UUID]domainBilling.Subscription),
		customers:     customers,
	}
}

func (r *memSubscriptionRepository) accountOf(s domainBilling.Subscription) uuid.UUID {
	c, _ := r.customers.FindByID(context.Background(), s.CustomerID)
	if c == nil {
		return uuid.Nil
	}
	return c.AccountID
}

func (r *memSubscriptionRepository) FindByStripeSubscriptionID(ctx context.Context, id string) (*domainBilling.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subscriptions {
		if s.StripeSubscriptionID == id {
			cp := s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memSubscriptionRepository) FindActiveByAccountID(ctx context.Context, accountID uuid.UUID) (*domainBilling.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subscriptions {
		if s.IsActive() && r.accountOf(s) == accountID {
			cp := s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memSubscriptionRepository) HasActiveByAccountID(ctx context.Context, accountID uuid.UUID) (bool, error) {
	s, err := r.FindActiveByAccountID(ctx, accountID)
	return s != nil, err
}

func (r *memSubscriptionRepository) FindActiveByKind(ctx context.Context, kind domainBilling.SubscriptionKind) ([]*domainBilling.CustomerSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domainBilling.CustomerSubscription
	for _, s := range r.subscriptions {
		if s.IsActive() && s.HasKind(kind) {
			cp := s
			c, _ := r.customers.FindByID(ctx, s.CustomerID)
			out = append(out, &domainBilling.CustomerSubscription{Customer: c, Subscription: &cp})
		}
	}
	return out, nil
}

func (r *memSubscriptionRepository) Create(ctx context.Context, s *domainBilling.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.subscriptions {
		if existing.StripeSubscriptionID == s.StripeSubscriptionID {
			return errors.New("duplicate subscription")
		}
	}
	r.subscriptions[s.ID] = *s
	return nil
}

func (r *memSubscriptionRepository) Update(ctx context.Context, s *domainBilling.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[s.ID] = *s
	return nil
}

func (r *memSubscriptionRepository) all() []domainBilling.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domainBilling.Subscription, 0, len(r.subscriptions))
	for _, s := range r.subscriptions {
		out = append(out, s)
	}
	return out
}

func (r *memSubscriptionRepository) activeCount() int {
	n := 0
	for _, s := range r.all() {
		if s.IsActive() {
			n++
		}
	}
	return n
}

// memTransactor restores the repository's previous rows when fn fails
type memTransactor struct {
	repo  *memSubscriptionRepository
	calls int
}

func (t *memTransactor) WithinTransaction(ctx context.Context, fn func(domainBilling.SubscriptionRepository) error) error {
	t.calls++
	t.repo.mu.Lock()
	saved := maps.Clone(t.repo.subscriptions)
	t.repo.mu.Unlock()

	if err := fn(t.repo); err != nil {
		t.repo.mu.Lock()
		t.repo.subscriptions = saved
		t.repo.mu.Unlock()
		return err
	}
	return nil
}

type memLedger struct {
	mu        sync.Mutex
	entries   map[string]domainBilling.ProcessedEvent
	createErr error
	readErr   error
}

func newMemLedger(ids ...string) *memLedger {
	l := &memLedger{entries: make(map[string]domainBilling.ProcessedEvent)}
	for _, id := range ids {
		l.entries[id] = domainBilling.ProcessedEvent{EventID: id}
	}
	return l
}

func (l *memLedger) FindProcessedIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if l.readErr != nil {
		return nil, l.readErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := l.entries[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (l *memLedger) Create(ctx context.Context, e *domainBilling.ProcessedEvent) error {
	if l.createErr != nil {
		return l.createErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[e.EventID]; !ok {
		l.entries[e.EventID] = *e
	}
	return nil
}

func (l *memLedger) has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[id]
	return ok
}

type memUsageMeterRepository struct {
	meters []*domainBilling.UsageMeter
}

func (r *memUsageMeterRepository) FindCurrent(ctx context.Context, at time.Time) ([]*domainBilling.UsageMeter, error) {
	return r.meters, nil
}

// ============================================================================
// Provider mocks
// ============================================================================

// MockEventSource is a mock implementation of EventSource
type MockEventSource struct {
	mock.Mock
}

func (m *MockEventSource) ListEvents(ctx context.Context, types []domainBilling.EventType, startingAfter string, limit int64) (*EventPage, error) {
	args := m.Called(ctx, types, startingAfter, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*EventPage), args.Error(1)
}

// MockCustomerSource is a mock implementation of CustomerSource
type MockCustomerSource struct {
	mock.Mock
}

func (m *MockCustomerSource) GetCustomer(ctx context.Context, id string) (*domainBilling.ProviderCustomer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domainBilling.ProviderCustomer), args.Error(1)
}

func (m *MockCustomerSource) ListSubscriptionsForCustomer(ctx context.Context, id string) ([]*domainBilling.ProviderSubscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domainBilling.ProviderSubscription), args.Error(1)
}

// MockSubscriptionGateway is a mock implementation of SubscriptionGateway
type MockSubscriptionGateway struct {
	mock.Mock
}

func (m *MockSubscriptionGateway) CancelSubscription(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSubscriptionGateway) EnsureSubscribedToPrice(ctx context.Context, id string, price *domainBilling.Price) error {
	args := m.Called(ctx, id, price)
	return args.Error(0)
}

func (m *MockSubscriptionGateway) SubscribeToFreePlan(ctx context.Context, customerID string) error {
	args := m.Called(ctx, customerID)
	return args.Error(0)
}

// MockUsageBiller is a mock implementation of UsageBiller
type MockUsageBiller struct {
	mock.Mock
}

func (m *MockUsageBiller) ReportMeteredUsage(ctx context.Context, customerID, eventName string, quantity int64) error {
	args := m.Called(ctx, customerID, eventName, quantity)
	return args.Error(0)
}

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyPlanChanged(ctx context.Context, accountID uuid.UUID) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func (m *MockNotifier) NotifyRefreshCredentials(ctx context.Context, accountID uuid.UUID) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

// fakeCatalog classifies by lookup key the way the Stripe price catalog does
type fakeCatalog struct {
	missing map[string]bool
	lookups int
}

func (c *fakeCatalog) ClassifySubscription(s *domainBilling.ProviderSubscription) *domainBilling.SubscriptionKind {
	for _, item := range s.Items {
		var kind domainBilling.SubscriptionKind
		switch item.PriceLookupKey {
		case "paid":
			kind = domainBilling.SubscriptionKindPaid
			if s.Status == domainBilling.SubscriptionStatusTrialing {
				kind = domainBilling.SubscriptionKindTrial
			}
		case "free":
			kind = domainBilling.SubscriptionKindFree
		default:
			continue
		}
		return &kind
	}
	return nil
}

func (c *fakeCatalog) FindPriceByLookupKey(ctx context.Context, key string) (*domainBilling.Price, error) {
	c.lookups++
	if c.missing[key] {
		return nil, errors.New("price not found: " + key)
	}
	return &domainBilling.Price{ID: "price_" + key, LookupKey: key}, nil
}

// ============================================================================
// Fixtures
// ============================================================================

func kindPtr(k domainBilling.SubscriptionKind) *domainBilling.SubscriptionKind { return &k }

func reasonPtr(r domainBilling.CancellationReason) *domainBilling.CancellationReason { return &r }

func freeSnapshot(id, customerID string, status domainBilling.SubscriptionStatus) *domainBilling.ProviderSubscription {
	return &domainBilling.ProviderSubscription{
		ID:          id,
		CustomerID:  customerID,
		Status:      status,
		PeriodStart: 1_700_000_000,
		PeriodEnd:   1_702_592_000,
		Items:       []domainBilling.ProviderSubscriptionItem{{ID: "si_" + id, PriceID: "price_free", PriceLookupKey: "free"}},
	}
}

func paidSnapshot(id, customerID string, status domainBilling.SubscriptionStatus) *domainBilling.ProviderSubscription {
	return &domainBilling.ProviderSubscription{
		ID:          id,
		CustomerID:  customerID,
		Status:      status,
		PeriodStart: 1_700_000_000,
		PeriodEnd:   1_702_592_000,
		Items:       []domainBilling.ProviderSubscriptionItem{{ID: "si_" + id, PriceID: "price_paid", PriceLookupKey: "paid"}},
	}
}
