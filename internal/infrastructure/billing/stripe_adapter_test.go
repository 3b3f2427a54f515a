package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/form"
	"go.uber.org/zap"
)

// fakeBackend answers Call with whatever respond returns for the method and path.
type fakeBackend struct {
	respond func(method, path string, params stripe.ParamsContainer) ([]byte, error)
}

func (b *fakeBackend) Call(method, path, _ string, params stripe.ParamsContainer, v stripe.LastResponseSetter) error {
	body, err := b.respond(method, path, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (*fakeBackend) CallStreaming(string, string, string, stripe.ParamsContainer, stripe.StreamingLastResponseSetter) error {
	return nil
}

func (*fakeBackend) CallRaw(string, string, string, *form.Values, *stripe.Params, stripe.LastResponseSetter) error {
	return nil
}

func (*fakeBackend) CallMultipart(string, string, string, string, *bytes.Buffer, *stripe.Params, stripe.LastResponseSetter) error {
	return nil
}

func (*fakeBackend) SetMaxNetworkRetries(int64) {}

func testConfig() *StripeConfig {
	return &StripeConfig{
		SecretKey:          "sk_test_123456789",
		IsTestMode:         true,
		FreePriceLookupKey: "free-plan",
		PaidPriceLookupKey: "pro-plan",
	}
}

// useBackend swaps the global API backend for the duration of the test.
func useBackend(t *testing.T, respond func(method, path string, params stripe.ParamsContainer) ([]byte, error)) {
	t.Helper()
	stripe.SetBackend(stripe.APIBackend, &fakeBackend{respond: respond})
	t.Cleanup(func() { stripe.SetBackend(stripe.APIBackend, nil) })
}

// useStripeServer points the real HTTP backend at handler, so query encoding
// and pagination go through stripe-go's own client.
func useStripeServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	}))
	t.Cleanup(func() {
		srv.Close()
		stripe.SetBackend(stripe.APIBackend, nil)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestAdapter(t *testing.T) *StripeAdapter {
	t.Helper()
	adapter, err := NewStripeAdapter(testConfig(), zap.NewNop())
	require.NoError(t, err)
	return adapter
}

func TestNewStripeAdapter_Success(t *testing.T) {
	adapter, err := NewStripeAdapter(testConfig(), zap.NewNop())

	require.NoError(t, err)
	assert.NotNil(t, adapter)
}

func TestNewStripeAdapter_InvalidConfig(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *StripeConfig)
		expectedErr string
	}{
		{
			name:        "missing secret key",
			mutate:      func(c *StripeConfig) { c.SecretKey = "" },
			expectedErr: "secret key is required",
		},
		{
			name:        "test mode with live key",
			mutate:      func(c *StripeConfig) { c.SecretKey = "sk_live_123456789" },
			expectedErr: "test mode enabled but secret key is not a test key",
		},
		{
			name: "live mode with test key",
			mutate: func(c *StripeConfig) {
				c.IsTestMode = false
			},
			expectedErr: "live mode enabled but secret key is not a live key",
		},
		{
			name:        "missing free lookup key",
			mutate:      func(c *StripeConfig) { c.FreePriceLookupKey = "" },
			expectedErr: "free price lookup key is required",
		},
		{
			name:        "missing paid lookup key",
			mutate:      func(c *StripeConfig) { c.PaidPriceLookupKey = "" },
			expectedErr: "paid price lookup key is required",
		},
		{
			name:        "identical lookup keys",
			mutate:      func(c *StripeConfig) { c.PaidPriceLookupKey = c.FreePriceLookupKey },
			expectedErr: "must differ",
		},
		{
			name:        "negative retries",
			mutate:      func(c *StripeConfig) { c.MaxNetworkRetries = -1 },
			expectedErr: "max network retries cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.mutate(config)

			adapter, err := NewStripeAdapter(config, zap.NewNop())

			assert.Error(t, err)
			assert.Nil(t, adapter)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestDefaultStripeConfig(t *testing.T) {
	config := DefaultStripeConfig()

	assert.True(t, config.IsTestMode)
	assert.NotEmpty(t, config.FreePriceLookupKey)
	assert.NotEmpty(t, config.PaidPriceLookupKey)
	assert.Error(t, config.Validate(), "default config has no secret key")
}

func TestListEvents_Success(t *testing.T) {
	adapter := newTestAdapter(t)

	var query map[string]string
	useStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/events" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		query = map[string]string{
			"limit":          q.Get("limit"),
			"starting_after": q.Get("starting_after"),
			"types[0]":       q.Get("types[0]"),
			"types[1]":       q.Get("types[1]"),
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"object":   "list",
			"has_more": true,
			"data": []map[string]any{
				{
					"id":      "evt_2",
					"object":  "event",
					"type":    "customer.subscription.updated",
					"created": 1700000200,
					"data": map[string]any{
						"object": map[string]any{
							"id":                   "sub_1",
							"object":               "subscription",
							"customer":             "cus_1",
							"status":               "canceled",
							"current_period_start": 1700000000,
							"current_period_end":   1702592000,
							"cancel_at":            1700000100,
							"cancellation_details": map[string]any{"reason": "payment_failed"},
							"items": map[string]any{
								"object": "list",
								"data": []map[string]any{
									{"id": "si_1", "price": map[string]any{"id": "price_pro", "lookup_key": "pro-plan"}},
								},
							},
						},
					},
				},
				{
					"id":      "evt_1",
					"object":  "event",
					"type":    "customer.created",
					"created": 1700000100,
					"data": map[string]any{
						"object": map[string]any{
							"id":     "cus_1",
							"object": "customer",
							"email":  "ada@example.com",
						},
					},
				},
			},
		})
	})

	page, err := adapter.ListEvents(context.Background(),
		[]domainBilling.EventType{domainBilling.EventTypeCustomerCreated, domainBilling.EventTypeCustomerSubscriptionUpdated},
		"evt_0", 2)

	require.NoError(t, err)
	assert.Equal(t, "2", query["limit"])
	assert.Equal(t, "evt_0", query["starting_after"])
	assert.Equal(t, "customer.created", query["types[0]"])
	assert.Equal(t, "customer.subscription.updated", query["types[1]"])

	assert.True(t, page.HasMore)
	require.Len(t, page.Events, 2)

	subEvent := page.Events[0]
	assert.Equal(t, "evt_2", subEvent.ID)
	assert.Equal(t, domainBilling.EventTypeCustomerSubscriptionUpdated, subEvent.Type)
	assert.Equal(t, int64(1700000200), subEvent.Created)
	require.NotNil(t, subEvent.Subscription)
	assert.Equal(t, "sub_1", subEvent.Subscription.ID)
	assert.Equal(t, "cus_1", subEvent.Subscription.CustomerID)
	assert.Equal(t, domainBilling.SubscriptionStatusCanceled, subEvent.Subscription.Status)
	assert.True(t, subEvent.Subscription.CanceledDueToPaymentFailure())
	require.NotNil(t, subEvent.Subscription.CancelAt)
	assert.Equal(t, int64(1700000100), subEvent.Subscription.CancelAt.Unix())
	assert.Equal(t, int64(1700000000), subEvent.Subscription.PeriodStart)
	require.Len(t, subEvent.Subscription.Items, 1)
	assert.Equal(t, "pro-plan", subEvent.Subscription.Items[0].PriceLookupKey)

	customerEvent := page.Events[1]
	require.NotNil(t, customerEvent.Customer)
	assert.Equal(t, "cus_1", customerEvent.Customer.ID)
	assert.Equal(t, "ada@example.com", customerEvent.Customer.Email)
	assert.Nil(t, customerEvent.Subscription)
}

func TestListEvents_FirstPageHasNoCursor(t *testing.T) {
	adapter := newTestAdapter(t)

	var hasCursor bool
	useStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		hasCursor = r.URL.Query().Has("starting_after")
		writeJSON(w, http.StatusOK, map[string]any{"object": "list", "has_more": false, "data": []any{}})
	})

	page, err := adapter.ListEvents(context.Background(), domainBilling.ReconciledEventTypes(), "", 100)

	require.NoError(t, err)
	assert.False(t, hasCursor)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.Events)
}

func TestListEvents_APIError(t *testing.T) {
	adapter := newTestAdapter(t)

	useStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{"type": "invalid_request_error", "message": "Invalid API Key provided"},
		})
	})

	page, err := adapter.ListEvents(context.Background(), domainBilling.ReconciledEventTypes(), "", 100)

	require.Error(t, err)
	assert.Nil(t, page)
	assert.Contains(t, err.Error(), "stripe: failed to list events")
}

func TestGetCustomer_Success(t *testing.T) {
	useBackend(t, func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		assert.Equal(t, http.MethodGet, method)
		assert.Equal(t, "/v1/customers/cus_1", path)
		return json.Marshal(map[string]any{"id": "cus_1", "object": "customer", "email": "ada@example.com"})
	})
	adapter := newTestAdapter(t)

	cust, err := adapter.GetCustomer(context.Background(), "cus_1")

	require.NoError(t, err)
	assert.Equal(t, &domainBilling.ProviderCustomer{ID: "cus_1", Email: "ada@example.com"}, cust)
}

func TestGetCustomer_Error(t *testing.T) {
	useBackend(t, func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing, Msg: "No such customer"}
	})
	adapter := newTestAdapter(t)

	cust, err := adapter.GetCustomer(context.Background(), "cus_missing")

	require.Error(t, err)
	assert.Nil(t, cust)
	assert.Contains(t, err.Error(), "stripe: failed to get customer")
}

func TestListSubscriptionsForCustomer_IncludesCanceled(t *testing.T) {
	adapter := newTestAdapter(t)

	var status, customerID string
	useStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/subscriptions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		status = r.URL.Query().Get("status")
		customerID = r.URL.Query().Get("customer")
		writeJSON(w, http.StatusOK, map[string]any{
			"object":   "list",
			"has_more": false,
			"data": []map[string]any{
				{"id": "sub_1", "object": "subscription", "customer": "cus_1", "status": "active"},
				{"id": "sub_0", "object": "subscription", "customer": "cus_1", "status": "canceled"},
			},
		})
	})

	subs, err := adapter.ListSubscriptionsForCustomer(context.Background(), "cus_1")

	require.NoError(t, err)
	assert.Equal(t, "all", status)
	assert.Equal(t, "cus_1", customerID)
	require.Len(t, subs, 2)
	assert.Equal(t, domainBilling.SubscriptionStatusActive, subs[0].Status)
	assert.Equal(t, domainBilling.SubscriptionStatusCanceled, subs[1].Status)
}

func TestCancelSubscription_Success(t *testing.T) {
	useBackend(t, func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		assert.Equal(t, http.MethodDelete, method)
		assert.Equal(t, "/v1/subscriptions/sub_free", path)
		return json.Marshal(map[string]any{"id": "sub_free", "object": "subscription", "status": "canceled"})
	})
	adapter := newTestAdapter(t)

	err := adapter.CancelSubscription(context.Background(), "sub_free")

	assert.NoError(t, err)
}

func TestCancelSubscription_Error(t *testing.T) {
	useBackend(t, func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return nil, errors.New("connection reset")
	})
	adapter := newTestAdapter(t)

	err := adapter.CancelSubscription(context.Background(), "sub_free")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stripe: failed to cancel subscription")
}

func subscriptionWithPrice(priceID string) map[string]any {
	return map[string]any{
		"id":     "sub_1",
		"object": "subscription",
		"status": "active",
		"items": map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "si_1", "price": map[string]any{"id": priceID}},
			},
		},
	}
}

func TestEnsureSubscribedToPrice_AlreadySubscribed(t *testing.T) {
	var created bool
	useBackend(t, func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		if path == "/v1/subscription_items" {
			created = true
		}
		return json.Marshal(subscriptionWithPrice("price_sonnet"))
	})
	adapter := newTestAdapter(t)

	err := adapter.EnsureSubscribedToPrice(context.Background(), "sub_1", &domainBilling.Price{ID: "price_sonnet"})

	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureSubscribedToPrice_AddsItem(t *testing.T) {
	var itemParams *stripe.SubscriptionItemParams
	useBackend(t, func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		switch path {
		case "/v1/subscriptions/sub_1":
			return json.Marshal(subscriptionWithPrice("price_pro"))
		case "/v1/subscription_items":
			assert.Equal(t, http.MethodPost, method)
			itemParams = params.(*stripe.SubscriptionItemParams)
			return json.Marshal(map[string]any{"id": "si_2", "object": "subscription_item"})
		}
		return nil, errors.New("unexpected path " + path)
	})
	adapter := newTestAdapter(t)

	err := adapter.EnsureSubscribedToPrice(context.Background(), "sub_1", &domainBilling.Price{ID: "price_sonnet"})

	require.NoError(t, err)
	require.NotNil(t, itemParams)
	assert.Equal(t, "sub_1", *itemParams.Subscription)
	assert.Equal(t, "price_sonnet", *itemParams.Price)
}

func TestSubscribeToFreePlan_Success(t *testing.T) {
	adapter := newTestAdapter(t)

	var lookupKey, customerID, priceID string
	useStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/prices":
			lookupKey = r.URL.Query().Get("lookup_keys[0]")
			writeJSON(w, http.StatusOK, map[string]any{
				"object":   "list",
				"has_more": false,
				"data":     []map[string]any{{"id": "price_free", "object": "price", "lookup_key": "free-plan"}},
			})
		case "/v1/subscriptions":
			_ = r.ParseForm()
			customerID = r.PostForm.Get("customer")
			priceID = r.PostForm.Get("items[0][price]")
			writeJSON(w, http.StatusOK, map[string]any{"id": "sub_new", "object": "subscription", "status": "active"})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})

	err := adapter.SubscribeToFreePlan(context.Background(), "cus_1")

	require.NoError(t, err)
	assert.Equal(t, "free-plan", lookupKey)
	assert.Equal(t, "cus_1", customerID)
	assert.Equal(t, "price_free", priceID)
}

func TestFindPriceByLookupKey_NotFound(t *testing.T) {
	adapter := newTestAdapter(t)

	useStripeServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"object": "list", "has_more": false, "data": []any{}})
	})

	p, err := adapter.FindPriceByLookupKey(context.Background(), "claude-opus-4-requests")

	assert.ErrorIs(t, err, ErrPriceNotFound)
	assert.Nil(t, p)
}

func TestReportMeteredUsage_Success(t *testing.T) {
	var meterParams *stripe.BillingMeterEventParams
	useBackend(t, func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		assert.Equal(t, http.MethodPost, method)
		assert.Equal(t, "/v1/billing/meter_events", path)
		meterParams = params.(*stripe.BillingMeterEventParams)
		return json.Marshal(map[string]any{"object": "billing.meter_event", "event_name": "claude_sonnet_4/requests"})
	})
	adapter := newTestAdapter(t)

	err := adapter.ReportMeteredUsage(context.Background(), "cus_1", "claude_sonnet_4/requests", 0)

	require.NoError(t, err)
	require.NotNil(t, meterParams)
	assert.Equal(t, "claude_sonnet_4/requests", *meterParams.EventName)
	assert.Equal(t, map[string]string{"stripe_customer_id": "cus_1", "value": "0"}, meterParams.Payload)
}

func TestReportMeteredUsage_NegativeQuantity(t *testing.T) {
	adapter := newTestAdapter(t)

	err := adapter.ReportMeteredUsage(context.Background(), "cus_1", "claude_sonnet_4/requests", -1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantity cannot be negative")
}

func TestReportMeteredUsage_Error(t *testing.T) {
	useBackend(t, func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return nil, &stripe.Error{Msg: "No active meter found"}
	})
	adapter := newTestAdapter(t)

	err := adapter.ReportMeteredUsage(context.Background(), "cus_1", "claude_sonnet_4/requests", 12)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stripe: failed to create meter event")
}
