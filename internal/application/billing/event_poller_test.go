package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEvent(id string, created int64, eventType domainBilling.EventType) *domainBilling.ProviderEvent {
	return &domainBilling.ProviderEvent{ID: id, Type: eventType, Created: created}
}

// pageOf returns a page of n subscription events whose IDs start with prefix
func pageOf(prefix string, n int, hasMore bool) *EventPage {
	events := make([]*domainBilling.ProviderEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, newTestEvent(fmt.Sprintf("%s_%d", prefix, i), int64(1000+i),
			domainBilling.EventTypeCustomerSubscriptionUpdated))
	}
	return &EventPage{Events: events, HasMore: hasMore}
}

func idsOf(events []*domainBilling.ProviderEvent) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}

func newTestPoller(source EventSource, ledger domainBilling.ProcessedEventRepository) *EventPoller {
	config := DefaultEventPollerConfig()
	config.PageSize = 3
	return NewEventPoller(source, ledger, config, zap.NewNop())
}

func TestEventPoller_Poll(t *testing.T) {
	t.Run("sorts by created then id", func(t *testing.T) {
		source := new(MockEventSource)
		source.On("ListEvents", mock.Anything, mock.Anything, "", int64(3)).Return(&EventPage{
			Events: []*domainBilling.ProviderEvent{
				newTestEvent("B", 2, domainBilling.EventTypeCustomerSubscriptionUpdated),
				newTestEvent("A", 1, domainBilling.EventTypeCustomerCreated),
				newTestEvent("C", 1, domainBilling.EventTypeCustomerSubscriptionCreated),
			},
		}, nil).Once()

		events, err := newTestPoller(source, newMemLedger()).Poll(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"A", "C", "B"}, idsOf(events))
		source.AssertExpectations(t)
	})

	t.Run("filters processed and non-reconciled events", func(t *testing.T) {
		source := new(MockEventSource)
		source.On("ListEvents", mock.Anything, mock.Anything, "", int64(3)).Return(&EventPage{
			Events: []*domainBilling.ProviderEvent{
				newTestEvent("evt_done", 1, domainBilling.EventTypeCustomerCreated),
				newTestEvent("evt_invoice", 2, domainBilling.EventType("invoice.paid")),
				newTestEvent("evt_new", 3, domainBilling.EventType(`"customer.subscription.deleted"`)),
			},
		}, nil).Once()

		events, err := newTestPoller(source, newMemLedger("evt_done")).Poll(context.Background())

		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "evt_new", events[0].ID)
		assert.Equal(t, domainBilling.EventTypeCustomerSubscriptionDeleted, events[0].Type)
	})

	t.Run("follows cursor across pages", func(t *testing.T) {
		source := new(MockEventSource)
		source.On("ListEvents", mock.Anything, mock.Anything, "", int64(3)).Return(pageOf("p1", 3, true), nil).Once()
		source.On("ListEvents", mock.Anything, mock.Anything, "p1_2", int64(3)).Return(pageOf("p2", 2, false), nil).Once()

		events, err := newTestPoller(source, newMemLedger()).Poll(context.Background())

		require.NoError(t, err)
		assert.Len(t, events, 5)
		source.AssertExpectations(t)
	})

	t.Run("fetches new events after threshold stale pages", func(t *testing.T) {
		source := new(MockEventSource)
		ledger := newMemLedger()
		cursor := ""
		for i := 1; i <= 4; i++ {
			page := pageOf(fmt.Sprintf("stale%d", i), 3, true)
			for _, e := range page.Events {
				ledger.entries[e.ID] = domainBilling.ProcessedEvent{EventID: e.ID}
			}
			source.On("ListEvents", mock.Anything, mock.Anything, cursor, int64(3)).Return(page, nil).Once()
			cursor = page.Events[2].ID
		}
		source.On("ListEvents", mock.Anything, mock.Anything, cursor, int64(3)).Return(pageOf("fresh", 2, false), nil).Once()

		events, err := newTestPoller(source, ledger).Poll(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"fresh_0", "fresh_1"}, idsOf(events))
		source.AssertExpectations(t)
	})

	t.Run("stale counter resets on a page with new events", func(t *testing.T) {
		source := new(MockEventSource)
		ledger := newMemLedger()
		prefixes := []string{"s1", "s2", "s3", "new", "s4", "s5", "s6", "tail"}
		stale := map[string]bool{"s1": true, "s2": true, "s3": true, "s4": true, "s5": true, "s6": true}
		cursor := ""
		for i, prefix := range prefixes {
			page := pageOf(prefix, 3, i < len(prefixes)-1)
			if stale[prefix] {
				for _, e := range page.Events {
					ledger.entries[e.ID] = domainBilling.ProcessedEvent{EventID: e.ID}
				}
			}
			source.On("ListEvents", mock.Anything, mock.Anything, cursor, int64(3)).Return(page, nil).Once()
			cursor = page.Events[2].ID
		}

		events, err := newTestPoller(source, ledger).Poll(context.Background())

		require.NoError(t, err)
		assert.Len(t, events, 6)
		source.AssertExpectations(t)
	})

	t.Run("stops after more than threshold consecutive stale pages", func(t *testing.T) {
		source := new(MockEventSource)
		ledger := newMemLedger()
		cursor := ""
		for i := 1; i <= 5; i++ {
			page := pageOf(fmt.Sprintf("stale%d", i), 3, true)
			for _, e := range page.Events {
				ledger.entries[e.ID] = domainBilling.ProcessedEvent{EventID: e.ID}
			}
			source.On("ListEvents", mock.Anything, mock.Anything, cursor, int64(3)).Return(page, nil).Once()
			cursor = page.Events[2].ID
		}

		events, err := newTestPoller(source, ledger).Poll(context.Background())

		require.NoError(t, err)
		assert.Empty(t, events)
		source.AssertNumberOfCalls(t, "ListEvents", 5)
		source.AssertNotCalled(t, "ListEvents", mock.Anything, mock.Anything, cursor, int64(3))
	})

	t.Run("returns error when listing fails", func(t *testing.T) {
		source := new(MockEventSource)
		source.On("ListEvents", mock.Anything, mock.Anything, "", int64(3)).Return(nil, errors.New("boom")).Once()

		events, err := newTestPoller(source, newMemLedger()).Poll(context.Background())

		require.Error(t, err)
		assert.Nil(t, events)
		assert.Contains(t, err.Error(), "failed to list events")
	})

	t.Run("returns error when ledger read fails", func(t *testing.T) {
		source := new(MockEventSource)
		source.On("ListEvents", mock.Anything, mock.Anything, "", int64(3)).Return(pageOf("p", 1, false), nil).Once()
		ledger := newMemLedger()
		ledger.readErr = errors.New("db down")

		_, err := newTestPoller(source, ledger).Poll(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read processed events")
	})

	t.Run("empty first page", func(t *testing.T) {
		source := new(MockEventSource)
		source.On("ListEvents", mock.Anything, mock.Anything, "", int64(3)).Return(&EventPage{HasMore: true}, nil).Once()

		events, err := newTestPoller(source, newMemLedger()).Poll(context.Background())

		require.NoError(t, err)
		assert.Empty(t, events)
		source.AssertNumberOfCalls(t, "ListEvents", 1)
	})
}

func TestEventPoller_EventTypes(t *testing.T) {
	page := &EventPage{Events: []*domainBilling.ProviderEvent{
		newTestEvent("evt_customer", 1, domainBilling.EventTypeCustomerCreated),
		newTestEvent("evt_sub", 2, domainBilling.EventTypeCustomerSubscriptionDeleted),
		newTestEvent("evt_invoice", 3, domainBilling.EventType("invoice.paid")),
	}}

	t.Run("defaults to the reconciled types", func(t *testing.T) {
		source := new(MockEventSource)
		source.On("ListEvents", mock.Anything, domainBilling.ReconciledEventTypes(), "", int64(100)).Return(page, nil).Once()
		poller := NewEventPoller(source, newMemLedger(), DefaultEventPollerConfig(), zap.NewNop())

		events, err := poller.Poll(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"evt_customer", "evt_sub"}, idsOf(events))
		source.AssertExpectations(t)
	})

	t.Run("explicit list narrows the fetch", func(t *testing.T) {
		only := []domainBilling.EventType{domainBilling.EventTypeCustomerSubscriptionDeleted}
		source := new(MockEventSource)
		source.On("ListEvents", mock.Anything, only, "", int64(100)).Return(page, nil).Once()
		config := DefaultEventPollerConfig()
		config.EventTypes = only
		poller := NewEventPoller(source, newMemLedger(), config, zap.NewNop())

		events, err := poller.Poll(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"evt_sub"}, idsOf(events))
		source.AssertExpectations(t)
	})
}

func TestSortEvents(t *testing.T) {
	events := []*domainBilling.ProviderEvent{
		newTestEvent("evt_3", 30, domainBilling.EventTypeCustomerCreated),
		newTestEvent("evt_b", 10, domainBilling.EventTypeCustomerCreated),
		newTestEvent("evt_a", 10, domainBilling.EventTypeCustomerCreated),
		newTestEvent("evt_2", 20, domainBilling.EventTypeCustomerCreated),
	}

	SortEvents(events)

	assert.Equal(t, []string{"evt_a", "evt_b", "evt_2", "evt_3"}, idsOf(events))
}
