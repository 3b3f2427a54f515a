package billing

import (
	"context"
	"fmt"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionEventHandler applies customer.subscription.* events through the synchronizer
type SubscriptionEventHandler struct {
	synchronizer *SubscriptionSynchronizer
	notifier     Notifier
	logger       *zap.Logger
}

// NewSubscriptionEventHandler creates a new subscription event handler
func NewSubscriptionEventHandler(synchronizer *SubscriptionSynchronizer, notifier Notifier, logger *zap.Logger) *SubscriptionEventHandler {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &SubscriptionEventHandler{
		synchronizer: synchronizer,
		notifier:     notifier,
		logger:       logger,
	}
}

// Handle syncs the event's subscription snapshot and notifies the account's sessions
func (h *SubscriptionEventHandler) Handle(ctx context.Context, event *domainBilling.ProviderEvent) error {
	if event.Subscription == nil {
		return fmt.Errorf("%w for %s", ErrUnexpectedPayload, event.ID)
	}

	customer, err := h.synchronizer.Sync(ctx, event.Subscription)
	if err != nil {
		return fmt.Errorf("failed to sync subscription %s: %w", event.Subscription.ID, err)
	}

	notifyAccount(ctx, h.notifier, h.logger, customer.AccountID)
	return nil
}

// notifyAccount pushes the plan change and a credential refresh. Failures are logged only.
func notifyAccount(ctx context.Context, notifier Notifier, logger *zap.Logger, accountID uuid.UUID) {
	if err := notifier.NotifyPlanChanged(ctx, accountID); err != nil {
		logger.Warn("Failed to notify plan change",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
	}
	if err := notifier.NotifyRefreshCredentials(ctx, accountID); err != nil {
		logger.Warn("Failed to notify credential refresh",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
	}
}
