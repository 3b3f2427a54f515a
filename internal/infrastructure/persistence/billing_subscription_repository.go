package persistence

import (
	"context"
	"errors"
	"fmt"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormBillingSubscriptionRepository implements billing.SubscriptionRepository using GORM
type GormBillingSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormBillingSubscriptionRepository creates a new GormBillingSubscriptionRepository
func NewGormBillingSubscriptionRepository(db *gorm.DB) *GormBillingSubscriptionRepository {
	return &GormBillingSubscriptionRepository{db: db}
}

// WithTx returns a new repository using the given transaction
func (r *GormBillingSubscriptionRepository) WithTx(tx *gorm.DB) *GormBillingSubscriptionRepository {
	return &GormBillingSubscriptionRepository{db: tx}
}

// activeStatuses returns the provider statuses that count as an active subscription
func activeStatuses() []string {
	var statuses []string
	for _, s := range domainBilling.AllSubscriptionStatuses() {
		if s.IsActive() {
			statuses = append(statuses, s.String())
		}
	}
	return statuses
}

// activeForAccount scopes a query to the active subscriptions of an account
func (r *GormBillingSubscriptionRepository) activeForAccount(ctx context.Context, accountID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.BillingSubscriptionModel{}).
		Joins("JOIN billing_customers ON billing_customers.id = billing_subscriptions.billing_customer_id").
		Where("billing_customers.account_id = ?", accountID).
		Where("billing_subscriptions.stripe_subscription_status IN ?", activeStatuses())
}

// FindByStripeSubscriptionID finds a subscription by its provider ID. Returns nil if none matches.
func (r *GormBillingSubscriptionRepository) FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*domainBilling.Subscription, error) {
	var model models.BillingSubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindActiveByAccountID returns the most recently created active subscription of an account.
// Returns nil if the account has none.
func (r *GormBillingSubscriptionRepository) FindActiveByAccountID(ctx context.Context, accountID uuid.UUID) (*domainBilling.Subscription, error) {
	var model models.BillingSubscriptionModel
	if err := r.activeForAccount(ctx, accountID).
		Select("billing_subscriptions.*").
		Order("billing_subscriptions.created_at DESC").
		Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// HasActiveByAccountID reports whether an account has at least one active subscription
func (r *GormBillingSubscriptionRepository) HasActiveByAccountID(ctx context.Context, accountID uuid.UUID) (bool, error) {
	var count int64
	if err := r.activeForAccount(ctx, accountID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindActiveByKind returns every active subscription of kind together with its customer
func (r *GormBillingSubscriptionRepository) FindActiveByKind(ctx context.Context, kind domainBilling.SubscriptionKind) ([]*domainBilling.CustomerSubscription, error) {
	var subscriptionModels []models.BillingSubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("kind = ? AND stripe_subscription_status IN ?", kind, activeStatuses()).
		Order("created_at").
		Find(&subscriptionModels).Error; err != nil {
		return nil, err
	}
	if len(subscriptionModels) == 0 {
		return nil, nil
	}

	customerIDs := make([]uuid.UUID, 0, len(subscriptionModels))
	for _, m := range subscriptionModels {
		customerIDs = append(customerIDs, m.BillingCustomerID)
	}

	var customerModels []models.BillingCustomerModel
	if err := r.db.WithContext(ctx).Where("id IN ?", customerIDs).Find(&customerModels).Error; err != nil {
		return nil, err
	}
	customers := make(map[uuid.UUID]*domainBilling.Customer, len(customerModels))
	for i := range customerModels {
		customers[customerModels[i].ID] = customerModels[i].ToDomain()
	}

	result := make([]*domainBilling.CustomerSubscription, 0, len(subscriptionModels))
	for i := range subscriptionModels {
		customer, ok := customers[subscriptionModels[i].BillingCustomerID]
		if !ok {
			return nil, fmt.Errorf("subscription %s references missing billing customer %s",
				subscriptionModels[i].StripeSubscriptionID, subscriptionModels[i].BillingCustomerID)
		}
		result = append(result, &domainBilling.CustomerSubscription{
			Customer:     customer,
			Subscription: subscriptionModels[i].ToDomain(),
		})
	}
	return result, nil
}

// Create inserts a new subscription
func (r *GormBillingSubscriptionRepository) Create(ctx context.Context, subscription *domainBilling.Subscription) error {
	model := models.BillingSubscriptionModelFromDomain(subscription)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("subscription %s: %w", subscription.StripeSubscriptionID, shared.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

// Update persists every provider-owned field of an existing subscription
func (r *GormBillingSubscriptionRepository) Update(ctx context.Context, subscription *domainBilling.Subscription) error {
	result := r.db.WithContext(ctx).
		Model(&models.BillingSubscriptionModel{}).
		Where("id = ?", subscription.ID).
		Updates(map[string]any{
			"billing_customer_id":         subscription.CustomerID,
			"kind":                        subscription.Kind,
			"stripe_subscription_status":  subscription.Status,
			"stripe_cancel_at":            subscription.CancelAt,
			"stripe_cancellation_reason":  subscription.CancellationReason,
			"stripe_current_period_start": subscription.PeriodStart,
			"stripe_current_period_end":   subscription.PeriodEnd,
			"updated_at":                  subscription.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("subscription %s: %w", subscription.StripeSubscriptionID, shared.ErrNotFound)
	}
	return nil
}
