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

// GormBillingCustomerRepository implements billing.CustomerRepository using GORM
type GormBillingCustomerRepository struct {
	db *gorm.DB
}

// NewGormBillingCustomerRepository creates a new GormBillingCustomerRepository
func NewGormBillingCustomerRepository(db *gorm.DB) *GormBillingCustomerRepository {
	return &GormBillingCustomerRepository{db: db}
}

func (r *GormBillingCustomerRepository) findOne(ctx context.Context, query string, arg any) (*domainBilling.Customer, error) {
	var model models.BillingCustomerModel
	if err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByID finds a customer by its ID. Returns nil if none matches.
func (r *GormBillingCustomerRepository) FindByID(ctx context.Context, id uuid.UUID) (*domainBilling.Customer, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByStripeCustomerID finds a customer by its provider customer ID. Returns nil if none matches.
func (r *GormBillingCustomerRepository) FindByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*domainBilling.Customer, error) {
	return r.findOne(ctx, "stripe_customer_id = ?", stripeCustomerID)
}

// FindByAccountID finds the customer bound to an account. Returns nil if none matches.
func (r *GormBillingCustomerRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*domainBilling.Customer, error) {
	return r.findOne(ctx, "account_id = ?", accountID)
}

// Create inserts a new customer
func (r *GormBillingCustomerRepository) Create(ctx context.Context, customer *domainBilling.Customer) error {
	model := models.BillingCustomerModelFromDomain(customer)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("billing customer %s: %w", customer.StripeCustomerID, shared.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

// Update persists the mutable fields of an existing customer
func (r *GormBillingCustomerRepository) Update(ctx context.Context, customer *domainBilling.Customer) error {
	result := r.db.WithContext(ctx).
		Model(&models.BillingCustomerModel{}).
		Where("id = ?", customer.ID).
		Updates(map[string]any{
			"trial_started_at":     customer.TrialStartedAt,
			"has_overdue_invoices": customer.HasOverdueInvoices,
			"updated_at":           customer.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("billing customer %s: %w", customer.ID, shared.ErrNotFound)
	}
	return nil
}
