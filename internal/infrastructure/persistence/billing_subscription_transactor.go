package persistence

import (
	"context"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"gorm.io/gorm"
)

// GormSubscriptionTransactor implements billing.SubscriptionTransactor on a Database
type GormSubscriptionTransactor struct {
	db   *Database
	repo *GormBillingSubscriptionRepository
}

// NewGormSubscriptionTransactor creates a new GormSubscriptionTransactor
func NewGormSubscriptionTransactor(db *Database) *GormSubscriptionTransactor {
	return &GormSubscriptionTransactor{
		db:   db,
		repo: NewGormBillingSubscriptionRepository(db.DB),
	}
}

// WithinTransaction commits when fn returns nil and rolls back otherwise.
func (t *GormSubscriptionTransactor) WithinTransaction(
	ctx context.Context,
	fn func(subscriptions domainBilling.SubscriptionRepository) error,
) error {
	return t.db.Transaction(ctx, func(tx *gorm.DB) error {
		return fn(t.repo.WithTx(tx))
	})
}
