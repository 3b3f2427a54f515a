package persistence

import (
	"context"
	"time"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/erp/reconciler/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormUsageMeterRepository reads subscription usage meters using GORM
type GormUsageMeterRepository struct {
	db *gorm.DB
}

// NewGormUsageMeterRepository creates a new GormUsageMeterRepository
func NewGormUsageMeterRepository(db *gorm.DB) *GormUsageMeterRepository {
	return &GormUsageMeterRepository{db: db}
}

// FindCurrent returns the meters of every account whose period contains at
func (r *GormUsageMeterRepository) FindCurrent(ctx context.Context, at time.Time) ([]*domainBilling.UsageMeter, error) {
	var meterModels []models.UsageMeterModel
	if err := r.db.WithContext(ctx).
		Where("period_start_at <= ? AND period_end_at > ?", at, at).
		Find(&meterModels).Error; err != nil {
		return nil, err
	}

	meters := make([]*domainBilling.UsageMeter, len(meterModels))
	for i := range meterModels {
		meters[i] = meterModels[i].ToDomain()
	}
	return meters, nil
}
