package persistence

import (
	"context"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/erp/reconciler/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormProcessedEventRepository implements the processed-event ledger using GORM
type GormProcessedEventRepository struct {
	db *gorm.DB
}

// NewGormProcessedEventRepository creates a new GormProcessedEventRepository
func NewGormProcessedEventRepository(db *gorm.DB) *GormProcessedEventRepository {
	return &GormProcessedEventRepository{db: db}
}

// FindProcessedIDs returns the subset of ids already recorded in the ledger
func (r *GormProcessedEventRepository) FindProcessedIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	processed := make(map[string]struct{})
	if len(ids) == 0 {
		return processed, nil
	}

	var found []string
	if err := r.db.WithContext(ctx).
		Model(&models.ProcessedEventModel{}).
		Where("stripe_event_id IN ?", ids).
		Pluck("stripe_event_id", &found).Error; err != nil {
		return nil, err
	}

	for _, id := range found {
		processed[id] = struct{}{}
	}
	return processed, nil
}

// Create records an event as processed. Recording an event twice is a no-op.
func (r *GormProcessedEventRepository) Create(ctx context.Context, event *domainBilling.ProcessedEvent) error {
	model := models.ProcessedEventModelFromDomain(event)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_event_id"}},
			DoNothing: true,
		}).
		Create(model).Error
}
