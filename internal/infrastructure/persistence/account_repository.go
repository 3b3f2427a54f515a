package persistence

import (
	"context"
	"errors"
	"strings"

	domainBilling "github.com/erp/reconciler/internal/domain/billing"
	"github.com/erp/reconciler/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAccountRepository reads local accounts using GORM
type GormAccountRepository struct {
	db *gorm.DB
}

// NewGormAccountRepository creates a new GormAccountRepository
func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// FindByEmail finds an account by email, case-insensitively. Returns nil if none matches.
func (r *GormAccountRepository) FindByEmail(ctx context.Context, email string) (*domainBilling.Account, error) {
	var model models.AccountModel
	if err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByID finds an account by its ID. Returns nil if none matches.
func (r *GormAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*domainBilling.Account, error) {
	var model models.AccountModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindStaff returns all staff accounts
func (r *GormAccountRepository) FindStaff(ctx context.Context) ([]*domainBilling.Account, error) {
	var accountModels []models.AccountModel
	if err := r.db.WithContext(ctx).Where("is_staff = ?", true).Find(&accountModels).Error; err != nil {
		return nil, err
	}

	accounts := make([]*domainBilling.Account, len(accountModels))
	for i := range accountModels {
		accounts[i] = accountModels[i].ToDomain()
	}
	return accounts, nil
}
