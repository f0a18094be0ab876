package persistence

import (
	"context"
	"errors"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormChargeRepository implements billing.ChargeRepository using GORM
type GormChargeRepository struct {
	db *gorm.DB
}

// NewGormChargeRepository creates a new GormChargeRepository
func NewGormChargeRepository(db *gorm.DB) *GormChargeRepository {
	return &GormChargeRepository{db: db}
}

// FindByID finds a charge by its ID
func (r *GormChargeRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Charge, error) {
	return r.find(r.db.WithContext(ctx), id)
}

// FindByIDForUpdate loads the charge with SELECT ... FOR UPDATE. Only
// meaningful inside a transaction.
func (r *GormChargeRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*billing.Charge, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *GormChargeRepository) find(db *gorm.DB, id uuid.UUID) (*billing.Charge, error) {
	var model models.ChargeModel
	if err := db.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.NewNotFound("charge %s not found", id)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindChildren returns the split children of a charge in creation order
func (r *GormChargeRepository) FindChildren(ctx context.Context, parentID uuid.UUID) ([]*billing.Charge, error) {
	var rows []models.ChargeModel
	if err := r.db.WithContext(ctx).
		Where("parent_charge_id = ?", parentID).
		Order("created_at ASC, title ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	charges := make([]*billing.Charge, len(rows))
	for i := range rows {
		charges[i] = rows[i].ToDomain()
	}
	return charges, nil
}

// Create inserts a new charge
func (r *GormChargeRepository) Create(ctx context.Context, charge *billing.Charge) error {
	return r.db.WithContext(ctx).Create(models.ChargeModelFromDomain(charge)).Error
}

// SaveWithLock saves the mutable ledger fields with optimistic locking
func (r *GormChargeRepository) SaveWithLock(ctx context.Context, charge *billing.Charge) error {
	result := r.db.WithContext(ctx).
		Model(&models.ChargeModel{}).
		Where("id = ? AND version = ?", charge.ID, charge.Version).
		Updates(map[string]interface{}{
			"payment_status": charge.PaymentStatus,
			"version":        charge.Version + 1,
			"updated_at":     charge.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billing.NewConcurrentUpdate("charge %s was modified by another process", charge.ID)
	}
	charge.IncrementVersion()
	return nil
}
