package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormBillRepository implements billing.BillRepository using GORM
type GormBillRepository struct {
	db *gorm.DB
}

// NewGormBillRepository creates a new GormBillRepository
func NewGormBillRepository(db *gorm.DB) *GormBillRepository {
	return &GormBillRepository{db: db}
}

// FindByID finds a bill by its ID
func (r *GormBillRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Bill, error) {
	var model models.BillModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.NewNotFound("bill %s not found", id)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByGatewayBillID finds a bill by the identifier the gateway assigned
func (r *GormBillRepository) FindByGatewayBillID(ctx context.Context, gatewayBillID string) (*billing.Bill, error) {
	var model models.BillModel
	if err := r.db.WithContext(ctx).Where("gateway_bill_id = ?", gatewayBillID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.NewNotFound("bill %q not found", gatewayBillID)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindCurrentByCharge returns the charge's most recent bill, or nil
func (r *GormBillRepository) FindCurrentByCharge(ctx context.Context, chargeID uuid.UUID) (*billing.Bill, error) {
	return r.first(r.db.WithContext(ctx).
		Where("charge_id = ?", chargeID).
		Order("created_at DESC"))
}

// FindActiveByCharge returns the charge's created/sent/paid bill, or nil
func (r *GormBillRepository) FindActiveByCharge(ctx context.Context, chargeID uuid.UUID) (*billing.Bill, error) {
	return r.first(r.db.WithContext(ctx).
		Where("charge_id = ? AND request_status IN ?", chargeID, billing.ActiveRequestStatuses()).
		Order("created_at DESC"))
}

func (r *GormBillRepository) first(db *gorm.DB) (*billing.Bill, error) {
	var rows []models.BillModel
	if err := db.Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].ToDomain(), nil
}

// ListByCharge returns every bill of a charge, oldest first
func (r *GormBillRepository) ListByCharge(ctx context.Context, chargeID uuid.UUID) ([]*billing.Bill, error) {
	var rows []models.BillModel
	if err := r.db.WithContext(ctx).
		Where("charge_id = ?", chargeID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainBills(rows), nil
}

// FindStaleSent returns sent bills whose status has not changed since before
func (r *GormBillRepository) FindStaleSent(ctx context.Context, before time.Time, limit int) ([]*billing.Bill, error) {
	var rows []models.BillModel
	if err := r.db.WithContext(ctx).
		Where("request_status = ? AND status_changed_at < ?", billing.RequestStatusSent, before).
		Order("status_changed_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainBills(rows), nil
}

// Create inserts a bill. A second active bill for the same charge is refused.
func (r *GormBillRepository) Create(ctx context.Context, bill *billing.Bill) error {
	if err := r.checkSingleActive(ctx, bill); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(models.BillModelFromDomain(bill)).Error; err != nil {
		return translateBillWriteError(bill, err)
	}
	return nil
}

// SaveWithLock saves the bill with optimistic locking
func (r *GormBillRepository) SaveWithLock(ctx context.Context, bill *billing.Bill) error {
	if err := r.checkSingleActive(ctx, bill); err != nil {
		return err
	}

	m := models.BillModelFromDomain(bill)
	result := r.db.WithContext(ctx).
		Model(&models.BillModel{}).
		Where("id = ? AND version = ?", bill.ID, bill.Version).
		Updates(map[string]interface{}{
			"gateway_bill_id":   m.GatewayBillID,
			"short_url":         m.ShortURL,
			"request_status":    m.RequestStatus,
			"payment_method":    m.PaymentMethod,
			"transaction_id":    m.TransactionID,
			"failure_reason":    m.FailureReason,
			"resend_count":      m.ResendCount,
			"status_changed_at": m.StatusChangedAt,
			"sent_at":           m.SentAt,
			"paid_at":           m.PaidAt,
			"cancelled_at":      m.CancelledAt,
			"destroyed_at":      m.DestroyedAt,
			"version":           bill.Version + 1,
			"updated_at":        m.UpdatedAt,
		})
	if result.Error != nil {
		return translateBillWriteError(bill, result.Error)
	}
	if result.RowsAffected == 0 {
		return billing.NewConcurrentUpdate("bill %s was modified by another process", bill.ID)
	}
	bill.IncrementVersion()
	return nil
}

func (r *GormBillRepository) checkSingleActive(ctx context.Context, bill *billing.Bill) error {
	if !bill.IsActive() {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.BillModel{}).
		Where("charge_id = ? AND id <> ? AND request_status IN ?", bill.ChargeID, bill.ID, billing.ActiveRequestStatuses()).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return billing.NewIntegrityViolation("charge %s already has an active bill", bill.ChargeID)
	}
	return nil
}

// translateBillWriteError maps a unique index hit (active bill or gateway id) to the domain error
func translateBillWriteError(bill *billing.Bill, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return billing.NewIntegrityViolation("charge %s already has an active bill or the gateway bill id is reused", bill.ChargeID)
	}
	return err
}

func toDomainBills(rows []models.BillModel) []*billing.Bill {
	bills := make([]*billing.Bill, len(rows))
	for i := range rows {
		bills[i] = rows[i].ToDomain()
	}
	return bills
}
