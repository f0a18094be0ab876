package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormEventRepository implements billing.EventRepository using GORM.
// Rows are only ever inserted.
type GormEventRepository struct {
	db   *gorm.DB
	inTx bool
}

// NewGormEventRepository creates a new GormEventRepository
func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

// Append inserts the event
func (r *GormEventRepository) Append(ctx context.Context, event *billing.Event) error {
	return r.db.WithContext(ctx).Create(models.EventModelFromDomain(event)).Error
}

// TryAppend inserts the event behind a savepoint when running inside a
// transaction, so a failed insert leaves the transaction usable.
func (r *GormEventRepository) TryAppend(ctx context.Context, event *billing.Event) error {
	if !r.inTx {
		return r.Append(ctx, event)
	}

	name := "audit_" + strings.ReplaceAll(event.ID.String(), "-", "")
	db := r.db.WithContext(ctx)
	if err := db.SavePoint(name).Error; err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := db.Create(models.EventModelFromDomain(event)).Error; err != nil {
		if rbErr := db.RollbackTo(name).Error; rbErr != nil {
			return fmt.Errorf("append event: %w (rollback to savepoint: %v)", err, rbErr)
		}
		return err
	}
	return nil
}

// ListByCharge returns the charge's events in receipt order
func (r *GormEventRepository) ListByCharge(ctx context.Context, chargeID uuid.UUID) ([]*billing.Event, error) {
	return r.list(r.db.WithContext(ctx).Where("charge_id = ?", chargeID))
}

// ListByBill returns the bill's events in receipt order
func (r *GormEventRepository) ListByBill(ctx context.Context, billID uuid.UUID) ([]*billing.Event, error) {
	return r.list(r.db.WithContext(ctx).Where("bill_id = ?", billID))
}

// FindBillIDByGatewayBillID returns the bill of the newest event that carried
// the gateway id
func (r *GormEventRepository) FindBillIDByGatewayBillID(ctx context.Context, gatewayBillID string) (uuid.UUID, error) {
	var row models.EventModel
	err := r.db.WithContext(ctx).
		Where("gateway_bill_id = ? AND bill_id IS NOT NULL", gatewayBillID).
		Order("received_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, billing.NewNotFound("no bill recorded for gateway bill %q", gatewayBillID)
		}
		return uuid.Nil, err
	}
	return *row.BillID, nil
}

func (r *GormEventRepository) list(db *gorm.DB) ([]*billing.Event, error) {
	var rows []models.EventModel
	if err := db.Order("received_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]*billing.Event, len(rows))
	for i := range rows {
		events[i] = rows[i].ToDomain()
	}
	return events, nil
}
