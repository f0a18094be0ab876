package persistence

import (
	"context"

	"github.com/academy/backend/internal/domain/billing"
	"gorm.io/gorm"
)

// GormBillingStore implements billing.Store. Repositories handed out by a
// store created in WithinTx share its transaction.
type GormBillingStore struct {
	db   *gorm.DB
	inTx bool
}

// NewGormBillingStore creates a new GormBillingStore
func NewGormBillingStore(db *gorm.DB) *GormBillingStore {
	return &GormBillingStore{db: db}
}

// Charges returns the charge ledger
func (s *GormBillingStore) Charges() billing.ChargeRepository {
	return NewGormChargeRepository(s.db)
}

// Bills returns the invoice state store
func (s *GormBillingStore) Bills() billing.BillRepository {
	return NewGormBillRepository(s.db)
}

// Events returns the event log
func (s *GormBillingStore) Events() billing.EventRepository {
	return &GormEventRepository{db: s.db, inTx: s.inTx}
}

// WithinTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *GormBillingStore) WithinTx(ctx context.Context, fn func(tx billing.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormBillingStore{db: tx, inTx: true})
	})
}
