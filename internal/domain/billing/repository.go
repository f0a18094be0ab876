package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ChargeRepository is the Charge ledger
type ChargeRepository interface {
	// FindByID returns a NOT_FOUND domain error when the charge does not exist
	FindByID(ctx context.Context, id uuid.UUID) (*Charge, error)
	// FindByIDForUpdate locks the charge row until the transaction ends
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*Charge, error)
	FindChildren(ctx context.Context, parentID uuid.UUID) ([]*Charge, error)
	Create(ctx context.Context, charge *Charge) error
	// SaveWithLock persists the charge if its version is unchanged
	SaveWithLock(ctx context.Context, charge *Charge) error
}

// BillRepository is the invoice state store
type BillRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	FindByGatewayBillID(ctx context.Context, gatewayBillID string) (*Bill, error)
	// FindCurrentByCharge returns the most recently created bill, or nil
	FindCurrentByCharge(ctx context.Context, chargeID uuid.UUID) (*Bill, error)
	// FindActiveByCharge returns the bill in created/sent/paid, or nil
	FindActiveByCharge(ctx context.Context, chargeID uuid.UUID) (*Bill, error)
	ListByCharge(ctx context.Context, chargeID uuid.UUID) ([]*Bill, error)
	// FindStaleSent returns sent bills whose last status change is older than before
	FindStaleSent(ctx context.Context, before time.Time, limit int) ([]*Bill, error)
	// Create inserts a bill, failing with INTEGRITY_VIOLATION if it would be
	// a second active bill for its charge
	Create(ctx context.Context, bill *Bill) error
	// SaveWithLock persists the bill if its version is unchanged, enforcing
	// the same single-active rule as Create
	SaveWithLock(ctx context.Context, bill *Bill) error
}

// EventRepository is the append-only audit log
type EventRepository interface {
	// Append inserts the event as part of the caller's unit of work
	Append(ctx context.Context, event *Event) error
	// TryAppend inserts the event so that a failure does not abort an
	// enclosing transaction
	TryAppend(ctx context.Context, event *Event) error
	ListByCharge(ctx context.Context, chargeID uuid.UUID) ([]*Event, error)
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*Event, error)
	// FindBillIDByGatewayBillID returns the bill whose events last carried
	// the gateway id. Links replaced by a resend are only found this way.
	FindBillIDByGatewayBillID(ctx context.Context, gatewayBillID string) (uuid.UUID, error)
}

// Store groups the billing repositories behind one transactional boundary
type Store interface {
	Charges() ChargeRepository
	Bills() BillRepository
	Events() EventRepository
	// WithinTx runs fn in a transaction; repositories from tx share it
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
