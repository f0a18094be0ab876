package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/academy/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// PaymentStatus is the ledger view of a Charge
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
	PaymentStatusSplit  PaymentStatus = "split"
)

// IsValid returns true if the status is known
func (s PaymentStatus) IsValid() bool {
	return s == PaymentStatusUnpaid || s == PaymentStatusPaid || s == PaymentStatusSplit
}

// Charge is the amount a payer owes for a billing period. Amounts are in the
// currency's minor unit.
type Charge struct {
	shared.TenantAggregateRoot
	PayerID        uuid.UUID
	PayerName      string
	PayerPhone     string
	Period         string
	Title          string
	Amount         int64
	PaymentStatus  PaymentStatus
	ParentChargeID *uuid.UUID
	IsSplitChild   bool
}

// NewCharge creates an unpaid charge
func NewCharge(tenantID, payerID uuid.UUID, payerName, payerPhone, period, title string, amount int64) (*Charge, error) {
	if amount <= 0 {
		return nil, shared.NewDomainError("INVALID_INPUT", "charge amount must be positive")
	}
	if strings.TrimSpace(payerName) == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "payer name is required")
	}
	return &Charge{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		PayerID:             payerID,
		PayerName:           payerName,
		PayerPhone:          payerPhone,
		Period:              period,
		Title:               title,
		Amount:              amount,
		PaymentStatus:       PaymentStatusUnpaid,
	}, nil
}

// IsPaid returns true if the charge is settled
func (c *Charge) IsPaid() bool {
	return c.PaymentStatus == PaymentStatusPaid
}

// IsSplit returns true if the charge has been replaced by split children
func (c *Charge) IsSplit() bool {
	return c.PaymentStatus == PaymentStatusSplit
}

// CheckBillable returns an error if a new invoice may not be issued for the charge
func (c *Charge) CheckBillable() error {
	switch {
	case c.IsPaid():
		return NewPreconditionFailed("charge is already paid")
	case c.IsSplit():
		return NewPreconditionFailed("charge has been split; bill its child charges instead")
	case c.Amount <= 0:
		return NewIntegrityViolation("charge amount must be positive")
	}
	return nil
}

// ApplyPaymentStatus sets paid/unpaid. A split charge keeps its status since
// its children carry the debt. Returns true if the status changed.
func (c *Charge) ApplyPaymentStatus(status PaymentStatus) bool {
	if c.IsSplit() || status == PaymentStatusSplit || c.PaymentStatus == status {
		return false
	}
	c.PaymentStatus = status
	c.UpdatedAt = time.Now()
	return true
}

// CheckSplittable returns an error if the charge may not be split
func (c *Charge) CheckSplittable() error {
	switch {
	case c.IsPaid():
		return NewPreconditionFailed("a paid charge cannot be split")
	case c.IsSplit():
		return NewPreconditionFailed("charge is already split")
	case c.IsSplitChild:
		return NewPreconditionFailed("a split child charge cannot be split again")
	}
	return nil
}

// Split marks the charge split and returns its children. Nothing is changed
// unless every check passes.
func (c *Charge) Split(amounts []int64, minimum int64, now time.Time) ([]*Charge, error) {
	if err := c.CheckSplittable(); err != nil {
		return nil, err
	}
	if err := ValidateSplitAmounts(c.Amount, amounts, minimum); err != nil {
		return nil, err
	}

	parentID := c.ID
	children := make([]*Charge, len(amounts))
	for i, amount := range amounts {
		child := &Charge{
			TenantAggregateRoot: shared.NewTenantAggregateRoot(c.TenantID),
			PayerID:             c.PayerID,
			PayerName:           c.PayerName,
			PayerPhone:          c.PayerPhone,
			Period:              c.Period,
			Title:               fmt.Sprintf("%s (%d/%d)", c.Title, i+1, len(amounts)),
			Amount:              amount,
			PaymentStatus:       PaymentStatusUnpaid,
			ParentChargeID:      &parentID,
			IsSplitChild:        true,
		}
		child.CreatedAt = now
		child.UpdatedAt = now
		children[i] = child
	}

	c.PaymentStatus = PaymentStatusSplit
	c.UpdatedAt = now
	return children, nil
}
