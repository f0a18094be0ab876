package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/telemetry"
)

// ChargeView is a charge with its current bill and split children
type ChargeView struct {
	Charge      *billing.Charge
	CurrentBill *billing.Bill
	Children    []*billing.Charge
}

// GetCharge returns the read view of a charge
func (s *ReconciliationService) GetCharge(ctx context.Context, tenantID, chargeID uuid.UUID) (*ChargeView, error) {
	charge, err := s.ownCharge(ctx, tenantID, chargeID)
	if err != nil {
		return nil, err
	}
	current, err := s.store.Bills().FindCurrentByCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	view := &ChargeView{Charge: charge, CurrentBill: current}
	if charge.IsSplit() {
		if view.Children, err = s.store.Charges().FindChildren(ctx, chargeID); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// ListBills returns every bill ever issued for a charge, oldest first
func (s *ReconciliationService) ListBills(ctx context.Context, tenantID, chargeID uuid.UUID) ([]*billing.Bill, error) {
	if _, err := s.ownCharge(ctx, tenantID, chargeID); err != nil {
		return nil, err
	}
	return s.store.Bills().ListByCharge(ctx, chargeID)
}

// ListEvents returns the audit trail of a charge in receipt order
func (s *ReconciliationService) ListEvents(ctx context.Context, tenantID, chargeID uuid.UUID) ([]*billing.Event, error) {
	if _, err := s.ownCharge(ctx, tenantID, chargeID); err != nil {
		return nil, err
	}
	return s.store.Events().ListByCharge(ctx, chargeID)
}

// GetBill looks a bill up by its own id or by the gateway's bill id
func (s *ReconciliationService) GetBill(ctx context.Context, tenantID uuid.UUID, ref string) (*billing.Bill, error) {
	var bill *billing.Bill
	var err error
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		bill, err = s.store.Bills().FindByID(ctx, id)
	} else {
		bill, err = s.store.Bills().FindByGatewayBillID(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if !bill.BelongsTo(tenantID) {
		return nil, billing.NewNotFound("bill %q not found", ref)
	}
	return bill, nil
}

// ownCharge loads a charge of the caller's tenant
func (s *ReconciliationService) ownCharge(ctx context.Context, tenantID, chargeID uuid.UUID) (*billing.Charge, error) {
	charge, err := s.store.Charges().FindByID(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if err := requireTenant(charge, tenantID); err != nil {
		return nil, err
	}
	return charge, nil
}

// GatewayBalance returns the prepaid message balance at the gateway
func (s *ReconciliationService) GatewayBalance(ctx context.Context) (balance *billing.Balance, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "gateway_balance")
	defer func() { endSpan(span, err) }()

	balance, err = s.gateway.QueryBalance(ctx)
	if err != nil {
		return nil, billing.TranslateGatewayError("balance query", err)
	}
	return balance, nil
}
