package billing

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/logger"
)

// SplitRequest divides a charge into child charges. Give either explicit
// Amounts or a Count of equal shares.
type SplitRequest struct {
	TenantID uuid.UUID
	ChargeID uuid.UUID
	Amounts  []int64
	Count    int
	ActorID  uuid.UUID
}

// SplitResult is the outcome of a split
type SplitResult struct {
	Parent   *billing.Charge
	Children []*billing.Charge
	// DestroyedBill is the invoice withdrawn before the split, if any
	DestroyedBill *billing.Bill
	AuditStatus   AuditStatus
}

type splitPayload struct {
	Amounts  []int64     `json:"amounts"`
	Children []uuid.UUID `json:"children"`
}

// Split replaces a charge with child charges whose amounts sum to the parent's.
// An open invoice is destroyed at the gateway first; if that fails no child
// is created.
func (s *ReconciliationService) Split(ctx context.Context, req SplitRequest) (res *SplitResult, err error) {
	ctx, done := s.begin(ctx, billing.OperationSplit, req.ChargeID)
	defer func() { done(err) }()

	release, err := s.acquire(ctx, req.ChargeID)
	if err != nil {
		return nil, err
	}
	defer release()

	charge, err := s.store.Charges().FindByID(ctx, req.ChargeID)
	if err != nil {
		return nil, err
	}
	if err := requireTenant(charge, req.TenantID); err != nil {
		return nil, err
	}
	amounts, err := s.splitAmounts(charge, req)
	if err != nil {
		return nil, err
	}
	active, err := s.store.Bills().FindActiveByCharge(ctx, charge.ID)
	if err != nil {
		return nil, err
	}
	if active != nil && active.RequestStatus == billing.RequestStatusPaid {
		return nil, billing.NewPreconditionFailed("charge %s has a paid bill; cancel it before splitting", charge.ID)
	}

	if active != nil {
		if gwErr := s.gateway.Destroy(ctx, active.GatewayBillID); gwErr != nil {
			s.recordGatewayFailure(ctx, billing.OperationSplit, active, req.ActorID, gwErr)
			return nil, billing.TranslateGatewayError("split", gwErr)
		}
	}

	res = &SplitResult{}
	err = s.store.WithinTx(ctx, func(tx billing.Store) error {
		now := s.now()
		statuses := make([]AuditStatus, 0, 2)

		parent, err := tx.Charges().FindByIDForUpdate(ctx, req.ChargeID)
		if err != nil {
			return err
		}
		current, err := tx.Bills().FindActiveByCharge(ctx, parent.ID)
		if err != nil {
			return err
		}
		switch {
		case active == nil && current != nil:
			return billing.NewConcurrentUpdate("charge %s was billed while the split was in flight", parent.ID)
		case active != nil && current != nil && current.ID != active.ID:
			return billing.NewConcurrentUpdate("charge %s was re-billed while the split was in flight", parent.ID)
		case current != nil && current.RequestStatus == billing.RequestStatusPaid:
			return billing.NewConcurrentUpdate("bill %s was paid while the split was in flight", current.ID)
		}

		if current != nil {
			from := current.RequestStatus
			if err := current.MarkDestroyed(now); err != nil {
				return err
			}
			if err := tx.Bills().SaveWithLock(ctx, current); err != nil {
				return err
			}
			event := billing.NewBillEvent(current, billing.EventTypeDestroyed, billing.EventSourceOperation, billing.OperationSplit, now).
				WithTransition(from, billing.RequestStatusDestroyed, true).
				WithJSONPayload(map[string]string{"gateway_bill_id": current.GatewayBillID}).
				WithActor(req.ActorID)
			statuses = append(statuses, s.audit.record(ctx, tx.Events(), event))
			res.DestroyedBill = current
		}

		children, err := parent.Split(amounts, s.config.SplitMinimum, now)
		if err != nil {
			return err
		}
		if err := tx.Charges().SaveWithLock(ctx, parent); err != nil {
			return err
		}
		childIDs := make([]uuid.UUID, len(children))
		for i, child := range children {
			if err := tx.Charges().Create(ctx, child); err != nil {
				return err
			}
			childIDs[i] = child.ID
		}

		event := billing.NewChargeEvent(parent, billing.EventTypeStatusChanged, billing.OperationSplit, now).
			WithJSONPayload(splitPayload{Amounts: amounts, Children: childIDs}).
			WithActor(req.ActorID)
		statuses = append(statuses, s.audit.record(ctx, tx.Events(), event))

		res.Parent, res.Children = parent, children
		res.AuditStatus = worst(statuses...)
		return nil
	})
	if err != nil {
		if active != nil {
			logger.L(ctx, s.logger).Error("invoice destroyed at the gateway but the split was not recorded",
				zap.String("charge_id", req.ChargeID.String()),
				zap.String("bill_id", active.ID.String()),
				zap.Error(err))
		}
		return nil, err
	}

	logger.L(ctx, s.logger).Info("charge split",
		zap.String("charge_id", req.ChargeID.String()),
		zap.Int("children", len(res.Children)))
	return res, nil
}

// splitAmounts resolves the request into explicit amounts and validates them
// against the charge before anything is touched
func (s *ReconciliationService) splitAmounts(charge *billing.Charge, req SplitRequest) ([]int64, error) {
	if err := charge.CheckSplittable(); err != nil {
		return nil, err
	}

	amounts := req.Amounts
	switch {
	case req.Count > 0 && len(req.Amounts) > 0:
		return nil, billing.NewInvalidInput("give either count or amounts, not both")
	case req.Count > 0:
		shares, err := billing.EqualShares(charge.Amount, req.Count)
		if err != nil {
			return nil, err
		}
		amounts = shares
	case len(req.Amounts) == 0:
		return nil, billing.NewInvalidInput("count or amounts is required")
	}

	if err := billing.ValidateSplitAmounts(charge.Amount, amounts, s.config.SplitMinimum); err != nil {
		return nil, err
	}
	return amounts, nil
}
