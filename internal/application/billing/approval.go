package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/logger"
)

// approvalInput is one gateway observation about a stored bill
type approvalInput struct {
	BillID uuid.UUID
	// GatewayBillID is the invoice the gateway reported on; empty means the
	// bill's own
	GatewayBillID string
	Observation   billing.ApprovalObservation
	Source        billing.EventSource
	Operation     billing.Operation
	Payload       []byte
	ActorID       uuid.UUID
}

// approvalResult is what applying an observation did
type approvalResult struct {
	Charge        *billing.Charge
	Bill          *billing.Bill
	Outcome       billing.ApprovalOutcome
	ChargeChanged bool
	AuditStatus   AuditStatus
}

// approvalApplier folds gateway observations into the ledger. Webhook
// deliveries, manual sync and the stale sweep all go through it so that they
// share one mapping table and one rank rule.
type approvalApplier struct {
	store  billing.Store
	audit  auditor
	logger *zap.Logger
}

// apply locks the bill's charge, reloads the bill and applies the observation.
// An event is appended for every call, applied or not.
func (a *approvalApplier) apply(ctx context.Context, in approvalInput) (*approvalResult, error) {
	var res *approvalResult

	err := a.store.WithinTx(ctx, func(tx billing.Store) error {
		snapshot, err := tx.Bills().FindByID(ctx, in.BillID)
		if err != nil {
			return err
		}
		charge, err := tx.Charges().FindByIDForUpdate(ctx, snapshot.ChargeID)
		if err != nil {
			return err
		}
		// reload under the charge lock
		bill, err := tx.Bills().FindByID(ctx, in.BillID)
		if err != nil {
			return err
		}
		current, err := tx.Bills().FindCurrentByCharge(ctx, charge.ID)
		if err != nil {
			return err
		}
		isCurrent := current != nil && current.ID == bill.ID

		res = &approvalResult{Charge: charge, Bill: bill}
		target := in.Observation.State.RequestStatus()

		superseded, err := a.supersededBy(ctx, tx, bill, isCurrent, target)
		if err != nil {
			return err
		}
		if superseded != nil {
			res.Outcome = billing.ApprovalOutcome{
				From:   bill.RequestStatus,
				To:     bill.RequestStatus,
				Reason: fmt.Sprintf("bill superseded by %s", superseded.ID),
			}
			logger.L(ctx, a.logger).Error("gateway reports an active state for a superseded bill",
				zap.String("bill_id", bill.ID.String()),
				zap.String("gateway_bill_id", bill.GatewayBillID),
				zap.String("active_bill_id", superseded.ID.String()),
				zap.String("state", string(in.Observation.State)))
		} else if in.GatewayBillID != "" && in.GatewayBillID != bill.GatewayBillID {
			res.Outcome, err = a.applyReplacedLink(ctx, bill, in)
			if err != nil {
				return err
			}
		} else {
			res.Outcome = bill.ApplyApproval(in.Observation)
		}

		if res.Outcome.Applied {
			if err := tx.Bills().SaveWithLock(ctx, bill); err != nil {
				return err
			}
			// the charge follows its current bill, or a replaced bill that
			// became the only active one
			if status, ok := in.Observation.State.PaymentStatus(); ok && (isCurrent || bill.IsActive()) {
				if charge.ApplyPaymentStatus(status) {
					if err := tx.Charges().SaveWithLock(ctx, charge); err != nil {
						return err
					}
					res.ChargeChanged = true
				}
			}
		}

		event := billing.NewBillEvent(bill, in.Observation.State.EventType(), in.Source, in.Operation, in.Observation.ReceivedAt).
			WithTransition(res.Outcome.From, target, res.Outcome.Applied).
			WithOccurredAt(in.Observation.ApprovedAt).
			WithPayload(in.Payload).
			WithActor(in.ActorID)
		if in.GatewayBillID != "" {
			event.GatewayBillID = in.GatewayBillID
		}
		res.AuditStatus = a.audit.record(ctx, tx.Events(), event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// supersededBy returns the charge's other active bill when the observation
// would make a replaced bill active again
func (a *approvalApplier) supersededBy(ctx context.Context, tx billing.Store, bill *billing.Bill, isCurrent bool, target billing.RequestStatus) (*billing.Bill, error) {
	if isCurrent || !target.IsActive() || bill.RequestStatus == target {
		return nil, nil
	}
	active, err := tx.Bills().FindActiveByCharge(ctx, bill.ChargeID)
	if err != nil {
		return nil, err
	}
	if active == nil || active.ID == bill.ID {
		return nil, nil
	}
	return active, nil
}

// applyReplacedLink handles a report about an invoice the bill no longer
// points at. Only a payment is applied, and the bill then follows the paid
// invoice; anything else about a withdrawn link is recorded and ignored.
func (a *approvalApplier) applyReplacedLink(ctx context.Context, bill *billing.Bill, in approvalInput) (billing.ApprovalOutcome, error) {
	live := bill.GatewayBillID
	log := logger.L(ctx, a.logger).With(
		zap.String("bill_id", bill.ID.String()),
		zap.String("reported_gateway_bill_id", in.GatewayBillID),
		zap.String("gateway_bill_id", live),
		zap.String("state", string(in.Observation.State)))

	if in.Observation.State != billing.ApprovalFinalized {
		log.Info("ignoring report for a replaced payment link")
		return billing.ApprovalOutcome{
			From:   bill.RequestStatus,
			To:     bill.RequestStatus,
			Reason: fmt.Sprintf("payment link %s was replaced by %s", in.GatewayBillID, live),
		}, nil
	}

	outcome := bill.ApplyApproval(in.Observation)
	if !outcome.Applied {
		log.Error("payment on a replaced link for a bill that cannot take it; refund or reconcile by hand",
			zap.String("status", string(bill.RequestStatus)))
		return outcome, nil
	}
	if err := bill.RestoreLink(in.GatewayBillID, in.Observation.ReceivedAt); err != nil {
		return outcome, err
	}
	log.Warn("payment arrived on a replaced payment link; the newer link is still open at the gateway",
		zap.String("open_gateway_bill_id", live))
	return outcome, nil
}
