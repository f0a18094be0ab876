package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/academy/backend/internal/infrastructure/telemetry"
)

// ReconciliationService runs the staff operations on charges and bills.
//
// Operations that call the gateway follow the same shape: validate against a
// snapshot, call the gateway with no lock held, then re-validate under the
// charge row lock and apply. A change that raced in between fails with
// CONCURRENCY_CONFLICT instead of being overwritten.
type ReconciliationService struct {
	store   billing.Store
	gateway billing.Gateway
	guard   shared.OperationGuard
	applier *approvalApplier
	audit   auditor
	metrics *telemetry.BillingMetrics
	logger  *zap.Logger
	config  ServiceConfig
	now     func() time.Time
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(cfg ReconciliationServiceConfig) *ReconciliationService {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	conf := cfg.Config
	defaults := DefaultServiceConfig()
	if conf.SplitMinimum <= 0 {
		conf.SplitMinimum = defaults.SplitMinimum
	}
	if conf.GuardTTL <= 0 {
		conf.GuardTTL = defaults.GuardTTL
	}

	audit := auditor{metrics: cfg.Metrics, logger: log}
	return &ReconciliationService{
		store:   cfg.Store,
		gateway: cfg.Gateway,
		guard:   cfg.Guard,
		applier: &approvalApplier{store: cfg.Store, audit: audit, logger: log},
		audit:   audit,
		metrics: cfg.Metrics,
		logger:  log,
		config:  conf,
		now:     clock,
	}
}

// Send issues a new invoice for the charge
func (s *ReconciliationService) Send(ctx context.Context, tenantID, chargeID, actorID uuid.UUID) (res *OperationResult, err error) {
	ctx, done := s.begin(ctx, billing.OperationSend, chargeID)
	defer func() { done(err) }()

	release, err := s.acquire(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	defer release()

	// reserve a pending bill so a crash after the gateway call leaves a trace
	var charge *billing.Charge
	var bill *billing.Bill
	err = s.store.WithinTx(ctx, func(tx billing.Store) error {
		var err error
		if charge, err = tx.Charges().FindByIDForUpdate(ctx, chargeID); err != nil {
			return err
		}
		if err := requireTenant(charge, tenantID); err != nil {
			return err
		}
		current, err := tx.Bills().FindCurrentByCharge(ctx, chargeID)
		if err != nil {
			return err
		}
		if err := billing.CheckPrecondition(billing.OperationSend, current); err != nil {
			return err
		}
		if bill, err = billing.NewPendingBill(charge, s.now()); err != nil {
			return err
		}
		return tx.Bills().Create(ctx, bill)
	})
	if err != nil {
		return nil, err
	}

	issued, gwErr := s.gateway.Issue(ctx, billing.NewIssueRequest(charge))

	res = &OperationResult{Operation: billing.OperationSend, Charge: charge, Bill: bill}
	err = s.store.WithinTx(ctx, func(tx billing.Store) error {
		now := s.now()
		event := billing.NewBillEvent(bill, billing.EventTypeStatusChanged, billing.EventSourceOperation, billing.OperationSend, now).
			WithActor(actorID)

		if gwErr != nil {
			if err := bill.MarkFailed(gwErr.Error(), now); err != nil {
				return err
			}
			event.WithJSONPayload(gatewayErrorPayload(billing.OperationSend, gwErr))
		} else {
			if err := bill.MarkIssued(*issued, now); err != nil {
				return err
			}
			event.WithJSONPayload(issuePayloadOf(issued))
		}
		if err := tx.Bills().SaveWithLock(ctx, bill); err != nil {
			return err
		}
		event.GatewayBillID = bill.GatewayBillID
		event.WithTransition(billing.RequestStatusPending, bill.RequestStatus, true)
		res.AuditStatus = s.audit.record(ctx, tx.Events(), event)
		return nil
	})
	if err != nil {
		if gwErr == nil {
			s.withdrawOrphan(ctx, issued.GatewayBillID, err)
		}
		return nil, err
	}
	if gwErr != nil {
		logger.L(ctx, s.logger).Warn("invoice issue failed",
			zap.String("charge_id", chargeID.String()),
			zap.Bool("retryable", billing.IsRetryable(gwErr)),
			zap.Error(gwErr))
		return nil, billing.TranslateGatewayError("send", gwErr)
	}

	logger.L(ctx, s.logger).Info("invoice issued",
		zap.String("charge_id", chargeID.String()),
		zap.String("bill_id", bill.ID.String()),
		zap.String("gateway_bill_id", bill.GatewayBillID),
		zap.String("status", string(bill.RequestStatus)))
	return res, nil
}

// withdrawOrphan destroys an invoice the gateway issued but the ledger could
// not record, so the payer is not left holding a link nobody tracks
func (s *ReconciliationService) withdrawOrphan(ctx context.Context, gatewayBillID string, cause error) {
	log := logger.L(ctx, s.logger).With(zap.String("gateway_bill_id", gatewayBillID), zap.NamedError("cause", cause))
	if err := s.gateway.Destroy(ctx, gatewayBillID); err != nil {
		log.Error("issued invoice could not be recorded or withdrawn; destroy it at the gateway by hand", zap.Error(err))
		return
	}
	log.Warn("issued invoice could not be recorded and was withdrawn")
}

// Resend issues the current sent bill again with a new payment link. When the
// gateway hands out a new invoice id, the replaced invoice is withdrawn after
// the bill points at the new one; a payment that still reaches the old link
// is matched through the audit log.
func (s *ReconciliationService) Resend(ctx context.Context, tenantID, chargeID, actorID uuid.UUID) (res *OperationResult, err error) {
	ctx, done := s.begin(ctx, billing.OperationResend, chargeID)
	defer func() { done(err) }()

	release, err := s.acquire(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	defer release()

	charge, snapshot, err := s.snapshot(ctx, billing.OperationResend, tenantID, chargeID)
	if err != nil {
		return nil, err
	}
	replaced := snapshot.GatewayBillID

	issued, gwErr := s.gateway.Issue(ctx, billing.NewIssueRequest(charge))
	if gwErr != nil {
		s.recordGatewayFailure(ctx, billing.OperationResend, snapshot, actorID, gwErr)
		return nil, billing.TranslateGatewayError("resend", gwErr)
	}
	newLink := issued.GatewayBillID != "" && issued.GatewayBillID != replaced

	res = &OperationResult{Operation: billing.OperationResend}
	err = s.store.WithinTx(ctx, func(tx billing.Store) error {
		charge, bill, err := s.relock(ctx, tx, billing.OperationResend, snapshot)
		if err != nil {
			return err
		}
		if err := bill.Reissue(*issued, s.now()); err != nil {
			return err
		}
		if err := tx.Bills().SaveWithLock(ctx, bill); err != nil {
			return err
		}
		payload := issuePayloadOf(issued)
		if newLink {
			payload.ReplacedGatewayBillID = replaced
		}
		event := billing.NewBillEvent(bill, billing.EventTypeStatusChanged, billing.EventSourceOperation, billing.OperationResend, s.now()).
			WithTransition(bill.RequestStatus, bill.RequestStatus, true).
			WithJSONPayload(payload).
			WithActor(actorID)
		res.Charge, res.Bill = charge, bill
		res.AuditStatus = s.audit.record(ctx, tx.Events(), event)
		return nil
	})
	if err != nil {
		// the bill still points at the old invoice, so the new one is untracked
		if newLink {
			s.withdrawOrphan(ctx, issued.GatewayBillID, err)
		}
		return nil, err
	}

	if newLink {
		s.retireLink(ctx, res.Bill, replaced)
	}
	return res, nil
}

// retireLink destroys an invoice replaced by resend. A failure leaves the old
// link payable; webhooks for it still resolve to the bill.
func (s *ReconciliationService) retireLink(ctx context.Context, bill *billing.Bill, gatewayBillID string) {
	log := logger.L(ctx, s.logger).With(
		zap.String("bill_id", bill.ID.String()),
		zap.String("replaced_gateway_bill_id", gatewayBillID),
		zap.String("gateway_bill_id", bill.GatewayBillID))
	if err := s.gateway.Destroy(ctx, gatewayBillID); err != nil {
		log.Error("replaced invoice could not be withdrawn and is still payable", zap.Error(err))
		return
	}
	log.Info("replaced invoice withdrawn")
}

// Sync polls the gateway for the current bill's state and applies it
func (s *ReconciliationService) Sync(ctx context.Context, tenantID, chargeID, actorID uuid.UUID) (res *OperationResult, err error) {
	ctx, done := s.begin(ctx, billing.OperationSync, chargeID)
	defer func() { done(err) }()

	_, current, err := s.snapshot(ctx, billing.OperationSync, tenantID, chargeID)
	if err != nil {
		return nil, err
	}
	return s.syncBill(ctx, current, billing.EventSourceOperation, actorID)
}

// syncBill queries the gateway for one bill and applies the answer
func (s *ReconciliationService) syncBill(ctx context.Context, bill *billing.Bill, source billing.EventSource, actorID uuid.UUID) (*OperationResult, error) {
	status, err := s.gateway.QueryStatus(ctx, bill.GatewayBillID)
	if err != nil {
		return nil, billing.TranslateGatewayError("sync", err)
	}

	applied, err := s.applier.apply(ctx, approvalInput{
		BillID:      bill.ID,
		Observation: status.Observation(s.now()),
		Source:      source,
		Operation:   billing.OperationSync,
		Payload:     status.Raw,
		ActorID:     actorID,
	})
	if err != nil {
		return nil, err
	}
	outcome := applied.Outcome
	return &OperationResult{
		Operation:   billing.OperationSync,
		Charge:      applied.Charge,
		Bill:        applied.Bill,
		Outcome:     &outcome,
		AuditStatus: applied.AuditStatus,
	}, nil
}

// Cancel cancels the payment of the current paid bill
func (s *ReconciliationService) Cancel(ctx context.Context, tenantID, chargeID, actorID uuid.UUID) (*OperationResult, error) {
	return s.withdraw(ctx, billing.OperationCancel, tenantID, chargeID, actorID)
}

// Destroy withdraws the current unpaid invoice
func (s *ReconciliationService) Destroy(ctx context.Context, tenantID, chargeID, actorID uuid.UUID) (*OperationResult, error) {
	return s.withdraw(ctx, billing.OperationDestroy, tenantID, chargeID, actorID)
}

// withdraw implements cancel and destroy, which differ only in the gateway
// call and the target status
func (s *ReconciliationService) withdraw(ctx context.Context, op billing.Operation, tenantID, chargeID, actorID uuid.UUID) (res *OperationResult, err error) {
	ctx, done := s.begin(ctx, op, chargeID)
	defer func() { done(err) }()

	release, err := s.acquire(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	defer release()

	_, snapshot, err := s.snapshot(ctx, op, tenantID, chargeID)
	if err != nil {
		return nil, err
	}

	target, eventType := billing.RequestStatusDestroyed, billing.EventTypeDestroyed
	call := s.gateway.Destroy
	if op == billing.OperationCancel {
		target, eventType = billing.RequestStatusCancelled, billing.EventTypeCancelled
		call = s.gateway.Cancel
	}

	if gwErr := call(ctx, snapshot.GatewayBillID); gwErr != nil {
		s.recordGatewayFailure(ctx, op, snapshot, actorID, gwErr)
		return nil, billing.TranslateGatewayError(string(op), gwErr)
	}

	res = &OperationResult{Operation: op}
	err = s.store.WithinTx(ctx, func(tx billing.Store) error {
		charge, err := tx.Charges().FindByIDForUpdate(ctx, snapshot.ChargeID)
		if err != nil {
			return err
		}
		bill, err := tx.Bills().FindByID(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		res.Charge, res.Bill = charge, bill
		from := bill.RequestStatus
		event := billing.NewBillEvent(bill, eventType, billing.EventSourceOperation, op, s.now()).
			WithActor(actorID).
			WithJSONPayload(map[string]string{"gateway_bill_id": bill.GatewayBillID})

		// a webhook for the same change may have landed first
		if from == target {
			event.WithTransition(from, target, false)
			res.AuditStatus = s.audit.record(ctx, tx.Events(), event)
			return nil
		}
		if err := billing.CheckPrecondition(op, bill); err != nil {
			return billing.NewConcurrentUpdate("bill %s changed to %s while the %s was in flight", bill.ID, from, op)
		}

		if op == billing.OperationCancel {
			err = bill.MarkCancelled(s.now())
		} else {
			err = bill.MarkDestroyed(s.now())
		}
		if err != nil {
			return err
		}
		if err := tx.Bills().SaveWithLock(ctx, bill); err != nil {
			return err
		}
		if charge.ApplyPaymentStatus(billing.PaymentStatusUnpaid) {
			if err := tx.Charges().SaveWithLock(ctx, charge); err != nil {
				return err
			}
		}
		event.WithTransition(from, target, true)
		res.AuditStatus = s.audit.record(ctx, tx.Events(), event)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.L(ctx, s.logger).Info("bill withdrawn",
		zap.String("operation", string(op)),
		zap.String("charge_id", chargeID.String()),
		zap.String("bill_id", snapshot.ID.String()))
	return res, nil
}

// snapshot loads the tenant's charge and its current bill and checks the
// operation's precondition without locking
func (s *ReconciliationService) snapshot(ctx context.Context, op billing.Operation, tenantID, chargeID uuid.UUID) (*billing.Charge, *billing.Bill, error) {
	charge, err := s.store.Charges().FindByID(ctx, chargeID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireTenant(charge, tenantID); err != nil {
		return nil, nil, err
	}
	current, err := s.store.Bills().FindCurrentByCharge(ctx, chargeID)
	if err != nil {
		return nil, nil, err
	}
	if err := billing.CheckPrecondition(op, current); err != nil {
		return nil, nil, err
	}
	return charge, current, nil
}

// relock locks the charge, reloads the snapshot bill and checks that it is
// still current and still satisfies the precondition
func (s *ReconciliationService) relock(ctx context.Context, tx billing.Store, op billing.Operation, snapshot *billing.Bill) (*billing.Charge, *billing.Bill, error) {
	charge, err := tx.Charges().FindByIDForUpdate(ctx, snapshot.ChargeID)
	if err != nil {
		return nil, nil, err
	}
	current, err := tx.Bills().FindCurrentByCharge(ctx, charge.ID)
	if err != nil {
		return nil, nil, err
	}
	if current == nil || current.ID != snapshot.ID {
		return nil, nil, billing.NewConcurrentUpdate("charge %s was re-billed while the %s was in flight", charge.ID, op)
	}
	if err := billing.CheckPrecondition(op, current); err != nil {
		return nil, nil, billing.NewConcurrentUpdate("bill %s changed to %s while the %s was in flight", current.ID, current.RequestStatus, op)
	}
	return charge, current, nil
}

// recordGatewayFailure appends the raw gateway error to the audit log
func (s *ReconciliationService) recordGatewayFailure(ctx context.Context, op billing.Operation, bill *billing.Bill, actorID uuid.UUID, gwErr error) {
	event := billing.NewBillEvent(bill, billing.EventTypeStatusChanged, billing.EventSourceOperation, op, s.now()).
		WithTransition(bill.RequestStatus, bill.RequestStatus, false).
		WithJSONPayload(gatewayErrorPayload(op, gwErr)).
		WithActor(actorID)
	s.audit.record(ctx, s.store.Events(), event)

	logger.L(ctx, s.logger).Warn("gateway call failed",
		zap.String("operation", string(op)),
		zap.String("bill_id", bill.ID.String()),
		zap.Bool("retryable", billing.IsRetryable(gwErr)),
		zap.Error(gwErr))
}

// acquire claims the per-charge guard. Without a guard, or when the guard's
// backend is down, the row lock and the single-active rule still hold.
func (s *ReconciliationService) acquire(ctx context.Context, chargeID uuid.UUID) (func(), error) {
	noop := func() {}
	if s.guard == nil {
		return noop, nil
	}

	key := chargeKey(chargeID)
	token, ok, err := s.guard.Acquire(ctx, key, s.config.GuardTTL)
	if err != nil {
		logger.L(ctx, s.logger).Warn("operation guard unavailable, relying on row locks",
			zap.String("key", key), zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, billing.NewConcurrentUpdate("another operation on charge %s is in progress", chargeID)
	}
	return func() {
		// the caller's context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.guard.Release(releaseCtx, key, token); err != nil {
			logger.L(ctx, s.logger).Warn("failed to release operation guard", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// begin opens the operation span and returns the function that closes it
func (s *ReconciliationService) begin(ctx context.Context, op billing.Operation, chargeID uuid.UUID) (context.Context, func(error)) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", string(op),
		telemetry.WithAttribute(telemetry.SpanAttrOperation, string(op)),
		telemetry.WithAttribute(telemetry.SpanAttrChargeID, chargeID.String()),
	)
	start := s.now()
	return ctx, func(err error) {
		s.metrics.RecordOperation(ctx, string(op), outcomeOf(err), s.now().Sub(start))
		endSpan(span, err)
	}
}
