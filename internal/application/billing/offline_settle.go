package billing

import (
	"bytes"
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/infrastructure/logger"
)

// OfflineSettleRequest marks charges paid outside the gateway (cash, transfer)
type OfflineSettleRequest struct {
	TenantID  uuid.UUID
	ChargeIDs []uuid.UUID
	ActorID   uuid.UUID
	Note      string
}

// OfflineSettleItem is one settled charge
type OfflineSettleItem struct {
	Charge *billing.Charge
	Bill   *billing.Bill
}

// OfflineSettleResult is the outcome of a batch settlement
type OfflineSettleResult struct {
	Items       []OfflineSettleItem
	AuditStatus AuditStatus
}

type offlinePayload struct {
	PaymentMethod string `json:"payment_method"`
	Note          string `json:"note,omitempty"`
}

// OfflineSettle settles a batch of charges in one transaction. Every charge's
// current bill must be created or sent; if any fails the check nothing is
// changed. The gateway is not contacted.
func (s *ReconciliationService) OfflineSettle(ctx context.Context, req OfflineSettleRequest) (res *OfflineSettleResult, err error) {
	ids := dedupeIDs(req.ChargeIDs)
	ctx, done := s.begin(ctx, billing.OperationOfflineSettle, uuid.Nil)
	defer func() { done(err) }()

	if len(ids) == 0 {
		return nil, billing.NewInvalidInput("at least one charge id is required")
	}

	res = &OfflineSettleResult{Items: make([]OfflineSettleItem, 0, len(ids))}
	err = s.store.WithinTx(ctx, func(tx billing.Store) error {
		res.Items = res.Items[:0]
		statuses := make([]AuditStatus, 0, len(ids))

		// ids are sorted so concurrent batches lock rows in the same order
		for _, id := range ids {
			charge, err := tx.Charges().FindByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := requireTenant(charge, req.TenantID); err != nil {
				return err
			}
			current, err := tx.Bills().FindCurrentByCharge(ctx, id)
			if err != nil {
				return err
			}
			if err := billing.CheckPrecondition(billing.OperationOfflineSettle, current); err != nil {
				return billing.NewPreconditionFailed("charge %s: %v", id, err)
			}
			res.Items = append(res.Items, OfflineSettleItem{Charge: charge, Bill: current})
		}

		now := s.now()
		for _, item := range res.Items {
			from := item.Bill.RequestStatus
			if err := item.Bill.SettleOffline(now); err != nil {
				return err
			}
			if err := tx.Bills().SaveWithLock(ctx, item.Bill); err != nil {
				return err
			}
			if item.Charge.ApplyPaymentStatus(billing.PaymentStatusPaid) {
				if err := tx.Charges().SaveWithLock(ctx, item.Charge); err != nil {
					return err
				}
			}
			event := billing.NewBillEvent(item.Bill, billing.EventTypePaymentCompleted, billing.EventSourceOperation, billing.OperationOfflineSettle, now).
				WithTransition(from, billing.RequestStatusPaid, true).
				WithJSONPayload(offlinePayload{PaymentMethod: billing.PaymentMethodOffline, Note: req.Note}).
				WithActor(req.ActorID)
			statuses = append(statuses, s.audit.record(ctx, tx.Events(), event))
		}
		res.AuditStatus = worst(statuses...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.L(ctx, s.logger).Info("charges settled offline", zap.Int("count", len(res.Items)))
	return res, nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
