package billing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy/backend/internal/domain/billing"
)

func TestReconciliationService_OfflineSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("settles a batch without calling the gateway", func(t *testing.T) {
		env := newTestEnv(t)
		tenant := uuid.New()
		first := env.createChargeFor(t, tenant, 250000)
		second := env.createChargeFor(t, tenant, 180000)
		firstBill := env.sendBill(t, first, "GB-1")
		secondBill := env.sendBill(t, second, "GB-2")
		issueCalls := len(env.gateway.Calls)
		actor := uuid.New()

		res, err := env.svc.OfflineSettle(ctx, OfflineSettleRequest{
			TenantID:  tenant,
			ChargeIDs: []uuid.UUID{first.ID, second.ID, first.ID},
			ActorID:   actor,
			Note:      "paid at front desk",
		})
		require.NoError(t, err)
		assert.Len(t, res.Items, 2)
		assert.Equal(t, AuditRecorded, res.AuditStatus)

		for _, id := range []uuid.UUID{firstBill.ID, secondBill.ID} {
			bill := env.reloadBill(t, id)
			assert.Equal(t, billing.RequestStatusPaid, bill.RequestStatus)
			assert.Equal(t, billing.PaymentMethodOffline, bill.PaymentMethod)
			assert.NotNil(t, bill.PaidAt)
		}
		assert.Equal(t, billing.PaymentStatusPaid, env.reloadCharge(t, first.ID).PaymentStatus)
		assert.Equal(t, billing.PaymentStatusPaid, env.reloadCharge(t, second.ID).PaymentStatus)

		events := env.events(t, first.ID)
		last := events[len(events)-1]
		assert.Equal(t, billing.EventTypePaymentCompleted, last.Type)
		assert.Equal(t, billing.OperationOfflineSettle, last.Operation)
		assert.Contains(t, string(last.Payload), "front desk")
		require.NotNil(t, last.ActorID)
		assert.Equal(t, actor, *last.ActorID)

		assert.Len(t, env.gateway.Calls, issueCalls, "offline settlement never reaches the gateway")
	})

	t.Run("one ineligible charge fails the whole batch", func(t *testing.T) {
		env := newTestEnv(t)
		eligible := env.createCharge(t, 250000)
		bill := env.sendBill(t, eligible, "GB-1")
		unbilled := env.createChargeFor(t, eligible.TenantID, 180000)

		_, err := env.svc.OfflineSettle(ctx, OfflineSettleRequest{TenantID: eligible.TenantID, ChargeIDs: []uuid.UUID{eligible.ID, unbilled.ID}})
		assert.Equal(t, billing.CodePreconditionFailed, codeOf(err))

		assert.Equal(t, billing.RequestStatusSent, env.reloadBill(t, bill.ID).RequestStatus)
		assert.Equal(t, billing.PaymentStatusUnpaid, env.reloadCharge(t, eligible.ID).PaymentStatus)
	})

	t.Run("a paid bill is not settled twice", func(t *testing.T) {
		env := newTestEnv(t)
		charge := env.createCharge(t, 250000)
		env.sendBill(t, charge, "GB-1")
		require.Equal(t, billing.AckSuccess, env.deliver("GB-1", "F").AckCode)

		_, err := env.svc.OfflineSettle(ctx, OfflineSettleRequest{TenantID: charge.TenantID, ChargeIDs: []uuid.UUID{charge.ID}})
		assert.Equal(t, billing.CodePreconditionFailed, codeOf(err))
	})

	t.Run("a charge of another academy fails the whole batch", func(t *testing.T) {
		env := newTestEnv(t)
		own := env.createCharge(t, 250000)
		ownBill := env.sendBill(t, own, "GB-1")
		foreign := env.createCharge(t, 180000)
		foreignBill := env.sendBill(t, foreign, "GB-2")

		_, err := env.svc.OfflineSettle(ctx, OfflineSettleRequest{TenantID: own.TenantID, ChargeIDs: []uuid.UUID{own.ID, foreign.ID}})
		assert.Equal(t, billing.CodeNotFound, codeOf(err))

		assert.Equal(t, billing.RequestStatusSent, env.reloadBill(t, ownBill.ID).RequestStatus)
		assert.Equal(t, billing.RequestStatusSent, env.reloadBill(t, foreignBill.ID).RequestStatus)
		assert.Equal(t, billing.PaymentStatusUnpaid, env.reloadCharge(t, foreign.ID).PaymentStatus)
	})

	t.Run("empty batch is invalid", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.OfflineSettle(ctx, OfflineSettleRequest{TenantID: uuid.New(), ChargeIDs: []uuid.UUID{uuid.Nil}})
		assert.Equal(t, billing.CodeInvalidInput, codeOf(err))
	})
}

func TestDedupeIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	out := dedupeIDs([]uuid.UUID{b, a, uuid.Nil, b})
	require.Len(t, out, 2)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, out)
	assert.Equal(t, out, dedupeIDs([]uuid.UUID{a, b}))
}
