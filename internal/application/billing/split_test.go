package billing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/academy/backend/internal/domain/billing"
)

func childAmounts(children []*billing.Charge) []int64 {
	amounts := make([]int64, len(children))
	for i, c := range children {
		amounts[i] = c.Amount
	}
	return amounts
}

func TestReconciliationService_Split(t *testing.T) {
	ctx := context.Background()

	t.Run("equal shares of an unbilled charge", func(t *testing.T) {
		env := newTestEnv(t)
		charge := env.createCharge(t, 300000)

		res, err := env.svc.Split(ctx, SplitRequest{TenantID: charge.TenantID, ChargeID: charge.ID, Count: 3})
		require.NoError(t, err)
		assert.Equal(t, []int64{100000, 100000, 100000}, childAmounts(res.Children))
		assert.Nil(t, res.DestroyedBill)
		assert.Equal(t, AuditRecorded, res.AuditStatus)

		parent := env.reloadCharge(t, charge.ID)
		assert.Equal(t, billing.PaymentStatusSplit, parent.PaymentStatus)

		view, err := env.svc.GetCharge(ctx, charge.TenantID, charge.ID)
		require.NoError(t, err)
		require.Len(t, view.Children, 3)
		var sum int64
		for _, child := range view.Children {
			assert.True(t, child.IsSplitChild)
			assert.Equal(t, billing.PaymentStatusUnpaid, child.PaymentStatus)
			require.NotNil(t, child.ParentChargeID)
			assert.Equal(t, charge.ID, *child.ParentChargeID)
			sum += child.Amount
		}
		assert.Equal(t, charge.Amount, sum)
		env.gateway.AssertNotCalled(t, "Destroy", mock.Anything, mock.Anything)

		events := env.events(t, charge.ID)
		require.Len(t, events, 1)
		var payload splitPayload
		require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
		assert.Equal(t, []int64{100000, 100000, 100000}, payload.Amounts)
		assert.Len(t, payload.Children, 3)
	})

	t.Run("remainder goes to the first children", func(t *testing.T) {
		env := newTestEnv(t)
		charge := env.createCharge(t, 100001)

		res, err := env.svc.Split(ctx, SplitRequest{TenantID: charge.TenantID, ChargeID: charge.ID, Count: 3})
		require.NoError(t, err)
		assert.Equal(t, []int64{33334, 33334, 33333}, childAmounts(res.Children))
	})

	t.Run("amounts that do not sum are rejected before any change", func(t *testing.T) {
		env := newTestEnv(t)
		charge := env.createCharge(t, 300000)
		bill := env.sendBill(t, charge, "GB-1")

		_, err := env.svc.Split(ctx, SplitRequest{TenantID: charge.TenantID, ChargeID: charge.ID, Amounts: []int64{100000, 150000}})
		assert.Equal(t, billing.CodeIntegrityViolation, codeOf(err))

		env.gateway.AssertNotCalled(t, "Destroy", mock.Anything, mock.Anything)
		assert.Equal(t, billing.RequestStatusSent, env.reloadBill(t, bill.ID).RequestStatus)
		assert.Equal(t, billing.PaymentStatusUnpaid, env.reloadCharge(t, charge.ID).PaymentStatus)
		children, err := env.store.Charges().FindChildren(ctx, charge.ID)
		require.NoError(t, err)
		assert.Empty(t, children)
	})

	t.Run("destroys the open bill first", func(t *testing.T) {
		env := newTestEnv(t)
		charge := env.createCharge(t, 300000)
		bill := env.sendBill(t, charge, "GB-1")
		env.gateway.On("Destroy", mock.Anything, "GB-1").Return(nil).Once()

		res, err := env.svc.Split(ctx, SplitRequest{TenantID: charge.TenantID, ChargeID: charge.ID, Amounts: []int64{200000, 100000}})
		require.NoError(t, err)
		require.NotNil(t, res.DestroyedBill)
		assert.Equal(t, bill.ID, res.DestroyedBill.ID)
		assert.Len(t, res.Children, 2)

		assert.Equal(t, billing.RequestStatusDestroyed, env.reloadBill(t, bill.ID).RequestStatus)
		active, err := env.store.Bills().FindActiveByCharge(ctx, charge.ID)
		require.NoError(t, err)
		assert.Nil(t, active, "a split charge has no active bill")
		env.gateway.AssertExpectations(t)
	})

	t.Run("a failed destroy aborts with zero children", func(t *testing.T) {
		env := newTestEnv(t)
		charge := env.createCharge(t, 300000)
		bill := env.sendBill(t, charge, "GB-1")
		env.gateway.On("Destroy", mock.Anything, "GB-1").Return(unavailable("gateway down")).Once()

		_, err := env.svc.Split(ctx, SplitRequest{TenantID: charge.TenantID, ChargeID: charge.ID, Count: 3})
		assert.Equal(t, billing.CodeGatewayUnavailable, codeOf(err))

		assert.Equal(t, billing.RequestStatusSent, env.reloadBill(t, bill.ID).RequestStatus)
		assert.Equal(t, billing.PaymentStatusUnpaid, env.reloadCharge(t, charge.ID).PaymentStatus)
		children, err := env.store.Charges().FindChildren(ctx, charge.ID)
		require.NoError(t, err)
		assert.Empty(t, children)
	})

	t.Run("children cannot be split again", func(t *testing.T) {
		env := newTestEnv(t)
		charge := env.createCharge(t, 300000)
		res, err := env.svc.Split(ctx, SplitRequest{TenantID: charge.TenantID, ChargeID: charge.ID, Count: 2})
		require.NoError(t, err)

		_, err = env.svc.Split(ctx, SplitRequest{TenantID: charge.TenantID, ChargeID: res.Children[0].ID, Count: 2})
		assert.Equal(t, billing.CodePreconditionFailed, codeOf(err))

		_, err = env.svc.Split(ctx, SplitRequest{TenantID: charge.TenantID, ChargeID: charge.ID, Count: 2})
		assert.Equal(t, billing.CodePreconditionFailed, codeOf(err))
	})

	t.Run("a paid charge cannot be split", func(t *testing.T) {
		env := newTestEnv(t)
		charge := env.createCharge(t, 300000)
		env.sendBill(t, charge, "GB-1")
		require.Equal(t, billing.AckSuccess, env.deliver("GB-1", "F").AckCode)

		_, err := env.svc.Split(ctx, SplitRequest{TenantID: charge.TenantID, ChargeID: charge.ID, Count: 3})
		assert.Equal(t, billing.CodePreconditionFailed, codeOf(err))
	})

	t.Run("request validation", func(t *testing.T) {
		env := newTestEnv(t)
		charge := env.createCharge(t, 300000)

		tests := []struct {
			name string
			req  SplitRequest
			code string
		}{
			{"count and amounts", SplitRequest{TenantID: charge.TenantID, ChargeID: charge.ID, Count: 2, Amounts: []int64{150000, 150000}}, billing.CodeInvalidInput},
			{"neither", SplitRequest{TenantID: charge.TenantID, ChargeID: charge.ID}, billing.CodeInvalidInput},
			{"single part", SplitRequest{TenantID: charge.TenantID, ChargeID: charge.ID, Count: 1}, billing.CodeIntegrityViolation},
			{"below minimum", SplitRequest{TenantID: charge.TenantID, ChargeID: charge.ID, Amounts: []int64{295000, 5000}}, billing.CodeIntegrityViolation},
			{"unknown charge", SplitRequest{TenantID: charge.TenantID, ChargeID: uuid.New(), Count: 2}, billing.CodeNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := env.svc.Split(ctx, tt.req)
				assert.Equal(t, tt.code, codeOf(err))
			})
		}
		assert.Equal(t, billing.PaymentStatusUnpaid, env.reloadCharge(t, charge.ID).PaymentStatus)
	})
}
