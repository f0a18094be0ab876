package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/academy/backend/internal/domain/billing"
)

func TestStaleBillSweeper_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("polls only bills older than the threshold", func(t *testing.T) {
		env := newTestEnv(t)
		stale := env.createCharge(t, 250000)
		staleBill := env.sendBill(t, stale, "GB-old")
		waiting := env.createCharge(t, 250000)
		env.sendBill(t, waiting, "GB-wait")

		env.clock.Advance(3 * time.Hour)
		fresh := env.createCharge(t, 250000)
		env.sendBill(t, fresh, "GB-new")

		env.gateway.On("QueryStatus", mock.Anything, "GB-old").
			Return(&billing.StatusResult{GatewayBillID: "GB-old", State: billing.ApprovalFinalized}, nil).Once()
		env.gateway.On("QueryStatus", mock.Anything, "GB-wait").
			Return(&billing.StatusResult{GatewayBillID: "GB-wait", State: billing.ApprovalWaiting}, nil).Once()

		sweeper := NewStaleBillSweeper(env.svc, SweepConfig{StaleAfter: time.Hour, BatchSize: 10}, nil)
		report, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, SweepReport{Examined: 2, Updated: 1}, report)

		assert.Equal(t, billing.RequestStatusPaid, env.reloadBill(t, staleBill.ID).RequestStatus)
		assert.Equal(t, billing.PaymentStatusPaid, env.reloadCharge(t, stale.ID).PaymentStatus)
		env.gateway.AssertNotCalled(t, "QueryStatus", mock.Anything, "GB-new")

		events := env.events(t, stale.ID)
		assert.Equal(t, billing.EventSourceSweep, events[len(events)-1].Source)
	})

	t.Run("one failure does not stop the batch", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.createCharge(t, 250000)
		env.sendBill(t, a, "GB-a")
		b := env.createCharge(t, 250000)
		billB := env.sendBill(t, b, "GB-b")
		env.clock.Advance(2 * time.Hour)

		env.gateway.On("QueryStatus", mock.Anything, "GB-a").Return(nil, unavailable("timeout")).Once()
		env.gateway.On("QueryStatus", mock.Anything, "GB-b").
			Return(&billing.StatusResult{GatewayBillID: "GB-b", State: billing.ApprovalDestroyed}, nil).Once()

		sweeper := NewStaleBillSweeper(env.svc, SweepConfig{StaleAfter: time.Hour}, nil)
		report, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Examined)
		assert.Equal(t, 1, report.Failed)
		assert.Equal(t, 1, report.Updated)
		assert.Zero(t, report.Drifted)
		assert.Equal(t, billing.RequestStatusDestroyed, env.reloadBill(t, billB.ID).RequestStatus)
	})

	t.Run("batch size caps the run", func(t *testing.T) {
		env := newTestEnv(t)
		for _, id := range []string{"GB-1", "GB-2", "GB-3"} {
			env.sendBill(t, env.createCharge(t, 250000), id)
		}
		env.clock.Advance(2 * time.Hour)
		env.gateway.On("QueryStatus", mock.Anything, mock.Anything).
			Return(&billing.StatusResult{State: billing.ApprovalWaiting}, nil)

		sweeper := NewStaleBillSweeper(env.svc, SweepConfig{StaleAfter: time.Hour, BatchSize: 2}, nil)
		report, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Examined)
		env.gateway.AssertNumberOfCalls(t, "QueryStatus", 2)
	})
}
