package dto

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appbilling "github.com/academy/backend/internal/application/billing"
	"github.com/academy/backend/internal/domain/billing"
)

func newTestCharge(amount int64) *billing.Charge {
	c := &billing.Charge{
		PayerID:       uuid.New(),
		PayerName:     "Kim Minji",
		Period:        "2026-10",
		Title:         "October tuition",
		Amount:        amount,
		PaymentStatus: billing.PaymentStatusUnpaid,
	}
	c.ID = uuid.New()
	c.TenantID = uuid.New()
	return c
}

func TestToOperationResponse(t *testing.T) {
	charge := newTestCharge(300000)
	bill := &billing.Bill{ChargeID: charge.ID, Amount: 300000, RequestStatus: billing.RequestStatusSent, GatewayBillID: "PS-1"}
	bill.ID = uuid.New()

	resp := ToOperationResponse(&appbilling.OperationResult{
		Operation:   billing.OperationSend,
		Charge:      charge,
		Bill:        bill,
		AuditStatus: appbilling.AuditRecorded,
	})

	assert.Equal(t, "send", resp.Operation)
	assert.Equal(t, "recorded", resp.AuditStatus)
	require.NotNil(t, resp.Charge)
	assert.Equal(t, charge.ID, resp.Charge.ID)
	require.NotNil(t, resp.Bill)
	assert.Equal(t, "sent", resp.Bill.RequestStatus)
	assert.Equal(t, "PS-1", resp.Bill.GatewayBillID)
	assert.Nil(t, resp.Outcome)
}

func TestToOperationResponse_WithOutcome(t *testing.T) {
	resp := ToOperationResponse(&appbilling.OperationResult{
		Operation: billing.OperationSync,
		Outcome: &billing.ApprovalOutcome{
			Applied: true,
			From:    billing.RequestStatusSent,
			To:      billing.RequestStatusPaid,
		},
	})

	require.NotNil(t, resp.Outcome)
	assert.True(t, resp.Outcome.Applied)
	assert.Equal(t, "paid", resp.Outcome.To)
	assert.Nil(t, resp.Charge)
}

func TestToEventResponses_DropsInvalidPayload(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	events := []*billing.Event{
		{ID: uuid.New(), Type: billing.EventTypeStatusChanged, Payload: []byte(`{"appr_state":"F"}`), ReceivedAt: now},
		{ID: uuid.New(), Type: billing.EventTypeStatusChanged, Payload: []byte(`appr_state=F`), ReceivedAt: now},
	}

	out := ToEventResponses(events)

	require.Len(t, out, 2)
	assert.JSONEq(t, `{"appr_state":"F"}`, string(out[0].Payload))
	assert.Nil(t, out[1].Payload)
}

func TestToChargeDetailResponse(t *testing.T) {
	parent := newTestCharge(300000)
	parent.PaymentStatus = billing.PaymentStatusSplit
	children := []*billing.Charge{newTestCharge(150000), newTestCharge(150000)}

	resp := ToChargeDetailResponse(&appbilling.ChargeView{Charge: parent, Children: children})

	assert.Equal(t, "split", resp.Charge.PaymentStatus)
	assert.Nil(t, resp.CurrentBill)
	assert.Len(t, resp.Children, 2)
}
