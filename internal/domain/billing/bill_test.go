package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCharge(t *testing.T, amount int64) *Charge {
	t.Helper()
	c, err := NewCharge(uuid.New(), uuid.New(), "Kim Minji", "01012345678", "2024-03", "March tuition", amount)
	require.NoError(t, err)
	return c
}

func newSentBill(t *testing.T, charge *Charge, now time.Time) *Bill {
	t.Helper()
	b, err := NewPendingBill(charge, now)
	require.NoError(t, err)
	require.NoError(t, b.MarkIssued(IssueResult{GatewayBillID: "B1", ShortURL: "https://pay.test/B1", Sent: true}, now))
	return b
}

func TestRequestStatus_RankAndActive(t *testing.T) {
	assert.Greater(t, RequestStatusPaid.Rank(), RequestStatusSent.Rank())
	assert.Equal(t, RequestStatusPaid.Rank(), RequestStatusDestroyed.Rank())
	assert.Equal(t, RequestStatusPaid.Rank(), RequestStatusCancelled.Rank())
	assert.Greater(t, RequestStatusSent.Rank(), RequestStatusPending.Rank())

	for _, s := range []RequestStatus{RequestStatusCreated, RequestStatusSent, RequestStatusPaid} {
		assert.True(t, s.IsActive(), s)
	}
	for _, s := range []RequestStatus{RequestStatusPending, RequestStatusFailed, RequestStatusCancelled, RequestStatusDestroyed} {
		assert.False(t, s.IsActive(), s)
	}
}

func TestNewPendingBill(t *testing.T) {
	now := time.Now()

	t.Run("unpaid charge", func(t *testing.T) {
		charge := newTestCharge(t, 300000)
		b, err := NewPendingBill(charge, now)
		require.NoError(t, err)
		assert.Equal(t, RequestStatusPending, b.RequestStatus)
		assert.Equal(t, charge.ID, b.ChargeID)
		assert.Equal(t, int64(300000), b.Amount)
		assert.Equal(t, 1, b.Version)
	})

	t.Run("paid charge", func(t *testing.T) {
		charge := newTestCharge(t, 300000)
		charge.PaymentStatus = PaymentStatusPaid
		_, err := NewPendingBill(charge, now)
		assert.True(t, HasCode(err, CodePreconditionFailed))
	})

	t.Run("split charge", func(t *testing.T) {
		charge := newTestCharge(t, 300000)
		charge.PaymentStatus = PaymentStatusSplit
		_, err := NewPendingBill(charge, now)
		assert.True(t, HasCode(err, CodePreconditionFailed))
	})
}

func TestBill_IssueLifecycle(t *testing.T) {
	now := time.Now()
	charge := newTestCharge(t, 100000)

	t.Run("issued and sent", func(t *testing.T) {
		b, _ := NewPendingBill(charge, now)
		require.NoError(t, b.MarkIssued(IssueResult{GatewayBillID: "B1", ShortURL: "u", Sent: true}, now))
		assert.Equal(t, RequestStatusSent, b.RequestStatus)
		assert.NotNil(t, b.SentAt)
		assert.Equal(t, "B1", b.GatewayBillID)
	})

	t.Run("issued but not sent", func(t *testing.T) {
		b, _ := NewPendingBill(charge, now)
		require.NoError(t, b.MarkIssued(IssueResult{GatewayBillID: "B2"}, now))
		assert.Equal(t, RequestStatusCreated, b.RequestStatus)
		assert.Nil(t, b.SentAt)
	})

	t.Run("empty gateway id", func(t *testing.T) {
		b, _ := NewPendingBill(charge, now)
		err := b.MarkIssued(IssueResult{}, now)
		assert.True(t, HasCode(err, CodeIntegrityViolation))
		assert.Equal(t, RequestStatusPending, b.RequestStatus)
	})

	t.Run("failed", func(t *testing.T) {
		b, _ := NewPendingBill(charge, now)
		require.NoError(t, b.MarkFailed("timeout", now))
		assert.Equal(t, RequestStatusFailed, b.RequestStatus)
		assert.Equal(t, "timeout", b.FailureReason)
		assert.False(t, b.IsActive())
	})

	t.Run("issue twice", func(t *testing.T) {
		b := newSentBill(t, charge, now)
		assert.True(t, HasCode(b.MarkIssued(IssueResult{GatewayBillID: "B3"}, now), CodePreconditionFailed))
	})
}

func TestBill_ManualTransitions(t *testing.T) {
	now := time.Now()
	charge := newTestCharge(t, 100000)

	t.Run("reissue keeps the row and counts resends", func(t *testing.T) {
		b := newSentBill(t, charge, now)
		later := now.Add(time.Hour)
		require.NoError(t, b.Reissue(IssueResult{GatewayBillID: "B9", ShortURL: "https://pay.test/B9"}, later))
		assert.Equal(t, RequestStatusSent, b.RequestStatus)
		assert.Equal(t, "B9", b.GatewayBillID)
		assert.Equal(t, 1, b.ResendCount)
		assert.Equal(t, later, *b.SentAt)
	})

	t.Run("restore link only on a paid bill", func(t *testing.T) {
		b := newSentBill(t, charge, now)
		require.NoError(t, b.Reissue(IssueResult{GatewayBillID: "B9", ShortURL: "https://pay.test/B9"}, now))
		assert.True(t, HasCode(b.RestoreLink("B8", now), CodePreconditionFailed))

		b.ApplyApproval(ApprovalObservation{State: ApprovalFinalized, ReceivedAt: now})
		require.NoError(t, b.RestoreLink("B8", now))
		assert.Equal(t, "B8", b.GatewayBillID)
		assert.Empty(t, b.ShortURL)
	})

	t.Run("cancel requires paid", func(t *testing.T) {
		b := newSentBill(t, charge, now)
		err := b.MarkCancelled(now)
		assert.True(t, HasCode(err, CodePreconditionFailed))

		b.ApplyApproval(ApprovalObservation{State: ApprovalFinalized, ReceivedAt: now})
		require.NoError(t, b.MarkCancelled(now))
		assert.Equal(t, RequestStatusCancelled, b.RequestStatus)
		assert.NotNil(t, b.CancelledAt)
	})

	t.Run("destroy sent", func(t *testing.T) {
		b := newSentBill(t, charge, now)
		require.NoError(t, b.MarkDestroyed(now))
		assert.Equal(t, RequestStatusDestroyed, b.RequestStatus)
		assert.NotNil(t, b.DestroyedAt)
	})

	t.Run("offline settlement", func(t *testing.T) {
		b := newSentBill(t, charge, now)
		require.NoError(t, b.SettleOffline(now))
		assert.Equal(t, RequestStatusPaid, b.RequestStatus)
		assert.Equal(t, PaymentMethodOffline, b.PaymentMethod)
		assert.NotNil(t, b.PaidAt)

		err := b.SettleOffline(now)
		assert.True(t, HasCode(err, CodePreconditionFailed))
	})
}

func TestBill_ApplyApproval(t *testing.T) {
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	charge := newTestCharge(t, 100000)

	t.Run("paid then duplicate is idempotent", func(t *testing.T) {
		b := newSentBill(t, charge, base)
		approved := base.Add(time.Minute)
		obs := ApprovalObservation{State: ApprovalFinalized, ApprovedAt: &approved, ReceivedAt: base.Add(2 * time.Minute), PayType: "CARD", ApprovalNumber: "A-1"}

		out := b.ApplyApproval(obs)
		assert.True(t, out.Applied)
		assert.Equal(t, RequestStatusSent, out.From)
		assert.Equal(t, RequestStatusPaid, out.To)
		snapshot := *b

		obs.ReceivedAt = base.Add(10 * time.Minute)
		out = b.ApplyApproval(obs)
		assert.True(t, out.Applied)
		assert.Equal(t, snapshot.RequestStatus, b.RequestStatus)
		assert.Equal(t, *snapshot.PaidAt, *b.PaidAt)
		assert.Equal(t, snapshot.StatusChangedAt, b.StatusChangedAt)
		assert.Equal(t, "CARD", b.PaymentMethod)
		assert.Equal(t, "A-1", b.TransactionID)
	})

	t.Run("duplicate without gateway time keeps first receipt time", func(t *testing.T) {
		b := newSentBill(t, charge, base)
		b.ApplyApproval(ApprovalObservation{State: ApprovalFinalized, ReceivedAt: base.Add(time.Minute)})
		first := *b.PaidAt
		b.ApplyApproval(ApprovalObservation{State: ApprovalFinalized, ReceivedAt: base.Add(time.Hour)})
		assert.Equal(t, first, *b.PaidAt)
	})

	t.Run("sent after paid is ignored", func(t *testing.T) {
		b := newSentBill(t, charge, base)
		b.ApplyApproval(ApprovalObservation{State: ApprovalWaiting, ReceivedAt: base})
		b.ApplyApproval(ApprovalObservation{State: ApprovalFinalized, ReceivedAt: base.Add(time.Minute)})
		out := b.ApplyApproval(ApprovalObservation{State: ApprovalWaiting, ReceivedAt: base.Add(2 * time.Minute)})

		assert.False(t, out.Applied)
		assert.NotEmpty(t, out.Reason)
		assert.Equal(t, RequestStatusPaid, b.RequestStatus)
	})

	t.Run("later terminal state wins", func(t *testing.T) {
		b := newSentBill(t, charge, base)
		b.ApplyApproval(ApprovalObservation{State: ApprovalFinalized, ReceivedAt: base.Add(time.Minute)})
		out := b.ApplyApproval(ApprovalObservation{State: ApprovalCancelled, ReceivedAt: base.Add(time.Hour)})
		assert.True(t, out.Applied)
		assert.Equal(t, RequestStatusCancelled, b.RequestStatus)
		assert.NotNil(t, b.PaidAt)
		assert.NotNil(t, b.CancelledAt)
	})

	t.Run("terminal state with older gateway time is ignored", func(t *testing.T) {
		b := newSentBill(t, charge, base)
		paidAt := base.Add(time.Hour)
		b.ApplyApproval(ApprovalObservation{State: ApprovalFinalized, ApprovedAt: &paidAt, ReceivedAt: paidAt})

		destroyedAt := base.Add(30 * time.Minute)
		out := b.ApplyApproval(ApprovalObservation{State: ApprovalDestroyed, ApprovedAt: &destroyedAt, ReceivedAt: base.Add(2 * time.Hour)})
		assert.False(t, out.Applied)
		assert.Equal(t, RequestStatusPaid, b.RequestStatus)
		assert.Nil(t, b.DestroyedAt)
	})

	t.Run("waiting advances a pending bill", func(t *testing.T) {
		b, err := NewPendingBill(charge, base)
		require.NoError(t, err)
		out := b.ApplyApproval(ApprovalObservation{State: ApprovalWaiting, ReceivedAt: base})
		assert.True(t, out.Applied)
		assert.Equal(t, RequestStatusSent, b.RequestStatus)
	})
}

func TestCheckPrecondition(t *testing.T) {
	charge := newTestCharge(t, 100000)
	bill := func(s RequestStatus) *Bill {
		b, _ := NewPendingBill(charge, time.Now())
		b.RequestStatus = s
		return b
	}

	tests := []struct {
		op      Operation
		current *Bill
		wantErr bool
	}{
		{OperationSend, nil, false},
		{OperationSend, bill(RequestStatusPending), false},
		{OperationSend, bill(RequestStatusFailed), false},
		{OperationSend, bill(RequestStatusDestroyed), false},
		{OperationSend, bill(RequestStatusSent), true},
		{OperationSend, bill(RequestStatusPaid), true},
		{OperationSend, bill(RequestStatusCancelled), true},
		{OperationResend, bill(RequestStatusSent), false},
		{OperationResend, bill(RequestStatusCreated), true},
		{OperationResend, nil, true},
		{OperationSync, bill(RequestStatusSent), false},
		{OperationSync, bill(RequestStatusPaid), false},
		{OperationSync, bill(RequestStatusDestroyed), true},
		{OperationCancel, bill(RequestStatusPaid), false},
		{OperationCancel, bill(RequestStatusSent), true},
		{OperationDestroy, bill(RequestStatusSent), false},
		{OperationDestroy, bill(RequestStatusPaid), true},
		{OperationOfflineSettle, bill(RequestStatusCreated), false},
		{OperationOfflineSettle, bill(RequestStatusSent), false},
		{OperationOfflineSettle, bill(RequestStatusPaid), true},
		{OperationOfflineSettle, nil, true},
	}

	for _, tt := range tests {
		name := string(tt.op) + "/none"
		if tt.current != nil {
			name = string(tt.op) + "/" + string(tt.current.RequestStatus)
		}
		t.Run(name, func(t *testing.T) {
			err := CheckPrecondition(tt.op, tt.current)
			if tt.wantErr {
				assert.True(t, HasCode(err, CodePreconditionFailed), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
