package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalTable(t *testing.T) {
	tests := []struct {
		state       ApprovalState
		wantPayment PaymentStatus
		setsCharge  bool
		wantRequest RequestStatus
		wantEvent   EventType
	}{
		{ApprovalFinalized, PaymentStatusPaid, true, RequestStatusPaid, EventTypePaymentCompleted},
		{ApprovalWaiting, PaymentStatusUnpaid, false, RequestStatusSent, EventTypeStatusChanged},
		{ApprovalCancelled, PaymentStatusUnpaid, true, RequestStatusCancelled, EventTypeCancelled},
		{ApprovalDestroyed, PaymentStatusUnpaid, true, RequestStatusDestroyed, EventTypeDestroyed},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			payment, sets := tt.state.PaymentStatus()
			assert.Equal(t, tt.wantPayment, payment)
			assert.Equal(t, tt.setsCharge, sets)
			assert.Equal(t, tt.wantRequest, tt.state.RequestStatus())
			assert.Equal(t, tt.wantEvent, tt.state.EventType())
		})
	}
}

func TestParseApprovalState(t *testing.T) {
	state, err := ParseApprovalState(" f ")
	require.NoError(t, err)
	assert.Equal(t, ApprovalFinalized, state)

	_, err = ParseApprovalState("X")
	assert.Error(t, err)

	_, err = ParseApprovalState("")
	assert.Error(t, err)
}

func TestParseApprovalTime(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)

	t.Run("gateway layout in gateway zone", func(t *testing.T) {
		got, err := ParseApprovalTime("2024-03-05 14:30:00", seoul)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, time.Date(2024, 3, 5, 5, 30, 0, 0, time.UTC), got.UTC())
	})

	t.Run("compact layout", func(t *testing.T) {
		got, err := ParseApprovalTime("20240305143000", seoul)
		require.NoError(t, err)
		assert.Equal(t, 14, got.Hour())
	})

	t.Run("rfc3339", func(t *testing.T) {
		got, err := ParseApprovalTime("2024-03-05T14:30:00Z", seoul)
		require.NoError(t, err)
		assert.Equal(t, time.UTC, got.Location())
	})

	t.Run("empty is absent", func(t *testing.T) {
		got, err := ParseApprovalTime("", seoul)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseApprovalTime("yesterday", seoul)
		assert.Error(t, err)
	})
}
