package billing

import (
	"fmt"
	"strings"
	"time"
)

// ApprovalState is the gateway's closed vocabulary for a bill's external status
type ApprovalState string

const (
	ApprovalFinalized ApprovalState = "F" // paid
	ApprovalWaiting   ApprovalState = "W" // sent, awaiting payment
	ApprovalCancelled ApprovalState = "C" // payment cancelled
	ApprovalDestroyed ApprovalState = "D" // invoice destroyed
)

type approvalMapping struct {
	payment    PaymentStatus
	request    RequestStatus
	event      EventType
	setsCharge bool
}

// approvalTable is shared by webhook deliveries and manual status sync.
var approvalTable = map[ApprovalState]approvalMapping{
	ApprovalFinalized: {payment: PaymentStatusPaid, request: RequestStatusPaid, event: EventTypePaymentCompleted, setsCharge: true},
	ApprovalWaiting:   {payment: PaymentStatusUnpaid, request: RequestStatusSent, event: EventTypeStatusChanged, setsCharge: false},
	ApprovalCancelled: {payment: PaymentStatusUnpaid, request: RequestStatusCancelled, event: EventTypeCancelled, setsCharge: true},
	ApprovalDestroyed: {payment: PaymentStatusUnpaid, request: RequestStatusDestroyed, event: EventTypeDestroyed, setsCharge: true},
}

// ParseApprovalState parses a gateway approval code
func ParseApprovalState(s string) (ApprovalState, error) {
	state := ApprovalState(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := approvalTable[state]; !ok {
		return "", fmt.Errorf("unknown approval state %q", s)
	}
	return state, nil
}

// IsValid returns true if the state is one of F, W, C, D
func (a ApprovalState) IsValid() bool {
	_, ok := approvalTable[a]
	return ok
}

// RequestStatus returns the bill status the approval state maps to
func (a ApprovalState) RequestStatus() RequestStatus {
	return approvalTable[a].request
}

// PaymentStatus returns the charge status the approval state maps to, and
// whether that status should be written at all. W never changes the charge.
func (a ApprovalState) PaymentStatus() (PaymentStatus, bool) {
	m := approvalTable[a]
	return m.payment, m.setsCharge
}

// EventType returns the audit event type recorded for the approval state
func (a ApprovalState) EventType() EventType {
	return approvalTable[a].event
}

// ApprovalTimeLayout is the timestamp layout PaysSam uses for appr_dt
const ApprovalTimeLayout = "2006-01-02 15:04:05"

// ParseApprovalTime parses a gateway timestamp in the gateway's local zone.
// An empty string yields nil. RFC 3339 is accepted as well.
func ParseApprovalTime(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(ApprovalTimeLayout, s, loc); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation("20060102150405", s, loc); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid approval time %q", s)
	}
	return &t, nil
}

// ApprovalObservation is one report of a bill's external state, either from a
// webhook delivery or from a status query.
type ApprovalObservation struct {
	State          ApprovalState
	ApprovedAt     *time.Time // gateway-provided, optional
	ReceivedAt     time.Time
	PayType        string
	ApprovalNumber string
}

// EffectiveTime is the gateway time when present, otherwise receipt time
func (o ApprovalObservation) EffectiveTime() time.Time {
	if o.ApprovedAt != nil {
		return *o.ApprovedAt
	}
	return o.ReceivedAt
}
