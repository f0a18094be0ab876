package billing

import (
	"fmt"
	"time"

	"github.com/academy/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// RequestStatus is the lifecycle status of a Bill
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusCreated   RequestStatus = "created"
	RequestStatusSent      RequestStatus = "sent"
	RequestStatusPaid      RequestStatus = "paid"
	RequestStatusCancelled RequestStatus = "cancelled"
	RequestStatusDestroyed RequestStatus = "destroyed"
	RequestStatusFailed    RequestStatus = "failed"
)

const (
	rankInitial  = 0
	rankSent     = 1
	rankTerminal = 2
)

// PaymentMethodOffline marks bills settled outside the gateway
const PaymentMethodOffline = "OFFLINE"

// IsValid returns true if the status is known
func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusPending, RequestStatusCreated, RequestStatusSent, RequestStatusPaid,
		RequestStatusCancelled, RequestStatusDestroyed, RequestStatusFailed:
		return true
	}
	return false
}

// IsActive returns true for statuses that occupy a charge's single active slot
func (s RequestStatus) IsActive() bool {
	return s == RequestStatusCreated || s == RequestStatusSent || s == RequestStatusPaid
}

// Rank orders statuses for out-of-order webhook reconciliation.
// paid, destroyed and cancelled outrank sent, which outranks everything else.
func (s RequestStatus) Rank() int {
	switch s {
	case RequestStatusPaid, RequestStatusDestroyed, RequestStatusCancelled:
		return rankTerminal
	case RequestStatusSent:
		return rankSent
	default:
		return rankInitial
	}
}

// ActiveRequestStatuses lists the statuses counted by the single-active-bill rule
func ActiveRequestStatuses() []RequestStatus {
	return []RequestStatus{RequestStatusCreated, RequestStatusSent, RequestStatusPaid}
}

// Bill is one invoice issued to the gateway for a Charge
type Bill struct {
	shared.TenantAggregateRoot
	ChargeID        uuid.UUID
	GatewayBillID   string
	ShortURL        string
	Amount          int64
	RequestStatus   RequestStatus
	PaymentMethod   string
	TransactionID   string
	FailureReason   string
	ResendCount     int
	StatusChangedAt time.Time
	SentAt          *time.Time
	PaidAt          *time.Time
	CancelledAt     *time.Time
	DestroyedAt     *time.Time
}

// NewPendingBill creates the local record of an invoice about to be issued
func NewPendingBill(charge *Charge, now time.Time) (*Bill, error) {
	if err := charge.CheckBillable(); err != nil {
		return nil, err
	}
	b := &Bill{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(charge.TenantID),
		ChargeID:            charge.ID,
		Amount:              charge.Amount,
		RequestStatus:       RequestStatusPending,
		StatusChangedAt:     now,
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	return b, nil
}

// IsActive reports whether the bill occupies the charge's active slot
func (b *Bill) IsActive() bool {
	return b.RequestStatus.IsActive()
}

func (b *Bill) transition(to RequestStatus, at time.Time) {
	b.RequestStatus = to
	b.StatusChangedAt = at
	b.UpdatedAt = time.Now()
	switch to {
	case RequestStatusSent:
		if b.SentAt == nil {
			b.SentAt = &at
		}
	case RequestStatusPaid:
		b.PaidAt = &at
	case RequestStatusCancelled:
		b.CancelledAt = &at
	case RequestStatusDestroyed:
		b.DestroyedAt = &at
	}
}

func (b *Bill) require(op string, allowed ...RequestStatus) error {
	for _, s := range allowed {
		if b.RequestStatus == s {
			return nil
		}
	}
	return NewPreconditionFailed("cannot %s a bill in status %s", op, b.RequestStatus)
}

// MarkIssued records a successful gateway issue call
func (b *Bill) MarkIssued(res IssueResult, now time.Time) error {
	if err := b.require("issue", RequestStatusPending); err != nil {
		return err
	}
	if res.GatewayBillID == "" {
		return NewIntegrityViolation("gateway returned an empty bill id")
	}
	b.GatewayBillID = res.GatewayBillID
	b.ShortURL = res.ShortURL
	b.FailureReason = ""
	to := RequestStatusCreated
	if res.Sent {
		to = RequestStatusSent
	}
	b.transition(to, now)
	return nil
}

// MarkFailed records a failed gateway issue call
func (b *Bill) MarkFailed(reason string, now time.Time) error {
	if err := b.require("fail", RequestStatusPending); err != nil {
		return err
	}
	b.FailureReason = reason
	b.transition(RequestStatusFailed, now)
	return nil
}

// Reissue replaces the payment link of a sent bill
func (b *Bill) Reissue(res IssueResult, now time.Time) error {
	if err := b.require("resend", RequestStatusSent); err != nil {
		return err
	}
	if res.GatewayBillID != "" {
		b.GatewayBillID = res.GatewayBillID
	}
	b.ShortURL = res.ShortURL
	b.ResendCount++
	b.SentAt = &now
	b.UpdatedAt = now
	return nil
}

// RestoreLink points a paid bill back at an earlier invoice of its own, the
// one the payer actually paid
func (b *Bill) RestoreLink(gatewayBillID string, now time.Time) error {
	if err := b.require("restore link", RequestStatusPaid); err != nil {
		return err
	}
	if gatewayBillID == "" || gatewayBillID == b.GatewayBillID {
		return nil
	}
	b.GatewayBillID = gatewayBillID
	b.ShortURL = ""
	b.UpdatedAt = now
	return nil
}

// MarkCancelled records a gateway cancellation of a paid bill
func (b *Bill) MarkCancelled(now time.Time) error {
	if err := b.require("cancel", RequestStatusPaid); err != nil {
		return err
	}
	b.transition(RequestStatusCancelled, now)
	return nil
}

// MarkDestroyed records destruction of an unpaid invoice at the gateway
func (b *Bill) MarkDestroyed(now time.Time) error {
	if err := b.require("destroy", RequestStatusCreated, RequestStatusSent); err != nil {
		return err
	}
	b.transition(RequestStatusDestroyed, now)
	return nil
}

// SettleOffline marks the bill paid through a channel the gateway never sees
func (b *Bill) SettleOffline(now time.Time) error {
	if err := b.require("settle offline", RequestStatusCreated, RequestStatusSent); err != nil {
		return err
	}
	b.PaymentMethod = PaymentMethodOffline
	b.transition(RequestStatusPaid, now)
	return nil
}

// ApprovalOutcome describes what an approval observation did to a bill
type ApprovalOutcome struct {
	Applied bool
	From    RequestStatus
	To      RequestStatus
	Reason  string
}

// ApplyApproval folds a gateway observation into the bill. A lower-ranked
// state never overwrites a higher-ranked one. Between two different terminal
// states the later one wins, unless the observation carries a gateway time
// older than the current state's time. Re-applying the same observation
// leaves the bill unchanged.
func (b *Bill) ApplyApproval(obs ApprovalObservation) ApprovalOutcome {
	target := obs.State.RequestStatus()
	out := ApprovalOutcome{From: b.RequestStatus, To: b.RequestStatus}

	if target.Rank() < b.RequestStatus.Rank() {
		out.Reason = fmt.Sprintf("%s does not supersede %s", target, b.RequestStatus)
		return out
	}
	if target != b.RequestStatus && target.Rank() == rankTerminal &&
		obs.ApprovedAt != nil && obs.ApprovedAt.Before(b.StatusChangedAt) {
		out.Reason = fmt.Sprintf("%s at %s is older than %s", target, obs.ApprovedAt.Format(time.RFC3339), b.RequestStatus)
		return out
	}

	switch {
	case target != b.RequestStatus:
		b.transition(target, obs.EffectiveTime())
	case obs.ApprovedAt != nil && !obs.ApprovedAt.Equal(b.StatusChangedAt):
		// the gateway time replaces the receipt time of an earlier delivery
		b.transition(target, *obs.ApprovedAt)
	}
	if obs.PayType != "" {
		b.PaymentMethod = obs.PayType
	}
	if obs.ApprovalNumber != "" {
		b.TransactionID = obs.ApprovalNumber
	}

	out.Applied = true
	out.To = b.RequestStatus
	return out
}
