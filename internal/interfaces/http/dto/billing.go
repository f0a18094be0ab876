package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	appbilling "github.com/academy/backend/internal/application/billing"
	"github.com/academy/backend/internal/domain/billing"
)

// SplitChargeRequest splits a charge either into explicit amounts or into
// count equal shares. Exactly one of the two must be given.
type SplitChargeRequest struct {
	Amounts []int64 `json:"amounts" binding:"omitempty,min=2,dive,gt=0"`
	Count   int     `json:"count" binding:"omitempty,gte=2,lte=12"`
}

// OfflineSettleRequest marks charges as paid outside the gateway
type OfflineSettleRequest struct {
	ChargeIDs []string `json:"charge_ids" binding:"required,min=1,max=100,dive,uuid"`
	Note      string   `json:"note" binding:"max=500"`
}

// ChargeResponse represents a charge in API responses
type ChargeResponse struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	PayerID        uuid.UUID  `json:"payer_id"`
	PayerName      string     `json:"payer_name"`
	Period         string     `json:"period"`
	Title          string     `json:"title"`
	Amount         int64      `json:"amount"`
	PaymentStatus  string     `json:"payment_status"`
	ParentChargeID *uuid.UUID `json:"parent_charge_id,omitempty"`
	IsSplitChild   bool       `json:"is_split_child"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BillResponse represents a bill in API responses
type BillResponse struct {
	ID              uuid.UUID  `json:"id"`
	ChargeID        uuid.UUID  `json:"charge_id"`
	GatewayBillID   string     `json:"gateway_bill_id,omitempty"`
	ShortURL        string     `json:"short_url,omitempty"`
	Amount          int64      `json:"amount"`
	RequestStatus   string     `json:"request_status"`
	PaymentMethod   string     `json:"payment_method,omitempty"`
	TransactionID   string     `json:"transaction_id,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	ResendCount     int        `json:"resend_count"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	DestroyedAt     *time.Time `json:"destroyed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// EventResponse represents one audit log entry
type EventResponse struct {
	ID            uuid.UUID       `json:"id"`
	ChargeID      *uuid.UUID      `json:"charge_id,omitempty"`
	BillID        *uuid.UUID      `json:"bill_id,omitempty"`
	GatewayBillID string          `json:"gateway_bill_id,omitempty"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Operation     string          `json:"operation"`
	FromStatus    string          `json:"from_status,omitempty"`
	ToStatus      string          `json:"to_status,omitempty"`
	Applied       bool            `json:"applied"`
	OccurredAt    *time.Time      `json:"occurred_at,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ActorID       *uuid.UUID      `json:"actor_id,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
}

// ChargeDetailResponse is a charge with its current bill and split children
type ChargeDetailResponse struct {
	Charge      ChargeResponse   `json:"charge"`
	CurrentBill *BillResponse    `json:"current_bill,omitempty"`
	Children    []ChargeResponse `json:"children,omitempty"`
}

// OutcomeResponse describes how a gateway observation was folded into a bill
type OutcomeResponse struct {
	Applied bool   `json:"applied"`
	From    string `json:"from"`
	To      string `json:"to"`
	Reason  string `json:"reason,omitempty"`
}

// OperationResponse is returned by every single-charge mutation
type OperationResponse struct {
	Operation   string           `json:"operation"`
	Charge      *ChargeResponse  `json:"charge,omitempty"`
	Bill        *BillResponse    `json:"bill,omitempty"`
	Outcome     *OutcomeResponse `json:"outcome,omitempty"`
	AuditStatus string           `json:"audit_status"`
}

// SplitResponse is returned by the split operation
type SplitResponse struct {
	Parent        ChargeResponse   `json:"parent"`
	Children      []ChargeResponse `json:"children"`
	DestroyedBill *BillResponse    `json:"destroyed_bill,omitempty"`
	AuditStatus   string           `json:"audit_status"`
}

// OfflineSettleItemResponse is one settled charge
type OfflineSettleItemResponse struct {
	Charge ChargeResponse `json:"charge"`
	Bill   BillResponse   `json:"bill"`
}

// OfflineSettleResponse is returned by a batch offline settlement
type OfflineSettleResponse struct {
	Items       []OfflineSettleItemResponse `json:"items"`
	AuditStatus string                      `json:"audit_status"`
}

// BalanceResponse is the remaining gateway point balance
type BalanceResponse struct {
	Points    int64     `json:"points"`
	CheckedAt time.Time `json:"checked_at"`
}

// ToChargeResponse converts a domain Charge to ChargeResponse
func ToChargeResponse(c *billing.Charge) ChargeResponse {
	return ChargeResponse{
		ID:             c.ID,
		TenantID:       c.TenantID,
		PayerID:        c.PayerID,
		PayerName:      c.PayerName,
		Period:         c.Period,
		Title:          c.Title,
		Amount:         c.Amount,
		PaymentStatus:  string(c.PaymentStatus),
		ParentChargeID: c.ParentChargeID,
		IsSplitChild:   c.IsSplitChild,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// ToChargeResponses converts a slice of charges
func ToChargeResponses(charges []*billing.Charge) []ChargeResponse {
	out := make([]ChargeResponse, len(charges))
	for i, c := range charges {
		out[i] = ToChargeResponse(c)
	}
	return out
}

// ToBillResponse converts a domain Bill to BillResponse
func ToBillResponse(b *billing.Bill) BillResponse {
	return BillResponse{
		ID:              b.ID,
		ChargeID:        b.ChargeID,
		GatewayBillID:   b.GatewayBillID,
		ShortURL:        b.ShortURL,
		Amount:          b.Amount,
		RequestStatus:   string(b.RequestStatus),
		PaymentMethod:   b.PaymentMethod,
		TransactionID:   b.TransactionID,
		FailureReason:   b.FailureReason,
		ResendCount:     b.ResendCount,
		StatusChangedAt: b.StatusChangedAt,
		SentAt:          b.SentAt,
		PaidAt:          b.PaidAt,
		CancelledAt:     b.CancelledAt,
		DestroyedAt:     b.DestroyedAt,
		CreatedAt:       b.CreatedAt,
	}
}

// ToBillResponses converts a slice of bills
func ToBillResponses(bills []*billing.Bill) []BillResponse {
	out := make([]BillResponse, len(bills))
	for i, b := range bills {
		out[i] = ToBillResponse(b)
	}
	return out
}

// ToEventResponses converts audit events. Payloads that are not valid JSON
// are dropped rather than breaking the whole listing.
func ToEventResponses(events []*billing.Event) []EventResponse {
	out := make([]EventResponse, len(events))
	for i, e := range events {
		var payload json.RawMessage
		if len(e.Payload) > 0 && json.Valid(e.Payload) {
			payload = json.RawMessage(e.Payload)
		}
		out[i] = EventResponse{
			ID:            e.ID,
			ChargeID:      e.ChargeID,
			BillID:        e.BillID,
			GatewayBillID: e.GatewayBillID,
			Type:          string(e.Type),
			Source:        string(e.Source),
			Operation:     string(e.Operation),
			FromStatus:    string(e.FromStatus),
			ToStatus:      string(e.ToStatus),
			Applied:       e.Applied,
			OccurredAt:    e.OccurredAt,
			Payload:       payload,
			ActorID:       e.ActorID,
			ReceivedAt:    e.ReceivedAt,
		}
	}
	return out
}

// ToChargeDetailResponse converts a charge view
func ToChargeDetailResponse(v *appbilling.ChargeView) ChargeDetailResponse {
	resp := ChargeDetailResponse{Charge: ToChargeResponse(v.Charge)}
	if v.CurrentBill != nil {
		b := ToBillResponse(v.CurrentBill)
		resp.CurrentBill = &b
	}
	if len(v.Children) > 0 {
		resp.Children = ToChargeResponses(v.Children)
	}
	return resp
}

// ToOperationResponse converts an operation result
func ToOperationResponse(r *appbilling.OperationResult) OperationResponse {
	resp := OperationResponse{
		Operation:   string(r.Operation),
		AuditStatus: string(r.AuditStatus),
	}
	if r.Charge != nil {
		c := ToChargeResponse(r.Charge)
		resp.Charge = &c
	}
	if r.Bill != nil {
		b := ToBillResponse(r.Bill)
		resp.Bill = &b
	}
	if r.Outcome != nil {
		resp.Outcome = &OutcomeResponse{
			Applied: r.Outcome.Applied,
			From:    string(r.Outcome.From),
			To:      string(r.Outcome.To),
			Reason:  r.Outcome.Reason,
		}
	}
	return resp
}

// ToSplitResponse converts a split result
func ToSplitResponse(r *appbilling.SplitResult) SplitResponse {
	resp := SplitResponse{
		Parent:      ToChargeResponse(r.Parent),
		Children:    ToChargeResponses(r.Children),
		AuditStatus: string(r.AuditStatus),
	}
	if r.DestroyedBill != nil {
		b := ToBillResponse(r.DestroyedBill)
		resp.DestroyedBill = &b
	}
	return resp
}

// ToOfflineSettleResponse converts an offline settlement result
func ToOfflineSettleResponse(r *appbilling.OfflineSettleResult) OfflineSettleResponse {
	items := make([]OfflineSettleItemResponse, len(r.Items))
	for i, it := range r.Items {
		items[i] = OfflineSettleItemResponse{
			Charge: ToChargeResponse(it.Charge),
			Bill:   ToBillResponse(it.Bill),
		}
	}
	return OfflineSettleResponse{Items: items, AuditStatus: string(r.AuditStatus)}
}

// ToBalanceResponse converts a gateway balance
func ToBalanceResponse(b *billing.Balance) BalanceResponse {
	return BalanceResponse{Points: b.Points, CheckedAt: b.CheckedAt}
}
