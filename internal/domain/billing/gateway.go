package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IssueRequest describes an invoice to issue at the gateway
type IssueRequest struct {
	ChargeID   uuid.UUID
	PayerName  string
	PayerPhone string
	Product    string
	Amount     int64
	// ExpireAt is optional; the gateway default applies when zero
	ExpireAt time.Time
}

// Validate validates the request
func (r *IssueRequest) Validate() error {
	if r.ChargeID == uuid.Nil {
		return errors.New("paysam: charge ID is required")
	}
	if strings.TrimSpace(r.PayerName) == "" {
		return errors.New("paysam: payer name is required")
	}
	if strings.TrimSpace(r.PayerPhone) == "" {
		return errors.New("paysam: payer phone is required")
	}
	if r.Amount <= 0 {
		return errors.New("paysam: amount must be positive")
	}
	return nil
}

// NewIssueRequest builds an issue request from a charge
func NewIssueRequest(c *Charge) IssueRequest {
	product := c.Title
	if product == "" {
		product = c.Period
	}
	return IssueRequest{
		ChargeID:   c.ID,
		PayerName:  c.PayerName,
		PayerPhone: c.PayerPhone,
		Product:    product,
		Amount:     c.Amount,
	}
}

// IssueResult is the gateway's answer to an issue call
type IssueResult struct {
	GatewayBillID string
	ShortURL      string
	// Sent is true when the gateway delivered the payment message to the payer
	Sent bool
}

// StatusResult is the gateway's answer to a status query
type StatusResult struct {
	GatewayBillID  string
	State          ApprovalState
	ApprovedAt     *time.Time
	PayType        string
	ApprovalNumber string
	Raw            json.RawMessage
}

// Observation converts the status into an approval observation
func (r *StatusResult) Observation(receivedAt time.Time) ApprovalObservation {
	return ApprovalObservation{
		State:          r.State,
		ApprovedAt:     r.ApprovedAt,
		ReceivedAt:     receivedAt,
		PayType:        r.PayType,
		ApprovalNumber: r.ApprovalNumber,
	}
}

// Balance is the prepaid message balance at the gateway
type Balance struct {
	Points    int64
	CheckedAt time.Time
}

// Gateway is the outbound port to the payment gateway. Every method fails with
// an error wrapping ErrGatewayUnavailable (network, timeout, 5xx) or
// ErrGatewayRejected (4xx, business-rule refusal). Implementations never touch
// the ledger.
type Gateway interface {
	Issue(ctx context.Context, req IssueRequest) (*IssueResult, error)
	Cancel(ctx context.Context, gatewayBillID string) error
	Destroy(ctx context.Context, gatewayBillID string) error
	QueryStatus(ctx context.Context, gatewayBillID string) (*StatusResult, error)
	QueryBalance(ctx context.Context) (*Balance, error)
}
