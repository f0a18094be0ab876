package billing

import (
	"errors"
	"time"
)

// Acknowledgement codes returned to the gateway in the webhook response body.
// The gateway retries delivery unless it receives AckSuccess.
const (
	AckSuccess       = "0000"
	AckInvalidInput  = "9001"
	AckUnknownBill   = "9004"
	AckInternalError = "9999"
)

// AckMessage returns the message paired with an acknowledgement code
func AckMessage(code string) string {
	switch code {
	case AckSuccess:
		return "success"
	case AckInvalidInput:
		return "invalid request"
	case AckUnknownBill:
		return "bill not found"
	default:
		return "internal error"
	}
}

// ErrMalformedNotification is returned by decoders when a required field is
// missing or unparseable
var ErrMalformedNotification = errors.New("paysam: malformed notification")

// Notification is one decoded webhook delivery
type Notification struct {
	GatewayBillID  string
	State          ApprovalState
	ApprovedAt     *time.Time
	PayType        string
	ApprovalNumber string
}

// Observation converts the notification into an approval observation
func (n *Notification) Observation(receivedAt time.Time) ApprovalObservation {
	return ApprovalObservation{
		State:          n.State,
		ApprovedAt:     n.ApprovedAt,
		ReceivedAt:     receivedAt,
		PayType:        n.PayType,
		ApprovalNumber: n.ApprovalNumber,
	}
}

// NotificationDecoder turns a raw webhook body into a Notification. Errors
// wrap ErrMalformedNotification.
type NotificationDecoder interface {
	DecodeNotification(raw []byte, contentType string) (*Notification, error)
}
