package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an audit event
type EventType string

const (
	EventTypePaymentCompleted EventType = "payment_completed"
	EventTypeCancelled        EventType = "cancelled"
	EventTypeDestroyed        EventType = "destroyed"
	EventTypeStatusChanged    EventType = "status_changed"
)

// EventSource tells who caused an event
type EventSource string

const (
	EventSourceWebhook   EventSource = "webhook"
	EventSourceOperation EventSource = "operation"
	EventSourceSweep     EventSource = "sweep"
)

// Event is an immutable audit entry. Events are only ever appended.
type Event struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	ChargeID      *uuid.UUID
	BillID        *uuid.UUID
	GatewayBillID string
	Type          EventType
	Source        EventSource
	Operation     Operation
	FromStatus    RequestStatus
	ToStatus      RequestStatus
	Applied       bool
	OccurredAt    *time.Time
	Payload       []byte
	ActorID       *uuid.UUID
	ReceivedAt    time.Time
}

// NewBillEvent creates an event attached to a bill and its charge
func NewBillEvent(bill *Bill, typ EventType, source EventSource, op Operation, receivedAt time.Time) *Event {
	billID := bill.ID
	chargeID := bill.ChargeID
	return &Event{
		ID:            uuid.New(),
		TenantID:      bill.TenantID,
		ChargeID:      &chargeID,
		BillID:        &billID,
		GatewayBillID: bill.GatewayBillID,
		Type:          typ,
		Source:        source,
		Operation:     op,
		ReceivedAt:    receivedAt,
	}
}

// NewChargeEvent creates an event attached only to a charge
func NewChargeEvent(charge *Charge, typ EventType, op Operation, receivedAt time.Time) *Event {
	chargeID := charge.ID
	return &Event{
		ID:         uuid.New(),
		TenantID:   charge.TenantID,
		ChargeID:   &chargeID,
		Type:       typ,
		Source:     EventSourceOperation,
		Operation:  op,
		ReceivedAt: receivedAt,
	}
}

// WithTransition records the status change the event describes
func (e *Event) WithTransition(from, to RequestStatus, applied bool) *Event {
	e.FromStatus = from
	e.ToStatus = to
	e.Applied = applied
	return e
}

// WithPayload stores raw bytes verbatim
func (e *Event) WithPayload(raw []byte) *Event {
	e.Payload = append([]byte(nil), raw...)
	return e
}

// WithJSONPayload marshals v as the payload
func (e *Event) WithJSONPayload(v any) *Event {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{}`)
	}
	e.Payload = data
	return e
}

// WithActor records the staff member who triggered the event
func (e *Event) WithActor(actorID uuid.UUID) *Event {
	if actorID != uuid.Nil {
		e.ActorID = &actorID
	}
	return e
}

// WithOccurredAt records the gateway-provided time of the underlying change
func (e *Event) WithOccurredAt(t *time.Time) *Event {
	e.OccurredAt = t
	return e
}

// WithSource overrides the event source
func (e *Event) WithSource(source EventSource) *Event {
	e.Source = source
	return e
}
