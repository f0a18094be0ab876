package models

import (
	"time"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/google/uuid"
)

// ChargeModel is the persistence model for the Charge aggregate root.
type ChargeModel struct {
	TenantAggregateModel
	PayerID        uuid.UUID             `gorm:"type:uuid;not null;index"`
	PayerName      string                `gorm:"type:varchar(100);not null"`
	PayerPhone     string                `gorm:"type:varchar(30)"`
	Period         string                `gorm:"type:varchar(20);not null;index"`
	Title          string                `gorm:"type:varchar(200)"`
	Amount         int64                 `gorm:"not null"`
	PaymentStatus  billing.PaymentStatus `gorm:"type:varchar(20);not null;default:'unpaid';index"`
	ParentChargeID *uuid.UUID            `gorm:"type:uuid;index"`
	IsSplitChild   bool                  `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (ChargeModel) TableName() string {
	return "charges"
}

// ToDomain converts the persistence model to a domain Charge
func (m *ChargeModel) ToDomain() *billing.Charge {
	c := &billing.Charge{
		PayerID:        m.PayerID,
		PayerName:      m.PayerName,
		PayerPhone:     m.PayerPhone,
		Period:         m.Period,
		Title:          m.Title,
		Amount:         m.Amount,
		PaymentStatus:  m.PaymentStatus,
		ParentChargeID: m.ParentChargeID,
		IsSplitChild:   m.IsSplitChild,
	}
	m.PopulateTenantAggregateRoot(&c.TenantAggregateRoot)
	return c
}

// FromDomain populates the persistence model from a domain Charge
func (m *ChargeModel) FromDomain(c *billing.Charge) {
	m.FromDomainTenantAggregateRoot(c.TenantAggregateRoot)
	m.PayerID = c.PayerID
	m.PayerName = c.PayerName
	m.PayerPhone = c.PayerPhone
	m.Period = c.Period
	m.Title = c.Title
	m.Amount = c.Amount
	m.PaymentStatus = c.PaymentStatus
	m.ParentChargeID = c.ParentChargeID
	m.IsSplitChild = c.IsSplitChild
}

// ChargeModelFromDomain creates a new persistence model from a domain Charge
func ChargeModelFromDomain(c *billing.Charge) *ChargeModel {
	m := &ChargeModel{}
	m.FromDomain(c)
	return m
}

// BillModel is the persistence model for the Bill aggregate root.
// At most one bill per charge may be created/sent/paid; the migration backs
// the repository check with a partial unique index.
type BillModel struct {
	TenantAggregateModel
	ChargeID        uuid.UUID             `gorm:"type:uuid;not null;index"`
	GatewayBillID   *string               `gorm:"column:gateway_bill_id;type:varchar(64);uniqueIndex"`
	ShortURL        string                `gorm:"column:short_url;type:varchar(255)"`
	Amount          int64                 `gorm:"not null"`
	RequestStatus   billing.RequestStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	PaymentMethod   string                `gorm:"type:varchar(30)"`
	TransactionID   string                `gorm:"type:varchar(100)"`
	FailureReason   string                `gorm:"type:text"`
	ResendCount     int                   `gorm:"not null;default:0"`
	StatusChangedAt time.Time             `gorm:"not null;index"`
	SentAt          *time.Time
	PaidAt          *time.Time
	CancelledAt     *time.Time
	DestroyedAt     *time.Time
}

// TableName returns the table name for GORM
func (BillModel) TableName() string {
	return "bills"
}

// ToDomain converts the persistence model to a domain Bill
func (m *BillModel) ToDomain() *billing.Bill {
	b := &billing.Bill{
		ChargeID:        m.ChargeID,
		ShortURL:        m.ShortURL,
		Amount:          m.Amount,
		RequestStatus:   m.RequestStatus,
		PaymentMethod:   m.PaymentMethod,
		TransactionID:   m.TransactionID,
		FailureReason:   m.FailureReason,
		ResendCount:     m.ResendCount,
		StatusChangedAt: m.StatusChangedAt,
		SentAt:          m.SentAt,
		PaidAt:          m.PaidAt,
		CancelledAt:     m.CancelledAt,
		DestroyedAt:     m.DestroyedAt,
	}
	if m.GatewayBillID != nil {
		b.GatewayBillID = *m.GatewayBillID
	}
	m.PopulateTenantAggregateRoot(&b.TenantAggregateRoot)
	return b
}

// FromDomain populates the persistence model from a domain Bill
func (m *BillModel) FromDomain(b *billing.Bill) {
	m.FromDomainTenantAggregateRoot(b.TenantAggregateRoot)
	m.ChargeID = b.ChargeID
	// pending and failed bills have no gateway id; NULL keeps the unique index usable
	m.GatewayBillID = nil
	if b.GatewayBillID != "" {
		id := b.GatewayBillID
		m.GatewayBillID = &id
	}
	m.ShortURL = b.ShortURL
	m.Amount = b.Amount
	m.RequestStatus = b.RequestStatus
	m.PaymentMethod = b.PaymentMethod
	m.TransactionID = b.TransactionID
	m.FailureReason = b.FailureReason
	m.ResendCount = b.ResendCount
	m.StatusChangedAt = b.StatusChangedAt
	m.SentAt = b.SentAt
	m.PaidAt = b.PaidAt
	m.CancelledAt = b.CancelledAt
	m.DestroyedAt = b.DestroyedAt
}

// BillModelFromDomain creates a new persistence model from a domain Bill
func BillModelFromDomain(b *billing.Bill) *BillModel {
	m := &BillModel{}
	m.FromDomain(b)
	return m
}

// EventModel is the persistence model for the append-only billing event log.
type EventModel struct {
	ID            uuid.UUID             `gorm:"type:uuid;primary_key"`
	TenantID      uuid.UUID             `gorm:"type:uuid;not null;index"`
	ChargeID      *uuid.UUID            `gorm:"type:uuid;index"`
	BillID        *uuid.UUID            `gorm:"type:uuid;index"`
	GatewayBillID string                `gorm:"column:gateway_bill_id;type:varchar(64);index"`
	EventType     billing.EventType     `gorm:"type:varchar(30);not null"`
	Source        billing.EventSource   `gorm:"type:varchar(20);not null"`
	Operation     billing.Operation     `gorm:"type:varchar(20);not null"`
	FromStatus    billing.RequestStatus `gorm:"type:varchar(20)"`
	ToStatus      billing.RequestStatus `gorm:"type:varchar(20)"`
	Applied       bool                  `gorm:"not null"`
	OccurredAt    *time.Time
	Payload       []byte     `gorm:"type:bytea"`
	ActorID       *uuid.UUID `gorm:"type:uuid"`
	ReceivedAt    time.Time  `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (EventModel) TableName() string {
	return "billing_events"
}

// ToDomain converts the persistence model to a domain Event
func (m *EventModel) ToDomain() *billing.Event {
	return &billing.Event{
		ID:            m.ID,
		TenantID:      m.TenantID,
		ChargeID:      m.ChargeID,
		BillID:        m.BillID,
		GatewayBillID: m.GatewayBillID,
		Type:          m.EventType,
		Source:        m.Source,
		Operation:     m.Operation,
		FromStatus:    m.FromStatus,
		ToStatus:      m.ToStatus,
		Applied:       m.Applied,
		OccurredAt:    m.OccurredAt,
		Payload:       m.Payload,
		ActorID:       m.ActorID,
		ReceivedAt:    m.ReceivedAt,
	}
}

// EventModelFromDomain creates a new persistence model from a domain Event
func EventModelFromDomain(e *billing.Event) *EventModel {
	return &EventModel{
		ID:            e.ID,
		TenantID:      e.TenantID,
		ChargeID:      e.ChargeID,
		BillID:        e.BillID,
		GatewayBillID: e.GatewayBillID,
		EventType:     e.Type,
		Source:        e.Source,
		Operation:     e.Operation,
		FromStatus:    e.FromStatus,
		ToStatus:      e.ToStatus,
		Applied:       e.Applied,
		OccurredAt:    e.OccurredAt,
		Payload:       e.Payload,
		ActorID:       e.ActorID,
		ReceivedAt:    e.ReceivedAt,
	}
}
