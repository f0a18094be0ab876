// Package billing implements the reconciliation operations staff run against
// charges and bills, the PaysSam webhook receiver and the stale bill sweep.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/academy/backend/internal/infrastructure/telemetry"
)

// AuditStatus reports whether the audit event of a state change was stored
type AuditStatus string

const (
	AuditRecorded AuditStatus = "recorded"
	AuditDegraded AuditStatus = "degraded"
)

// ServiceConfig holds the tunables of the reconciliation service
type ServiceConfig struct {
	// SplitMinimum is the smallest amount a split child may carry
	SplitMinimum int64
	// GuardTTL bounds how long a per-charge claim survives a crashed holder
	GuardTTL time.Duration
}

// DefaultServiceConfig returns the defaults used when fields are zero
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{SplitMinimum: 10000, GuardTTL: time.Minute}
}

// ReconciliationServiceConfig wires a ReconciliationService
type ReconciliationServiceConfig struct {
	Store   billing.Store
	Gateway billing.Gateway
	// Guard serializes gateway-calling operations per charge. Optional.
	Guard   shared.OperationGuard
	Metrics *telemetry.BillingMetrics
	Logger  *zap.Logger
	Config  ServiceConfig
	// Clock defaults to time.Now
	Clock func() time.Time
}

// OperationResult is the outcome of a single-charge operation
type OperationResult struct {
	Operation   billing.Operation
	Charge      *billing.Charge
	Bill        *billing.Bill
	Outcome     *billing.ApprovalOutcome
	AuditStatus AuditStatus
}

// auditor appends events without letting a failed write undo the state
// change it describes
type auditor struct {
	metrics *telemetry.BillingMetrics
	logger  *zap.Logger
}

func (a auditor) record(ctx context.Context, events billing.EventRepository, event *billing.Event) AuditStatus {
	if err := events.TryAppend(ctx, event); err != nil {
		logger.L(ctx, a.logger).Error("audit event not recorded",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", string(event.Type)),
			zap.String("source", string(event.Source)),
			zap.Error(err))
		a.metrics.RecordAuditDegraded(ctx, string(event.Source))
		return AuditDegraded
	}
	return AuditRecorded
}

// worst combines the audit status of several writes
func worst(statuses ...AuditStatus) AuditStatus {
	for _, s := range statuses {
		if s == AuditDegraded {
			return AuditDegraded
		}
	}
	return AuditRecorded
}

// outcomeOf labels an operation result for metrics
func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "error"
}

// errorPayload is stored on events describing a failed gateway call
type errorPayload struct {
	Operation billing.Operation `json:"operation"`
	Error     string            `json:"error"`
	Retryable bool              `json:"retryable"`
}

func gatewayErrorPayload(op billing.Operation, err error) errorPayload {
	return errorPayload{Operation: op, Error: err.Error(), Retryable: billing.IsRetryable(err)}
}

// issuePayload is stored on events describing an issued invoice
type issuePayload struct {
	GatewayBillID string `json:"gateway_bill_id"`
	ShortURL      string `json:"short_url"`
	Sent          bool   `json:"sent"`
	// ReplacedGatewayBillID is the invoice a resend superseded
	ReplacedGatewayBillID string `json:"replaced_gateway_bill_id,omitempty"`
}

func issuePayloadOf(res *billing.IssueResult) issuePayload {
	return issuePayload{GatewayBillID: res.GatewayBillID, ShortURL: res.ShortURL, Sent: res.Sent}
}

// requireTenant reports another tenant's charge as missing
func requireTenant(charge *billing.Charge, tenantID uuid.UUID) error {
	if !charge.BelongsTo(tenantID) {
		return billing.NewNotFound("charge %s not found", charge.ID)
	}
	return nil
}

func chargeKey(id uuid.UUID) string {
	return fmt.Sprintf("charge:%s", id)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		telemetry.RecordError(span, err)
	}
	span.End()
}
