package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// BillingMetrics holds the reconciliation instruments. A nil *BillingMetrics
// is valid and records nothing.
type BillingMetrics struct {
	gatewayCalls      *Counter
	gatewayDuration   *Histogram
	webhooks          *Counter
	operations        *Counter
	operationDuration *Histogram
	sweeps            *Counter
	sweptBills        *Counter
	auditDegraded     *Counter
}

// NewBillingMetrics creates the billing instruments on meter.
func NewBillingMetrics(meter metric.Meter) (*BillingMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &BillingMetrics{}
	var err error

	if m.gatewayCalls, err = NewCounter(meter, "billing_gateway_calls_total",
		"PaysSam API calls by operation and outcome", "{call}"); err != nil {
		return nil, err
	}
	if m.gatewayDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "billing_gateway_call_duration_seconds",
		Description: "PaysSam API call latency",
		Unit:        "s",
		Boundaries:  GatewayDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.webhooks, err = NewCounter(meter, "billing_webhook_deliveries_total",
		"Webhook deliveries by acknowledgement code", "{delivery}"); err != nil {
		return nil, err
	}
	if m.operations, err = NewCounter(meter, "billing_operations_total",
		"Staff and sweep operations by outcome", "{operation}"); err != nil {
		return nil, err
	}
	if m.operationDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "billing_operation_duration_seconds",
		Description: "Reconciliation operation latency",
		Unit:        "s",
		Boundaries:  OperationDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.sweeps, err = NewCounter(meter, "billing_sweep_runs_total",
		"Stale bill sweep runs by outcome", "{run}"); err != nil {
		return nil, err
	}
	if m.sweptBills, err = NewCounter(meter, "billing_sweep_bills_total",
		"Bills examined by the stale sweep", "{bill}"); err != nil {
		return nil, err
	}
	if m.auditDegraded, err = NewCounter(meter, "billing_audit_degraded_total",
		"Audit events that could not be written", "{event}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordGatewayCall records one gateway call.
func (m *BillingMetrics) RecordGatewayCall(ctx context.Context, op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.Inc(ctx, AttrGatewayOp.String(op), AttrOutcome.String(outcome))
	m.gatewayDuration.RecordDuration(ctx, d, AttrGatewayOp.String(op))
}

// RecordWebhook records one webhook delivery by its acknowledgement code.
func (m *BillingMetrics) RecordWebhook(ctx context.Context, ackCode string) {
	if m == nil {
		return
	}
	m.webhooks.Inc(ctx, AttrAckCode.String(ackCode))
}

// RecordOperation records a finished reconciliation operation.
func (m *BillingMetrics) RecordOperation(ctx context.Context, op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.Inc(ctx, AttrOperation.String(op), AttrOutcome.String(outcome))
	m.operationDuration.RecordDuration(ctx, d, AttrOperation.String(op))
}

// RecordSweep records one sweep run and how many bills it examined.
func (m *BillingMetrics) RecordSweep(ctx context.Context, outcome string, bills int) {
	if m == nil {
		return
	}
	m.sweeps.Inc(ctx, AttrOutcome.String(outcome))
	if bills > 0 {
		m.sweptBills.Add(ctx, int64(bills))
	}
}

// RecordAuditDegraded records an audit event that was lost.
func (m *BillingMetrics) RecordAuditDegraded(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.auditDegraded.Inc(ctx, AttrSource.String(source))
}
