package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/academy/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func newTestBillingMetrics(t *testing.T) (*telemetry.BillingMetrics, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := telemetry.NewBillingMetrics(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func TestNewBillingMetrics_NilMeter(t *testing.T) {
	_, err := telemetry.NewBillingMetrics(nil)
	assert.ErrorIs(t, err, telemetry.ErrMeterNil)
}

func TestBillingMetrics_Record(t *testing.T) {
	m, reader := newTestBillingMetrics(t)
	ctx := context.Background()

	m.RecordGatewayCall(ctx, "issue", "success", 120*time.Millisecond)
	m.RecordGatewayCall(ctx, "issue", "unavailable", 10*time.Second)
	m.RecordGatewayCall(ctx, "issue", "success", 80*time.Millisecond)
	m.RecordWebhook(ctx, "0000")
	m.RecordWebhook(ctx, "9004")
	m.RecordOperation(ctx, "send", "success", time.Second)
	m.RecordSweep(ctx, "success", 7)
	m.RecordSweep(ctx, "success", 0)
	m.RecordAuditDegraded(ctx, "webhook")

	got := collect(t, reader)

	calls := got["billing_gateway_calls_total"]
	assert.Equal(t, int64(2), sumFor(t, calls, telemetry.AttrGatewayOp.String("issue"), telemetry.AttrOutcome.String("success")))
	assert.Equal(t, int64(1), sumFor(t, calls, telemetry.AttrGatewayOp.String("issue"), telemetry.AttrOutcome.String("unavailable")))

	hist, ok := got["billing_gateway_call_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(3), hist.DataPoints[0].Count)

	assert.Equal(t, int64(1), sumFor(t, got["billing_webhook_deliveries_total"], telemetry.AttrAckCode.String("9004")))
	assert.Equal(t, int64(1), sumFor(t, got["billing_operations_total"], telemetry.AttrOperation.String("send"), telemetry.AttrOutcome.String("success")))
	assert.Equal(t, int64(2), sumFor(t, got["billing_sweep_runs_total"], telemetry.AttrOutcome.String("success")))
	assert.Equal(t, int64(7), sumFor(t, got["billing_sweep_bills_total"]))
	assert.Equal(t, int64(1), sumFor(t, got["billing_audit_degraded_total"], telemetry.AttrSource.String("webhook")))
}

func TestBillingMetrics_NilIsNoop(t *testing.T) {
	var m *telemetry.BillingMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordGatewayCall(ctx, "issue", "success", time.Second)
		m.RecordWebhook(ctx, "0000")
		m.RecordOperation(ctx, "send", "success", time.Second)
		m.RecordSweep(ctx, "failure", 1)
		m.RecordAuditDegraded(ctx, "sync")
	})
}
