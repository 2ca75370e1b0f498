package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collect gathers all metrics recorded through the reader into a flat map
// keyed by instrument name.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return m, reader
}

func TestRecordToolCall(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "getDroughtRisk", "ok", 120*time.Millisecond)
	m.RecordToolCall(ctx, "getDroughtRisk", "error", 40*time.Millisecond)

	got := collect(t, reader)

	calls, ok := got["kaitiaki.tool.calls"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("kaitiaki.tool.calls not recorded as int64 sum")
	}
	var total int64
	for _, dp := range calls.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("tool call total = %d, want 2", total)
	}

	hist, ok := got["kaitiaki.tool.fetch.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("kaitiaki.tool.fetch.duration not recorded as histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("fetch duration count = %d, want 2", count)
	}
}

func TestRecordHeartbeatRTT(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	m.RecordHeartbeatRTT(context.Background(), 35*time.Millisecond)

	got := collect(t, reader)
	hist, ok := got["kaitiaki.relay.heartbeat.rtt"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("kaitiaki.relay.heartbeat.rtt not recorded as histogram")
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("heartbeat rtt datapoints = %+v, want one recording", hist.DataPoints)
	}
}

func TestActiveSessionsUpDown(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	got := collect(t, reader)
	sum, ok := got["kaitiaki.relay.active_sessions"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("kaitiaki.relay.active_sessions not recorded as int64 sum")
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active sessions = %+v, want 1", sum.DataPoints)
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	t.Parallel()

	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics() returned different instances")
	}
}
