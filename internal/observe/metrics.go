// Package observe provides application-wide observability primitives for
// the Kaitiaki voice relay: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed
// via a Prometheus exporter bridge set up by [InitProvider], so they remain
// scrapeable at the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Kaitiaki metrics.
const meterName = "github.com/awhina-ai/kaitiaki"

// Metrics holds all OpenTelemetry metric instruments for the relay. The
// underlying OTel types handle their own synchronisation, so all fields are
// safe for concurrent use.
type Metrics struct {
	// ToolFetchDuration tracks dashboard tool fetch latency. Use with
	// attribute.String("tool", ...).
	ToolFetchDuration metric.Float64Histogram

	// HeartbeatRTT tracks client heartbeat round trips.
	HeartbeatRTT metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...) and attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram

	// RelayedEvents counts protocol events pumped through the relay. Use
	// with attribute.String("direction", "upstream"|"client").
	RelayedEvents metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// UpstreamErrors counts failed upstream relay sessions.
	UpstreamErrors metric.Int64Counter

	// ActiveSessions tracks the number of live relay sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-interaction latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ToolFetchDuration, err = m.Float64Histogram("kaitiaki.tool.fetch.duration",
		metric.WithDescription("Latency of dashboard tool fetches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HeartbeatRTT, err = m.Float64Histogram("kaitiaki.relay.heartbeat.rtt",
		metric.WithDescription("Client heartbeat round trip time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("kaitiaki.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.RelayedEvents, err = m.Int64Counter("kaitiaki.relay.events",
		metric.WithDescription("Protocol events relayed, by direction."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("kaitiaki.tool.calls",
		metric.WithDescription("Tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamErrors, err = m.Int64Counter("kaitiaki.upstream.errors",
		metric.WithDescription("Relay sessions ended by an upstream failure."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("kaitiaki.relay.active_sessions",
		metric.WithDescription("Number of live relay sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which cannot happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordToolCall records one tool invocation with its fetch duration.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
	m.ToolFetchDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordHeartbeatRTT records one client heartbeat round trip.
func (m *Metrics) RecordHeartbeatRTT(ctx context.Context, rtt time.Duration) {
	m.HeartbeatRTT.Record(ctx, rtt.Seconds())
}

// RecordRelayedEvent counts one pumped protocol event.
func (m *Metrics) RecordRelayedEvent(ctx context.Context, direction string) {
	m.RelayedEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}
