// Package observe provides application-wide observability primitives for
// cordon: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
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

// meterName is the instrumentation scope name used for all cordon metrics.
const meterName = "github.com/voletro/cordon"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Relay call path ---

	// CallDuration tracks end-to-end provider call latency. Use with attributes:
	//   attribute.String("endpoint", ...), attribute.String("outcome", ...)
	CallDuration metric.Float64Histogram

	// CallAttempts tracks how many attempts each call needed.
	CallAttempts metric.Int64Histogram

	// --- Caches ---

	// CacheRequests counts cache lookups. Use with attributes:
	//   attribute.String("cache", ...), attribute.String("result", "hit"|"miss")
	CacheRequests metric.Int64Counter

	// --- Resilience ---

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: endpoint, from, to.
	BreakerTransitions metric.Int64Counter

	// GateInFlight tracks calls currently admitted past each endpoint's gate.
	GateInFlight metric.Int64UpDownCounter

	// PoolAcquireDuration tracks how long callers wait for a pooled session.
	PoolAcquireDuration metric.Float64Histogram

	// --- Tools ---

	// ToolConstructions counts tool instance constructions by tool and status.
	ToolConstructions metric.Int64Counter

	// ToolInvocations counts tool invocations by tool and status.
	ToolInvocations metric.Int64Counter

	// --- Streaming ---

	// StreamBytes tracks bytes delivered per streaming session.
	StreamBytes metric.Int64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// remote model inference latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// attemptBuckets covers the retry budget (first attempt plus retries).
var attemptBuckets = []float64{1, 2, 3, 4, 5}

// byteBuckets covers streamed payload sizes up to the default cap.
var byteBuckets = []float64{
	1 << 10, 64 << 10, 1 << 20, 8 << 20, 32 << 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Relay call path.
	if met.CallDuration, err = m.Float64Histogram("cordon.call.duration",
		metric.WithDescription("End-to-end provider call latency by endpoint and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallAttempts, err = m.Int64Histogram("cordon.call.attempts",
		metric.WithDescription("Attempts needed per provider call."),
		metric.WithExplicitBucketBoundaries(attemptBuckets...),
	); err != nil {
		return nil, err
	}

	// Caches.
	if met.CacheRequests, err = m.Int64Counter("cordon.cache.requests",
		metric.WithDescription("Cache lookups by cache name and result."),
	); err != nil {
		return nil, err
	}

	// Resilience.
	if met.BreakerTransitions, err = m.Int64Counter("cordon.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions by endpoint."),
	); err != nil {
		return nil, err
	}
	if met.GateInFlight, err = m.Int64UpDownCounter("cordon.gate.inflight",
		metric.WithDescription("Calls currently admitted past the endpoint gate."),
	); err != nil {
		return nil, err
	}
	if met.PoolAcquireDuration, err = m.Float64Histogram("cordon.pool.acquire.duration",
		metric.WithDescription("Wait time for a pooled provider session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Tools.
	if met.ToolConstructions, err = m.Int64Counter("cordon.tool.constructions",
		metric.WithDescription("Tool instance constructions by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolInvocations, err = m.Int64Counter("cordon.tool.invocations",
		metric.WithDescription("Tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Streaming.
	if met.StreamBytes, err = m.Int64Histogram("cordon.stream.bytes",
		metric.WithDescription("Bytes delivered per streaming session by outcome."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(byteBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cordon.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordCall records one finished provider call with its duration and how
// many attempts it needed.
func (m *Metrics) RecordCall(ctx context.Context, endpoint, outcome string, attempts int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	)
	m.CallDuration.Record(ctx, d.Seconds(), attrs)
	m.CallAttempts.Record(ctx, int64(attempts), attrs)
}

// RecordCacheRequest records one cache lookup as a hit or miss.
func (m *Metrics) RecordCacheRequest(ctx context.Context, cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("result", result),
		),
	)
}

// RecordBreakerTransition records one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, endpoint, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// AddGateInFlight moves the per-endpoint in-flight gauge by delta
// (+1 on admission, -1 on release).
func (m *Metrics) AddGateInFlight(ctx context.Context, endpoint string, delta int64) {
	m.GateInFlight.Add(ctx, delta,
		metric.WithAttributes(attribute.String("endpoint", endpoint)),
	)
}

// RecordPoolAcquire records how long one session acquisition took.
func (m *Metrics) RecordPoolAcquire(ctx context.Context, endpoint string, d time.Duration) {
	m.PoolAcquireDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("endpoint", endpoint)),
	)
}

// RecordToolConstruction records one tool construction attempt.
func (m *Metrics) RecordToolConstruction(ctx context.Context, tool, status string) {
	m.ToolConstructions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordToolInvocation records one tool invocation.
func (m *Metrics) RecordToolInvocation(ctx context.Context, tool, status string) {
	m.ToolInvocations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordStreamBytes records the bytes delivered by one streaming session.
func (m *Metrics) RecordStreamBytes(ctx context.Context, bytes int64, outcome string) {
	m.StreamBytes.Record(ctx, bytes,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
