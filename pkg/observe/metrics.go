// Package observe provides process-wide observability primitives: an
// OpenTelemetry meter provider bridged to Prometheus and the metric
// instruments shared by the dispatcher, scraper, and worker pool.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all profiler metrics.
const meterName = "github.com/buscafornecedor/profiler"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// --- Latency histograms per pipeline step ---

	// LLMCallDuration tracks one provider completion round-trip.
	LLMCallDuration metric.Float64Histogram

	// ScrapeDuration tracks end-to-end site scrape latency.
	ScrapeDuration metric.Float64Histogram

	// JobDuration tracks end-to-end profile job latency.
	JobDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts dispatcher calls. Attributes: provider,
	// priority, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts dispatcher failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// PagesFetched counts scraped pages. Attributes: strategy, status.
	PagesFetched metric.Int64Counter

	// BreakerSkips counts fetches rejected by an open domain circuit.
	BreakerSkips metric.Int64Counter

	// SiteWaits counts scrape requests that had to wait on the global
	// site semaphore.
	SiteWaits metric.Int64Counter

	// JobsProcessed counts terminal job outcomes. Attribute: outcome.
	JobsProcessed metric.Int64Counter

	// ChunksProduced counts chunks emitted by the chunker.
	ChunksProduced metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks the number of jobs currently being processed.
	ActiveJobs metric.Int64UpDownCounter

	// HighInFlight tracks in-flight HIGH priority LLM calls.
	HighInFlight metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// scrape and LLM latencies.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 160, 320,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMCallDuration, err = m.Float64Histogram("profiler.llm.call.duration",
		metric.WithDescription("Latency of one provider completion round-trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScrapeDuration, err = m.Float64Histogram("profiler.scrape.duration",
		metric.WithDescription("End-to-end site scrape latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("profiler.job.duration",
		metric.WithDescription("End-to-end profile job latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("profiler.provider.requests",
		metric.WithDescription("Total dispatcher calls by provider, priority, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("profiler.provider.errors",
		metric.WithDescription("Total dispatcher failures by provider and error kind."),
	); err != nil {
		return nil, err
	}
	if met.PagesFetched, err = m.Int64Counter("profiler.scrape.pages",
		metric.WithDescription("Total scraped pages by strategy and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerSkips, err = m.Int64Counter("profiler.scrape.breaker_skips",
		metric.WithDescription("Fetches rejected by an open domain circuit."),
	); err != nil {
		return nil, err
	}
	if met.SiteWaits, err = m.Int64Counter("profiler.scrape.site_waits",
		metric.WithDescription("Scrapes that waited on the global site semaphore."),
	); err != nil {
		return nil, err
	}
	if met.JobsProcessed, err = m.Int64Counter("profiler.jobs.processed",
		metric.WithDescription("Terminal job outcomes by kind."),
	); err != nil {
		return nil, err
	}
	if met.ChunksProduced, err = m.Int64Counter("profiler.chunks.produced",
		metric.WithDescription("Chunks emitted by the content chunker."),
	); err != nil {
		return nil, err
	}

	if met.ActiveJobs, err = m.Int64UpDownCounter("profiler.jobs.active",
		metric.WithDescription("Jobs currently being processed."),
	); err != nil {
		return nil, err
	}
	if met.HighInFlight, err = m.Int64UpDownCounter("profiler.llm.high_in_flight",
		metric.WithDescription("In-flight HIGH priority LLM calls."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordProviderRequest records one dispatcher call with its terminal status.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, priority, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("priority", priority),
		attribute.String("status", status),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.LLMCallDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordProviderError records one dispatcher failure by kind.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordPageFetch records one scraped page attempt.
func (m *Metrics) RecordPageFetch(ctx context.Context, strategy, status string) {
	if m == nil {
		return
	}
	m.PagesFetched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("status", status),
	))
}

// RecordBreakerSkip records a fetch rejected by an open circuit.
func (m *Metrics) RecordBreakerSkip(ctx context.Context, host string) {
	if m == nil {
		return
	}
	m.BreakerSkips.Add(ctx, 1, metric.WithAttributes(attribute.String("host", host)))
}

// RecordSiteWait records a scrape that waited on the site semaphore.
func (m *Metrics) RecordSiteWait(ctx context.Context) {
	if m == nil {
		return
	}
	m.SiteWaits.Add(ctx, 1)
}

// RecordJobOutcome records one terminal job outcome with its duration.
func (m *Metrics) RecordJobOutcome(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.JobDuration.Record(ctx, elapsed.Seconds())
}

// RecordScrape records one end-to-end site scrape.
func (m *Metrics) RecordScrape(ctx context.Context, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ScrapeDuration.Record(ctx, elapsed.Seconds())
}

// AddChunks records chunks produced by the chunker.
func (m *Metrics) AddChunks(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.ChunksProduced.Add(ctx, int64(n))
}

// JobStarted increments the active job gauge.
func (m *Metrics) JobStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveJobs.Add(ctx, 1)
}

// JobFinished decrements the active job gauge.
func (m *Metrics) JobFinished(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveJobs.Add(ctx, -1)
}

// HighEntered increments the HIGH in-flight gauge.
func (m *Metrics) HighEntered(ctx context.Context) {
	if m == nil {
		return
	}
	m.HighInFlight.Add(ctx, 1)
}

// HighExited decrements the HIGH in-flight gauge.
func (m *Metrics) HighExited(ctx context.Context) {
	if m == nil {
		return
	}
	m.HighInFlight.Add(ctx, -1)
}
