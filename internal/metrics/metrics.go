package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the email analytics service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	WebhookDeliveries *prometheus.CounterVec
	WebhookLatency    *prometheus.HistogramVec
	EventsRecorded    *prometheus.CounterVec
	EventsRejected    *prometheus.CounterVec

	// Rollup metrics
	RollupIncrements *prometheus.CounterVec
	RollupFailures   *prometheus.CounterVec

	// Storage metrics
	StorageRetries *prometheus.CounterVec
	StorageLatency *prometheus.HistogramVec

	// Query metrics
	QueryLatency *prometheus.HistogramVec

	// Reconcile metrics
	ReconcileRuns       *prometheus.CounterVec
	ReconcileMismatches *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates all metrics on a dedicated registry that also carries
// the Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWithRegistry(namespace, reg)
}

// NewMetricsWithRegistry creates all metrics on reg.
func NewMetricsWithRegistry(namespace string, reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Webhook deliveries by provider and response status",
			},
			[]string{"provider", "status"},
		),
		WebhookLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_latency_seconds",
				Help:      "Webhook processing latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"provider"},
		),
		EventsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_recorded_total",
				Help:      "Events recorded by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		EventsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_rejected_total",
				Help:      "Webhook items dropped during normalization",
			},
			[]string{"provider"},
		),

		RollupIncrements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_increments_total",
				Help:      "Rollup counter increments applied",
			},
			[]string{"event_type", "scope"},
		),
		RollupFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_failures_total",
				Help:      "Rollup increments that failed after retries",
			},
			[]string{"event_type"},
		),

		StorageRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_retries_total",
				Help:      "Storage call retries by operation",
			},
			[]string{"operation"},
		),
		StorageLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_latency_seconds",
				Help:      "Storage call latency",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
			},
			[]string{"operation", "status"},
		),

		QueryLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_latency_seconds",
				Help:      "Analytics query latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"query"},
		),

		ReconcileRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_total",
				Help:      "Reconcile passes by result",
			},
			[]string{"result"},
		),
		ReconcileMismatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_mismatches_total",
				Help:      "Rollup counters found diverging from the event log",
			},
			[]string{"event_type"},
		),

		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"limiter"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordWebhook records one webhook delivery.
func (m *Metrics) RecordWebhook(provider string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(provider, statusClass(status)).Inc()
	m.WebhookLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordRejected records items dropped from a webhook batch.
func (m *Metrics) RecordRejected(provider string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsRejected.WithLabelValues(provider).Add(float64(n))
}

// RecordEvent records a recorder outcome.
func (m *Metrics) RecordEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsRecorded.WithLabelValues(eventType, outcome).Inc()
}

// RecordRollupIncrement records an applied rollup increment.
func (m *Metrics) RecordRollupIncrement(eventType string, campaignScoped bool) {
	if m == nil {
		return
	}
	scope := "global"
	if campaignScoped {
		scope = "campaign"
	}
	m.RollupIncrements.WithLabelValues(eventType, scope).Inc()
}

// RecordRollupFailure records a rollup increment that was given up on.
func (m *Metrics) RecordRollupFailure(eventType string) {
	if m == nil {
		return
	}
	m.RollupFailures.WithLabelValues(eventType).Inc()
}

// RecordStorageRetry records a retried storage call.
func (m *Metrics) RecordStorageRetry(op string) {
	if m == nil {
		return
	}
	m.StorageRetries.WithLabelValues(op).Inc()
}

// RecordStorageCall records the latency of one storage attempt.
func (m *Metrics) RecordStorageCall(op string, err error, latency time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StorageLatency.WithLabelValues(op, status).Observe(latency.Seconds())
}

// RecordQuery records analytics query latency.
func (m *Metrics) RecordQuery(query string, latency time.Duration) {
	if m == nil {
		return
	}
	m.QueryLatency.WithLabelValues(query).Observe(latency.Seconds())
}

// RecordReconcile records a reconcile pass and its mismatches.
func (m *Metrics) RecordReconcile(result string, mismatchTypes []string) {
	if m == nil {
		return
	}
	m.ReconcileRuns.WithLabelValues(result).Inc()
	for _, t := range mismatchTypes {
		m.ReconcileMismatches.WithLabelValues(t).Inc()
	}
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limiter).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
