// Package metrics exposes Prometheus instruments for the ingestion path:
// gateway admissions, deliveries, dead letters, storage latency and queue
// gauges.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hari-yahoo/CourseStatus/internal/retry"
)

const namespace = "coursestatus"

// Metrics holds every instrument. The zero value is not usable; use New or
// Default.
type Metrics struct {
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer
	factory  promauto.Factory

	enqueueTotal     *prometheus.CounterVec
	deliveryTotal    *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	actionTotal      *prometheus.CounterVec
	deadLetterTotal  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	storeReads       prometheus.Histogram
	storeCommits     prometheus.Histogram
	storeCommitOps   prometheus.Histogram

	gaugeOnce sync.Once
}

// New registers the instruments with reg. A *prometheus.Registry works for
// both registration and gathering; other registerers fall back to the
// default gatherer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	return &Metrics{
		reg:      reg,
		gatherer: gatherer,
		factory:  f,
		enqueueTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_total",
			Help:      "Gateway admissions by result.",
		}, []string{"result"}),
		deliveryTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_total",
			Help:      "Handler invocations by outcome.",
		}, []string{"outcome"}),
		deliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Handler latency by outcome.",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.05,
				0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
			},
		}, []string{"outcome"}),
		actionTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_action_total",
			Help:      "Settled leases by retry action.",
		}, []string{"action"}),
		deadLetterTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letter_total",
			Help:      "Envelopes escalated to the dead-letter channel.",
		}, []string{"kind"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		storeReads: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "read_duration_seconds",
			Help:      "Pebble point read latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		storeCommits: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "commit_duration_seconds",
			Help:      "Pebble batch commit latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}),
		storeCommitOps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "commit_ops",
			Help:      "Operations per Pebble batch commit.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// Default returns the instruments registered with the default registry.
var Default = sync.OnceValue(func() *Metrics {
	return New(prometheus.DefaultRegisterer)
})

// NewRegistry returns a registry carrying the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the gathered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// TrackQueue registers gauges read on every scrape. Only the first call has
// an effect.
func (m *Metrics) TrackQueue(depth, leased, deadLetters func() float64) {
	m.gaugeOnce.Do(func() {
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Envelopes stored in the main queue, leased ones included.",
		}, depth)
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_leased",
			Help:      "Groups with an outstanding lease.",
		}, leased)
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dead_letter_depth",
			Help:      "Entries in the dead-letter channel.",
		}, deadLetters)
	})
}

// ObserveEnqueue counts a gateway admission.
func (m *Metrics) ObserveEnqueue(result string) {
	m.enqueueTotal.WithLabelValues(result).Inc()
}

// ObserveDelivery implements worker.Metrics.
func (m *Metrics) ObserveDelivery(outcome string, d time.Duration) {
	m.deliveryTotal.WithLabelValues(outcome).Inc()
	m.deliveryDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveAction implements retry.Observer.
func (m *Metrics) ObserveAction(outcome retry.Outcome, action retry.ActionKind) {
	m.actionTotal.WithLabelValues(action.String()).Inc()
	if action != retry.Escalate {
		return
	}
	kind := "retries_exhausted"
	if outcome == retry.PermanentFailure {
		kind = "permanent"
	}
	m.deadLetterTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, method, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// ObserveRead implements pebblestore.MetricsHook.
func (m *Metrics) ObserveRead(elapsed time.Duration, _ int) {
	m.storeReads.Observe(elapsed.Seconds())
}

// ObserveBatchCommit implements pebblestore.MetricsHook.
func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, numOps int, _ int) {
	m.storeCommits.Observe(elapsed.Seconds())
	m.storeCommitOps.Observe(float64(numOps))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
