// Package metrics exposes Prometheus collectors for the risk engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "carewatch"

// Manager holds every collector the service registers. A nil *Manager is
// safe to call, so wiring metrics stays optional in tests.
type Manager struct {
	registry *prometheus.Registry

	// Evaluation pipeline.
	runsTotal    *prometheus.CounterVec
	runDuration  prometheus.Histogram
	scoresTotal  *prometheus.CounterVec
	staleTotal   prometheus.Counter
	skippedTotal prometheus.Counter

	// Alert lifecycle.
	alertOutcomes *prometheus.CounterVec

	// Notification dispatch.
	deliveries    *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	queueRejected *prometheus.CounterVec

	// HTTP layer.
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func NewManager() *Manager {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Manager{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Evaluation runs by terminal outcome.",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one evaluation run.",
			Buckets:   prometheus.DefBuckets,
		}),
		scoresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "scores_total",
			Help:      "Risk scores produced, by category and band.",
		}, []string{"category", "band"}),
		staleTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "stale_categories_total",
			Help:      "Categories dropped from a run by inference timeout.",
		}),
		skippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "skipped_categories_total",
			Help:      "Categories skipped for missing input data.",
		}),
		alertOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "trigger_outcomes_total",
			Help:      "Alert trigger attempts by outcome.",
		}, []string{"outcome"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "deliveries_total",
			Help:      "Notification delivery attempts by channel and result.",
		}, []string{"channel", "result"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Jobs waiting per channel queue.",
		}, []string{"channel"}),
		queueRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_rejected_total",
			Help:      "Jobs rejected because a channel queue was full.",
		}, []string{"channel"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Manager) RunCompleted(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(seconds)
}

func (m *Manager) ScoreProduced(category, band string) {
	if m == nil {
		return
	}
	m.scoresTotal.WithLabelValues(category, band).Inc()
}

func (m *Manager) CategoryStale() {
	if m == nil {
		return
	}
	m.staleTotal.Inc()
}

func (m *Manager) CategorySkipped() {
	if m == nil {
		return
	}
	m.skippedTotal.Inc()
}

func (m *Manager) AlertOutcome(outcome string) {
	if m == nil {
		return
	}
	m.alertOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Manager) DeliveryAttempt(channel, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, result).Inc()
}

func (m *Manager) SetQueueDepth(channel string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(channel).Set(float64(depth))
}

func (m *Manager) QueueRejected(channel string) {
	if m == nil {
		return
	}
	m.queueRejected.WithLabelValues(channel).Inc()
}

func (m *Manager) HTTPRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(seconds)
}
