package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects runtime metrics for scraping.
//
// Metrics exposed (all namespaced with "hetgraph_"):
//
//  1. inflight_actors (gauge): actors currently executing a backend launch.
//  2. queue_depth (gauge): firings waiting in the shared frontier.
//  3. actor_latency_ms (histogram): firing duration.
//     Labels: actor, backend, status (success/error/discarded).
//  4. runs_total (counter): finished runs. Labels: status (success/failed).
//  5. actor_failures_total (counter): failed firings.
//     Labels: kind (input_validation/backend_execution/cancelled).
//  6. adapters_inserted_total (counter): layout adapters inserted in plans
//     loaded by a runtime.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	rt, _ := graph.NewRuntime(ag, executors, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe.
type PrometheusMetrics struct {
	inflight   prometheus.Gauge
	queueDepth prometheus.Gauge

	actorLatency *prometheus.HistogramVec

	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	adapters prometheus.Counter
	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers the runtime metrics with
// registry, or with prometheus.DefaultRegisterer when registry is nil.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{registry: registry, enabled: true}

	pm.inflight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "hetgraph",
		Name:      "inflight_actors",
		Help:      "Number of actors currently executing a backend launch",
	})
	pm.queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "hetgraph",
		Name:      "queue_depth",
		Help:      "Number of actor firings waiting in the shared frontier",
	})
	pm.actorLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hetgraph",
		Name:      "actor_latency_ms",
		Help:      "Actor firing duration in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000},
	}, []string{"actor", "backend", "status"})
	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hetgraph",
		Name:      "runs_total",
		Help:      "Finished runs by outcome",
	}, []string{"status"})
	pm.failures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hetgraph",
		Name:      "actor_failures_total",
		Help:      "Failed actor firings by failure kind",
	}, []string{"kind"})
	pm.adapters = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "hetgraph",
		Name:      "adapters_inserted_total",
		Help:      "Layout adapters inserted into plans loaded by a runtime",
	})

	return pm
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordActorLatency observes one firing's duration.
func (pm *PrometheusMetrics) RecordActorLatency(actor string, backend Backend, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	ms := float64(latency.Microseconds()) / 1000
	pm.actorLatency.WithLabelValues(actor, string(backend), status).Observe(ms)
}

// IncrementRuns counts a finished run.
func (pm *PrometheusMetrics) IncrementRuns(status string) {
	if !pm.on() {
		return
	}
	pm.runs.WithLabelValues(status).Inc()
}

// IncrementFailures counts a failed firing.
func (pm *PrometheusMetrics) IncrementFailures(kind string) {
	if !pm.on() {
		return
	}
	pm.failures.WithLabelValues(kind).Inc()
}

// AddAdapters counts adapters inserted into a plan.
func (pm *PrometheusMetrics) AddAdapters(n int) {
	if !pm.on() || n <= 0 {
		return
	}
	pm.adapters.Add(float64(n))
}

// UpdateQueueDepth sets the frontier depth gauge.
func (pm *PrometheusMetrics) UpdateQueueDepth(depth int) {
	if !pm.on() {
		return
	}
	pm.queueDepth.Set(float64(depth))
}

// UpdateInflightActors sets the in-flight gauge.
func (pm *PrometheusMetrics) UpdateInflightActors(count int) {
	if !pm.on() {
		return
	}
	pm.inflight.Set(float64(count))
}

// Disable temporarily disables metric recording.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the gauges. Counters and histograms are cumulative and keep
// their values.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflight.Set(0)
	pm.queueDepth.Set(0)
}
