// Package metrics exposes the service's prometheus collectors. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coursebot"

// Query outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeRefused  = "refused"
	OutcomeError    = "error"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	queries           *prometheus.CounterVec
	queryDuration     prometheus.Histogram
	retrieved         prometheus.Histogram
	groundingFailures prometheus.Counter
	embedCache        *prometheus.CounterVec
	rebuilds          *prometheus.CounterVec
	rebuildDuration   prometheus.Histogram
	indexGeneration   prometheus.Gauge
	indexChunks       prometheus.Gauge
	indexDegraded     prometheus.Gauge
	httpRequests      *prometheus.CounterVec
}

// New registers the collectors, plus the Go runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queries_total", Help: "Queries handled, by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "query_duration_seconds", Help: "End-to-end query latency.",
			Buckets: prometheus.DefBuckets,
		}),
		retrieved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "retrieved_chunks", Help: "Chunks passing the similarity cutoff per query.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 50},
		}),
		groundingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "grounding_failures_total", Help: "Generated answers rejected by the grounding check.",
		}),
		embedCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "query_embedding_cache_total", Help: "Query embedding cache lookups, by result.",
		}, []string{"result"}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "index_rebuilds_total", Help: "Index rebuilds, by result.",
		}, []string{"result"}),
		rebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "index_rebuild_duration_seconds", Help: "Index rebuild latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		indexGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "index_generation", Help: "Generation of the published index.",
		}),
		indexChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "index_chunks", Help: "Chunks in the published index.",
		}),
		indexDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "index_degraded", Help: "1 when the last rebuild failed and a stale index is served.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests, by route and status code.",
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queries, m.queryDuration, m.retrieved, m.groundingFailures, m.embedCache,
		m.rebuilds, m.rebuildDuration, m.indexGeneration, m.indexChunks, m.indexDegraded,
		m.httpRequests,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveQuery(outcome string, results int, d time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(d.Seconds())
	if outcome != OutcomeError {
		m.retrieved.Observe(float64(results))
	}
}

func (m *Metrics) GroundingFailed() {
	if m == nil {
		return
	}
	m.groundingFailures.Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.embedCache.WithLabelValues(result).Inc()
}

// ObserveRebuild records a finished rebuild. On failure generation and chunks are ignored.
func (m *Metrics) ObserveRebuild(ok bool, d time.Duration, generation uint64, chunks int) {
	if m == nil {
		return
	}
	m.rebuildDuration.Observe(d.Seconds())
	if !ok {
		m.rebuilds.WithLabelValues("failure").Inc()
		m.indexDegraded.Set(1)
		return
	}
	m.rebuilds.WithLabelValues("success").Inc()
	m.indexGeneration.Set(float64(generation))
	m.indexChunks.Set(float64(chunks))
	m.indexDegraded.Set(0)
}

func (m *Metrics) ObserveHTTP(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
