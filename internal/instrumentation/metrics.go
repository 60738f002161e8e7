// Package instrumentation exposes Prometheus metrics for the memory server:
// cache hit/miss/eviction counters, tool call outcomes, and latencies.
package instrumentation

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. It implements the cache
// manager's MetricsRecorder interface.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions *prometheus.CounterVec

	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
}

// New builds the metric set on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcp_memory",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Memory cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcp_memory",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Memory cache misses.",
		}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp_memory",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Memory cache evictions by reason.",
		}, []string{"reason"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp_memory",
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool invocations by tool name and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcp_memory",
			Subsystem: "tools",
			Name:      "call_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}

	m.registry.MustRegister(
		m.cacheHits,
		m.cacheMisses,
		m.cacheEvictions,
		m.toolCalls,
		m.toolDuration,
	)
	return m
}

// RecordHit implements cache.MetricsRecorder.
func (m *Metrics) RecordHit(context.Context) { m.cacheHits.Inc() }

// RecordMiss implements cache.MetricsRecorder.
func (m *Metrics) RecordMiss(context.Context) { m.cacheMisses.Inc() }

// RecordEviction implements cache.MetricsRecorder.
func (m *Metrics) RecordEviction(_ context.Context, reason string) {
	m.cacheEvictions.WithLabelValues(reason).Inc()
}

// RegisterPendingJobs exposes the async pipeline depth as a gauge sampled at
// scrape time.
func (m *Metrics) RegisterPendingJobs(fn func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "mcp_memory",
		Subsystem: "jobs",
		Name:      "pending",
		Help:      "Async write jobs awaiting completion.",
	}, func() float64 { return float64(fn()) }))
}

// RecordToolCall records one tool invocation outcome and its latency.
func (m *Metrics) RecordToolCall(tool string, err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
