// Package observability holds the orchestrator's prometheus
// instrumentation. Metrics are registered against a private registry so
// embedding programs control exposure; every recording method is
// nil-safe so instrumentation stays optional.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the orchestrator counters and gauges. Construct
// once with NewMetrics and pass by reference; a nil *Metrics disables
// recording.
type Metrics struct {
	registry *prometheus.Registry

	nodesDispatched prometheus.Counter
	nodesCompleted  prometheus.Counter
	nodesFailed     prometheus.Counter
	nodesSkipped    prometheus.Counter
	nodeRetries     prometheus.Counter

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	poolAcquired prometheus.Counter
	poolInUse    prometheus.Gauge

	qualityVerdicts *prometheus.CounterVec
}

// NewMetrics creates the metric set on a fresh private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tandem", Subsystem: "scheduler",
			Name: "nodes_dispatched_total", Help: "Nodes dispatched to agents.",
		}),
		nodesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tandem", Subsystem: "scheduler",
			Name: "nodes_completed_total", Help: "Nodes finished successfully.",
		}),
		nodesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tandem", Subsystem: "scheduler",
			Name: "nodes_failed_total", Help: "Nodes that exhausted their retry budget.",
		}),
		nodesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tandem", Subsystem: "scheduler",
			Name: "nodes_skipped_total", Help: "Nodes skipped after an upstream failure.",
		}),
		nodeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tandem", Subsystem: "scheduler",
			Name: "node_retries_total", Help: "Node invocation retries.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tandem", Subsystem: "cache",
			Name: "hits_total", Help: "Result cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tandem", Subsystem: "cache",
			Name: "misses_total", Help: "Result cache misses.",
		}),
		poolAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tandem", Subsystem: "pool",
			Name: "acquired_total", Help: "Connections acquired from the pool.",
		}),
		poolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tandem", Subsystem: "pool",
			Name: "in_use", Help: "Connections currently in use.",
		}),
		qualityVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tandem", Subsystem: "quality",
			Name: "verdicts_total", Help: "Quality gate verdicts by level.",
		}, []string{"level"}),
	}

	m.registry.MustRegister(
		m.nodesDispatched, m.nodesCompleted, m.nodesFailed, m.nodesSkipped,
		m.nodeRetries, m.cacheHits, m.cacheMisses,
		m.poolAcquired, m.poolInUse, m.qualityVerdicts,
	)
	return m
}

// Registry exposes the private registry for handler wiring.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) NodeDispatched() {
	if m != nil {
		m.nodesDispatched.Inc()
	}
}

func (m *Metrics) NodeCompleted() {
	if m != nil {
		m.nodesCompleted.Inc()
	}
}

func (m *Metrics) NodeFailed() {
	if m != nil {
		m.nodesFailed.Inc()
	}
}

func (m *Metrics) NodeSkipped() {
	if m != nil {
		m.nodesSkipped.Inc()
	}
}

func (m *Metrics) NodeRetried() {
	if m != nil {
		m.nodeRetries.Inc()
	}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) PoolAcquired() {
	if m != nil {
		m.poolAcquired.Inc()
	}
}

func (m *Metrics) PoolInUse(n int) {
	if m != nil {
		m.poolInUse.Set(float64(n))
	}
}

func (m *Metrics) QualityVerdict(level string) {
	if m != nil {
		m.qualityVerdicts.WithLabelValues(level).Inc()
	}
}
