// Package metrics exposes the engine's prometheus instruments.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every instrument. A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	// Backend requests
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Poll loops
	PollTicksTotal *prometheus.CounterVec
	JobStatus      *prometheus.GaugeVec

	// Pivots
	PivotsTotal       *prometheus.CounterVec
	PivotNodesMerged  prometheus.Counter
	ReconcilesPending prometheus.Gauge

	// Graph
	GraphNodes       prometheus.Gauge
	GraphEdges       prometheus.Gauge
	GraphDangling    prometheus.Gauge
	GraphNodesByRisk *prometheus.GaugeVec
	SnapshotsApplied prometheus.Counter
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with all instruments registered, plus Go runtime collectors.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.initBackendMetrics()
	r.initPollerMetrics()
	r.initPivotMetrics()
	r.initGraphMetrics()
	return r
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Registry) initBackendMetrics() {
	r.RequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphx_backend_requests_total",
			Help: "Total number of backend requests",
		},
		[]string{"endpoint", "outcome"}, // ok, error
	)

	r.RequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphx_backend_request_duration_seconds",
			Help:    "Backend request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
}

func (r *Registry) initPollerMetrics() {
	r.PollTicksTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphx_poll_ticks_total",
			Help: "Total number of poll ticks per loop",
		},
		[]string{"loop", "outcome"},
	)

	r.JobStatus = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphx_job_status",
			Help: "Current job status (1 for current status, 0 otherwise)",
		},
		[]string{"status"},
	)
}

func (r *Registry) initPivotMetrics() {
	r.PivotsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphx_pivots_total",
			Help: "Total number of pivot requests",
		},
		[]string{"pivot_type", "outcome"},
	)

	r.PivotNodesMerged = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "graphx_pivot_nodes_merged_total",
			Help: "Nodes added to the graph by optimistic pivot merges",
		},
	)

	r.ReconcilesPending = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "graphx_pivot_reconciles_pending",
			Help: "Confirmatory snapshot fetches scheduled but not yet run",
		},
	)
}

func (r *Registry) initGraphMetrics() {
	r.GraphNodes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "graphx_graph_nodes",
			Help: "Nodes currently in the workspace graph",
		},
	)

	r.GraphEdges = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "graphx_graph_edges",
			Help: "Edges currently in the workspace graph",
		},
	)

	r.GraphDangling = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "graphx_graph_dangling_edges",
			Help: "Edges with a missing endpoint",
		},
	)

	r.GraphNodesByRisk = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphx_graph_nodes_by_risk",
			Help: "Nodes per risk tier",
		},
		[]string{"level"},
	)

	r.SnapshotsApplied = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "graphx_snapshots_applied_total",
			Help: "Full snapshot replacements applied",
		},
	)
}
