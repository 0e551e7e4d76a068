// Package metrics provides audiograph metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AudioGraphMetrics contains Prometheus metrics for graph and pool operations
type AudioGraphMetrics struct {
	registry *prometheus.Registry

	// Graph mutation metrics
	snapshotsPublished *prometheus.CounterVec
	nodesAdded         *prometheus.CounterVec
	nodesRemoved       *prometheus.CounterVec
	nodesRetired       *prometheus.GaugeVec
	edgesConnected     *prometheus.CounterVec
	mutationFailures   *prometheus.CounterVec

	// Real-time processing metrics, pushed periodically as deltas
	processCalls   *prometheus.CounterVec
	processSeconds *prometheus.CounterVec
	nodeErrors     *prometheus.CounterVec
	degradedBlocks *prometheus.CounterVec
	activeNodes    *prometheus.GaugeVec

	// Buffer pool metrics
	poolAllocations *prometheus.CounterVec
	poolFallbacks   *prometheus.CounterVec
	poolInUse       *prometheus.GaugeVec
	poolCorruption  *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewAudioGraphMetrics creates and registers new audiograph metrics
func NewAudioGraphMetrics(registry *prometheus.Registry) (*AudioGraphMetrics, error) {
	m := &AudioGraphMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *AudioGraphMetrics) initMetrics() {
	m.snapshotsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiograph_snapshots_published_total",
			Help: "Total number of graph snapshots published",
		},
		[]string{"graph_id", "mutation"},
	)

	m.nodesAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiograph_nodes_added_total",
			Help: "Total number of nodes added to the graph",
		},
		[]string{"graph_id", "node_kind"},
	)

	m.nodesRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiograph_nodes_removed_total",
			Help: "Total number of nodes removed from the graph",
		},
		[]string{"graph_id", "node_kind"},
	)

	m.nodesRetired = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audiograph_nodes_pending_retirement",
			Help: "Nodes removed from the current snapshot but still referenced by older ones",
		},
		[]string{"graph_id"},
	)

	m.edgesConnected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiograph_edges_connected_total",
			Help: "Total number of node connections made",
		},
		[]string{"graph_id"},
	)

	m.mutationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiograph_mutation_failures_total",
			Help: "Total number of rejected graph mutations",
		},
		[]string{"graph_id", "mutation", "reason"},
	)

	m.processCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiograph_process_calls_total",
			Help: "Total number of audio block process calls",
		},
		[]string{"graph_id", "status"},
	)

	m.processSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiograph_process_seconds_total",
			Help: "Total time spent processing audio blocks",
		},
		[]string{"graph_id"},
	)

	m.nodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiograph_node_errors_total",
			Help: "Total number of isolated node callback failures",
		},
		[]string{"graph_id"},
	)

	m.degradedBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiograph_degraded_blocks_total",
			Help: "Audio blocks delivered with at least one zeroed node contribution",
		},
		[]string{"graph_id"},
	)

	m.activeNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audiograph_active_nodes",
			Help: "Number of nodes in the current snapshot",
		},
		[]string{"graph_id"},
	)

	m.poolAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiograph_pool_allocations_total",
			Help: "Total number of buffer pool allocations",
		},
		[]string{"pool_id", "size_class", "allocation_type"}, // pooled, fallback
	)

	m.poolFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiograph_pool_fallback_allocations_total",
			Help: "Allocations served by the general allocator because a size class was exhausted",
		},
		[]string{"pool_id", "size_class"},
	)

	m.poolInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audiograph_pool_blocks_in_use",
			Help: "Number of pool blocks currently allocated",
		},
		[]string{"pool_id"},
	)

	m.poolCorruption = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiograph_pool_corruption_events_total",
			Help: "Double-free or foreign-pointer events observed by the pool",
		},
		[]string{"pool_id", "event"},
	)

	m.collectors = []prometheus.Collector{
		m.snapshotsPublished,
		m.nodesAdded,
		m.nodesRemoved,
		m.nodesRetired,
		m.edgesConnected,
		m.mutationFailures,
		m.processCalls,
		m.processSeconds,
		m.nodeErrors,
		m.degradedBlocks,
		m.activeNodes,
		m.poolAllocations,
		m.poolFallbacks,
		m.poolInUse,
		m.poolCorruption,
	}
}

// Describe implements the prometheus.Collector interface
func (m *AudioGraphMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface
func (m *AudioGraphMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Graph mutation methods

func (m *AudioGraphMetrics) RecordSnapshotPublished(graphID, mutation string) {
	m.snapshotsPublished.WithLabelValues(graphID, mutation).Inc()
}

func (m *AudioGraphMetrics) RecordNodeAdded(graphID, nodeKind string) {
	m.nodesAdded.WithLabelValues(graphID, nodeKind).Inc()
}

func (m *AudioGraphMetrics) RecordNodeRemoved(graphID, nodeKind string) {
	m.nodesRemoved.WithLabelValues(graphID, nodeKind).Inc()
}

func (m *AudioGraphMetrics) UpdateNodesPendingRetirement(graphID string, count int) {
	m.nodesRetired.WithLabelValues(graphID).Set(float64(count))
}

func (m *AudioGraphMetrics) RecordEdgeConnected(graphID string) {
	m.edgesConnected.WithLabelValues(graphID).Inc()
}

func (m *AudioGraphMetrics) RecordMutationFailure(graphID, mutation, reason string) {
	m.mutationFailures.WithLabelValues(graphID, mutation, reason).Inc()
}

// Processing methods. These take deltas rather than single increments
// because the real-time path accumulates into its own atomics and a
// control thread pushes the totals periodically.

func (m *AudioGraphMetrics) AddProcessCalls(graphID, status string, n float64) {
	m.processCalls.WithLabelValues(graphID, status).Add(n)
}

func (m *AudioGraphMetrics) AddProcessSeconds(graphID string, seconds float64) {
	m.processSeconds.WithLabelValues(graphID).Add(seconds)
}

func (m *AudioGraphMetrics) AddNodeErrors(graphID string, n float64) {
	m.nodeErrors.WithLabelValues(graphID).Add(n)
}

func (m *AudioGraphMetrics) AddDegradedBlocks(graphID string, n float64) {
	m.degradedBlocks.WithLabelValues(graphID).Add(n)
}

func (m *AudioGraphMetrics) UpdateActiveNodes(graphID string, count int) {
	m.activeNodes.WithLabelValues(graphID).Set(float64(count))
}

// Buffer pool methods

func (m *AudioGraphMetrics) RecordPoolAllocation(poolID, sizeClass, allocationType string) {
	m.poolAllocations.WithLabelValues(poolID, sizeClass, allocationType).Inc()
}

func (m *AudioGraphMetrics) RecordPoolFallback(poolID, sizeClass string) {
	m.poolFallbacks.WithLabelValues(poolID, sizeClass).Inc()
}

func (m *AudioGraphMetrics) UpdatePoolInUse(poolID string, count int) {
	m.poolInUse.WithLabelValues(poolID).Set(float64(count))
}

func (m *AudioGraphMetrics) RecordPoolCorruption(poolID, event string) {
	m.poolCorruption.WithLabelValues(poolID, event).Inc()
}
