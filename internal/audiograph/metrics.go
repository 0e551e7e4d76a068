package audiograph

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/logging"
	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/observability/metrics"
)

// Collector bridges audiograph components to the Prometheus metrics
// package. A no-op collector is used until InitMetrics is called, so the
// core never has to nil-check metrics.
type Collector struct {
	metrics *metrics.AudioGraphMetrics
	enabled bool
}

var (
	globalCollector     atomic.Pointer[Collector]
	globalCollectorOnce sync.Once
	metricsLogger       *slog.Logger
)

// InitMetrics initializes the global metrics collector.
func InitMetrics(instance *metrics.AudioGraphMetrics) {
	globalCollectorOnce.Do(func() {
		metricsLogger = logging.ForService("audiograph")
		if metricsLogger == nil {
			metricsLogger = slog.Default()
		}
		metricsLogger = metricsLogger.With("component", "metrics")

		c := &Collector{
			metrics: instance,
			enabled: instance != nil,
		}
		globalCollector.Store(c)

		if instance != nil {
			metricsLogger.Info("metrics collector initialized")
		} else {
			metricsLogger.Debug("metrics collector disabled")
		}
	})
}

// getCollector returns the global collector, or a no-op one.
func getCollector() *Collector {
	c := globalCollector.Load()
	if c == nil {
		return &Collector{enabled: false}
	}
	return c
}

// Control-path graph events. These record directly since mutations are not
// time-critical.

func (c *Collector) recordSnapshotPublished(graphID, mutation string) {
	if !c.enabled {
		return
	}
	c.metrics.RecordSnapshotPublished(graphID, mutation)
}

func (c *Collector) recordNodeAdded(graphID string, kind NodeKind) {
	if !c.enabled {
		return
	}
	c.metrics.RecordNodeAdded(graphID, kind.String())
}

func (c *Collector) recordNodeRemoved(graphID string, kind NodeKind) {
	if !c.enabled {
		return
	}
	c.metrics.RecordNodeRemoved(graphID, kind.String())
}

func (c *Collector) recordEdgeConnected(graphID string) {
	if !c.enabled {
		return
	}
	c.metrics.RecordEdgeConnected(graphID)
}

func (c *Collector) recordMutationFailure(graphID, mutation, reason string) {
	if !c.enabled {
		return
	}
	c.metrics.RecordMutationFailure(graphID, mutation, reason)
}

func (c *Collector) recordPoolCorruption(poolID, event string) {
	if !c.enabled {
		return
	}
	c.metrics.RecordPoolCorruption(poolID, event)
}

// Periodic reporting. The real-time path only bumps its own atomics; these
// methods push the accumulated values into Prometheus from a control
// thread.

func (c *Collector) reportPoolStats(poolID string, stats BufferPoolStats) {
	if !c.enabled {
		return
	}
	c.metrics.UpdatePoolInUse(poolID, int(stats.CurrentAllocations))
}

func (c *Collector) reportGraphStats(graphID string, stats GraphStats, pendingRetirement int) {
	if !c.enabled {
		return
	}
	c.metrics.UpdateActiveNodes(graphID, stats.NodeCount)
	c.metrics.UpdateNodesPendingRetirement(graphID, pendingRetirement)
}

// recordPoolFallback runs on the pool's slow path, which is already not
// real-time-safe, so recording it directly is fine.
func (c *Collector) recordPoolFallback(poolID string, classSize int) {
	if !c.enabled {
		return
	}
	label := strconv.Itoa(classSize)
	c.metrics.RecordPoolAllocation(poolID, label, "fallback")
	c.metrics.RecordPoolFallback(poolID, label)
}

// reportProcessCounters pushes the processing deltas the real-time
// thread accumulated since the previous report.
func (c *Collector) reportProcessCounters(graphID string, ok, degraded, nodeErrs int64, seconds float64) {
	if !c.enabled {
		return
	}
	if ok > 0 {
		c.metrics.AddProcessCalls(graphID, "ok", float64(ok))
	}
	if degraded > 0 {
		c.metrics.AddProcessCalls(graphID, "degraded", float64(degraded))
		c.metrics.AddDegradedBlocks(graphID, float64(degraded))
	}
	if nodeErrs > 0 {
		c.metrics.AddNodeErrors(graphID, float64(nodeErrs))
	}
	if seconds > 0 {
		c.metrics.AddProcessSeconds(graphID, seconds)
	}
}
