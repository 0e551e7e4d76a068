package audiograph

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/logging"
)

// AudioGraph is a directed acyclic graph of audio nodes that can be
// mutated concurrently with processing. Mutations never touch the
// published topology in place: each one builds a new snapshot and swaps
// it in atomically, so ProcessAudio works on a consistent view without
// taking a lock. One real-time thread calls ProcessAudio; any number of
// control threads may mutate, inspect, or report concurrently.
type AudioGraph struct {
	id     string
	pool   *BufferPool
	logger *slog.Logger

	current atomic.Pointer[snapshot]
	mu      sync.Mutex // serializes mutations, never held by ProcessAudio

	closed atomic.Bool

	// silence backs the input channels of nodes whose scratch blocks
	// could not be allocated. Read-only after construction.
	silence []float32

	processedBlocks    atomic.Int64
	degradedBlocks     atomic.Int64
	nodeErrors         atomic.Int64
	processNanos       atomic.Int64
	publishedSnapshots atomic.Int64
	mutationFailures   atomic.Int64
	pendingRetirement  atomic.Int64

	// High-water marks of what ReportMetrics has already pushed, so each
	// report only adds the delta since the previous one.
	reportedProcessed  atomic.Int64
	reportedDegraded   atomic.Int64
	reportedNodeErrors atomic.Int64
	reportedNanos      atomic.Int64
}

// NewAudioGraph creates an empty graph. When config.Pool is nil a pool
// with the default provisioning is created and owned by the graph.
func NewAudioGraph(config GraphConfig) (*AudioGraph, error) {
	if config.ID == "" {
		config.ID = "default"
	}
	pool := config.Pool
	if pool == nil {
		pc := DefaultBufferPoolConfig()
		pc.ID = config.ID
		var err error
		pool, err = NewBufferPool(pc)
		if err != nil {
			return nil, err
		}
	}

	logger := logging.ForService("audiograph")
	if logger == nil {
		logger = slog.Default()
	}

	g := &AudioGraph{
		id:      config.ID,
		pool:    pool,
		logger:  logger.With("graph_id", config.ID),
		silence: make([]float32, pool.MaxBlockSize()),
	}
	g.current.Store(newSnapshot(nil, nil))

	g.logger.Info("audio graph created",
		"pool_id", pool.ID(),
		"max_block_size", pool.MaxBlockSize())
	return g, nil
}

// ID returns the graph's identifier.
func (g *AudioGraph) ID() string {
	return g.id
}

// Pool returns the scratch pool the graph processes with.
func (g *AudioGraph) Pool() *BufferPool {
	return g.pool
}

// acquire pins the currently published snapshot. The retain-then-revalidate
// loop closes the window where a snapshot is loaded just as the publisher
// swaps it out and drops the last reference: if the pointer moved after the
// retain, the retain may have resurrected a dead snapshot, so it is
// released again and the load retries.
func (g *AudioGraph) acquire() *snapshot {
	for {
		s := g.current.Load()
		if s == nil {
			return nil
		}
		s.retain()
		if g.current.Load() == s {
			return s
		}
		s.release()
	}
}

// publish installs next as the current snapshot and releases the graph's
// reference to the previous one. Caller holds g.mu.
func (g *AudioGraph) publish(next *snapshot, mutation string) {
	old := g.current.Swap(next)
	g.publishedSnapshots.Add(1)
	getCollector().recordSnapshotPublished(g.id, mutation)
	if old != nil {
		old.release()
	}
}

// failMutation records a rejected mutation. The sentinel classifies the
// failure for log consumers; the mutation itself still just returns false.
func (g *AudioGraph) failMutation(mutation, reason string, sentinel error, attrs ...any) bool {
	g.mutationFailures.Add(1)
	getCollector().recordMutationFailure(g.id, mutation, reason)
	args := append([]any{"mutation", mutation, "reason", reason, "error", sentinel}, attrs...)
	g.logger.Warn("graph mutation rejected", args...)
	return false
}

// AddNode adds a prepared node to the graph. The node must be in the
// Ready state and its id must be unused. Returns false on rejection; the
// graph is unchanged in that case.
func (g *AudioGraph) AddNode(n *Node) bool {
	if n == nil {
		return g.failMutation("add_node", "nil-node", ErrNodeNotFound)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.current.Load()
	if cur == nil {
		return g.failMutation("add_node", "graph-closed", ErrGraphClosed, "node_id", n.id)
	}
	if n.State() != StateReady {
		return g.failMutation("add_node", "node-not-ready", ErrNodeNotReady,
			"node_id", n.id, "state", n.State().String())
	}
	if _, exists := cur.nodes[n.id]; exists {
		return g.failMutation("add_node", "duplicate-id", ErrNodeExists, "node_id", n.id)
	}

	n.setState(StateActive)
	g.publish(cur.withNode(n), "add_node")
	getCollector().recordNodeAdded(g.id, n.kind)

	g.logger.Info("node added",
		"node_id", n.id,
		"kind", n.kind.String(),
		"channels", n.channels)
	return true
}

// Connect adds a directed edge between two existing nodes. Self-loops,
// duplicate edges, and edges that would close a cycle are rejected.
func (g *AudioGraph) Connect(fromID, toID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.current.Load()
	if cur == nil {
		return g.failMutation("connect", "graph-closed", ErrGraphClosed)
	}
	if fromID == toID {
		return g.failMutation("connect", "self-loop", ErrCycleDetected, "node_id", fromID)
	}
	if _, ok := cur.nodes[fromID]; !ok {
		return g.failMutation("connect", "node-not-found", ErrNodeNotFound, "node_id", fromID)
	}
	if _, ok := cur.nodes[toID]; !ok {
		return g.failMutation("connect", "node-not-found", ErrNodeNotFound, "node_id", toID)
	}
	c := Connection{From: fromID, To: toID}
	if _, ok := cur.edges[c]; ok {
		return g.failMutation("connect", "duplicate-edge", ErrDuplicateEdge, "from", fromID, "to", toID)
	}
	if cur.hasPath(toID, fromID) {
		return g.failMutation("connect", "cycle", ErrCycleDetected, "from", fromID, "to", toID)
	}

	g.publish(cur.withEdge(c), "connect")
	getCollector().recordEdgeConnected(g.id)

	g.logger.Info("nodes connected", "from", fromID, "to", toID)
	return true
}

// RemoveNodeAsync removes a node and its edges from the published
// topology. The returned channel resolves true only after the node has
// actually been destroyed, which may be after an in-flight ProcessAudio
// call finishes with the old snapshot. It resolves false immediately if
// the node does not exist or the graph is closed.
func (g *AudioGraph) RemoveNodeAsync(id string) <-chan bool {
	done := make(chan bool, 1)

	g.mu.Lock()
	cur := g.current.Load()
	if cur == nil {
		g.mu.Unlock()
		g.failMutation("remove_node", "graph-closed", ErrGraphClosed, "node_id", id)
		done <- false
		return done
	}
	n, ok := cur.nodes[id]
	if !ok {
		g.mu.Unlock()
		g.failMutation("remove_node", "node-not-found", ErrNodeNotFound, "node_id", id)
		done <- false
		return done
	}

	n.setState(StatePendingRetirement)
	g.pendingRetirement.Add(1)
	g.publish(cur.withoutNode(id), "remove_node")
	getCollector().recordNodeRemoved(g.id, n.kind)
	g.mu.Unlock()

	g.logger.Info("node retiring", "node_id", id, "kind", n.kind.String())

	go func() {
		<-n.Done()
		g.pendingRetirement.Add(-1)
		g.logger.Debug("node destroyed", "node_id", id)
		done <- true
	}()
	return done
}

// RemoveNode removes a node and blocks until it has been destroyed.
func (g *AudioGraph) RemoveNode(id string) bool {
	return <-g.RemoveNodeAsync(id)
}

// HasNode reports whether the published topology contains the node.
func (g *AudioGraph) HasNode(id string) bool {
	s := g.acquire()
	if s == nil {
		return false
	}
	defer s.release()
	_, ok := s.nodes[id]
	return ok
}

// NodeCount returns the number of nodes in the published topology.
func (g *AudioGraph) NodeCount() int {
	s := g.acquire()
	if s == nil {
		return 0
	}
	defer s.release()
	return len(s.nodes)
}

// NodeIDs returns the ids of all published nodes in insertion order.
func (g *AudioGraph) NodeIDs() []string {
	s := g.acquire()
	if s == nil {
		return nil
	}
	defer s.release()
	ids := make([]string, len(s.nodeSeq))
	for i, n := range s.nodeSeq {
		ids[i] = n.id
	}
	return ids
}

// EdgeCount returns the number of edges in the published topology.
func (g *AudioGraph) EdgeCount() int {
	s := g.acquire()
	if s == nil {
		return 0
	}
	defer s.release()
	return len(s.edges)
}

// ValidateIntegrity re-verifies the structural invariants of the
// published snapshot: every edge endpoint resolves, and the topological
// order is complete and consistent with the edge set.
func (g *AudioGraph) ValidateIntegrity() bool {
	s := g.acquire()
	if s == nil {
		return false
	}
	defer s.release()
	return s.validate()
}

// ProcessAudio renders one block. The real-time thread calls this with
// one slice per external input channel and one per external output
// channel, each at least numSamples long. It never blocks on mutations:
// the snapshot pinned at entry stays valid for the whole call even if
// control threads replace the topology meanwhile.
//
// Returns true when every node processed cleanly. A panicking callback
// or an exhausted pool degrades the block: the affected node's output is
// silence, the rest of the graph still renders, and the call returns
// false.
func (g *AudioGraph) ProcessAudio(inputs, outputs [][]float32, numSamples int) bool {
	if numSamples <= 0 {
		return true
	}

	s := g.acquire()
	if s == nil {
		zeroChannels(outputs, numSamples)
		return false
	}
	defer s.release()

	start := time.Now()

	zeroChannels(outputs, numSamples)

	if numSamples > g.pool.MaxBlockSize() {
		g.degradedBlocks.Add(1)
		g.processedBlocks.Add(1)
		g.processNanos.Add(time.Since(start).Nanoseconds())
		return false
	}

	degraded := false
	for _, slot := range s.order {
		n := slot.node

		// Gather predecessor channels in connection order.
		slot.ins = slot.ins[:0]
		for _, pi := range slot.preds {
			p := s.order[pi]
			for c := range p.outData {
				slot.ins = append(slot.ins, p.outData[c][:numSamples])
			}
		}

		if !g.allocateOutputs(slot, numSamples) {
			// Successors read silence for this node's channels.
			degraded = true
			g.nodeErrors.Add(1)
			for c := range slot.outData {
				slot.outData[c] = g.silence
			}
			continue
		}

		switch n.kind {
		case NodeKindInput:
			for c := 0; c < n.channels; c++ {
				ext := slot.extOffset + c
				if ext < len(inputs) {
					copy(slot.outData[c][:numSamples], inputs[ext])
				}
			}
		case NodeKindProcessor:
			if !g.runCallback(slot, numSamples) {
				degraded = true
				g.nodeErrors.Add(1)
				for c := range slot.outData {
					clearSamples(slot.outData[c][:numSamples])
				}
			}
		case NodeKindOutput:
			for c := 0; c < n.channels; c++ {
				if c < len(slot.ins) {
					copy(slot.outData[c][:numSamples], slot.ins[c])
				}
				ext := slot.extOffset + c
				if ext < len(outputs) {
					// Bounded by the source, so an undersized external
					// slice gets a partial write instead of a panic.
					copy(outputs[ext], slot.outData[c][:numSamples])
				}
			}
		}
	}

	// Return every scratch block and drop the slice views so a later
	// snapshot release never sees stale pool pointers.
	for _, slot := range s.order {
		for c := range slot.outs {
			if slot.outs[c] != nil {
				g.pool.Put(slot.outs[c])
				slot.outs[c] = nil
			}
			slot.outData[c] = nil
		}
		slot.ins = slot.ins[:0]
	}

	g.processedBlocks.Add(1)
	if degraded {
		g.degradedBlocks.Add(1)
	}
	g.processNanos.Add(time.Since(start).Nanoseconds())
	return !degraded
}

// allocateOutputs fills the slot's scratch blocks from the pool, zeroed.
// On exhaustion it returns any partial allocation and reports failure.
func (g *AudioGraph) allocateOutputs(slot *nodeSlot, numSamples int) bool {
	for c := 0; c < slot.node.channels; c++ {
		b := g.pool.Get(numSamples)
		if b == nil {
			for i := 0; i < c; i++ {
				g.pool.Put(slot.outs[i])
				slot.outs[i] = nil
				slot.outData[i] = nil
			}
			return false
		}
		slot.outs[c] = b
		data := b.Data[:numSamples]
		clearSamples(data)
		slot.outData[c] = data
	}
	return true
}

// runCallback invokes the node's processing callback with panic
// isolation. A panic is contained to this node; the caller silences its
// output and keeps rendering the rest of the graph.
func (g *AudioGraph) runCallback(slot *nodeSlot, numSamples int) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			g.logger.Error("processing callback panicked",
				"node_id", slot.node.id,
				"panic", r)
		}
	}()
	slot.node.process(slot.ins, slot.outData, numSamples)
	return true
}

// Stats returns a point-in-time view of graph activity.
func (g *AudioGraph) Stats() GraphStats {
	stats := GraphStats{
		ProcessedBlocks:    g.processedBlocks.Load(),
		DegradedBlocks:     g.degradedBlocks.Load(),
		NodeErrors:         g.nodeErrors.Load(),
		PublishedSnapshots: g.publishedSnapshots.Load(),
	}
	if s := g.acquire(); s != nil {
		stats.NodeCount = len(s.nodes)
		stats.EdgeCount = len(s.edges)
		s.release()
	}
	return stats
}

// ReportMetrics pushes the accumulated graph and pool counters into the
// metrics collector. ProcessAudio only bumps its own atomics; this is
// where those land in Prometheus. Call it from a control thread, never
// from the real-time thread.
func (g *AudioGraph) ReportMetrics() {
	ok, degraded, nodeErrs, seconds := g.takeProcessDeltas()
	getCollector().reportProcessCounters(g.id, ok, degraded, nodeErrs, seconds)
	getCollector().reportGraphStats(g.id, g.Stats(), int(g.pendingRetirement.Load()))
	g.pool.ReportMetrics()
}

// takeProcessDeltas returns the processing counters accumulated since
// the previous call and advances the reported marks.
func (g *AudioGraph) takeProcessDeltas() (ok, degraded, nodeErrs int64, seconds float64) {
	processed := counterDelta(&g.processedBlocks, &g.reportedProcessed)
	degraded = counterDelta(&g.degradedBlocks, &g.reportedDegraded)
	nodeErrs = counterDelta(&g.nodeErrors, &g.reportedNodeErrors)
	nanos := counterDelta(&g.processNanos, &g.reportedNanos)
	return processed - degraded, degraded, nodeErrs, float64(nanos) / float64(time.Second)
}

func counterDelta(total, reported *atomic.Int64) int64 {
	v := total.Load()
	return v - reported.Swap(v)
}

// Close retires the graph. The published snapshot is withdrawn and its
// node references dropped; nodes pinned by an in-flight ProcessAudio call
// are destroyed when that call finishes. Mutations and processing after
// Close are rejected. Close is idempotent.
func (g *AudioGraph) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}

	g.mu.Lock()
	old := g.current.Swap(nil)
	g.mu.Unlock()

	if old != nil {
		for _, n := range old.nodeSeq {
			n.setState(StatePendingRetirement)
		}
		old.release()
	}

	g.logger.Info("audio graph closed",
		"processed_blocks", g.processedBlocks.Load(),
		"degraded_blocks", g.degradedBlocks.Load())
	return nil
}

func zeroChannels(channels [][]float32, numSamples int) {
	for _, ch := range channels {
		n := numSamples
		if n > len(ch) {
			n = len(ch)
		}
		clearSamples(ch[:n])
	}
}

func clearSamples(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
