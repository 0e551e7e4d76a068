package audiograph

import (
	"sync"
	"sync/atomic"
)

// nodeSlot is one entry in a snapshot's topological order. Everything but
// the scratch fields is fixed when the snapshot is built. The scratch
// fields (outs, outData, ins) are written only by the single real-time
// thread while it holds the snapshot for one block, so they need no
// locking despite living in a shared structure.
type nodeSlot struct {
	node  *Node
	preds []int // indexes into order, in connection order

	outs    []*Block    // per-channel pool blocks, held for one ProcessAudio call
	outData [][]float32 // per-channel views of outs, sliced to the block length
	ins     [][]float32 // gathered predecessor channel views

	extOffset int // first external channel (Input and Output nodes)
}

// snapshot is an immutable view of the graph at one point in time: the
// node table, the connection set, and a precomputed topological order.
// Snapshots are reference counted; the graph holds one reference for the
// currently published snapshot and every reader pins one for the duration
// of its use. When the last reference is released the snapshot releases
// its node references, which destroys any node no newer snapshot kept.
type snapshot struct {
	nodes   map[string]*Node
	nodeSeq []*Node // insertion order, drives deterministic layout
	edges   map[Connection]struct{}
	edgeSeq []Connection // insertion order, drives gather order
	order   []*nodeSlot  // topological order
	pos     map[string]int

	refs        atomic.Int64
	destroyOnce sync.Once
}

// newSnapshot builds a snapshot from a node sequence and edge sequence.
// The caller guarantees the edge set is acyclic. Every contained node is
// retained; the returned snapshot starts with one reference for its
// holder.
func newSnapshot(nodeSeq []*Node, edgeSeq []Connection) *snapshot {
	s := &snapshot{
		nodes:   make(map[string]*Node, len(nodeSeq)),
		nodeSeq: nodeSeq,
		edges:   make(map[Connection]struct{}, len(edgeSeq)),
		edgeSeq: edgeSeq,
		pos:     make(map[string]int, len(nodeSeq)),
	}
	for _, n := range nodeSeq {
		s.nodes[n.id] = n
		n.retain()
	}
	for _, e := range edgeSeq {
		s.edges[e] = struct{}{}
	}

	s.computeOrder()
	s.buildSlots()
	s.refs.Store(1)
	return s
}

// computeOrder runs Kahn's algorithm seeded in insertion order so the
// resulting order is deterministic for a given mutation history.
func (s *snapshot) computeOrder() {
	indegree := make(map[string]int, len(s.nodeSeq))
	for _, n := range s.nodeSeq {
		indegree[n.id] = 0
	}
	for _, e := range s.edgeSeq {
		indegree[e.To]++
	}

	queue := make([]*Node, 0, len(s.nodeSeq))
	for _, n := range s.nodeSeq {
		if indegree[n.id] == 0 {
			queue = append(queue, n)
		}
	}

	ordered := make([]*Node, 0, len(s.nodeSeq))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		ordered = append(ordered, n)
		for _, e := range s.edgeSeq {
			if e.From != n.id {
				continue
			}
			indegree[e.To]--
			if indegree[e.To] == 0 {
				queue = append(queue, s.nodes[e.To])
			}
		}
	}

	s.order = make([]*nodeSlot, len(ordered))
	for i, n := range ordered {
		s.order[i] = &nodeSlot{node: n}
		s.pos[n.id] = i
	}
}

// buildSlots precomputes predecessor lists, external channel offsets, and
// the per-slot scratch so ProcessAudio allocates nothing itself.
func (s *snapshot) buildSlots() {
	for _, slot := range s.order {
		id := slot.node.id
		totalPredChannels := 0
		for _, e := range s.edgeSeq {
			if e.To != id {
				continue
			}
			from, ok := s.pos[e.From]
			if !ok {
				continue
			}
			slot.preds = append(slot.preds, from)
			totalPredChannels += s.order[from].node.channels
		}
		slot.outs = make([]*Block, slot.node.channels)
		slot.outData = make([][]float32, slot.node.channels)
		slot.ins = make([][]float32, 0, totalPredChannels)
	}

	// External channel layout: input and output nodes claim consecutive
	// external channels in node insertion order.
	inOffset, outOffset := 0, 0
	for _, n := range s.nodeSeq {
		slot := s.order[s.pos[n.id]]
		switch n.kind {
		case NodeKindInput:
			slot.extOffset = inOffset
			inOffset += n.channels
		case NodeKindOutput:
			slot.extOffset = outOffset
			outOffset += n.channels
		}
	}
}

// hasPath reports whether to is reachable from from following the edge
// set. Used for cycle rejection before a candidate edge is admitted.
func (s *snapshot) hasPath(from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]bool, len(s.nodes))
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, e := range s.edgeSeq {
			if e.From != id {
				continue
			}
			if e.To == to {
				return true
			}
			stack = append(stack, e.To)
		}
	}
	return false
}

// validate re-verifies the snapshot's structural invariants: every edge
// endpoint resolves to a live node, the topological order covers every
// node, and the stored order is consistent with the edge set.
func (s *snapshot) validate() bool {
	if len(s.order) != len(s.nodes) {
		return false
	}
	for _, e := range s.edgeSeq {
		fromPos, okFrom := s.pos[e.From]
		toPos, okTo := s.pos[e.To]
		if !okFrom || !okTo {
			return false
		}
		if _, ok := s.nodes[e.From]; !ok {
			return false
		}
		if _, ok := s.nodes[e.To]; !ok {
			return false
		}
		if fromPos >= toPos {
			return false
		}
	}
	return true
}

// withNode returns a new snapshot containing n.
func (s *snapshot) withNode(n *Node) *snapshot {
	nodeSeq := make([]*Node, 0, len(s.nodeSeq)+1)
	nodeSeq = append(nodeSeq, s.nodeSeq...)
	nodeSeq = append(nodeSeq, n)
	return newSnapshot(nodeSeq, s.edgeSeq)
}

// withoutNode returns a new snapshot without the node and without any edge
// touching it.
func (s *snapshot) withoutNode(id string) *snapshot {
	nodeSeq := make([]*Node, 0, len(s.nodeSeq)-1)
	for _, n := range s.nodeSeq {
		if n.id != id {
			nodeSeq = append(nodeSeq, n)
		}
	}
	edgeSeq := make([]Connection, 0, len(s.edgeSeq))
	for _, e := range s.edgeSeq {
		if e.From != id && e.To != id {
			edgeSeq = append(edgeSeq, e)
		}
	}
	return newSnapshot(nodeSeq, edgeSeq)
}

// withEdge returns a new snapshot with the edge added and a freshly
// computed topological order.
func (s *snapshot) withEdge(c Connection) *snapshot {
	edgeSeq := make([]Connection, 0, len(s.edgeSeq)+1)
	edgeSeq = append(edgeSeq, s.edgeSeq...)
	edgeSeq = append(edgeSeq, c)
	return newSnapshot(s.nodeSeq, edgeSeq)
}

// retain pins the snapshot.
func (s *snapshot) retain() {
	s.refs.Add(1)
}

// release unpins the snapshot. The last release destroys it: node
// references are dropped, destroying any node no newer snapshot holds.
// The Once guards against the transient resurrect-and-release that the
// reader's acquire loop can produce on an already-retired snapshot.
func (s *snapshot) release() {
	if s.refs.Add(-1) == 0 {
		s.destroyOnce.Do(func() {
			for _, n := range s.nodeSeq {
				n.release()
			}
		})
	}
}
