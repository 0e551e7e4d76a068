package audiograph

// ProcessFunc is the opaque processing callback installed on Processor
// nodes. It receives one read-only slice per input channel and must fill
// one slice per output channel. Slices are valid only for the duration of
// the call; callbacks must not retain them. Callbacks are treated as
// untrusted: a panic is isolated at the node boundary.
type ProcessFunc func(inputs [][]float32, outputs [][]float32, numSamples int)

// NodeKind identifies what role a node plays in the graph.
type NodeKind int32

const (
	NodeKindInput NodeKind = iota
	NodeKindOutput
	NodeKindProcessor
)

// String returns the string representation of the node kind
func (k NodeKind) String() string {
	switch k {
	case NodeKindInput:
		return "input"
	case NodeKindOutput:
		return "output"
	case NodeKindProcessor:
		return "processor"
	default:
		return "unknown"
	}
}

// NodeState tracks a node through its lifecycle. Transitions:
// Created -> Ready (Prepare succeeds) -> Active (added to a published
// snapshot) -> PendingRetirement (removed from the newest snapshot but
// still referenced by an older one) -> Destroyed.
type NodeState int32

const (
	StateCreated NodeState = iota
	StateReady
	StateActive
	StatePendingRetirement
	StateDestroyed
)

// String returns the string representation of the node state
func (s NodeState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StatePendingRetirement:
		return "pending-retirement"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Connection is a directed edge between two nodes. The full edge set of any
// published snapshot is a DAG; cycles and self-loops are rejected at
// connection time.
type Connection struct {
	From string
	To   string
}

// BufferPoolConfig configures the pool's size classes and provisioning.
type BufferPoolConfig struct {
	ID             string // label used in logs and metrics
	ClassSizes     []int  // ascending block sizes in samples
	BlocksPerClass int    // blocks preallocated per size class
}

// DefaultBufferPoolConfig returns the provisioning used when no explicit
// configuration is given.
func DefaultBufferPoolConfig() BufferPoolConfig {
	return BufferPoolConfig{
		ID:             "default",
		ClassSizes:     []int{64, 256, 1024, 4096},
		BlocksPerClass: 32,
	}
}

// BufferPoolStats contains counters describing pool usage.
type BufferPoolStats struct {
	TotalAllocations    int64
	TotalDeallocations  int64
	CurrentAllocations  int64
	PeakMemoryUsage     int64 // bytes
	FallbackAllocations int64
	CorruptionEvents    int64
}

// GraphConfig configures an AudioGraph.
type GraphConfig struct {
	ID   string      // label used in logs and metrics
	Pool *BufferPool // scratch pool; a default pool is created when nil
}

// GraphStats contains counters describing graph activity.
type GraphStats struct {
	NodeCount          int
	EdgeCount          int
	ProcessedBlocks    int64
	DegradedBlocks     int64
	NodeErrors         int64
	PublishedSnapshots int64
}
