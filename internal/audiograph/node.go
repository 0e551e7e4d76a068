package audiograph

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/errors"
)

// Node is a single unit of work in the graph: an Input feeding external
// audio in, an Output delivering audio out, or a Processor wrapping an
// opaque callback. Format parameters are fixed at construction. Once added
// to a graph the node is owned by the graph's snapshots and must not be
// mutated from outside.
type Node struct {
	id         string
	kind       NodeKind
	channels   int
	blockSize  int
	sampleRate int
	process    ProcessFunc

	state atomic.Int32
	refs  atomic.Int32

	destroyOnce sync.Once
	done        chan struct{}
}

func newNode(id string, kind NodeKind, channels, blockSize, sampleRate int, process ProcessFunc) *Node {
	if id == "" {
		id = uuid.New().String()
	}
	return &Node{
		id:         id,
		kind:       kind,
		channels:   channels,
		blockSize:  blockSize,
		sampleRate: sampleRate,
		process:    process,
		done:       make(chan struct{}),
	}
}

// NewInputNode creates a node that feeds external input channels into the
// graph.
func NewInputNode(id string, channels, blockSize, sampleRate int) *Node {
	return newNode(id, NodeKindInput, channels, blockSize, sampleRate, nil)
}

// NewOutputNode creates a node that delivers its gathered inputs to the
// external output channels.
func NewOutputNode(id string, channels, blockSize, sampleRate int) *Node {
	return newNode(id, NodeKindOutput, channels, blockSize, sampleRate, nil)
}

// NewProcessorNode creates a node around a caller-supplied processing
// callback. The callback contract is described on ProcessFunc; real-time
// safety of the callback (no blocking, no allocation beyond the pool) is
// the caller's responsibility.
func NewProcessorNode(id string, channels, blockSize, sampleRate int, process ProcessFunc) *Node {
	return newNode(id, NodeKindProcessor, channels, blockSize, sampleRate, process)
}

// ID returns the node's identifier.
func (n *Node) ID() string {
	return n.id
}

// Kind returns the node's role in the graph.
func (n *Node) Kind() NodeKind {
	return n.kind
}

// Channels returns the node's channel count.
func (n *Node) Channels() int {
	return n.channels
}

// BlockSize returns the node's block size in samples.
func (n *Node) BlockSize() int {
	return n.blockSize
}

// SampleRate returns the node's sample rate in Hz.
func (n *Node) SampleRate() int {
	return n.sampleRate
}

// State returns the node's lifecycle state.
func (n *Node) State() NodeState {
	return NodeState(n.state.Load())
}

// Ready reports whether Prepare has succeeded. AddNode rejects nodes that
// are not ready.
func (n *Node) Ready() bool {
	return n.State() != StateCreated && n.State() != StateDestroyed
}

// Prepare validates the node's parameters and moves it from Created to
// Ready. A node cannot go straight from Created to Active.
func (n *Node) Prepare() error {
	if n.channels <= 0 {
		return errors.Newf("channel count must be positive, got %d", n.channels).
			Component(ComponentAudioGraph).
			Category(errors.CategoryValidation).
			Context("node_id", n.id).
			Build()
	}
	if n.blockSize <= 0 {
		return errors.Newf("block size must be positive, got %d", n.blockSize).
			Component(ComponentAudioGraph).
			Category(errors.CategoryValidation).
			Context("node_id", n.id).
			Build()
	}
	if n.sampleRate <= 0 {
		return errors.Newf("sample rate must be positive, got %d", n.sampleRate).
			Component(ComponentAudioGraph).
			Category(errors.CategoryValidation).
			Context("node_id", n.id).
			Build()
	}
	if n.kind == NodeKindProcessor && n.process == nil {
		return errors.Newf("processor node requires a processing callback").
			Component(ComponentAudioGraph).
			Category(errors.CategoryValidation).
			Context("node_id", n.id).
			Build()
	}

	if !n.state.CompareAndSwap(int32(StateCreated), int32(StateReady)) {
		return errors.New(ErrNodeNotReady).
			Component(ComponentAudioGraph).
			Context("node_id", n.id).
			Context("state", n.State().String()).
			Build()
	}
	return nil
}

// Done returns a channel closed once the node has actually been destroyed,
// i.e. after the last snapshot referencing it was released.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

func (n *Node) setState(s NodeState) {
	n.state.Store(int32(s))
}

// retain adds a snapshot reference.
func (n *Node) retain() {
	n.refs.Add(1)
}

// release drops a snapshot reference and destroys the node when the last
// one is gone.
func (n *Node) release() {
	if n.refs.Add(-1) == 0 {
		n.destroy()
	}
}

func (n *Node) destroy() {
	n.destroyOnce.Do(func() {
		n.setState(StateDestroyed)
		close(n.done)
	})
}
