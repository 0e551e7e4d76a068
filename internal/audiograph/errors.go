package audiograph

import (
	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/errors"
)

// Component identifier for audiograph errors
const ComponentAudioGraph = "audiograph"

// Error categories specific to audiograph
var (
	// ErrNodeNotFound is returned when a node id does not resolve
	ErrNodeNotFound = errors.New(nil).
			Component(ComponentAudioGraph).
			Category(errors.CategoryNotFound).
			Context("resource", "graph_node").
			Build()

	// ErrNodeExists is returned when adding a duplicate node id
	ErrNodeExists = errors.New(nil).
			Component(ComponentAudioGraph).
			Category(errors.CategoryConflict).
			Context("resource", "graph_node").
			Build()

	// ErrNodeNotReady is returned when adding a node before Prepare succeeded
	ErrNodeNotReady = errors.New(nil).
			Component(ComponentAudioGraph).
			Category(errors.CategoryState).
			Context("resource", "graph_node").
			Build()

	// ErrCycleDetected is returned when a connection would create a cycle
	ErrCycleDetected = errors.New(nil).
				Component(ComponentAudioGraph).
				Category(errors.CategoryTopology).
				Context("operation", "connect").
				Build()

	// ErrDuplicateEdge is returned when a connection already exists
	ErrDuplicateEdge = errors.New(nil).
				Component(ComponentAudioGraph).
				Category(errors.CategoryConflict).
				Context("resource", "graph_edge").
				Build()

	// ErrGraphClosed is returned for mutations on a closed graph
	ErrGraphClosed = errors.New(nil).
			Component(ComponentAudioGraph).
			Category(errors.CategoryState).
			Context("resource", "audio_graph").
			Build()

	// ErrPoolExhausted is returned when both pool paths fail to produce a block
	ErrPoolExhausted = errors.New(nil).
				Component(ComponentAudioGraph).
				Category(errors.CategoryBuffer).
				Context("resource", "buffer_pool").
				Build()
)
