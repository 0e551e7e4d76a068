// Package audiograph implements the real-time audio processing core: a
// mutable graph of audio nodes that control threads reconfigure while a
// single real-time thread renders audio blocks without blocking.
//
// Architecture overview:
//
//	control threads -> AddNode/Connect/RemoveNode -> new immutable Snapshot
//	real-time thread -> ProcessAudio -> pins current Snapshot for one block
//
// Key pieces:
//   - BufferPool: lock-free, size-classed allocator for scratch blocks
//   - Node: Input, Output, or Processor wrapping an opaque callback
//   - AudioGraph: copy-on-write snapshots published via an atomic pointer,
//     reference-counted so retired topology is destroyed only after the
//     last in-flight reader releases it
//
// Mutation methods are for control threads only and are serialized
// internally. ProcessAudio is the sole real-time-safe entry point: its
// synchronization cost is one atomic load plus a reference count increment,
// and it never takes a lock or touches the general allocator on the fast
// path.
package audiograph
