package audiograph

import (
	"log/slog"
	"sync/atomic"

	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/errors"
	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/logging"
)

// Block liveness states stored in the block header.
const (
	blockFree int32 = iota
	blockLive
)

// maxCASRetries bounds the pop loop under contention. A pop that loses the
// CAS race this many times falls back to the general allocator instead of
// spinning, keeping the worst-case latency of Get bounded.
const maxCASRetries = 64

// Block is a pooled scratch buffer. The fields other than Data form the
// hidden header identifying the owning pool, the size class, and liveness;
// they let Put detect double-frees and foreign blocks without crashing.
type Block struct {
	Data []float32

	pool  *BufferPool
	class int32         // size class index; fallback blocks keep it for stats
	index uint32        // 1-based slot in the class arena; 0 for fallback blocks
	next  atomic.Uint32 // next free slot while on the free list
	state atomic.Int32  // blockFree or blockLive
}

// Size returns the block's capacity in samples.
func (b *Block) Size() int {
	return cap(b.Data)
}

// sizeClass is one allocation granularity: a fixed arena of blocks and a
// lock-free free list over their slot indexes. The list head packs a
// 32-bit version tag above a 32-bit 1-based slot index (0 means empty);
// the tag changes on every successful push or pop, which defeats ABA
// without hazard pointers.
type sizeClass struct {
	size   int
	blocks []*Block
	head   atomic.Uint64
}

func newSizeClass(size, count int) *sizeClass {
	c := &sizeClass{
		size:   size,
		blocks: make([]*Block, count),
	}
	for i := 0; i < count; i++ {
		c.blocks[i] = &Block{
			Data:  make([]float32, size),
			class: -1, // patched by the pool after construction
			index: uint32(i + 1),
		}
	}
	// Thread the initial free list through the arena.
	for i := 0; i < count-1; i++ {
		c.blocks[i].next.Store(uint32(i + 2))
	}
	if count > 0 {
		c.head.Store(1) // version 0, slot 1
	}
	return c
}

// pop removes the head block, or returns nil if the list is empty or the
// CAS retry limit is hit.
func (c *sizeClass) pop() *Block {
	for retry := 0; retry < maxCASRetries; retry++ {
		old := c.head.Load()
		idx := uint32(old)
		if idx == 0 {
			return nil
		}
		b := c.blocks[idx-1]
		next := b.next.Load()
		tag := (old >> 32) + 1
		if c.head.CompareAndSwap(old, tag<<32|uint64(next)) {
			return b
		}
	}
	return nil
}

// push returns a block to the free list. Unlike pop this loops until it
// succeeds: losing the race here cannot be turned into a fallback, and the
// loop is still lock-free since a failed CAS means another push or pop won.
func (c *sizeClass) push(b *Block) {
	for {
		old := c.head.Load()
		b.next.Store(uint32(old))
		tag := (old >> 32) + 1
		if c.head.CompareAndSwap(old, tag<<32|uint64(b.index)) {
			return
		}
	}
}

// BufferPool is a lock-free, size-classed allocator for fixed-lifetime
// audio scratch blocks. Get and Put are safe to call from the real-time
// thread: the fast path is a handful of atomic operations with no locks
// and no syscalls. The slow path (a size class exhausted) falls back to
// the general allocator and is counted in FallbackAllocations as a
// capacity-planning signal.
type BufferPool struct {
	id      string
	classes []*sizeClass
	logger  *slog.Logger

	totalAllocations    atomic.Int64
	totalDeallocations  atomic.Int64
	currentAllocations  atomic.Int64
	currentBytes        atomic.Int64
	peakBytes           atomic.Int64
	fallbackAllocations atomic.Int64
	corruptionEvents    atomic.Int64
}

// NewBufferPool creates a pool with the given size classes preallocated.
func NewBufferPool(config BufferPoolConfig) (*BufferPool, error) {
	if len(config.ClassSizes) == 0 {
		return nil, errors.Newf("pool needs at least one size class").
			Component(ComponentAudioGraph).
			Category(errors.CategoryValidation).
			Build()
	}
	prev := 0
	for _, size := range config.ClassSizes {
		if size <= prev {
			return nil, errors.Newf("pool size classes must be positive and strictly ascending, got %v", config.ClassSizes).
				Component(ComponentAudioGraph).
				Category(errors.CategoryValidation).
				Context("class_sizes", config.ClassSizes).
				Build()
		}
		prev = size
	}
	if config.BlocksPerClass <= 0 {
		config.BlocksPerClass = DefaultBufferPoolConfig().BlocksPerClass
	}
	if config.ID == "" {
		config.ID = "default"
	}

	logger := logging.ForService("audiograph")
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "buffer_pool", "pool_id", config.ID)

	p := &BufferPool{
		id:      config.ID,
		classes: make([]*sizeClass, len(config.ClassSizes)),
		logger:  logger,
	}
	for i, size := range config.ClassSizes {
		c := newSizeClass(size, config.BlocksPerClass)
		for _, b := range c.blocks {
			b.pool = p
			b.class = int32(i)
		}
		p.classes[i] = c
	}

	logger.Info("buffer pool created",
		"class_sizes", config.ClassSizes,
		"blocks_per_class", config.BlocksPerClass)

	return p, nil
}

// ID returns the pool's label.
func (p *BufferPool) ID() string {
	return p.id
}

// MaxBlockSize returns the largest size class in samples.
func (p *BufferPool) MaxBlockSize() int {
	return p.classes[len(p.classes)-1].size
}

// Get returns a block whose capacity is the smallest size class holding at
// least size samples. It returns nil for size <= 0 and for requests larger
// than the largest class; the caller owns a larger-granularity strategy for
// those. Safe to call from the real-time thread.
func (p *BufferPool) Get(size int) *Block {
	if size <= 0 {
		return nil
	}

	classIdx := -1
	for i, c := range p.classes {
		if size <= c.size {
			classIdx = i
			break
		}
	}
	if classIdx == -1 {
		return nil
	}

	c := p.classes[classIdx]
	b := c.pop()
	if b == nil {
		// Slow path: the class is exhausted (or the retry limit was
		// spent). Not real-time-safe; counted so sustained use shows up
		// in capacity planning.
		b = &Block{
			Data:  make([]float32, c.size),
			pool:  p,
			class: int32(classIdx),
		}
		p.fallbackAllocations.Add(1)
		getCollector().recordPoolFallback(p.id, c.size)
	}

	b.state.Store(blockLive)
	b.Data = b.Data[:cap(b.Data)]

	p.totalAllocations.Add(1)
	p.currentAllocations.Add(1)
	bytes := p.currentBytes.Add(int64(c.size) * 4)
	for {
		peak := p.peakBytes.Load()
		if bytes <= peak || p.peakBytes.CompareAndSwap(peak, bytes) {
			break
		}
	}

	return b
}

// Put returns a block to its size class free list. It is a no-op for nil.
// Blocks not issued by this pool and blocks already freed are flagged via
// the corruption counter and otherwise ignored; they never corrupt the
// free lists or crash the audio thread.
func (p *BufferPool) Put(b *Block) {
	if b == nil {
		return
	}
	if b.pool != p {
		p.corruptionEvents.Add(1)
		getCollector().recordPoolCorruption(p.id, "foreign-block")
		return
	}
	if !b.state.CompareAndSwap(blockLive, blockFree) {
		p.corruptionEvents.Add(1)
		getCollector().recordPoolCorruption(p.id, "double-free")
		return
	}

	c := p.classes[b.class]
	p.totalDeallocations.Add(1)
	p.currentAllocations.Add(-1)
	p.currentBytes.Add(int64(c.size) * -4)

	if b.index == 0 {
		// Fallback block: hand it back to the general allocator rather
		// than growing the arena.
		return
	}
	c.push(b)
}

// IsHealthy reports false once any corruption has been flagged.
func (p *BufferPool) IsHealthy() bool {
	return p.corruptionEvents.Load() == 0
}

// ReportMetrics pushes the pool counters to the metrics collector. It is
// meant to be called periodically from a control thread, never from the
// audio thread.
func (p *BufferPool) ReportMetrics() {
	getCollector().reportPoolStats(p.id, p.Stats())
}

// Stats returns a snapshot of the pool counters.
func (p *BufferPool) Stats() BufferPoolStats {
	return BufferPoolStats{
		TotalAllocations:    p.totalAllocations.Load(),
		TotalDeallocations:  p.totalDeallocations.Load(),
		CurrentAllocations:  p.currentAllocations.Load(),
		PeakMemoryUsage:     p.peakBytes.Load(),
		FallbackAllocations: p.fallbackAllocations.Load(),
		CorruptionEvents:    p.corruptionEvents.Load(),
	}
}
