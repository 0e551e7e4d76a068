package audiograph

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestGraph(t *testing.T) *AudioGraph {
	t.Helper()
	g, err := NewAudioGraph(GraphConfig{ID: "test"})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, g.Close())
	})
	return g
}

func addReadyNode(t *testing.T, g *AudioGraph, n *Node) {
	t.Helper()
	require.NoError(t, n.Prepare())
	require.True(t, g.AddNode(n))
}

func gainCallback(gain float32) ProcessFunc {
	return func(inputs, outputs [][]float32, numSamples int) {
		for c := range outputs {
			if c >= len(inputs) {
				continue
			}
			for i := 0; i < numSamples; i++ {
				outputs[c][i] = inputs[c][i] * gain
			}
		}
	}
}

func TestGraphAddNode(t *testing.T) {
	g := newTestGraph(t)

	t.Run("RejectsUnprepared", func(t *testing.T) {
		assert.False(t, g.AddNode(NewInputNode("raw", 1, 256, 48000)))
		assert.Equal(t, 0, g.NodeCount())
	})

	t.Run("RejectsNil", func(t *testing.T) {
		assert.False(t, g.AddNode(nil))
	})

	t.Run("AddsPrepared", func(t *testing.T) {
		n := NewInputNode("in", 1, 256, 48000)
		require.NoError(t, n.Prepare())
		assert.True(t, g.AddNode(n))
		assert.True(t, g.HasNode("in"))
		assert.Equal(t, StateActive, n.State())
	})

	t.Run("RejectsDuplicateID", func(t *testing.T) {
		dup := NewInputNode("in", 1, 256, 48000)
		require.NoError(t, dup.Prepare())
		assert.False(t, g.AddNode(dup))
		assert.Equal(t, 1, g.NodeCount())
	})
}

func TestGraphConnect(t *testing.T) {
	g := newTestGraph(t)
	addReadyNode(t, g, NewInputNode("a", 1, 256, 48000))
	addReadyNode(t, g, NewProcessorNode("b", 1, 256, 48000, Identity))
	addReadyNode(t, g, NewOutputNode("c", 1, 256, 48000))

	assert.True(t, g.Connect("a", "b"))
	assert.True(t, g.Connect("b", "c"))
	assert.Equal(t, 2, g.EdgeCount())

	t.Run("RejectsUnknownNodes", func(t *testing.T) {
		assert.False(t, g.Connect("a", "missing"))
		assert.False(t, g.Connect("missing", "b"))
	})

	t.Run("RejectsSelfLoop", func(t *testing.T) {
		assert.False(t, g.Connect("a", "a"))
	})

	t.Run("RejectsDuplicateEdge", func(t *testing.T) {
		assert.False(t, g.Connect("a", "b"))
		assert.Equal(t, 2, g.EdgeCount())
	})

	t.Run("RejectsCycle", func(t *testing.T) {
		assert.False(t, g.Connect("c", "a"))
		assert.False(t, g.Connect("b", "a"))
		assert.True(t, g.ValidateIntegrity())
	})
}

func TestGraphProcessSimpleChain(t *testing.T) {
	g := newTestGraph(t)
	addReadyNode(t, g, NewInputNode("in", 1, 256, 48000))
	addReadyNode(t, g, NewProcessorNode("gain", 1, 256, 48000, gainCallback(0.5)))
	addReadyNode(t, g, NewOutputNode("out", 1, 256, 48000))
	require.True(t, g.Connect("in", "gain"))
	require.True(t, g.Connect("gain", "out"))

	const numSamples = 256
	input := make([]float32, numSamples)
	for i := range input {
		input[i] = 1.0
	}
	output := make([]float32, numSamples)

	ok := g.ProcessAudio([][]float32{input}, [][]float32{output}, numSamples)
	assert.True(t, ok)
	for i := range output {
		require.InDelta(t, 0.5, output[i], 1e-6, "sample %d", i)
	}

	// All scratch blocks were returned.
	assert.Equal(t, int64(0), g.Pool().Stats().CurrentAllocations)
	assert.True(t, g.Pool().IsHealthy())
}

func TestGraphProcessIsolatesPanickingNode(t *testing.T) {
	g := newTestGraph(t)
	addReadyNode(t, g, NewInputNode("in", 1, 256, 48000))
	addReadyNode(t, g, NewProcessorNode("bad", 1, 256, 48000,
		func(inputs, outputs [][]float32, numSamples int) {
			panic("callback exploded")
		}))
	addReadyNode(t, g, NewProcessorNode("good", 1, 256, 48000, gainCallback(2.0)))
	addReadyNode(t, g, NewOutputNode("out", 2, 256, 48000))
	require.True(t, g.Connect("in", "bad"))
	require.True(t, g.Connect("in", "good"))
	require.True(t, g.Connect("bad", "out"))
	require.True(t, g.Connect("good", "out"))

	const numSamples = 128
	input := make([]float32, numSamples)
	for i := range input {
		input[i] = 0.25
	}
	ch0 := make([]float32, numSamples)
	ch1 := make([]float32, numSamples)

	ok := g.ProcessAudio([][]float32{input}, [][]float32{ch0, ch1}, numSamples)
	assert.False(t, ok, "a panicking node must degrade the block")

	// The failed chain is silent, the healthy chain is untouched.
	for i := range ch0 {
		require.Zero(t, ch0[i], "sample %d", i)
		require.InDelta(t, 0.5, ch1[i], 1e-6, "sample %d", i)
	}

	stats := g.Stats()
	assert.Equal(t, int64(1), stats.DegradedBlocks)
	assert.Equal(t, int64(1), stats.NodeErrors)
	assert.Equal(t, int64(0), g.Pool().Stats().CurrentAllocations)
}

func TestGraphProcessEdgeCases(t *testing.T) {
	g := newTestGraph(t)

	t.Run("EmptyGraph", func(t *testing.T) {
		out := []float32{1, 2, 3, 4}
		ok := g.ProcessAudio(nil, [][]float32{out}, 4)
		assert.True(t, ok)
		assert.Equal(t, []float32{0, 0, 0, 0}, out, "outputs are cleared even with no nodes")
	})

	t.Run("ZeroSamples", func(t *testing.T) {
		assert.True(t, g.ProcessAudio(nil, nil, 0))
	})

	t.Run("BlockLargerThanPool", func(t *testing.T) {
		huge := g.Pool().MaxBlockSize() + 1
		out := make([]float32, huge)
		assert.False(t, g.ProcessAudio(nil, [][]float32{out}, huge))
	})
}

func TestGraphProcessShortOutputSlice(t *testing.T) {
	g := newTestGraph(t)
	addReadyNode(t, g, NewInputNode("in", 1, 256, 48000))
	addReadyNode(t, g, NewOutputNode("out", 1, 256, 48000))
	require.True(t, g.Connect("in", "out"))

	input := make([]float32, 64)
	for i := range input {
		input[i] = 1.0
	}
	// An external output slice shorter than numSamples gets a partial
	// write rather than a panic.
	short := []float32{-1, -1, -1, -1}
	assert.True(t, g.ProcessAudio([][]float32{input}, [][]float32{short}, 64))
	assert.Equal(t, []float32{1, 1, 1, 1}, short)
}

func TestGraphRemoveNode(t *testing.T) {
	g := newTestGraph(t)
	addReadyNode(t, g, NewInputNode("in", 1, 256, 48000))
	addReadyNode(t, g, NewProcessorNode("p", 1, 256, 48000, Identity))
	require.True(t, g.Connect("in", "p"))

	t.Run("RemovesNodeAndEdges", func(t *testing.T) {
		assert.True(t, g.RemoveNode("p"))
		assert.False(t, g.HasNode("p"))
		assert.Equal(t, 0, g.EdgeCount())
		assert.Equal(t, 1, g.NodeCount())
	})

	t.Run("RejectsUnknownNode", func(t *testing.T) {
		assert.False(t, g.RemoveNode("p"))
	})
}

func TestGraphRemoveNodeWaitsForInFlightBlock(t *testing.T) {
	g := newTestGraph(t)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	addReadyNode(t, g, NewProcessorNode("slow", 1, 256, 48000,
		func(inputs, outputs [][]float32, numSamples int) {
			close(entered)
			<-unblock
		}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		out := make([]float32, 64)
		g.ProcessAudio(nil, [][]float32{out}, 64)
	}()

	<-entered
	removed := g.RemoveNodeAsync("slow")

	// The topology no longer shows the node, but destruction must wait
	// for the processing call still pinning the old snapshot.
	assert.False(t, g.HasNode("slow"))
	select {
	case <-removed:
		t.Fatal("removal resolved while a block was still processing")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	wg.Wait()

	select {
	case ok := <-removed:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("removal did not resolve after the block finished")
	}
}

func TestGraphConcurrentMutationDuringProcessing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	g := newTestGraph(t)
	addReadyNode(t, g, NewInputNode("in", 1, 256, 48000))
	addReadyNode(t, g, NewOutputNode("out", 1, 256, 48000))
	require.True(t, g.Connect("in", "out"))

	stop := make(chan struct{})
	var wg sync.WaitGroup

	// Real-time thread.
	wg.Add(1)
	go func() {
		defer wg.Done()
		input := make([]float32, 64)
		output := make([]float32, 64)
		for i := range input {
			input[i] = 1.0
		}
		for {
			select {
			case <-stop:
				return
			default:
			}
			g.ProcessAudio([][]float32{input}, [][]float32{output}, 64)
			if !g.ValidateIntegrity() {
				t.Error("published snapshot failed validation")
				return
			}
		}
	}()

	// Control thread churning processors in and out.
	churnDone := make(chan struct{})
	go func() {
		defer close(churnDone)
		for i := 0; i < 200; i++ {
			n := NewProcessorNode("", 1, 256, 48000, Identity)
			if err := n.Prepare(); err != nil {
				t.Errorf("prepare failed: %v", err)
				return
			}
			if !g.AddNode(n) {
				t.Error("add failed for a fresh node")
				return
			}
			g.Connect("in", n.ID())
			if i%2 == 0 {
				if !g.RemoveNode(n.ID()) {
					t.Error("remove failed for an existing node")
					return
				}
			}
		}
	}()

	// Let the churn finish first so rendering overlaps every mutation, then
	// stop the render goroutine before waiting: its only exit is the stop
	// channel, so closing after wg.Wait would never return.
	<-churnDone
	close(stop)
	wg.Wait()

	assert.True(t, g.ValidateIntegrity())
	assert.True(t, g.Pool().IsHealthy())
	assert.Equal(t, int64(0), g.Pool().Stats().CurrentAllocations)
}

func TestGraphClose(t *testing.T) {
	g, err := NewAudioGraph(GraphConfig{ID: "closing"})
	require.NoError(t, err)

	n := NewProcessorNode("p", 1, 256, 48000, Identity)
	require.NoError(t, n.Prepare())
	require.True(t, g.AddNode(n))

	require.NoError(t, g.Close())
	require.NoError(t, g.Close(), "close is idempotent")

	// The last snapshot was withdrawn, so the node is destroyed.
	select {
	case <-n.Done():
	case <-time.After(time.Second):
		t.Fatal("node not destroyed on close")
	}

	assert.False(t, g.AddNode(n))
	assert.False(t, g.Connect("a", "b"))
	assert.False(t, g.HasNode("p"))
	assert.False(t, g.ProcessAudio(nil, nil, 64))
	assert.False(t, g.ValidateIntegrity())
}

func TestGraphStats(t *testing.T) {
	g := newTestGraph(t)
	addReadyNode(t, g, NewInputNode("in", 1, 256, 48000))
	addReadyNode(t, g, NewOutputNode("out", 1, 256, 48000))
	require.True(t, g.Connect("in", "out"))

	out := make([]float32, 64)
	require.True(t, g.ProcessAudio(nil, [][]float32{out}, 64))

	stats := g.Stats()
	assert.Equal(t, 2, stats.NodeCount)
	assert.Equal(t, 1, stats.EdgeCount)
	assert.Equal(t, int64(1), stats.ProcessedBlocks)
	assert.Equal(t, int64(0), stats.DegradedBlocks)
	// add_node x2, connect, plus the initial empty snapshot is not counted.
	assert.Equal(t, int64(3), stats.PublishedSnapshots)

	g.ReportMetrics()
}
