package audiograph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/errors"
)

func TestNodeCreation(t *testing.T) {
	t.Run("ExplicitID", func(t *testing.T) {
		n := NewInputNode("in", 2, 256, 48000)
		assert.Equal(t, "in", n.ID())
		assert.Equal(t, NodeKindInput, n.Kind())
		assert.Equal(t, 2, n.Channels())
		assert.Equal(t, 256, n.BlockSize())
		assert.Equal(t, 48000, n.SampleRate())
		assert.Equal(t, StateCreated, n.State())
	})

	t.Run("GeneratedID", func(t *testing.T) {
		a := NewOutputNode("", 1, 256, 48000)
		b := NewOutputNode("", 1, 256, 48000)
		assert.NotEmpty(t, a.ID())
		assert.NotEqual(t, a.ID(), b.ID())
	})
}

func TestNodePrepare(t *testing.T) {
	t.Run("Succeeds", func(t *testing.T) {
		n := NewInputNode("in", 2, 256, 48000)
		require.NoError(t, n.Prepare())
		assert.Equal(t, StateReady, n.State())
		assert.True(t, n.Ready())
	})

	t.Run("RejectsSecondPrepare", func(t *testing.T) {
		n := NewInputNode("in", 2, 256, 48000)
		require.NoError(t, n.Prepare())
		assert.Error(t, n.Prepare())
	})

	t.Run("RejectsBadParameters", func(t *testing.T) {
		cases := []struct {
			name string
			node *Node
		}{
			{"ZeroChannels", NewInputNode("in", 0, 256, 48000)},
			{"NegativeChannels", NewInputNode("in", -1, 256, 48000)},
			{"ZeroBlockSize", NewInputNode("in", 2, 0, 48000)},
			{"ZeroSampleRate", NewInputNode("in", 2, 256, 0)},
			{"ProcessorWithoutCallback", NewProcessorNode("p", 2, 256, 48000, nil)},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				err := tc.node.Prepare()
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
				assert.Equal(t, StateCreated, tc.node.State())
				assert.False(t, tc.node.Ready())
			})
		}
	})
}

func TestNodeDestroyedWhenLastReferenceReleased(t *testing.T) {
	n := NewProcessorNode("p", 1, 256, 48000, Identity)
	require.NoError(t, n.Prepare())

	n.retain()
	n.retain()

	select {
	case <-n.Done():
		t.Fatal("node destroyed while still referenced")
	default:
	}

	n.release()
	select {
	case <-n.Done():
		t.Fatal("node destroyed while still referenced")
	default:
	}

	n.release()
	select {
	case <-n.Done():
	default:
		t.Fatal("node not destroyed after last release")
	}
	assert.Equal(t, StateDestroyed, n.State())
}

// Identity is a trivial callback used across the graph tests.
func Identity(inputs, outputs [][]float32, numSamples int) {
	for c := range outputs {
		if c < len(inputs) {
			copy(outputs[c][:numSamples], inputs[c][:numSamples])
		}
	}
}
