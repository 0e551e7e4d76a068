package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(value float32, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = value
	}
	return s
}

func TestGain(t *testing.T) {
	t.Run("RejectsOutOfRange", func(t *testing.T) {
		_, err := NewGain("g", -0.1)
		assert.Error(t, err)
		_, err = NewGain("g", 10.1)
		assert.Error(t, err)
	})

	t.Run("AppliesGain", func(t *testing.T) {
		g, err := NewGain("g", 0.5)
		require.NoError(t, err)
		assert.Equal(t, "g", g.ID())

		in := block(1.0, 64)
		out := make([]float32, 64)
		g.Process([][]float32{in}, [][]float32{out}, 64)
		for i := range out {
			require.InDelta(t, 0.5, out[i], 1e-6)
		}
	})

	t.Run("SetGain", func(t *testing.T) {
		g, err := NewGain("g", 1.0)
		require.NoError(t, err)

		require.NoError(t, g.SetGain(2.0))
		assert.InDelta(t, 2.0, g.Gain(), 1e-6)

		assert.Error(t, g.SetGain(11.0))
		assert.InDelta(t, 2.0, g.Gain(), 1e-6, "rejected update must not change the gain")
	})

	t.Run("ExtraOutputsStaySilent", func(t *testing.T) {
		g, err := NewGain("g", 1.0)
		require.NoError(t, err)

		in := block(1.0, 16)
		out0 := make([]float32, 16)
		out1 := make([]float32, 16)
		g.Process([][]float32{in}, [][]float32{out0, out1}, 16)
		assert.InDelta(t, 1.0, out0[0], 1e-6)
		assert.Zero(t, out1[0])
	})
}

func TestMix(t *testing.T) {
	a := block(0.25, 32)
	b := block(0.5, 32)
	out := block(9.0, 32) // stale values must be overwritten

	Mix{}.Process([][]float32{a, b}, [][]float32{out}, 32)
	for i := range out {
		require.InDelta(t, 0.75, out[i], 1e-6)
	}
}

func TestPassthrough(t *testing.T) {
	in := block(0.125, 16)
	out := make([]float32, 16)

	Passthrough([][]float32{in}, [][]float32{out}, 16)
	assert.Equal(t, in, out)
}

func TestSine(t *testing.T) {
	t.Run("RejectsBadParameters", func(t *testing.T) {
		_, err := NewSine(0, 48000, 1.0)
		assert.Error(t, err)
		_, err = NewSine(440, 0, 1.0)
		assert.Error(t, err)
	})

	t.Run("ContinuousAcrossBlocks", func(t *testing.T) {
		s, err := NewSine(1000, 48000, 1.0)
		require.NoError(t, err)

		two := make([]float32, 128)
		s.Process(nil, [][]float32{two[:64]}, 64)
		s.Process(nil, [][]float32{two[64:]}, 64)

		ref, err := NewSine(1000, 48000, 1.0)
		require.NoError(t, err)
		whole := make([]float32, 128)
		ref.Process(nil, [][]float32{whole}, 128)

		for i := range whole {
			require.InDelta(t, whole[i], two[i], 1e-4, "sample %d", i)
		}
	})

	t.Run("StartsAtZero", func(t *testing.T) {
		s, err := NewSine(440, 44100, 0.8)
		require.NoError(t, err)
		out := make([]float32, 8)
		s.Process(nil, [][]float32{out}, 8)
		assert.Zero(t, out[0])
	})
}
