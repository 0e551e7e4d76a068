package audiograph

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/observability/metrics"
)

func gatheredCounter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
					break
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not gathered", name, labels)
	return 0
}

func TestCollectorReportProcessCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewAudioGraphMetrics(reg)
	require.NoError(t, err)
	c := &Collector{metrics: m, enabled: true}

	c.reportProcessCounters("g", 5, 2, 3, 1.5)
	c.reportProcessCounters("g", 1, 0, 0, 0.5)

	assert.Equal(t, 6.0, gatheredCounter(t, reg, "audiograph_process_calls_total",
		map[string]string{"graph_id": "g", "status": "ok"}))
	assert.Equal(t, 2.0, gatheredCounter(t, reg, "audiograph_process_calls_total",
		map[string]string{"graph_id": "g", "status": "degraded"}))
	assert.Equal(t, 2.0, gatheredCounter(t, reg, "audiograph_degraded_blocks_total",
		map[string]string{"graph_id": "g"}))
	assert.Equal(t, 3.0, gatheredCounter(t, reg, "audiograph_node_errors_total",
		map[string]string{"graph_id": "g"}))
	assert.InDelta(t, 2.0, gatheredCounter(t, reg, "audiograph_process_seconds_total",
		map[string]string{"graph_id": "g"}), 1e-9)
}

func TestGraphTakeProcessDeltas(t *testing.T) {
	g := newTestGraph(t)
	addReadyNode(t, g, NewInputNode("in", 1, 256, 48000))
	addReadyNode(t, g, NewOutputNode("out", 1, 256, 48000))
	require.True(t, g.Connect("in", "out"))

	input := make([]float32, 64)
	output := make([]float32, 64)
	require.True(t, g.ProcessAudio([][]float32{input}, [][]float32{output}, 64))
	require.True(t, g.ProcessAudio([][]float32{input}, [][]float32{output}, 64))

	ok, degraded, nodeErrs, seconds := g.takeProcessDeltas()
	assert.Equal(t, int64(2), ok)
	assert.Equal(t, int64(0), degraded)
	assert.Equal(t, int64(0), nodeErrs)
	assert.Greater(t, seconds, 0.0)

	// Nothing happened since the last take, so the next one is empty.
	ok, degraded, nodeErrs, seconds = g.takeProcessDeltas()
	assert.Equal(t, int64(0), ok)
	assert.Equal(t, int64(0), degraded)
	assert.Equal(t, int64(0), nodeErrs)
	assert.Zero(t, seconds)

	// A degraded block counts against degraded, not ok.
	big := make([]float32, g.Pool().MaxBlockSize()+1)
	require.False(t, g.ProcessAudio([][]float32{big}, [][]float32{big}, len(big)))

	ok, degraded, _, _ = g.takeProcessDeltas()
	assert.Equal(t, int64(0), ok)
	assert.Equal(t, int64(1), degraded)
}
