// graphbench exercises the audio graph engine from the command line: a
// demo mode that renders a processing chain to a WAV file, and a stress
// mode that mutates the graph while a synthetic real-time thread renders.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/audiograph"
	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/audiograph/processors"
	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/conf"
	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/logging"
	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/observability/metrics"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		configPath string
		closeLog   func() error
	)

	root := &cobra.Command{
		Use:   "graphbench",
		Short: "Exercise the audio graph engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Init()
			settings, err := conf.Load(configPath)
			if err != nil {
				return err
			}
			logging.SetLevel(settings.LogLevel())

			if settings.Log.File != "" {
				fileLogger, closer, err := logging.NewFileLogger(
					settings.Log.File, "graphbench", settings.LogLevel(),
					logging.FileLoggerOptions{
						MaxSizeMB:  settings.Log.MaxSizeMB,
						MaxBackups: settings.Log.MaxBackups,
						MaxAgeDays: settings.Log.MaxAgeDays,
					})
				if err != nil {
					return err
				}
				closeLog = closer
				fileLogger.Info("file logging enabled", "path", settings.Log.File)
			}

			registry := prometheus.NewRegistry()
			graphMetrics, err := metrics.NewAudioGraphMetrics(registry)
			if err != nil {
				return err
			}
			audiograph.InitMetrics(graphMetrics)

			cmd.SetContext(conf.WithSettings(cmd.Context(), settings))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closeLog != nil {
				return closeLog()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(demoCommand())
	root.AddCommand(stressCommand())
	return root
}

func buildPool(settings *conf.Settings) (*audiograph.BufferPool, error) {
	return audiograph.NewBufferPool(audiograph.BufferPoolConfig{
		ID:             "graphbench",
		ClassSizes:     settings.Pool.ClassSizes,
		BlocksPerClass: settings.Pool.BlocksPerClass,
	})
}

func demoCommand() *cobra.Command {
	var (
		output    string
		seconds   float64
		frequency float64
		gain      float64
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Render a tone through a gain stage to a WAV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := conf.SettingsFromContext(cmd.Context())
			logger := logging.ForService("graphbench")

			pool, err := buildPool(settings)
			if err != nil {
				return err
			}
			graph, err := audiograph.NewAudioGraph(audiograph.GraphConfig{
				ID:   "demo",
				Pool: pool,
			})
			if err != nil {
				return err
			}
			defer graph.Close() //nolint:errcheck // close is idempotent and error-free

			sampleRate := settings.Audio.SampleRate
			blockSize := settings.Audio.BlockSize
			channels := settings.Audio.Channels

			tone, err := processors.NewSine(frequency, sampleRate, 1.0)
			if err != nil {
				return err
			}
			gainStage, err := processors.NewGain("demo-gain", float32(gain))
			if err != nil {
				return err
			}

			src := audiograph.NewProcessorNode("tone", channels, blockSize, sampleRate, tone.Process)
			amp := audiograph.NewProcessorNode("gain", channels, blockSize, sampleRate, gainStage.Process)
			out := audiograph.NewOutputNode("out", channels, blockSize, sampleRate)
			for _, n := range []*audiograph.Node{src, amp, out} {
				if err := n.Prepare(); err != nil {
					return err
				}
				if !graph.AddNode(n) {
					return fmt.Errorf("failed to add node %q", n.ID())
				}
			}
			if !graph.Connect("tone", "gain") || !graph.Connect("gain", "out") {
				return fmt.Errorf("failed to connect demo chain")
			}

			totalSamples := int(seconds * float64(sampleRate))
			recorder, err := audiograph.NewBlockRecorder(channels, sampleRate, totalSamples+blockSize)
			if err != nil {
				return err
			}

			outputs := make([][]float32, channels)
			for c := range outputs {
				outputs[c] = make([]float32, blockSize)
			}

			rendered := 0
			for rendered < totalSamples {
				n := blockSize
				if remaining := totalSamples - rendered; remaining < n {
					n = remaining
				}
				if !graph.ProcessAudio(nil, outputs, n) {
					logger.Warn("degraded block during render", "offset", rendered)
				}
				if err := recorder.Capture(outputs, n); err != nil {
					return err
				}
				rendered += n
			}

			if err := recorder.WriteWAV(output); err != nil {
				return err
			}
			graph.ReportMetrics()

			stats := graph.Stats()
			fmt.Printf("rendered %d samples to %s (blocks=%d degraded=%d)\n",
				rendered, output, stats.ProcessedBlocks, stats.DegradedBlocks)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "demo.wav", "output WAV file")
	cmd.Flags().Float64VarP(&seconds, "seconds", "s", 2.0, "length of audio to render")
	cmd.Flags().Float64VarP(&frequency, "frequency", "f", 440.0, "tone frequency in Hz")
	cmd.Flags().Float64VarP(&gain, "gain", "g", 0.5, "gain applied to the tone")
	return cmd
}

func stressCommand() *cobra.Command {
	var (
		duration time.Duration
		churn    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Mutate the graph continuously while rendering",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := conf.SettingsFromContext(cmd.Context())
			logger := logging.ForService("graphbench")

			pool, err := buildPool(settings)
			if err != nil {
				return err
			}
			graph, err := audiograph.NewAudioGraph(audiograph.GraphConfig{
				ID:   "stress",
				Pool: pool,
			})
			if err != nil {
				return err
			}

			sampleRate := settings.Audio.SampleRate
			blockSize := settings.Audio.BlockSize

			in := audiograph.NewInputNode("in", 1, blockSize, sampleRate)
			out := audiograph.NewOutputNode("out", 1, blockSize, sampleRate)
			for _, n := range []*audiograph.Node{in, out} {
				if err := n.Prepare(); err != nil {
					return err
				}
				if !graph.AddNode(n) {
					return fmt.Errorf("failed to add node %q", n.ID())
				}
			}
			if !graph.Connect("in", "out") {
				return fmt.Errorf("failed to connect stress chain")
			}

			stop := make(chan struct{})
			var wg sync.WaitGroup

			// Synthetic real-time thread.
			wg.Add(1)
			go func() {
				defer wg.Done()
				input := make([]float32, blockSize)
				output := make([]float32, blockSize)
				for i := range input {
					input[i] = rand.Float32()*2 - 1
				}
				for {
					select {
					case <-stop:
						return
					default:
					}
					graph.ProcessAudio([][]float32{input}, [][]float32{output}, blockSize)
				}
			}()

			// Control thread churning processors.
			wg.Add(1)
			go func() {
				defer wg.Done()
				ticker := time.NewTicker(churn)
				defer ticker.Stop()
				for {
					select {
					case <-stop:
						return
					case <-ticker.C:
					}
					n := audiograph.NewProcessorNode("", 1, blockSize, sampleRate, processors.Passthrough)
					if err := n.Prepare(); err != nil {
						logger.Error("prepare failed", "error", err)
						continue
					}
					if !graph.AddNode(n) {
						continue
					}
					graph.Connect("in", n.ID())
					graph.Connect(n.ID(), "out")
					graph.RemoveNode(n.ID())
				}
			}()

			deadline := time.NewTimer(duration)
			defer deadline.Stop()
			<-deadline.C
			close(stop)
			wg.Wait()

			graph.ReportMetrics()
			stats := graph.Stats()
			poolStats := graph.Pool().Stats()
			fmt.Printf("blocks=%d degraded=%d snapshots=%d pool_peak_bytes=%d fallbacks=%d healthy=%v\n",
				stats.ProcessedBlocks, stats.DegradedBlocks, stats.PublishedSnapshots,
				poolStats.PeakMemoryUsage, poolStats.FallbackAllocations, graph.Pool().IsHealthy())

			if !graph.ValidateIntegrity() {
				return fmt.Errorf("graph failed integrity validation after stress")
			}
			return graph.Close()
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "how long to run")
	cmd.Flags().DurationVar(&churn, "churn", 5*time.Millisecond, "interval between topology mutations")
	return cmd
}
