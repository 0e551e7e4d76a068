// Package processors provides ready-made processing callbacks for
// audiograph processor nodes. Parameterized processors expose their
// parameters through atomics so a control thread can retune them while
// the real-time thread is rendering.
package processors

import (
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/errors"
	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/logging"
)

// Component identifier for processor errors
const ComponentProcessors = "audiograph/processors"

// Gain scales every channel by an adjustable factor.
type Gain struct {
	id     string
	bits   atomic.Uint32 // math.Float32bits of the current gain
	logger *slog.Logger
}

// NewGain creates a gain stage. The gain must be between 0.0 and 10.0.
func NewGain(id string, initialGain float32) (*Gain, error) {
	if initialGain < 0.0 || initialGain > 10.0 {
		return nil, errors.New(nil).
			Component(ComponentProcessors).
			Category(errors.CategoryValidation).
			Context("gain", initialGain).
			Context("error", "gain must be between 0.0 and 10.0").
			Build()
	}

	logger := logging.ForService("audiograph")
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gain{
		id: id,
		logger: logger.With(
			"component", "gain_processor",
			"processor_id", id),
	}
	g.bits.Store(math.Float32bits(initialGain))

	g.logger.Info("gain processor created", "initial_gain", initialGain)
	return g, nil
}

// ID returns the processor's identifier.
func (g *Gain) ID() string {
	return g.id
}

// Gain returns the current gain factor.
func (g *Gain) Gain() float32 {
	return math.Float32frombits(g.bits.Load())
}

// SetGain updates the gain factor. Out-of-range values are rejected.
func (g *Gain) SetGain(gain float32) error {
	if gain < 0.0 || gain > 10.0 {
		return errors.New(nil).
			Component(ComponentProcessors).
			Category(errors.CategoryValidation).
			Context("gain", gain).
			Context("error", "gain must be between 0.0 and 10.0").
			Build()
	}
	g.bits.Store(math.Float32bits(gain))
	g.logger.Debug("gain updated", "gain", gain)
	return nil
}

// Process is the node callback. Channel i of the output is channel i of
// the input scaled by the current gain; outputs without a matching input
// are left silent.
func (g *Gain) Process(inputs, outputs [][]float32, numSamples int) {
	gain := g.Gain()
	for c := range outputs {
		if c >= len(inputs) {
			continue
		}
		in, out := inputs[c], outputs[c]
		for i := 0; i < numSamples; i++ {
			out[i] = in[i] * gain
		}
	}
}

// Mix sums all input channels into every output channel.
type Mix struct{}

// Process is the node callback.
func (Mix) Process(inputs, outputs [][]float32, numSamples int) {
	for _, out := range outputs {
		for i := 0; i < numSamples; i++ {
			out[i] = 0
		}
		for _, in := range inputs {
			for i := 0; i < numSamples; i++ {
				out[i] += in[i]
			}
		}
	}
}

// Passthrough copies input channel i to output channel i unchanged.
// Outputs without a matching input stay silent.
func Passthrough(inputs, outputs [][]float32, numSamples int) {
	for c := range outputs {
		if c >= len(inputs) {
			continue
		}
		copy(outputs[c][:numSamples], inputs[c][:numSamples])
	}
}

// Sine generates a sine tone, ignoring its inputs. It keeps its phase
// across blocks so consecutive blocks are continuous.
type Sine struct {
	frequency  float64
	sampleRate float64
	amplitude  float32
	phase      float64 // touched only by the real-time thread
}

// NewSine creates a sine generator.
func NewSine(frequency float64, sampleRate int, amplitude float32) (*Sine, error) {
	if frequency <= 0 || sampleRate <= 0 {
		return nil, errors.New(nil).
			Component(ComponentProcessors).
			Category(errors.CategoryValidation).
			Context("frequency", frequency).
			Context("sample_rate", sampleRate).
			Context("error", "frequency and sample rate must be positive").
			Build()
	}

	return &Sine{
		frequency:  frequency,
		sampleRate: float64(sampleRate),
		amplitude:  amplitude,
	}, nil
}

// Process is the node callback.
func (s *Sine) Process(_ [][]float32, outputs [][]float32, numSamples int) {
	step := 2 * math.Pi * s.frequency / s.sampleRate
	phase := s.phase
	for i := 0; i < numSamples; i++ {
		v := s.amplitude * float32(math.Sin(phase))
		for _, out := range outputs {
			out[i] = v
		}
		phase += step
	}
	s.phase = math.Mod(phase, 2*math.Pi)
}
