package audiograph

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/smallnest/ringbuffer"

	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/errors"
	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/logging"
)

const recorderBytesPerSample = 2 // 16-bit PCM

// BlockRecorder accumulates rendered output blocks into a ring buffer as
// interleaved 16-bit PCM and can export the captured audio as a WAV file.
// It lives on the control side: feed it from whoever drains ProcessAudio
// output, never from inside a processing callback.
type BlockRecorder struct {
	mu         sync.Mutex
	rb         *ringbuffer.RingBuffer
	scratch    []byte
	channels   int
	sampleRate int
	dropped    atomic.Int64
	logger     *slog.Logger
}

// NewBlockRecorder creates a recorder holding up to capacitySamples
// samples per channel.
func NewBlockRecorder(channels, sampleRate, capacitySamples int) (*BlockRecorder, error) {
	if channels <= 0 || sampleRate <= 0 || capacitySamples <= 0 {
		return nil, errors.Newf("invalid recorder parameters: channels=%d sample_rate=%d capacity=%d",
			channels, sampleRate, capacitySamples).
			Component(ComponentAudioGraph).
			Category(errors.CategoryValidation).
			Build()
	}

	logger := logging.ForService("audiograph")
	if logger == nil {
		logger = slog.Default()
	}

	return &BlockRecorder{
		rb:         ringbuffer.New(capacitySamples * channels * recorderBytesPerSample),
		channels:   channels,
		sampleRate: sampleRate,
		logger:     logger.With("component", "recorder"),
	}, nil
}

// Capture interleaves one rendered block into the ring buffer. Blocks
// that do not fit are dropped whole and counted rather than partially
// written, so the stored stream stays frame-aligned.
func (r *BlockRecorder) Capture(outputs [][]float32, numSamples int) error {
	if numSamples <= 0 {
		return nil
	}
	if len(outputs) < r.channels {
		return errors.Newf("expected %d output channels, got %d", r.channels, len(outputs)).
			Component(ComponentAudioGraph).
			Category(errors.CategoryValidation).
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	need := numSamples * r.channels * recorderBytesPerSample
	if cap(r.scratch) < need {
		r.scratch = make([]byte, need)
	}
	buf := r.scratch[:need]

	i := 0
	for s := 0; s < numSamples; s++ {
		for c := 0; c < r.channels; c++ {
			v := pcm16(outputs[c][s])
			buf[i] = byte(v)
			buf[i+1] = byte(v >> 8)
			i += 2
		}
	}

	if r.rb.Free() < need {
		r.dropped.Add(1)
		return errors.New(ringbuffer.ErrIsFull).
			Component(ComponentAudioGraph).
			Category(errors.CategoryBuffer).
			Context("needed_bytes", need).
			Context("free_bytes", r.rb.Free()).
			Build()
	}
	if _, err := r.rb.Write(buf); err != nil {
		r.dropped.Add(1)
		return errors.New(err).
			Component(ComponentAudioGraph).
			Category(errors.CategoryBuffer).
			Build()
	}
	return nil
}

// BufferedSamples returns the number of captured samples per channel
// currently held.
func (r *BlockRecorder) BufferedSamples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rb.Length() / (r.channels * recorderBytesPerSample)
}

// Dropped returns the number of blocks discarded because the buffer was
// full.
func (r *BlockRecorder) Dropped() int64 {
	return r.dropped.Load()
}

// Reset discards all captured audio.
func (r *BlockRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rb.Reset()
}

// WriteWAV drains the captured audio into a 16-bit PCM WAV file at path.
func (r *BlockRecorder) WriteWAV(path string) error {
	r.mu.Lock()
	raw := make([]byte, r.rb.Length())
	if _, err := r.rb.Read(raw); err != nil && len(raw) > 0 {
		r.mu.Unlock()
		return errors.New(err).
			Component(ComponentAudioGraph).
			Category(errors.CategoryBuffer).
			Build()
	}
	r.mu.Unlock()

	samples := make([]int, len(raw)/recorderBytesPerSample)
	for i := range samples {
		samples[i] = int(int16(raw[2*i]) | int16(raw[2*i+1])<<8)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.New(err).
			Component(ComponentAudioGraph).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	enc := wav.NewEncoder(f, r.sampleRate, 16, r.channels, 1)
	buf := &audio.IntBuffer{
		Data: samples,
		Format: &audio.Format{
			NumChannels: r.channels,
			SampleRate:  r.sampleRate,
		},
	}
	if err := enc.Write(buf); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			r.logger.Error("failed to close wav file after write error",
				"path", path, "error", closeErr)
		}
		return errors.New(err).
			Component(ComponentAudioGraph).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := enc.Close(); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			r.logger.Error("failed to close wav file after encoder error",
				"path", path, "error", closeErr)
		}
		return errors.New(err).
			Component(ComponentAudioGraph).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := f.Close(); err != nil {
		return errors.New(err).
			Component(ComponentAudioGraph).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	r.logger.Info("wav file written",
		"path", path,
		"samples", len(samples)/r.channels,
		"sample_rate", r.sampleRate,
		"channels", r.channels)
	return nil
}

func pcm16(v float32) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}
