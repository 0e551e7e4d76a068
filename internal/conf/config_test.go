package conf

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	t.Parallel()

	s := Default()
	require.NotNil(t, s)
	assert.Equal(t, 48000, s.Audio.SampleRate)
	assert.Equal(t, 256, s.Audio.BlockSize)
	assert.Equal(t, []int{64, 256, 1024, 4096}, s.Pool.ClassSizes)
	assert.Equal(t, 32, s.Pool.BlocksPerClass)
	require.NoError(t, s.Validate())
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	content := []byte(`
audio:
  samplerate: 44100
  blocksize: 512
pool:
  classsizes: [128, 512, 2048]
  blocksperclass: 16
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 44100, s.Audio.SampleRate)
	assert.Equal(t, 512, s.Audio.BlockSize)
	// unspecified keys fall back to defaults
	assert.Equal(t, 2, s.Audio.Channels)
	assert.Equal(t, []int{128, 512, 2048}, s.Pool.ClassSizes)
	assert.Equal(t, slog.LevelDebug, s.LogLevel())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero sample rate", func(s *Settings) { s.Audio.SampleRate = 0 }},
		{"negative block size", func(s *Settings) { s.Audio.BlockSize = -1 }},
		{"zero channels", func(s *Settings) { s.Audio.Channels = 0 }},
		{"no size classes", func(s *Settings) { s.Pool.ClassSizes = nil }},
		{"unsorted size classes", func(s *Settings) { s.Pool.ClassSizes = []int{256, 64} }},
		{"duplicate size classes", func(s *Settings) { s.Pool.ClassSizes = []int{64, 64} }},
		{"zero blocks per class", func(s *Settings) { s.Pool.BlocksPerClass = 0 }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := Default()
			tc.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestLogLevelMapping(t *testing.T) {
	t.Parallel()

	s := Default()
	for level, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	} {
		s.Log.Level = level
		assert.Equal(t, want, s.LogLevel(), "level %q", level)
	}
}
