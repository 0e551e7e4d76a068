// Package conf loads and validates engine settings from a YAML config file
// and environment variables using viper.
package conf

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/bretbouchard/white-room-pedalboard-sub014/internal/errors"
)

// AudioSettings describes the engine's audio format defaults.
type AudioSettings struct {
	SampleRate int `mapstructure:"samplerate"` // e.g. 48000
	BlockSize  int `mapstructure:"blocksize"`  // samples per block, e.g. 256
	Channels   int `mapstructure:"channels"`   // default channel count per node
}

// PoolSettings describes the buffer pool provisioning.
type PoolSettings struct {
	ClassSizes     []int `mapstructure:"classsizes"`     // ascending size classes in samples
	BlocksPerClass int   `mapstructure:"blocksperclass"` // preallocated blocks per class
}

// LogSettings describes the file logging configuration.
type LogSettings struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxsizemb"`
	MaxBackups int    `mapstructure:"maxbackups"`
	MaxAgeDays int    `mapstructure:"maxagedays"`
}

// Settings is the root configuration for the engine.
type Settings struct {
	Audio AudioSettings `mapstructure:"audio"`
	Pool  PoolSettings  `mapstructure:"pool"`
	Log   LogSettings   `mapstructure:"log"`
}

const envPrefix = "PEDALBOARD"

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.samplerate", 48000)
	v.SetDefault("audio.blocksize", 256)
	v.SetDefault("audio.channels", 2)
	v.SetDefault("pool.classsizes", []int{64, 256, 1024, 4096})
	v.SetDefault("pool.blocksperclass", 32)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.maxsizemb", 100)
	v.SetDefault("log.maxbackups", 3)
	v.SetDefault("log.maxagedays", 28)
}

// Default returns the built-in settings without reading any config file.
func Default() *Settings {
	v := viper.New()
	setDefaults(v)
	settings := &Settings{}
	// Unmarshal of defaults cannot fail
	_ = v.Unmarshal(settings)
	return settings
}

// Load reads settings from the given config file path. An empty path loads
// defaults plus environment overrides only. Environment variables use the
// PEDALBOARD_ prefix, e.g. PEDALBOARD_AUDIO_SAMPLERATE.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(err).
				Component("configuration").
				Category(errors.CategoryFileIO).
				Context("config_path", path).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("config_path", path).
			Build()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

// Validate checks the settings for internal consistency.
func (s *Settings) Validate() error {
	if s.Audio.SampleRate <= 0 {
		return errors.Newf("sample rate must be positive, got %d", s.Audio.SampleRate).
			Component("configuration").
			Category(errors.CategoryValidation).
			Build()
	}
	if s.Audio.BlockSize <= 0 {
		return errors.Newf("block size must be positive, got %d", s.Audio.BlockSize).
			Component("configuration").
			Category(errors.CategoryValidation).
			Build()
	}
	if s.Audio.Channels <= 0 {
		return errors.Newf("channel count must be positive, got %d", s.Audio.Channels).
			Component("configuration").
			Category(errors.CategoryValidation).
			Build()
	}
	if len(s.Pool.ClassSizes) == 0 {
		return errors.Newf("pool must define at least one size class").
			Component("configuration").
			Category(errors.CategoryValidation).
			Build()
	}
	prev := 0
	for _, size := range s.Pool.ClassSizes {
		if size <= prev {
			return errors.Newf("pool size classes must be ascending and positive, got %v", s.Pool.ClassSizes).
				Component("configuration").
				Category(errors.CategoryValidation).
				Context("class_sizes", s.Pool.ClassSizes).
				Build()
		}
		prev = size
	}
	if s.Pool.BlocksPerClass <= 0 {
		return errors.Newf("blocks per class must be positive, got %d", s.Pool.BlocksPerClass).
			Component("configuration").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

type contextKey struct{}

// WithSettings attaches settings to a context for command plumbing.
func WithSettings(ctx context.Context, s *Settings) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// SettingsFromContext returns the settings attached by WithSettings, or
// the defaults when none are attached.
func SettingsFromContext(ctx context.Context) *Settings {
	if s, ok := ctx.Value(contextKey{}).(*Settings); ok {
		return s
	}
	return Default()
}

// LogLevel maps the configured level string to a slog.Level.
func (s *Settings) LogLevel() slog.Level {
	switch strings.ToLower(s.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
