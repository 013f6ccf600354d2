// Package config loads framecache configuration from a YAML or TOML file
// and FRAMECACHE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// FRAMECACHE_MEMORY_MAX_ITEMS=1000.
const EnvPrefix = "FRAMECACHE"

// Config represents the framecache configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FRAMECACHE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Persistent PersistentConfig `mapstructure:"persistent"`
	Resources  ResourceConfig   `mapstructure:"resources"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Thumbnail  ThumbnailConfig  `mapstructure:"thumbnail"`
	Preload    PreloadConfig    `mapstructure:"preload"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// StorageConfig selects the persistent tier backend.
type StorageConfig struct {
	// Backend is one of memory, local, badger, s3, minio.
	Backend string `mapstructure:"backend" validate:"required,oneof=memory local badger s3 minio"`
	// Path is the directory of the local and badger backends.
	Path string `mapstructure:"path"`

	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Secure    bool   `mapstructure:"secure"`
	// Express selects an S3 Express One Zone directory bucket (s3 only).
	Express bool `mapstructure:"express"`

	// ReadCacheBytes sizes a read cache in front of the backend. Zero
	// disables it.
	ReadCacheBytes int64 `mapstructure:"read_cache_bytes" validate:"gte=0"`
}

// MemoryConfig bounds the memory tier.
type MemoryConfig struct {
	MaxItems int   `mapstructure:"max_items" validate:"gt=0"`
	MaxBytes int64 `mapstructure:"max_bytes" validate:"gt=0"`
}

// PersistentConfig bounds and tunes the persistent tier.
type PersistentConfig struct {
	MaxItems     int           `mapstructure:"max_items" validate:"gt=0"`
	MaxBytes     int64         `mapstructure:"max_bytes" validate:"gt=0"`
	DecayHorizon time.Duration `mapstructure:"decay_horizon" validate:"gt=0"`
	WarmWindow   time.Duration `mapstructure:"warm_window" validate:"gt=0"`
	WarmOnOpen   bool          `mapstructure:"warm_on_open"`
	Compression  string        `mapstructure:"compression" validate:"oneof=none lz4 zstd"`
	Codec        string        `mapstructure:"codec" validate:"oneof=json go-json"`
}

// ResourceConfig sets process-wide budgets. Zero means unlimited.
type ResourceConfig struct {
	MemoryLimitBytes    int64 `mapstructure:"memory_limit_bytes" validate:"gte=0"`
	IOBytesPerSec       int64 `mapstructure:"io_bytes_per_sec" validate:"gte=0"`
	MaxBackgroundWrites int64 `mapstructure:"max_background_writes" validate:"gte=0"`
}

// PoolConfig sizes the worker pool. Zero uses NumCPU-1.
type PoolConfig struct {
	Workers      int           `mapstructure:"workers" validate:"gte=0"`
	CloseTimeout time.Duration `mapstructure:"close_timeout" validate:"gte=0"`
}

// ThumbnailConfig sets the thumbnail bounding box and JPEG quality.
type ThumbnailConfig struct {
	MaxWidth  int `mapstructure:"max_width" validate:"gt=0"`
	MaxHeight int `mapstructure:"max_height" validate:"gt=0"`
	Quality   int `mapstructure:"quality" validate:"gte=1,lte=100"`
}

// PreloadConfig tunes the preload scheduler.
type PreloadConfig struct {
	LeadingMargin  uint32  `mapstructure:"leading_margin"`
	TrailingMargin uint32  `mapstructure:"trailing_margin"`
	KeyRate        float64 `mapstructure:"key_rate" validate:"gt=0"`
	Priority       int     `mapstructure:"priority"`
	// KeysPerSecond throttles submissions; zero disables the limit.
	KeysPerSecond float64 `mapstructure:"keys_per_second" validate:"gte=0"`
}

// MetricsConfig configures the Prometheus endpoint of the CLI.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// Load reads configPath (if non-empty and present), applies environment
// overrides and defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Defaults double as the key registry AutomaticEnv needs for Unmarshal.
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

func readConfigFile(v *viper.Viper, configPath string) (bool, error) {
	if configPath == "" {
		return false, nil
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for durations and
// comma-separated lists.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook converts strings like "30s" or "168h" and plain
// integers (nanoseconds) to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if v == "" {
				return time.Duration(0), nil
			}
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
