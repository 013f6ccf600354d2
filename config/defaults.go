package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values. They mirror the library defaults of the cache tiers,
// the generator and the preload scheduler.
const (
	DefaultMemoryMaxItems     = 500
	DefaultMemoryMaxBytes     = 100 << 20
	DefaultPersistentMaxItems = 5000
	DefaultPersistentMaxBytes = 1 << 30
	DefaultDecayHorizon       = 7 * 24 * time.Hour
	DefaultWarmWindow         = 24 * time.Hour
	DefaultThumbnailWidth     = 320
	DefaultThumbnailHeight    = 180
	DefaultThumbnailQuality   = 75
	DefaultLeadingMargin      = 30
	DefaultTrailingMargin     = 10
	DefaultKeyRate            = 30.0
	DefaultMetricsAddr        = ":9090"
	DefaultCloseTimeout       = 5 * time.Second
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.secure", true)
	v.SetDefault("storage.express", false)
	v.SetDefault("storage.read_cache_bytes", 0)

	v.SetDefault("memory.max_items", DefaultMemoryMaxItems)
	v.SetDefault("memory.max_bytes", DefaultMemoryMaxBytes)

	v.SetDefault("persistent.max_items", DefaultPersistentMaxItems)
	v.SetDefault("persistent.max_bytes", DefaultPersistentMaxBytes)
	v.SetDefault("persistent.decay_horizon", DefaultDecayHorizon.String())
	v.SetDefault("persistent.warm_window", DefaultWarmWindow.String())
	v.SetDefault("persistent.warm_on_open", false)
	v.SetDefault("persistent.compression", "lz4")
	v.SetDefault("persistent.codec", "go-json")

	v.SetDefault("resources.memory_limit_bytes", 0)
	v.SetDefault("resources.io_bytes_per_sec", 0)
	v.SetDefault("resources.max_background_writes", 0)

	v.SetDefault("pool.workers", 0)
	v.SetDefault("pool.close_timeout", DefaultCloseTimeout)

	v.SetDefault("thumbnail.max_width", DefaultThumbnailWidth)
	v.SetDefault("thumbnail.max_height", DefaultThumbnailHeight)
	v.SetDefault("thumbnail.quality", DefaultThumbnailQuality)

	v.SetDefault("preload.leading_margin", DefaultLeadingMargin)
	v.SetDefault("preload.trailing_margin", DefaultTrailingMargin)
	v.SetDefault("preload.key_rate", DefaultKeyRate)
	v.SetDefault("preload.priority", 0)
	v.SetDefault("preload.keys_per_second", 0)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", DefaultMetricsAddr)
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		// Defaults are static; failing here is a programming error.
		panic(err)
	}
	return &cfg
}
