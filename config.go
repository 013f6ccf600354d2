package framecache

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/framecache/codec"
	"github.com/hupe1980/framecache/config"
)

// WithConfig applies a loaded configuration. The memory, local and badger
// backends are selected from cfg.Storage; remote backends (s3, minio) are
// built by the caller and passed with WithBackend after WithConfig.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}

		switch cfg.Storage.Backend {
		case "memory", "":
			o.backend = InMemory()
		case "local":
			o.backend = Local(cfg.Storage.Path)
		case "badger":
			o.backend = Badger(cfg.Storage.Path)
		}
		WithReadCache(cfg.Storage.ReadCacheBytes)(o)

		WithMemoryCapacity(cfg.Memory.MaxItems, cfg.Memory.MaxBytes)(o)
		WithPersistentCapacity(cfg.Persistent.MaxItems, cfg.Persistent.MaxBytes)(o)
		WithDecay(cfg.Persistent.DecayHorizon, cfg.Persistent.WarmWindow)(o)
		if cfg.Persistent.WarmOnOpen {
			WithWarmOnOpen()(o)
		}
		WithCompression(cfg.Persistent.Compression)(o)
		if cfg.Persistent.Codec != "" {
			c, ok := codec.ByName(cfg.Persistent.Codec)
			if !ok {
				o.err = fmt.Errorf("framecache: unknown codec %q", cfg.Persistent.Codec)
				return
			}
			o.codec = c
		}

		WithResourceLimits(cfg.Resources.MemoryLimitBytes, cfg.Resources.IOBytesPerSec, cfg.Resources.MaxBackgroundWrites)(o)
		if cfg.Pool.Workers > 0 {
			o.workers = cfg.Pool.Workers
		}
		if cfg.Pool.CloseTimeout > 0 {
			o.closeTimeout = cfg.Pool.CloseTimeout
		}
		WithThumbnail(cfg.Thumbnail.MaxWidth, cfg.Thumbnail.MaxHeight, cfg.Thumbnail.Quality)(o)

		WithPreloadMargins(cfg.Preload.LeadingMargin, cfg.Preload.TrailingMargin)(o)
		WithKeyRate(cfg.Preload.KeyRate)(o)
		WithPreloadPriority(cfg.Preload.Priority)(o)
		WithPreloadRateLimit(cfg.Preload.KeysPerSecond)(o)

		o.logger = LoggerFromConfig(cfg.Logging)
	}
}

// LoggerFromConfig builds a stderr logger from the logging section.
func LoggerFromConfig(cfg config.LoggingConfig) *Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	if strings.EqualFold(cfg.Format, "json") {
		return NewJSONLogger(level)
	}
	return NewTextLogger(level)
}
