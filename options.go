package framecache

import (
	"log/slog"
	"time"

	"github.com/hupe1980/framecache/cache"
	"github.com/hupe1980/framecache/codec"
	"github.com/hupe1980/framecache/generate"
	"github.com/hupe1980/framecache/internal/compress"
	"github.com/hupe1980/framecache/preload"
	"github.com/hupe1980/framecache/worker"
)

type options struct {
	backend        Backend
	readCacheBytes int64

	memoryMaxItems     int
	memoryMaxBytes     int64
	persistentMaxItems int
	persistentMaxBytes int64
	decayHorizon       time.Duration
	warmWindow         time.Duration
	warmOnOpen         bool
	compression        compress.Type
	codec              codec.Codec

	memoryLimitBytes    int64
	ioLimitBytesPerSec  int64
	maxBackgroundWrites int64

	workers      int
	closeTimeout time.Duration
	source       generate.FrameSource
	thumbWidth   int
	thumbHeight  int
	quality      int

	leadingMargin        uint32
	trailingMargin       uint32
	keyRate              float64
	preloadPriority      int
	preloadKeysPerSecond float64

	metricsCollector MetricsCollector
	logger           *Logger
	now              func() time.Time

	err error
}

// Option configures Open.
type Option func(*options)

// WithBackend selects the persistent tier store. Defaults to InMemory().
func WithBackend(b Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithReadCache puts a read cache of up to maxBytes in front of the
// backend. It pays off for remote backends, where every record read is a
// network round trip. Zero disables it, which is the default.
func WithReadCache(maxBytes int64) Option {
	return func(o *options) {
		o.readCacheBytes = max(0, maxBytes)
	}
}

// WithMemoryCapacity bounds the memory tier by item count and bytes.
// Non-positive values keep the defaults (500 items, 100 MiB).
func WithMemoryCapacity(maxItems int, maxBytes int64) Option {
	return func(o *options) {
		if maxItems > 0 {
			o.memoryMaxItems = maxItems
		}
		if maxBytes > 0 {
			o.memoryMaxBytes = maxBytes
		}
	}
}

// WithPersistentCapacity bounds the persistent tier by item count and bytes.
// Non-positive values keep the defaults (5000 items, 1 GiB).
func WithPersistentCapacity(maxItems int, maxBytes int64) Option {
	return func(o *options) {
		if maxItems > 0 {
			o.persistentMaxItems = maxItems
		}
		if maxBytes > 0 {
			o.persistentMaxBytes = maxBytes
		}
	}
}

// WithDecay configures persistent tier scoring: horizon is the age at which
// an entry's score reaches zero, warmWindow limits Warm to entries accessed
// that recently. Zero keeps the default.
func WithDecay(horizon, warmWindow time.Duration) Option {
	return func(o *options) {
		if horizon > 0 {
			o.decayHorizon = horizon
		}
		if warmWindow > 0 {
			o.warmWindow = warmWindow
		}
	}
}

// WithWarmOnOpen makes Open call Warm once the persistent tier index is
// loaded.
func WithWarmOnOpen() Option {
	return func(o *options) {
		o.warmOnOpen = true
	}
}

// WithCompression selects persistent record compression: "none", "lz4" or
// "zstd". An unknown name makes Open fail.
func WithCompression(name string) Option {
	return func(o *options) {
		t, err := compress.ParseType(name)
		if err != nil {
			o.err = err
			return
		}
		o.compression = t
	}
}

// WithCodec configures the codec used for record metadata and the index
// snapshot. If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithResourceLimits sets the process-wide memory budget of the memory
// tier, the persistent tier IO throughput and the number of concurrent
// background writes. Zero means unlimited (one writer).
func WithResourceLimits(memoryBytes, ioBytesPerSec, backgroundWrites int64) Option {
	return func(o *options) {
		o.memoryLimitBytes = memoryBytes
		o.ioLimitBytesPerSec = ioBytesPerSec
		o.maxBackgroundWrites = backgroundWrites
	}
}

// WithWorkers sets the worker pool size. Defaults to NumCPU-1.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithCloseTimeout bounds how long Close waits for task handlers that
// ignore cancellation. Defaults to worker.DefaultCloseTimeout.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		o.closeTimeout = d
	}
}

// WithFrameSource sets the source frames are rendered from.
// Defaults to a synthetic test pattern.
func WithFrameSource(src generate.FrameSource) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithThumbnail configures the thumbnail bounding box and JPEG quality.
func WithThumbnail(maxWidth, maxHeight, quality int) Option {
	return func(o *options) {
		o.thumbWidth = maxWidth
		o.thumbHeight = maxHeight
		o.quality = quality
	}
}

// WithPreloadMargins sets how many keys are preloaded past the end
// (leading) and before the start (trailing) of every request.
func WithPreloadMargins(leading, trailing uint32) Option {
	return func(o *options) {
		o.leadingMargin = leading
		o.trailingMargin = trailing
	}
}

// WithKeyRate sets the keys per second PreloadVisibleRegion assumes when
// the caller passes no rate.
func WithKeyRate(rate float64) Option {
	return func(o *options) {
		if rate > 0 {
			o.keyRate = rate
		}
	}
}

// WithPreloadPriority sets the priority of viewport preloads.
func WithPreloadPriority(priority int) Option {
	return func(o *options) {
		o.preloadPriority = priority
	}
}

// WithPreloadRateLimit throttles preload submissions to keysPerSecond.
// Zero disables the limit.
func WithPreloadRateLimit(keysPerSecond float64) Option {
	return func(o *options) {
		o.preloadKeysPerSecond = keysPerSecond
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &framecache.BasicMetricsCollector{}
//	fc, _ := framecache.Open(ctx, framecache.WithMetricsCollector(metrics))
//	// ... use fc ...
//	stats := metrics.GetStats()
//	fmt.Printf("Memory hits: %d\n", stats.MemoryHits)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := framecache.NewJSONLogger(slog.LevelInfo)
//	fc, _ := framecache.Open(ctx, framecache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithClock injects the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		backend:            InMemory(),
		memoryMaxItems:     cache.DefaultMemoryMaxItems,
		memoryMaxBytes:     cache.DefaultMemoryMaxBytes,
		persistentMaxItems: cache.DefaultPersistentMaxItems,
		persistentMaxBytes: cache.DefaultPersistentMaxBytes,
		decayHorizon:       cache.DefaultDecayHorizon,
		warmWindow:         cache.DefaultWarmWindow,
		compression:        compress.LZ4,
		codec:              codec.Default,
		workers:            worker.DefaultWorkers(),
		closeTimeout:       worker.DefaultCloseTimeout,
		leadingMargin:      preload.DefaultLeadingMargin,
		trailingMargin:     preload.DefaultTrailingMargin,
		keyRate:            preload.DefaultKeyRate,
		metricsCollector:   NoopMetricsCollector{},
		logger:             NoopLogger(),
		now:                time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
