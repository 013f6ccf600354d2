package framecache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/framecache/codec"
	"github.com/hupe1980/framecache/config"
	"github.com/hupe1980/framecache/internal/compress"
)

func TestWithConfig_MapsOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "local"
	cfg.Storage.Path = t.TempDir()
	cfg.Memory.MaxItems = 12
	cfg.Persistent.DecayHorizon = time.Hour
	cfg.Persistent.Compression = "zstd"
	cfg.Persistent.Codec = "json"
	cfg.Pool.Workers = 3
	cfg.Pool.CloseTimeout = 2 * time.Second
	cfg.Storage.ReadCacheBytes = 4096
	cfg.Preload.LeadingMargin = 0
	cfg.Preload.TrailingMargin = 2
	cfg.Preload.KeyRate = 24
	cfg.Logging.Level = "debug"

	o := applyOptions([]Option{WithConfig(cfg)})
	require.NoError(t, o.err)

	assert.Equal(t, "local", o.backend.String())
	assert.Equal(t, 12, o.memoryMaxItems)
	assert.Equal(t, time.Hour, o.decayHorizon)
	assert.Equal(t, compress.ZSTD, o.compression)
	assert.Equal(t, codec.JSON{}, o.codec)
	assert.Equal(t, 3, o.workers)
	assert.Equal(t, 2*time.Second, o.closeTimeout)
	assert.Equal(t, int64(4096), o.readCacheBytes)
	assert.Equal(t, uint32(0), o.leadingMargin)
	assert.Equal(t, uint32(2), o.trailingMargin)
	assert.InDelta(t, 24.0, o.keyRate, 1e-9)
	assert.True(t, o.logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestWithConfig_RemoteBackendLeftToCaller(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "s3"

	o := applyOptions([]Option{WithBackend(Badger("")), WithConfig(cfg)})
	assert.Equal(t, "badger", o.backend.String())
}

func TestWithConfig_OpensCache(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "badger"
	cfg.Storage.Path = t.TempDir()
	cfg.Pool.Workers = 1

	c := openCache(t, WithConfig(cfg))
	assert.Equal(t, 1, c.Stats().Pool.Workers)
}

func TestLoggerFromConfig(t *testing.T) {
	l := LoggerFromConfig(config.LoggingConfig{Level: "warn", Format: "json"})
	assert.False(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, l.Enabled(context.Background(), slog.LevelWarn))

	l = LoggerFromConfig(config.LoggingConfig{Level: "nonsense"})
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
}
