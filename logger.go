package framecache

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/framecache/cache"
	"github.com/hupe1980/framecache/model"
	"github.com/hupe1980/framecache/preload"
	"github.com/hupe1980/framecache/task"
)

// Logger wraps slog.Logger with framecache-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithKey adds a key field to the logger.
func (l *Logger) WithKey(key model.Key) *Logger {
	return &Logger{
		Logger: l.Logger.With("key", key.String()),
	}
}

// WithSource adds a source_id field to the logger.
func (l *Logger) WithSource(sourceID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("source_id", sourceID),
	}
}

// LogGenerate logs the outcome of a generation task.
func (l *Logger) LogGenerate(ctx context.Context, key model.Key, id task.ID, err error) {
	if err != nil {
		l.WarnContext(ctx, "generate failed",
			"key", key.String(),
			"task_id", id.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "generate completed",
			"key", key.String(),
			"task_id", id.String(),
		)
	}
}

// LogEviction logs an entry leaving a tier.
func (l *Logger) LogEviction(tier string, key model.Key, sizeBytes int64, reason cache.EvictReason) {
	l.Debug("entry evicted",
		"tier", tier,
		"key", key.String(),
		"size_bytes", sizeBytes,
		"reason", reason.String(),
	)
}

// LogCacheIO logs an absorbed persistent tier failure.
func (l *Logger) LogCacheIO(err *cache.CacheIOError) {
	l.Warn("cache io failure",
		"op", err.Op,
		"key", err.Key,
		"error", err.Cause,
	)
}

// LogPreload logs a processed preload request.
func (l *Logger) LogPreload(ctx context.Context, rep preload.Report) {
	if rep.Failed > 0 {
		l.WarnContext(ctx, "preload completed with failures",
			"request_id", rep.Request.ID,
			"source_id", rep.Request.SourceID,
			"submitted", rep.Submitted,
			"failed", rep.Failed,
		)
	} else {
		l.DebugContext(ctx, "preload completed",
			"request_id", rep.Request.ID,
			"source_id", rep.Request.SourceID,
			"wanted", rep.Wanted,
			"resident", rep.Resident,
			"submitted", rep.Submitted,
			"duration", rep.Duration,
		)
	}
}
