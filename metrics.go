package framecache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// metrics/prometheus package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordTask is called when a task reaches a terminal status.
	// duration is the run time (zero for tasks cancelled while queued).
	RecordTask(taskType, status string, duration time.Duration)

	// RecordCacheLookup is called for every tier lookup made by Get.
	RecordCacheLookup(tier string, hit bool)

	// RecordEviction is called for every entry evicted from a tier.
	RecordEviction(tier, reason string, sizeBytes int64)

	// RecordPreload is called after each processed preload request.
	RecordPreload(submitted, resident, failed int, duration time.Duration)

	// RecordCacheIOError is called for every absorbed persistent tier failure.
	RecordCacheIOError(op string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTask(string, string, time.Duration)   {}
func (NoopMetricsCollector) RecordCacheLookup(string, bool)             {}
func (NoopMetricsCollector) RecordEviction(string, string, int64)       {}
func (NoopMetricsCollector) RecordPreload(int, int, int, time.Duration) {}
func (NoopMetricsCollector) RecordCacheIOError(string)                  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	TasksCompleted   atomic.Int64
	TasksFailed      atomic.Int64
	TasksCancelled   atomic.Int64
	TaskTotalNanos   atomic.Int64
	MemoryHits       atomic.Int64
	MemoryMisses     atomic.Int64
	PersistentHits   atomic.Int64
	PersistentMisses atomic.Int64
	Evictions        atomic.Int64
	EvictedBytes     atomic.Int64
	Preloads         atomic.Int64
	PreloadSubmitted atomic.Int64
	PreloadResident  atomic.Int64
	PreloadFailed    atomic.Int64
	CacheIOErrors    atomic.Int64
}

// RecordTask implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTask(_ string, status string, duration time.Duration) {
	switch status {
	case "completed":
		b.TasksCompleted.Add(1)
	case "cancelled":
		b.TasksCancelled.Add(1)
	default:
		b.TasksFailed.Add(1)
	}
	b.TaskTotalNanos.Add(duration.Nanoseconds())
}

// RecordCacheLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheLookup(tier string, hit bool) {
	switch {
	case tier == TierMemory && hit:
		b.MemoryHits.Add(1)
	case tier == TierMemory:
		b.MemoryMisses.Add(1)
	case hit:
		b.PersistentHits.Add(1)
	default:
		b.PersistentMisses.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(_, _ string, sizeBytes int64) {
	b.Evictions.Add(1)
	b.EvictedBytes.Add(sizeBytes)
}

// RecordPreload implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPreload(submitted, resident, failed int, _ time.Duration) {
	b.Preloads.Add(1)
	b.PreloadSubmitted.Add(int64(submitted))
	b.PreloadResident.Add(int64(resident))
	b.PreloadFailed.Add(int64(failed))
}

// RecordCacheIOError implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheIOError(string) {
	b.CacheIOErrors.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TasksCompleted:   b.TasksCompleted.Load(),
		TasksFailed:      b.TasksFailed.Load(),
		TasksCancelled:   b.TasksCancelled.Load(),
		TaskAvgNanos:     b.getAvgTaskNanos(),
		MemoryHits:       b.MemoryHits.Load(),
		MemoryMisses:     b.MemoryMisses.Load(),
		PersistentHits:   b.PersistentHits.Load(),
		PersistentMisses: b.PersistentMisses.Load(),
		Evictions:        b.Evictions.Load(),
		EvictedBytes:     b.EvictedBytes.Load(),
		Preloads:         b.Preloads.Load(),
		PreloadSubmitted: b.PreloadSubmitted.Load(),
		PreloadResident:  b.PreloadResident.Load(),
		PreloadFailed:    b.PreloadFailed.Load(),
		CacheIOErrors:    b.CacheIOErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgTaskNanos() int64 {
	count := b.TasksCompleted.Load() + b.TasksFailed.Load() + b.TasksCancelled.Load()
	if count == 0 {
		return 0
	}
	return b.TaskTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	TasksCompleted   int64
	TasksFailed      int64
	TasksCancelled   int64
	TaskAvgNanos     int64
	MemoryHits       int64
	MemoryMisses     int64
	PersistentHits   int64
	PersistentMisses int64
	Evictions        int64
	EvictedBytes     int64
	Preloads         int64
	PreloadSubmitted int64
	PreloadResident  int64
	PreloadFailed    int64
	CacheIOErrors    int64
}
