package cache

import (
	"time"

	"github.com/hupe1980/framecache/model"
)

// Stats is a point-in-time snapshot of a tier.
type Stats struct {
	Size             int     `json:"size"`
	MaxSize          int     `json:"maxSize"`
	Hits             uint64  `json:"hits"`
	Misses           uint64  `json:"misses"`
	HitRate          float64 `json:"hitRate"`
	MemoryUsageBytes int64   `json:"memoryUsageBytes"`
	MaxBytes         int64   `json:"maxBytes"`
	Evictions        uint64  `json:"evictions"`
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// EvictReason says why an entry left a tier.
type EvictReason uint8

const (
	// EvictCapacity is an eviction forced by the item-count bound.
	EvictCapacity EvictReason = iota
	// EvictBytes is an eviction forced by the byte budget.
	EvictBytes
	// EvictMemoryPressure is an eviction forced by the global memory controller.
	EvictMemoryPressure
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictBytes:
		return "bytes"
	case EvictMemoryPressure:
		return "memory_pressure"
	default:
		return "unknown"
	}
}

// EvictFunc is called for every evicted entry, with the tier lock held.
// It must not call back into the cache.
type EvictFunc func(key model.Key, sizeBytes int64, reason EvictReason)

// Clock returns the current time. Tests inject fake clocks.
type Clock func() time.Time
