package cache

import (
	"container/list"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/framecache/model"
	"github.com/hupe1980/framecache/resource"
)

// Default Tier 1 bounds.
const (
	DefaultMemoryMaxItems = 500
	DefaultMemoryMaxBytes = 100 << 20
)

// ErrInvalidCapacity is returned for non-positive tier bounds.
var ErrInvalidCapacity = errors.New("cache: maxItems and maxBytes must be positive")

// MemoryOptions configures a MemoryCache.
type MemoryOptions struct {
	MaxItems int
	MaxBytes int64
	// Resource optionally accounts entry bytes against a global memory budget.
	Resource *resource.Controller
	OnEvict  EvictFunc
	Now      Clock
	Logger   *slog.Logger
}

// MemoryCache is the Tier 1 cache: strict LRU over item count and bytes.
// Entries are copied in and out; callers never share payload memory with it.
type MemoryCache struct {
	mu        sync.Mutex
	maxItems  int
	maxBytes  int64
	size      int64
	items     map[model.Key]*list.Element
	evictList *list.List // front = most recently used
	resident  *residency
	rc        *resource.Controller
	onEvict   EvictFunc
	now       Clock
	logger    *slog.Logger

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewMemoryCache creates a Tier 1 cache.
func NewMemoryCache(opts MemoryOptions) (*MemoryCache, error) {
	if opts.MaxItems <= 0 || opts.MaxBytes <= 0 {
		return nil, ErrInvalidCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &MemoryCache{
		maxItems:  opts.MaxItems,
		maxBytes:  opts.MaxBytes,
		items:     make(map[model.Key]*list.Element),
		evictList: list.New(),
		resident:  newResidency(),
		rc:        opts.Resource,
		onEvict:   opts.OnEvict,
		now:       opts.Now,
		logger:    opts.Logger,
	}, nil
}

// Get returns a copy of the entry and marks it most recently used.
func (c *MemoryCache) Get(key model.Key) (model.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return model.Entry{}, false
	}
	c.hits++
	c.evictList.MoveToFront(el)
	e := el.Value.(*model.Entry)
	e.LastAccessedAt = c.now()
	e.AccessCount++
	return e.Clone(), true
}

// Peek returns a copy of the entry without touching recency or stats.
func (c *MemoryCache) Peek(key model.Key) (model.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return model.Entry{}, false
	}
	return el.Value.(*model.Entry).Clone(), true
}

// Has reports whether key is resident. It does not count as an access.
func (c *MemoryCache) Has(key model.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Set inserts or overwrites an entry, then evicts least recently used
// entries until both bounds hold. It returns false if the entry was not
// admitted: it is larger than MaxBytes, or the global memory budget is
// exhausted even after evicting everything else.
func (c *MemoryCache) Set(entry model.Entry) bool {
	entry = entry.Clone()
	entry.SizeBytes = entry.Size()
	if entry.LastAccessedAt.IsZero() {
		entry.LastAccessedAt = c.now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.LastAccessedAt
	}
	itemSize := entry.SizeBytes

	c.mu.Lock()
	defer c.mu.Unlock()

	if itemSize > c.maxBytes {
		c.logger.Debug("entry exceeds tier budget", "key", entry.Key.String(), "size", itemSize, "max_bytes", c.maxBytes)
		return false
	}

	if el, ok := c.items[entry.Key]; ok {
		c.removeElement(el)
	}

	// Make room locally first so released bytes are available to the controller.
	for c.evictList.Len() > 0 && (c.evictList.Len()+1 > c.maxItems || c.size+itemSize > c.maxBytes) {
		reason := EvictCapacity
		if c.evictList.Len()+1 <= c.maxItems {
			reason = EvictBytes
		}
		c.evictOldest(reason)
	}

	if c.rc != nil {
		for !c.rc.ReserveMemory(itemSize) {
			if c.evictList.Len() == 0 {
				c.logger.Debug("memory budget exhausted", "key", entry.Key.String(), "size", itemSize)
				return false
			}
			c.evictOldest(EvictMemoryPressure)
		}
	}

	c.items[entry.Key] = c.evictList.PushFront(&entry)
	c.size += itemSize
	c.resident.add(entry.Key)
	return true
}

// Delete removes key. It reports whether the key was resident.
func (c *MemoryCache) Delete(key model.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// DeleteBySource removes every entry of sourceID and returns how many were removed.
func (c *MemoryCache) DeleteBySource(sourceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, k := range c.resident.keys(sourceID) {
		if el, ok := c.items[k]; ok {
			c.removeElement(el)
			removed++
		}
	}
	return removed
}

// Clear removes all entries. Statistics are kept.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rc != nil && c.size > 0 {
		c.rc.ReleaseMemory(c.size)
	}
	c.items = make(map[model.Key]*list.Element)
	c.evictList.Init()
	c.resident.clear()
	c.size = 0
}

// Keys returns resident keys from most to least recently used.
func (c *MemoryCache) Keys() []model.Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]model.Key, 0, c.evictList.Len())
	for el := c.evictList.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*model.Entry).Key)
	}
	return keys
}

// Len returns the number of resident entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Resident returns the indices of sourceID in [start, end] held by this tier.
func (c *MemoryCache) Resident(sourceID string, start, end uint32) *roaring.Bitmap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident.snapshot(sourceID, start, end)
}

// Capacity returns the configured bounds.
func (c *MemoryCache) Capacity() (maxItems int, maxBytes int64) {
	return c.maxItems, c.maxBytes
}

// Stats returns a snapshot of the tier statistics.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:             c.evictList.Len(),
		MaxSize:          c.maxItems,
		Hits:             c.hits,
		Misses:           c.misses,
		HitRate:          hitRate(c.hits, c.misses),
		MemoryUsageBytes: c.size,
		MaxBytes:         c.maxBytes,
		Evictions:        c.evictions,
	}
}

func (c *MemoryCache) evictOldest(reason EvictReason) {
	el := c.evictList.Back()
	if el == nil {
		return
	}
	e := el.Value.(*model.Entry)
	c.removeElement(el)
	c.evictions++
	if c.onEvict != nil {
		c.onEvict(e.Key, e.SizeBytes, reason)
	}
}

func (c *MemoryCache) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	e := el.Value.(*model.Entry)
	delete(c.items, e.Key)
	c.resident.remove(e.Key)
	c.size -= e.SizeBytes
	if c.rc != nil {
		c.rc.ReleaseMemory(e.SizeBytes)
	}
}
