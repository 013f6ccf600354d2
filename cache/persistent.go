package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/framecache/blobstore"
	"github.com/hupe1980/framecache/codec"
	"github.com/hupe1980/framecache/internal/compress"
	"github.com/hupe1980/framecache/model"
	"github.com/hupe1980/framecache/resource"
	"golang.org/x/sync/errgroup"
)

// Default Tier 2 bounds.
const (
	DefaultPersistentMaxItems = 5000
	DefaultPersistentMaxBytes = 1 << 30
)

const (
	recordPrefix    = "rec/"
	recordSuffix    = ".rec"
	indexBlobName   = "_index.json"
	snapshotVersion = 1
)

// PersistentOptions configures a PersistentCache.
type PersistentOptions struct {
	Store    blobstore.BlobStore
	MaxItems int
	MaxBytes int64
	// DecayHorizon is the age at which an entry's score reaches zero.
	DecayHorizon time.Duration
	// WarmWindow limits warm candidates to entries accessed this recently.
	WarmWindow  time.Duration
	Compression compress.Type
	// Codec encodes record metadata and the index snapshot.
	Codec codec.Codec
	// Resource throttles blob IO.
	Resource *resource.Controller
	// ScanConcurrency bounds parallel record reads during index rebuild.
	ScanConcurrency int
	OnEvict         EvictFunc
	OnIOError       func(*CacheIOError)
	Now             Clock
	Logger          *slog.Logger
}

type indexEntry struct {
	meta model.Entry // Payload is always nil
	blob string
}

// PersistentCache is the Tier 2 cache. Entries live in a BlobStore; an
// in-memory index holds their metadata. Backing store failures never
// surface from Get or Set: they are logged and treated as misses.
type PersistentCache struct {
	mu       sync.Mutex
	store    blobstore.BlobStore
	maxItems int
	maxBytes int64
	horizon  time.Duration
	warm     time.Duration
	ct       compress.Type
	codec    codec.Codec
	rc       *resource.Controller
	scanN    int
	onEvict  EvictFunc
	onIOErr  func(*CacheIOError)
	now      Clock
	logger   *slog.Logger

	index    map[model.Key]*indexEntry
	size     int64
	resident *residency

	hits      uint64
	misses    uint64
	evictions uint64
	ioErrors  atomic.Uint64

	// partial is set when the index could not be rebuilt at open; the
	// snapshot is then left alone so a later open can recover it.
	partial atomic.Bool
}

// NewPersistentCache opens a Tier 2 cache over opts.Store and rebuilds its index.
func NewPersistentCache(ctx context.Context, opts PersistentOptions) (*PersistentCache, error) {
	if opts.Store == nil {
		return nil, errors.New("cache: persistent tier requires a blob store")
	}
	if opts.MaxItems <= 0 || opts.MaxBytes <= 0 {
		return nil, ErrInvalidCapacity
	}
	if opts.DecayHorizon <= 0 {
		opts.DecayHorizon = DefaultDecayHorizon
	}
	if opts.WarmWindow <= 0 {
		opts.WarmWindow = DefaultWarmWindow
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if codec.IDOf(opts.Codec) == codec.IDUnknown {
		return nil, fmt.Errorf("cache: codec %q cannot be used for records", opts.Codec.Name())
	}
	if opts.ScanConcurrency <= 0 {
		opts.ScanConcurrency = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	c := &PersistentCache{
		store:    opts.Store,
		maxItems: opts.MaxItems,
		maxBytes: opts.MaxBytes,
		horizon:  opts.DecayHorizon,
		warm:     opts.WarmWindow,
		ct:       opts.Compression,
		codec:    opts.Codec,
		rc:       opts.Resource,
		scanN:    opts.ScanConcurrency,
		onEvict:  opts.OnEvict,
		onIOErr:  opts.OnIOError,
		now:      opts.Now,
		logger:   opts.Logger,
		index:    make(map[model.Key]*indexEntry),
		resident: newResidency(),
	}

	if err := c.load(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	doomed := c.evictLocked(model.Key{}, false)
	c.mu.Unlock()
	c.deleteBlobs(ctx, doomed)

	return c, nil
}

// blobName maps a key to its record name. The key is base64url-encoded so
// source ids can never escape the record prefix.
func blobName(k model.Key) string {
	return recordPrefix + base64.RawURLEncoding.EncodeToString([]byte(k.String())) + recordSuffix
}

func (c *PersistentCache) ioError(op string, key string, err error) *CacheIOError {
	ioErr := &CacheIOError{Op: op, Key: key, Cause: err}
	c.ioErrors.Add(1)
	c.logger.Warn("persistent cache io failure", "op", op, "key", key, "error", err)
	if c.onIOErr != nil {
		c.onIOErr(ioErr)
	}
	return ioErr
}

// Get loads an entry from the backing store. A missing, unreadable or
// corrupt record is a miss; corrupt records are dropped.
func (c *PersistentCache) Get(ctx context.Context, key model.Key) (model.Entry, bool) {
	e, ok := c.read(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !ok {
		c.misses++
		return model.Entry{}, false
	}
	c.hits++
	if ie, still := c.index[key]; still && ie.meta.CreatedAt.Equal(e.CreatedAt) {
		ie.meta.LastAccessedAt = c.now()
		ie.meta.AccessCount++
		e.LastAccessedAt = ie.meta.LastAccessedAt
		e.AccessCount = ie.meta.AccessCount
	}
	return e, true
}

// Peek loads an entry without counting an access.
func (c *PersistentCache) Peek(ctx context.Context, key model.Key) (model.Entry, bool) {
	return c.read(ctx, key)
}

func (c *PersistentCache) read(ctx context.Context, key model.Key) (model.Entry, bool) {
	c.mu.Lock()
	ie, ok := c.index[key]
	var (
		name string
		meta model.Entry
	)
	if ok {
		name, meta = ie.blob, ie.meta
	}
	c.mu.Unlock()
	if !ok {
		return model.Entry{}, false
	}

	if err := c.rc.WaitIO(ctx, int(meta.Size())); err != nil {
		c.ioError("read", key.String(), err)
		return model.Entry{}, false
	}

	data, err := blobstore.ReadAll(ctx, c.store, name)
	if err != nil {
		c.ioError("read", key.String(), err)
		if errors.Is(err, blobstore.ErrNotFound) {
			c.dropIfSame(ctx, key, meta.CreatedAt, false)
		}
		return model.Entry{}, false
	}

	e, err := decodeRecord(data, false)
	if err == nil && e.Key != key {
		err = fmt.Errorf("record holds key %s", e.Key)
	}
	if err != nil {
		c.ioError("decode", key.String(), err)
		c.dropIfSame(ctx, key, meta.CreatedAt, true)
		return model.Entry{}, false
	}

	e.LastAccessedAt = meta.LastAccessedAt
	e.AccessCount = meta.AccessCount
	return e, true
}

// dropIfSame removes key from the index unless it was replaced concurrently.
func (c *PersistentCache) dropIfSame(ctx context.Context, key model.Key, createdAt time.Time, deleteBlob bool) {
	c.mu.Lock()
	ie, ok := c.index[key]
	if !ok || !ie.meta.CreatedAt.Equal(createdAt) {
		c.mu.Unlock()
		return
	}
	c.removeLocked(key)
	c.mu.Unlock()

	if deleteBlob {
		c.deleteBlobs(ctx, []*indexEntry{ie})
	}
}

// Has reports whether key is indexed. It performs no IO.
func (c *PersistentCache) Has(key model.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[key]
	return ok
}

// Set writes an entry and evicts by score until both bounds hold. It
// returns false if the entry was not stored: it exceeds MaxBytes or the
// write failed.
func (c *PersistentCache) Set(ctx context.Context, entry model.Entry) bool {
	now := c.now()
	entry.SizeBytes = entry.Size()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastAccessedAt.IsZero() {
		entry.LastAccessedAt = now
	}
	if entry.AccessCount == 0 {
		entry.AccessCount = 1
	}
	if entry.SizeBytes > c.maxBytes {
		c.logger.Debug("entry exceeds tier budget", "key", entry.Key.String(), "size", entry.SizeBytes, "max_bytes", c.maxBytes)
		return false
	}

	data, err := encodeRecord(entry, c.ct, c.codec)
	if err != nil {
		c.ioError("encode", entry.Key.String(), err)
		return false
	}
	if err := c.rc.WaitIO(ctx, len(data)); err != nil {
		c.ioError("write", entry.Key.String(), err)
		return false
	}

	// The blob is written outside the lock so a slow store never stalls
	// lookups of other keys. Indexing and eviction share one critical
	// section; evicted blobs are deleted after it.
	name := blobName(entry.Key)
	if err := c.store.Put(ctx, name, data); err != nil {
		c.ioError("write", entry.Key.String(), err)
		return false
	}

	c.mu.Lock()
	if old, ok := c.index[entry.Key]; ok {
		c.size -= old.meta.SizeBytes
	}
	meta := entry
	meta.Payload = nil
	c.index[entry.Key] = &indexEntry{meta: meta, blob: name}
	c.size += meta.SizeBytes
	c.resident.add(entry.Key)
	doomed := c.evictLocked(entry.Key, true)
	c.mu.Unlock()

	c.deleteBlobs(ctx, doomed)
	return true
}

// Delete removes key. It reports whether the key was indexed.
func (c *PersistentCache) Delete(ctx context.Context, key model.Key) bool {
	c.mu.Lock()
	ie, ok := c.removeLocked(key)
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.deleteBlobs(ctx, []*indexEntry{ie})
	return true
}

// DeleteBySource removes every entry of sourceID and returns how many were removed.
func (c *PersistentCache) DeleteBySource(ctx context.Context, sourceID string) int {
	c.mu.Lock()
	var doomed []*indexEntry
	for _, k := range c.resident.keys(sourceID) {
		if ie, ok := c.removeLocked(k); ok {
			doomed = append(doomed, ie)
		}
	}
	c.mu.Unlock()

	c.deleteBlobs(ctx, doomed)
	return len(doomed)
}

// Clear removes all entries and the index snapshot.
func (c *PersistentCache) Clear(ctx context.Context) {
	c.mu.Lock()
	doomed := make([]*indexEntry, 0, len(c.index))
	for k := range c.index {
		if ie, ok := c.removeLocked(k); ok {
			doomed = append(doomed, ie)
		}
	}
	c.mu.Unlock()

	c.deleteBlobs(ctx, doomed)
	if err := c.store.Delete(ctx, indexBlobName); err != nil {
		c.ioError("delete", indexBlobName, err)
	}
}

// Keys returns indexed keys ordered by descending score.
func (c *PersistentCache) Keys() []model.Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	ranked := c.rankedLocked()
	keys := make([]model.Key, len(ranked))
	for i := range ranked {
		keys[len(ranked)-1-i] = ranked[i].meta.Key
	}
	return keys
}

// Len returns the number of indexed entries.
func (c *PersistentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Resident returns the indices of sourceID in [start, end] held by this tier.
func (c *PersistentCache) Resident(sourceID string, start, end uint32) *roaring.Bitmap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident.snapshot(sourceID, start, end)
}

// Score returns the current eviction score of key.
func (c *PersistentCache) Score(key model.Key) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ie, ok := c.index[key]
	if !ok {
		return 0, false
	}
	return Score(ie.meta.AccessCount, ie.meta.LastAccessedAt, c.now(), c.horizon), true
}

// WarmCandidates returns up to n keys accessed within the warm window,
// highest score first.
func (c *PersistentCache) WarmCandidates(n int) []model.Key {
	if n <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	ranked := c.rankedLocked()
	out := make([]model.Key, 0, min(n, len(ranked)))
	for i := len(ranked) - 1; i >= 0 && len(out) < n; i-- {
		if now.Sub(ranked[i].meta.LastAccessedAt) <= c.warm {
			out = append(out, ranked[i].meta.Key)
		}
	}
	return out
}

// Stats returns a snapshot of the tier statistics.
func (c *PersistentCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:             len(c.index),
		MaxSize:          c.maxItems,
		Hits:             c.hits,
		Misses:           c.misses,
		HitRate:          hitRate(c.hits, c.misses),
		MemoryUsageBytes: c.size,
		MaxBytes:         c.maxBytes,
		Evictions:        c.evictions,
	}
}

// IOErrors returns the number of absorbed backing store failures.
func (c *PersistentCache) IOErrors() uint64 {
	return c.ioErrors.Load()
}

// rankedLocked returns index entries by ascending score; ties put the
// older LastAccessedAt first, then the key string for determinism.
func (c *PersistentCache) rankedLocked() []*indexEntry {
	now := c.now()
	type scored struct {
		ie    *indexEntry
		score float64
	}
	all := make([]scored, 0, len(c.index))
	for _, ie := range c.index {
		all = append(all, scored{ie, Score(ie.meta.AccessCount, ie.meta.LastAccessedAt, now, c.horizon)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score < all[j].score
		}
		ai, aj := all[i].ie.meta.LastAccessedAt, all[j].ie.meta.LastAccessedAt
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return all[i].ie.meta.Key.String() < all[j].ie.meta.Key.String()
	})
	out := make([]*indexEntry, len(all))
	for i := range all {
		out[i] = all[i].ie
	}
	return out
}

// evictLocked restores both bounds. The lowest scores go first until the
// item bound holds, then the oldest CreatedAt until the byte budget holds.
// The entry just written (keep) is never chosen while others remain. It
// returns the evicted entries; their blobs are the caller's to delete.
func (c *PersistentCache) evictLocked(keep model.Key, hasKeep bool) []*indexEntry {
	var doomed []*indexEntry
	if len(c.index) > c.maxItems {
		for _, ie := range c.rankedLocked() {
			if len(c.index) <= c.maxItems {
				break
			}
			if hasKeep && ie.meta.Key == keep {
				continue
			}
			doomed = append(doomed, c.evictOneLocked(ie, EvictCapacity))
		}
	}

	if c.size > c.maxBytes {
		byAge := make([]*indexEntry, 0, len(c.index))
		for _, ie := range c.index {
			byAge = append(byAge, ie)
		}
		sort.Slice(byAge, func(i, j int) bool {
			ai, aj := byAge[i].meta.CreatedAt, byAge[j].meta.CreatedAt
			if !ai.Equal(aj) {
				return ai.Before(aj)
			}
			return byAge[i].meta.Key.String() < byAge[j].meta.Key.String()
		})
		for _, ie := range byAge {
			if c.size <= c.maxBytes {
				break
			}
			if hasKeep && ie.meta.Key == keep {
				continue
			}
			doomed = append(doomed, c.evictOneLocked(ie, EvictBytes))
		}
	}
	return doomed
}

func (c *PersistentCache) evictOneLocked(ie *indexEntry, reason EvictReason) *indexEntry {
	c.removeLocked(ie.meta.Key)
	c.evictions++
	c.logger.Debug("persistent cache eviction", "key", ie.meta.Key.String(), "reason", reason.String())
	if c.onEvict != nil {
		c.onEvict(ie.meta.Key, ie.meta.SizeBytes, reason)
	}
	return ie
}

// removeLocked unindexes key. It performs no IO.
func (c *PersistentCache) removeLocked(key model.Key) (*indexEntry, bool) {
	ie, ok := c.index[key]
	if !ok {
		return nil, false
	}
	delete(c.index, key)
	c.resident.remove(key)
	c.size -= ie.meta.SizeBytes
	return ie, true
}

// deleteBlobs removes the records of unindexed entries. Call without c.mu.
func (c *PersistentCache) deleteBlobs(ctx context.Context, doomed []*indexEntry) {
	for _, ie := range doomed {
		if err := c.store.Delete(ctx, ie.blob); err != nil {
			c.ioError("delete", ie.meta.Key.String(), err)
		}
	}
}

// snapshotEntry is one index record in the snapshot blob.
type snapshotEntry struct {
	Blob string `json:"blob"`
	recordMeta
}

type indexSnapshot struct {
	Version int             `json:"version"`
	Entries []snapshotEntry `json:"entries"`
}

// Flush writes the index snapshot so the next open skips the record scan
// and keeps access statistics. A tier whose index could not be rebuilt at
// open keeps the existing snapshot.
func (c *PersistentCache) Flush(ctx context.Context) error {
	if c.partial.Load() {
		c.logger.Warn("persistent index incomplete, keeping existing snapshot")
		return nil
	}

	c.mu.Lock()
	snap := indexSnapshot{Version: snapshotVersion, Entries: make([]snapshotEntry, 0, len(c.index))}
	for _, ie := range c.index {
		snap.Entries = append(snap.Entries, snapshotEntry{Blob: ie.blob, recordMeta: metaOf(ie.meta)})
	}
	c.mu.Unlock()

	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Blob < snap.Entries[j].Blob })

	data, err := c.codec.Marshal(snap)
	if err != nil {
		return c.ioError("flush", indexBlobName, err)
	}
	if err := c.store.Put(ctx, indexBlobName, data); err != nil {
		return c.ioError("flush", indexBlobName, err)
	}
	return nil
}

// load rebuilds the index from the snapshot, then reconciles it with the
// records actually present: snapshot entries without a record are dropped,
// records missing from the snapshot are scanned. An unlistable store
// leaves the tier empty; only cancellation of ctx is returned.
func (c *PersistentCache) load(ctx context.Context) error {
	names, err := c.store.List(ctx, recordPrefix)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.ioError("list", recordPrefix, err)
		c.partial.Store(true)
		return nil
	}
	present := make(map[string]struct{}, len(names))
	for _, n := range names {
		if strings.HasSuffix(n, recordSuffix) {
			present[n] = struct{}{}
		}
	}

	known := make(map[string]struct{})
	if snap, ok := c.readSnapshot(ctx); ok {
		for _, se := range snap.Entries {
			if _, ok := present[se.Blob]; !ok {
				continue
			}
			e, err := se.recordMeta.entry()
			if err != nil || blobName(e.Key) != se.Blob {
				continue
			}
			c.insertIndexLocked(e, se.Blob)
			known[se.Blob] = struct{}{}
		}
	}

	var toScan []string
	for n := range present {
		if _, ok := known[n]; !ok {
			toScan = append(toScan, n)
		}
	}
	sort.Strings(toScan)
	if len(toScan) == 0 {
		return nil
	}

	c.logger.Info("scanning persistent cache records", "records", len(toScan))

	metas := make([]model.Entry, len(toScan))
	valid := make([]bool, len(toScan))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.scanN)
	for i, name := range toScan {
		g.Go(func() error {
			data, err := blobstore.ReadAll(gctx, c.store, name)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.ioError("scan", name, err)
				return nil
			}
			e, err := decodeRecord(data, true)
			if err != nil || blobName(e.Key) != name {
				if err == nil {
					err = errors.New("record name does not match key")
				}
				c.ioError("scan", name, err)
				_ = c.store.Delete(gctx, name)
				return nil
			}
			metas[i], valid[i] = e, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range toScan {
		if valid[i] {
			c.insertIndexLocked(metas[i], toScan[i])
		}
	}
	return nil
}

func (c *PersistentCache) readSnapshot(ctx context.Context) (indexSnapshot, bool) {
	data, err := blobstore.ReadAll(ctx, c.store, indexBlobName)
	if err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			c.ioError("read", indexBlobName, err)
		}
		return indexSnapshot{}, false
	}
	var snap indexSnapshot
	if err := c.codec.Unmarshal(data, &snap); err != nil || snap.Version != snapshotVersion {
		if err == nil {
			err = fmt.Errorf("unsupported snapshot version %d", snap.Version)
		}
		c.ioError("decode", indexBlobName, err)
		return indexSnapshot{}, false
	}
	return snap, true
}

// insertIndexLocked is only called during load, before the cache is shared.
func (c *PersistentCache) insertIndexLocked(e model.Entry, blob string) {
	if old, ok := c.index[e.Key]; ok {
		c.size -= old.meta.SizeBytes
	}
	e.Payload = nil
	c.index[e.Key] = &indexEntry{meta: e, blob: blob}
	c.size += e.SizeBytes
	c.resident.add(e.Key)
}
