package framecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/framecache/blobstore"
	"github.com/hupe1980/framecache/cache"
	"github.com/hupe1980/framecache/generate"
	"github.com/hupe1980/framecache/model"
	"github.com/hupe1980/framecache/preload"
	"github.com/hupe1980/framecache/resource"
	"github.com/hupe1980/framecache/task"
	"github.com/hupe1980/framecache/worker"
)

// Tier names used in metrics and logs.
const (
	TierMemory     = "memory"
	TierPersistent = "persistent"
)

// warmConcurrency bounds parallel reads during Warm.
const warmConcurrency = 4

// Stats is a snapshot of every component.
type Stats struct {
	Memory     cache.Stats    `json:"memory"`
	Persistent cache.Stats    `json:"persistent"`
	Pool       worker.Stats   `json:"pool"`
	Preload    preload.Stats  `json:"preload"`
	Resources  resource.Stats `json:"resources"`
	// InFlight counts keys with a generation task not yet settled.
	InFlight int `json:"inFlight"`
	// CacheIOErrors counts absorbed persistent tier failures.
	CacheIOErrors uint64 `json:"cacheIOErrors"`
	// ReadCache is set when a backend read cache is configured.
	ReadCache *blobstore.CachingStats `json:"readCache,omitempty"`
}

// Cache is the frame cache service: a memory tier in front of a persistent
// tier, a worker pool generating misses and a preload scheduler.
//
// A Cache is safe for concurrent use. Construct one per process with Open
// and pass it to the components that need it.
type Cache struct {
	opts    options
	logger  *Logger
	metrics MetricsCollector

	store       blobstore.BlobStore
	storeCloser io.Closer
	readCache   *blobstore.CachingStore
	rc          *resource.Controller
	memory      *cache.MemoryCache
	persistent  *cache.PersistentCache
	pool        *worker.Pool
	preloader   *preload.Scheduler
	unsubscribe func()

	loads singleflight.Group

	mu       sync.Mutex
	inflight map[model.Key]*flight
	settling sync.WaitGroup

	// invalidating is held for writing while keys are removed, and for
	// reading while a settled generation is cached.
	invalidating sync.RWMutex

	closed atomic.Bool
}

// Open builds a Cache. The persistent tier index is rebuilt from the
// backend before Open returns; with WithWarmOnOpen the memory tier is
// warmed from it as well.
func Open(ctx context.Context, optFns ...Option) (*Cache, error) {
	o := applyOptions(optFns)
	if o.err != nil {
		return nil, o.err
	}
	if o.backend.open == nil {
		o.backend = InMemory()
	}

	c := &Cache{
		opts:     o,
		logger:   o.logger,
		metrics:  o.metricsCollector,
		inflight: make(map[model.Key]*flight),
	}

	store, closer, err := o.backend.open(ctx)
	if err != nil {
		return nil, err
	}
	if o.readCacheBytes > 0 {
		cs, err := blobstore.NewCachingStore(store, o.readCacheBytes)
		if err != nil {
			if closer != nil {
				_ = closer.Close()
			}
			return nil, fmt.Errorf("framecache: read cache: %w", err)
		}
		c.readCache = cs
		store, closer = cs, closers{cs, closer}
	}
	c.store, c.storeCloser = store, closer

	c.rc = resource.NewController(resource.Config{
		MemoryLimitBytes:    o.memoryLimitBytes,
		MaxBackgroundWrites: o.maxBackgroundWrites,
		IOLimitBytesPerSec:  o.ioLimitBytesPerSec,
	})

	if err := c.init(ctx); err != nil {
		_ = c.shutdown(context.Background(), false)
		return nil, err
	}

	if o.warmOnOpen {
		if _, err := c.Warm(ctx); err != nil {
			c.logger.WarnContext(ctx, "warm on open failed", "error", err)
		}
	}

	c.logger.InfoContext(ctx, "framecache opened",
		"backend", o.backend.String(),
		"workers", o.workers,
		"persistent_entries", c.persistent.Len(),
	)
	return c, nil
}

func (c *Cache) init(ctx context.Context) error {
	o := c.opts
	var err error

	c.memory, err = cache.NewMemoryCache(cache.MemoryOptions{
		MaxItems: o.memoryMaxItems,
		MaxBytes: o.memoryMaxBytes,
		Resource: c.rc,
		OnEvict:  c.onEvict(TierMemory),
		Now:      o.now,
		Logger:   c.logger.With("tier", TierMemory),
	})
	if err != nil {
		return fmt.Errorf("framecache: memory tier: %w", err)
	}

	c.persistent, err = cache.NewPersistentCache(ctx, cache.PersistentOptions{
		Store:        c.store,
		MaxItems:     o.persistentMaxItems,
		MaxBytes:     o.persistentMaxBytes,
		DecayHorizon: o.decayHorizon,
		WarmWindow:   o.warmWindow,
		Compression:  o.compression,
		Codec:        o.codec,
		Resource:     c.rc,
		OnEvict:      c.onEvict(TierPersistent),
		OnIOError:    c.onIOError,
		Now:          o.now,
		Logger:       c.logger.With("tier", TierPersistent),
	})
	if err != nil {
		return fmt.Errorf("framecache: persistent tier: %w", err)
	}

	reg := generate.NewRegistry(generate.Options{
		Source:    o.source,
		MaxWidth:  o.thumbWidth,
		MaxHeight: o.thumbHeight,
		Quality:   o.quality,
		Logger:    c.logger.Logger,
	})
	c.pool, err = worker.NewPool(reg, worker.Options{
		Workers:      o.workers,
		CloseTimeout: o.closeTimeout,
		Logger:       c.logger.Logger,
		Now:          o.now,
	})
	if err != nil {
		return fmt.Errorf("framecache: worker pool: %w", err)
	}
	c.unsubscribe = c.pool.Subscribe(c.onTaskEvent)

	c.preloader, err = preload.New(preload.Options{
		Submitter:       c,
		Tiers:           []preload.Residency{c.memory, c.persistent},
		LeadingMargin:   o.leadingMargin,
		TrailingMargin:  o.trailingMargin,
		KeyRate:         o.keyRate,
		DefaultPriority: o.preloadPriority,
		KeysPerSecond:   o.preloadKeysPerSecond,
		OnComplete:      c.onPreload,
		Logger:          c.logger.Logger,
		Now:             o.now,
	})
	if err != nil {
		return fmt.Errorf("framecache: preload: %w", err)
	}
	return nil
}

func (c *Cache) onEvict(tier string) cache.EvictFunc {
	return func(key model.Key, sizeBytes int64, reason cache.EvictReason) {
		c.metrics.RecordEviction(tier, reason.String(), sizeBytes)
		c.logger.LogEviction(tier, key, sizeBytes, reason)
	}
}

func (c *Cache) onIOError(err *cache.CacheIOError) {
	c.metrics.RecordCacheIOError(err.Op)
	c.logger.LogCacheIO(err)
}

func (c *Cache) onTaskEvent(ev worker.Event) {
	if ev.Status.Terminal() {
		c.metrics.RecordTask(ev.Type.String(), ev.Status.String(), ev.Duration)
	}
}

func (c *Cache) onPreload(rep preload.Report) {
	c.metrics.RecordPreload(rep.Submitted, rep.Resident, rep.Failed, rep.Duration)
	c.logger.LogPreload(context.Background(), rep)
}

// Get returns the entry for key, consulting the memory tier first. A
// persistent tier hit is promoted into the memory tier. Concurrent misses
// for the same key share one persistent tier read.
func (c *Cache) Get(ctx context.Context, key model.Key) (model.Entry, bool) {
	if c.closed.Load() {
		return model.Entry{}, false
	}
	if e, ok := c.memory.Get(key); ok {
		c.metrics.RecordCacheLookup(TierMemory, true)
		return e, true
	}
	c.metrics.RecordCacheLookup(TierMemory, false)

	v, _, _ := c.loads.Do(key.String(), func() (any, error) {
		e, ok := c.persistent.Get(ctx, key)
		if !ok {
			return nil, nil
		}
		c.memory.Set(e)
		return e, nil
	})
	if v == nil {
		c.metrics.RecordCacheLookup(TierPersistent, false)
		return model.Entry{}, false
	}
	c.metrics.RecordCacheLookup(TierPersistent, true)
	return v.(model.Entry).Clone(), true
}

// Set writes entry to both tiers.
func (c *Cache) Set(ctx context.Context, entry model.Entry) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if entry.Key.SourceID == "" {
		return fmt.Errorf("%w: empty source id", ErrInvalidKey)
	}
	c.memory.Set(entry)
	c.persistent.Set(ctx, entry)
	return nil
}

// Has reports whether key is resident in either tier.
func (c *Cache) Has(key model.Key) bool {
	return c.memory.Has(key) || c.persistent.Has(key)
}

// Delete removes key from both tiers and reports whether it was present.
// A generation of key still in flight is not cached when it finishes.
func (c *Cache) Delete(ctx context.Context, key model.Key) bool {
	c.invalidating.Lock()
	defer c.invalidating.Unlock()
	c.abandonFlights(func(k model.Key) bool { return k == key })

	inMemory := c.memory.Delete(key)
	inPersistent := c.persistent.Delete(ctx, key)
	return inMemory || inPersistent
}

// DeleteBySource removes every entry of sourceID from both tiers and
// returns the number of distinct keys removed. Generations of sourceID
// still in flight are not cached when they finish.
func (c *Cache) DeleteBySource(ctx context.Context, sourceID string) int {
	c.invalidating.Lock()
	defer c.invalidating.Unlock()
	c.abandonFlights(func(k model.Key) bool { return k.SourceID == sourceID })

	resident := roaring.Or(
		c.memory.Resident(sourceID, 0, math.MaxUint32),
		c.persistent.Resident(sourceID, 0, math.MaxUint32),
	)
	c.memory.DeleteBySource(sourceID)
	c.persistent.DeleteBySource(ctx, sourceID)
	return int(resident.GetCardinality())
}

// Clear empties both tiers. Tasks and preloads keep running, but no
// generation in flight at the time of the call is cached.
func (c *Cache) Clear(ctx context.Context) {
	c.invalidating.Lock()
	defer c.invalidating.Unlock()
	c.abandonFlights(func(model.Key) bool { return true })

	c.memory.Clear()
	c.persistent.Clear(ctx)
}

// Stats returns a snapshot of every component.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	inflight := len(c.inflight)
	c.mu.Unlock()
	st := Stats{
		Memory:        c.memory.Stats(),
		Persistent:    c.persistent.Stats(),
		Pool:          c.pool.Stats(),
		Preload:       c.preloader.Stats(),
		Resources:     c.rc.Stats(),
		InFlight:      inflight,
		CacheIOErrors: c.persistent.IOErrors(),
	}
	if c.readCache != nil {
		rc := c.readCache.Stats()
		st.ReadCache = &rc
	}
	return st
}

// Subscribe registers fn for task lifecycle events.
func (c *Cache) Subscribe(fn func(worker.Event)) (unsubscribe func()) {
	return c.pool.Subscribe(fn)
}

// Generate starts a thumbnail task for key, or joins the one already in
// flight. The result is written to both tiers once the task completes;
// failures are not cached.
//
// The task outlives ctx: other callers may have joined it. Use Cancel with
// the future's ID to stop it.
func (c *Cache) Generate(ctx context.Context, key model.Key, priority int) (*worker.Future, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if key.SourceID == "" {
		return nil, fmt.Errorf("%w: empty source id", ErrInvalidKey)
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if fl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return fl.future, nil
	}
	f, err := c.pool.Execute(context.WithoutCancel(ctx), task.ThumbnailPayload{Key: key}, priority)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	fl := &flight{future: f, settled: make(chan struct{})}
	c.inflight[key] = fl
	c.settling.Add(1)
	c.mu.Unlock()

	go c.settle(key, fl)
	return f, nil
}

// flight is a generation task whose result is not yet cached.
type flight struct {
	future  *worker.Future
	settled chan struct{}
	// abandoned is set under Cache.mu once the key was removed while
	// the task ran. The result is then returned but never cached.
	abandoned bool
}

// abandonFlights detaches the flights of matching keys. A later Generate
// starts a fresh task instead of joining one whose result will be dropped.
func (c *Cache) abandonFlights(match func(model.Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, fl := range c.inflight {
		if match(k) {
			fl.abandoned = true
			delete(c.inflight, k)
		}
	}
}

// settle caches a finished generation and then releases its in-flight slot,
// so a key is always either resident or in flight until the task fails or
// the key is removed.
func (c *Cache) settle(key model.Key, fl *flight) {
	defer c.settling.Done()
	defer close(fl.settled)
	ctx := context.Background()
	f := fl.future

	res, err := worker.Await[task.ThumbnailResult](ctx, f)
	if err == nil {
		c.invalidating.RLock()
		c.mu.Lock()
		abandoned := fl.abandoned
		c.mu.Unlock()
		if !abandoned {
			entry := res.Entry(c.opts.now())
			c.memory.Set(entry)
			if err := c.rc.AcquireWrite(ctx); err == nil {
				c.persistent.Set(ctx, entry)
				c.rc.ReleaseWrite()
			}
		}
		c.invalidating.RUnlock()
	}
	c.logger.LogGenerate(ctx, key, f.ID(), err)

	c.mu.Lock()
	if c.inflight[key] == fl {
		delete(c.inflight, key)
	}
	c.mu.Unlock()
}

// GetOrGenerate returns the cached entry for key or generates it, waiting
// until the task finishes or ctx is done.
func (c *Cache) GetOrGenerate(ctx context.Context, key model.Key, priority int) (model.Entry, error) {
	if e, ok := c.Get(ctx, key); ok {
		return e, nil
	}
	f, err := c.Generate(ctx, key, priority)
	if err != nil {
		return model.Entry{}, err
	}
	res, err := worker.Await[task.ThumbnailResult](ctx, f)
	if err != nil {
		return model.Entry{}, err
	}
	return res.Entry(c.opts.now()), nil
}

// Execute submits an arbitrary task to the pool. Results are not cached.
// Cancelling ctx cancels the task.
func (c *Cache) Execute(ctx context.Context, payload task.Payload, priority int) (*worker.Future, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.pool.Execute(ctx, payload, priority)
}

// Cancel cancels a queued or running task. It reports false for unknown or
// finished tasks.
func (c *Cache) Cancel(id task.ID) bool {
	return c.pool.Cancel(id)
}

// CancelAll cancels every queued and running task and returns how many
// were cancelled.
func (c *Cache) CancelAll() int {
	return c.pool.CancelAll()
}

// RequestPreload queues frames [start, end] of sourceID for generation.
func (c *Cache) RequestPreload(sourceID string, start, end uint32, priority int) (string, error) {
	return c.preloader.RequestPreload(sourceID, start, end, priority)
}

// CancelPreloads drops queued preload requests for sourceID.
func (c *Cache) CancelPreloads(sourceID string) int {
	return c.preloader.CancelPreloads(sourceID)
}

// PreloadVisibleRegion queues the frames shown between visibleStart and
// visibleEnd seconds. keyRate <= 0 uses the configured rate.
func (c *Cache) PreloadVisibleRegion(sourceID string, visibleStart, visibleEnd, keyRate float64) (string, error) {
	return c.preloader.PreloadVisibleRegion(sourceID, visibleStart, visibleEnd, keyRate)
}

// WaitPreloads blocks until every queued preload has been processed and
// the generations it started are cached (or failed).
func (c *Cache) WaitPreloads(ctx context.Context) error {
	if err := c.preloader.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	pending := make([]*flight, 0, len(c.inflight))
	for _, fl := range c.inflight {
		pending = append(pending, fl)
	}
	c.mu.Unlock()

	for _, fl := range pending {
		select {
		case <-fl.settled:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Warm loads recently used persistent entries into the memory tier, highest
// score first, filling at most half of the memory tier. It returns the
// number of entries loaded.
func (c *Cache) Warm(ctx context.Context) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	maxItems, _ := c.memory.Capacity()
	keys := c.persistent.WarmCandidates(maxItems / 2)

	var loaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)
	for _, key := range keys {
		if c.memory.Has(key) {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if e, ok := c.persistent.Peek(gctx, key); ok && c.memory.Set(e) {
				loaded.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	n := int(loaded.Load())
	c.logger.InfoContext(ctx, "warm completed", "candidates", len(keys), "loaded", n)
	return n, err
}

// Flush persists the persistent tier index.
func (c *Cache) Flush(ctx context.Context) error {
	return c.persistent.Flush(ctx)
}

func (c *Cache) shutdown(ctx context.Context, flush bool) error {
	var errs []error
	if c.preloader != nil {
		errs = append(errs, c.preloader.Close())
	}
	if c.pool != nil {
		errs = append(errs, c.pool.Close())
	}
	// Generate registers settlers under mu after checking closed.
	c.mu.Lock()
	c.mu.Unlock() //nolint:staticcheck // barrier
	c.settling.Wait()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if flush && c.persistent != nil {
		if err := c.persistent.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("framecache: flush: %w", err))
		}
	}
	if c.storeCloser != nil {
		errs = append(errs, c.storeCloser.Close())
	}
	return errors.Join(errs...)
}
