package framecache

import (
	"context"
	"errors"
	"image"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/framecache/blobstore"
	"github.com/hupe1980/framecache/generate"
	"github.com/hupe1980/framecache/model"
	"github.com/hupe1980/framecache/task"
	"github.com/hupe1980/framecache/worker"
)

// countingSource renders small synthetic frames and counts renders per key.
// When gate is set, renders wait for it to close.
type countingSource struct {
	inner generate.SyntheticSource
	gate  chan struct{}
	err   error

	mu    sync.Mutex
	calls map[model.Key]int
}

func newCountingSource() *countingSource {
	return &countingSource{
		inner: generate.SyntheticSource{Width: 32, Height: 18},
		calls: make(map[model.Key]int),
	}
}

func (s *countingSource) Frame(ctx context.Context, key model.Key) (image.Image, error) {
	s.mu.Lock()
	s.calls[key]++
	s.mu.Unlock()
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.inner.Frame(ctx, key)
}

func (s *countingSource) rendered(sourceID string) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint32
	for k := range s.calls {
		if k.SourceID == sourceID {
			out = append(out, k.Index)
		}
	}
	slices.Sort(out)
	return out
}

func (s *countingSource) maxCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := 0
	for _, n := range s.calls {
		m = max(m, n)
	}
	return m
}

func openCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := Open(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testEntry(src string, idx uint32, payload string) model.Entry {
	return model.NewEntry(model.NewKey(src, idx), model.ContentThumbnail, []byte(payload),
		model.Dimensions{Width: 64, Height: 36}, time.Now())
}

func rangeIndices(lo, hi uint32) []uint32 {
	var out []uint32
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

func TestOpen_InvalidOptions(t *testing.T) {
	_, err := Open(context.Background(), WithCompression("brotli"))
	assert.Error(t, err)

	_, err = Open(context.Background(), WithBackend(Local("")))
	assert.Error(t, err)

	_, err = Open(context.Background(), WithBackend(Remote(nil)))
	assert.Error(t, err)
}

func TestCache_SetGetRoundTrip(t *testing.T) {
	c := openCache(t, WithWorkers(1))
	ctx := context.Background()

	e := testEntry("vid", 1, "payload")
	require.NoError(t, c.Set(ctx, e))

	got, ok := c.Get(ctx, e.Key)
	require.True(t, ok)
	assert.Equal(t, e.Payload, got.Payload)
	assert.True(t, c.Has(e.Key))

	got.Payload[0] = 'X'
	again, _ := c.Get(ctx, e.Key)
	assert.Equal(t, []byte("payload"), again.Payload, "callers get copies")

	assert.True(t, c.Delete(ctx, e.Key))
	assert.False(t, c.Has(e.Key))
	assert.False(t, c.Delete(ctx, e.Key))
	_, ok = c.Get(ctx, e.Key)
	assert.False(t, ok)

	assert.ErrorIs(t, c.Set(ctx, model.Entry{}), ErrInvalidKey)
}

func TestCache_PromotesPersistentHit(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	c := openCache(t, WithWorkers(1), WithMetricsCollector(metrics))
	ctx := context.Background()

	e := testEntry("vid", 3, "abc")
	require.NoError(t, c.Set(ctx, e))
	require.True(t, c.memory.Delete(e.Key))

	got, ok := c.Get(ctx, e.Key)
	require.True(t, ok)
	assert.Equal(t, e.Payload, got.Payload)
	assert.True(t, c.memory.Has(e.Key), "promoted into memory tier")

	_, ok = c.Get(ctx, e.Key)
	require.True(t, ok)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.MemoryMisses)
	assert.Equal(t, int64(1), stats.PersistentHits)
	assert.Equal(t, int64(1), stats.MemoryHits)
}

func TestCache_ReadCacheServesPersistentReads(t *testing.T) {
	c := openCache(t, WithWorkers(1), WithReadCache(1<<20))
	ctx := context.Background()

	e := testEntry("vid", 3, "abc")
	require.NoError(t, c.Set(ctx, e))
	for range 2 {
		require.True(t, c.memory.Delete(e.Key))
		got, ok := c.Get(ctx, e.Key)
		require.True(t, ok)
		assert.Equal(t, e.Payload, got.Payload)
	}

	st := c.Stats().ReadCache
	require.NotNil(t, st)
	assert.Equal(t, uint64(1), st.Hits, "second persistent read served from the read cache")

	assert.Nil(t, openCache(t, WithWorkers(1)).Stats().ReadCache)
}

func TestCache_MemoryTierEvictsInInsertOrder(t *testing.T) {
	c := openCache(t, WithWorkers(1), WithMemoryCapacity(3, 1<<20))
	ctx := context.Background()

	for i, name := range []string{"A", "B", "C", "D"} {
		require.NoError(t, c.Set(ctx, testEntry(name, uint32(i), name)))
	}

	keys := c.memory.Keys()
	var names []string
	for _, k := range keys {
		names = append(names, k.SourceID)
	}
	assert.ElementsMatch(t, []string{"B", "C", "D"}, names)
	assert.True(t, c.Has(model.NewKey("A", 0)), "still in the persistent tier")
	assert.Equal(t, uint64(1), c.Stats().Memory.Evictions)
}

func TestCache_DeleteBySource(t *testing.T) {
	c := openCache(t, WithWorkers(1))
	ctx := context.Background()

	for i := range uint32(5) {
		require.NoError(t, c.Set(ctx, testEntry("v1", i, "x")))
	}
	require.NoError(t, c.Set(ctx, testEntry("v2", 0, "y")))
	c.memory.Delete(model.NewKey("v1", 4))

	assert.Equal(t, 5, c.DeleteBySource(ctx, "v1"))
	for i := range uint32(5) {
		assert.False(t, c.Has(model.NewKey("v1", i)))
	}
	assert.True(t, c.Has(model.NewKey("v2", 0)))
	assert.Equal(t, 0, c.DeleteBySource(ctx, "v1"))
}

func TestCache_Clear(t *testing.T) {
	c := openCache(t, WithWorkers(1))
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, testEntry("v", 0, "x")))

	c.Clear(ctx)
	assert.False(t, c.Has(model.NewKey("v", 0)))
	assert.Zero(t, c.Stats().Memory.Size)
	assert.Zero(t, c.Stats().Persistent.Size)
}

func TestCache_GenerateCoalesces(t *testing.T) {
	src := newCountingSource()
	src.gate = make(chan struct{})
	c := openCache(t, WithWorkers(2), WithFrameSource(src))
	ctx := context.Background()
	key := model.NewKey("vid", 9)

	f1, err := c.Generate(ctx, key, 0)
	require.NoError(t, err)
	f2, err := c.Generate(ctx, key, 5)
	require.NoError(t, err)
	assert.Same(t, f1, f2)
	assert.Equal(t, 1, c.Stats().InFlight)

	close(src.gate)
	res, err := worker.Await[task.ThumbnailResult](ctx, f1)
	require.NoError(t, err)
	assert.Equal(t, key, res.Key)

	require.Eventually(t, func() bool { return c.Stats().InFlight == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, c.Has(key))
	assert.Equal(t, 1, src.maxCalls())

	e, err := c.GetOrGenerate(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, res.Image, e.Payload)
	assert.Equal(t, uint64(1), c.Stats().Pool.Submitted)
}

func TestCache_GenerateCallerCancelDoesNotCancelTask(t *testing.T) {
	src := newCountingSource()
	src.gate = make(chan struct{})
	c := openCache(t, WithWorkers(1), WithFrameSource(src))
	key := model.NewKey("vid", 1)

	ctx, cancel := context.WithCancel(context.Background())
	f, err := c.Generate(ctx, key, 0)
	require.NoError(t, err)
	cancel()

	close(src.gate)
	_, err = f.Wait(context.Background())
	require.NoError(t, err)
}

func TestCache_GetOrGenerate(t *testing.T) {
	src := newCountingSource()
	c := openCache(t, WithWorkers(1), WithFrameSource(src), WithThumbnail(16, 16, 80))
	ctx := context.Background()
	key := model.NewKey("vid", 2)

	e, err := c.GetOrGenerate(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, key, e.Key)
	assert.Equal(t, model.ContentThumbnail, e.ContentType)
	assert.Equal(t, model.Dimensions{Width: 32, Height: 18}, e.Original)
	assert.NotEmpty(t, e.Payload)

	require.Eventually(t, func() bool { return c.Has(key) }, 5*time.Second, 5*time.Millisecond)
	_, err = c.GetOrGenerate(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, src.maxCalls())
}

func TestCache_FailedGenerationIsNotCached(t *testing.T) {
	src := newCountingSource()
	src.err = errors.New("decoder exploded")
	c := openCache(t, WithWorkers(1), WithFrameSource(src))
	ctx := context.Background()
	key := model.NewKey("vid", 4)

	_, err := c.GetOrGenerate(ctx, key, 0)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.False(t, IsRetryable(err))

	require.Eventually(t, func() bool { return c.Stats().InFlight == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, c.Has(key))

	src.err = nil
	_, err = c.GetOrGenerate(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, src.maxCalls(), "a retry regenerates")
}

func TestCache_PreloadSkipsCachedKeys(t *testing.T) {
	src := newCountingSource()
	c := openCache(t, WithWorkers(3), WithFrameSource(src), WithPreloadMargins(0, 0))
	ctx := context.Background()

	for i := uint32(105); i <= 107; i++ {
		require.NoError(t, c.Set(ctx, testEntry("v1", i, "cached")))
	}

	_, err := c.RequestPreload("v1", 100, 110, 5)
	require.NoError(t, err)

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, c.WaitPreloads(wctx))

	assert.Equal(t, []uint32{100, 101, 102, 103, 104, 108, 109, 110}, src.rendered("v1"))
	require.Eventually(t, func() bool { return c.Stats().InFlight == 0 }, 5*time.Second, 5*time.Millisecond)
	for i := uint32(100); i <= 110; i++ {
		assert.True(t, c.Has(model.NewKey("v1", i)), "key %d", i)
	}
}

func TestCache_OverlappingPreloadsGenerateOnce(t *testing.T) {
	src := newCountingSource()
	c := openCache(t, WithWorkers(4), WithFrameSource(src), WithPreloadMargins(0, 0))
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, r := range [][2]uint32{{0, 20}, {10, 30}, {5, 25}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.RequestPreload("vid", r[0], r[1], 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, c.WaitPreloads(wctx))

	assert.Equal(t, rangeIndices(0, 30), src.rendered("vid"))
	assert.Equal(t, 1, src.maxCalls())
	assert.Equal(t, uint64(31), c.Stats().Pool.Submitted)
}

func TestCache_PreloadVisibleRegion(t *testing.T) {
	src := newCountingSource()
	c := openCache(t, WithWorkers(2), WithFrameSource(src), WithPreloadMargins(2, 1), WithKeyRate(4))

	_, err := c.PreloadVisibleRegion("vid", 1, 2, 0)
	require.NoError(t, err)
	wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.WaitPreloads(wctx))

	assert.Equal(t, rangeIndices(3, 10), src.rendered("vid"))
}

func TestCache_CancelPreloads(t *testing.T) {
	src := newCountingSource()
	src.gate = make(chan struct{})
	c := openCache(t, WithWorkers(1), WithFrameSource(src), WithPreloadMargins(0, 0))

	_, err := c.RequestPreload("a", 0, 0, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(src.rendered("a")) == 1 }, 5*time.Second, 5*time.Millisecond)
	_, err = c.RequestPreload("b", 0, 3, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, c.CancelPreloads("b"))
	close(src.gate)

	wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.WaitPreloads(wctx))
	assert.Empty(t, src.rendered("b"))
}

func TestCache_CancelQueuedTask(t *testing.T) {
	src := newCountingSource()
	src.gate = make(chan struct{})
	c := openCache(t, WithWorkers(1), WithFrameSource(src))
	ctx := context.Background()

	running, err := c.Generate(ctx, model.NewKey("vid", 0), 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(src.rendered("vid")) == 1 }, 5*time.Second, 5*time.Millisecond)
	queued, err := c.Generate(ctx, model.NewKey("vid", 1), 0)
	require.NoError(t, err)

	assert.True(t, c.Cancel(queued.ID()))
	_, err = queued.Wait(ctx)
	assert.True(t, IsCancelled(err))

	close(src.gate)
	_, err = running.Wait(ctx)
	require.NoError(t, err)
	assert.False(t, c.Cancel(running.ID()), "completed tasks cannot be cancelled")
	assert.Equal(t, []uint32{0}, src.rendered("vid"))

	require.Eventually(t, func() bool { return c.Stats().InFlight == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, c.Has(model.NewKey("vid", 1)))
}

func TestCache_CancelAll(t *testing.T) {
	src := newCountingSource()
	src.gate = make(chan struct{})
	defer close(src.gate)
	c := openCache(t, WithWorkers(1), WithFrameSource(src))
	ctx := context.Background()

	for i := range uint32(3) {
		_, err := c.Generate(ctx, model.NewKey("vid", i), 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, c.CancelAll())
	require.Eventually(t, func() bool { return c.Stats().InFlight == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.Stats().Pool.LiveWorkers)
}

func TestCache_Execute(t *testing.T) {
	c := openCache(t, WithWorkers(1), WithFrameSource(newCountingSource()))
	ctx := context.Background()

	thumb, err := c.GetOrGenerate(ctx, model.NewKey("vid", 0), 0)
	require.NoError(t, err)

	f, err := c.Execute(ctx, task.AnalyzePayload{Image: thumb.Payload}, 0)
	require.NoError(t, err)
	res, err := worker.Await[task.AnalyzeResult](ctx, f)
	require.NoError(t, err)
	assert.Equal(t, thumb.Original, res.Size)
	assert.GreaterOrEqual(t, res.Report.Score, 0.0)
}

func TestCache_WarmAfterReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c, err := Open(ctx, WithBackend(Local(dir)), WithWorkers(1), WithMemoryCapacity(10, 1<<20))
	require.NoError(t, err)
	for i := range uint32(8) {
		require.NoError(t, c.Set(ctx, testEntry("vid", i, "frame")))
	}
	require.NoError(t, c.Close())

	c = openCache(t, WithBackend(Local(dir)), WithWorkers(1), WithMemoryCapacity(10, 1<<20))
	assert.Equal(t, 8, c.Stats().Persistent.Size)
	assert.Zero(t, c.Stats().Memory.Size)

	n, err := c.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n, "warm fills at most half of the memory tier")
	assert.Equal(t, 5, c.Stats().Memory.Size)

	got, ok := c.Get(ctx, model.NewKey("vid", 3))
	require.True(t, ok)
	assert.Equal(t, []byte("frame"), got.Payload)
}

func TestCache_WarmOnOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c, err := Open(ctx, WithBackend(Local(dir)), WithWorkers(1))
	require.NoError(t, err)
	for i := range uint32(3) {
		require.NoError(t, c.Set(ctx, testEntry("vid", i, "frame")))
	}
	require.NoError(t, c.Close())

	c = openCache(t, WithBackend(Local(dir)), WithWorkers(1), WithWarmOnOpen())
	assert.Equal(t, 3, c.Stats().Memory.Size)
	assert.Zero(t, c.Stats().Memory.Hits)
}

func TestCache_BadgerBackendPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c, err := Open(ctx, WithBackend(Badger(dir)), WithWorkers(1), WithCompression("zstd"))
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, testEntry("vid", 1, "badger")))
	require.NoError(t, c.Close())

	c = openCache(t, WithBackend(Badger(dir)), WithWorkers(1), WithCompression("zstd"))
	got, ok := c.Get(ctx, model.NewKey("vid", 1))
	require.True(t, ok)
	assert.Equal(t, []byte("badger"), got.Payload)
}

func TestCache_PersistentFailuresAreAbsorbed(t *testing.T) {
	store := blobstore.NewFaultyStore(nil)
	metrics := &BasicMetricsCollector{}
	c := openCache(t, WithBackend(Remote(store)), WithWorkers(1), WithMetricsCollector(metrics))
	ctx := context.Background()

	store.FailAll(blobstore.Fault{Ops: []blobstore.Op{blobstore.OpPut}})
	e := testEntry("vid", 0, "x")
	require.NoError(t, c.Set(ctx, e))

	got, ok := c.Get(ctx, e.Key)
	require.True(t, ok, "served from the memory tier")
	assert.Equal(t, e.Payload, got.Payload)
	assert.Positive(t, c.Stats().CacheIOErrors)
	assert.Positive(t, metrics.GetStats().CacheIOErrors)
}

func TestCache_OpensOverUnlistableBackend(t *testing.T) {
	store := blobstore.NewFaultyStore(nil)
	store.FailAll(blobstore.Fault{Ops: []blobstore.Op{blobstore.OpList}})
	c := openCache(t, WithBackend(Remote(store)), WithWorkers(1), WithFrameSource(newCountingSource()))
	ctx := context.Background()

	assert.Equal(t, uint64(1), c.Stats().CacheIOErrors)
	assert.Zero(t, c.Stats().Persistent.Size)

	key := model.NewKey("vid", 3)
	_, err := c.GetOrGenerate(ctx, key, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Has(key) }, 5*time.Second, 5*time.Millisecond)
}

func TestCache_RemovalDropsGenerationInFlight(t *testing.T) {
	for name, remove := range map[string]func(c *Cache, key model.Key){
		"delete":           func(c *Cache, key model.Key) { c.Delete(context.Background(), key) },
		"delete by source": func(c *Cache, key model.Key) { c.DeleteBySource(context.Background(), key.SourceID) },
		"clear":            func(c *Cache, _ model.Key) { c.Clear(context.Background()) },
	} {
		t.Run(name, func(t *testing.T) {
			src := newCountingSource()
			src.gate = make(chan struct{})
			c := openCache(t, WithWorkers(1), WithFrameSource(src))
			ctx := context.Background()
			key := model.NewKey("vid", 1)

			f, err := c.Generate(ctx, key, 0)
			require.NoError(t, err)
			c.mu.Lock()
			fl := c.inflight[key]
			c.mu.Unlock()
			require.NotNil(t, fl)

			remove(c, key)
			assert.Zero(t, c.Stats().InFlight)

			close(src.gate)
			res, err := worker.Await[task.ThumbnailResult](ctx, f)
			require.NoError(t, err, "callers still receive the result")
			assert.Equal(t, key, res.Key)
			<-fl.settled

			assert.False(t, c.Has(key))
			assert.Zero(t, c.Stats().Memory.Size)
			assert.Zero(t, c.Stats().Persistent.Size)

			// A new request generates afresh and is cached.
			_, err = c.GetOrGenerate(ctx, key, 0)
			require.NoError(t, err)
			require.Eventually(t, func() bool { return c.Has(key) }, 5*time.Second, 5*time.Millisecond)
			assert.Equal(t, 2, src.maxCalls())
		})
	}
}

func TestCache_Close(t *testing.T) {
	c, err := Open(context.Background(), WithWorkers(1))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	ctx := context.Background()
	assert.ErrorIs(t, c.Set(ctx, testEntry("v", 0, "x")), ErrClosed)
	_, err = c.Generate(ctx, model.NewKey("v", 0), 0)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Execute(ctx, task.AnalyzePayload{}, 0)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.RequestPreload("v", 0, 1, 0)
	assert.ErrorIs(t, err, ErrPreloadClosed)
	_, err = c.Warm(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, ok := c.Get(ctx, model.NewKey("v", 0))
	assert.False(t, ok)
}
