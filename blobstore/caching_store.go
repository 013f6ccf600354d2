package blobstore

import (
	"context"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/hupe1980/framecache/internal/hash"
	"golang.org/x/sync/singleflight"
)

// generationSlots shards the write generations that guard cache fills.
const generationSlots = 256

// CachingStore wraps a BlobStore with a read cache of whole blobs, for
// backends where every read is a network round trip. Writes and deletes
// go to the inner store and then invalidate the cached copy. Concurrent
// misses for one blob share a single read.
type CachingStore struct {
	inner   BlobStore
	cache   *ristretto.Cache[string, []byte]
	maxBlob int64
	loads   singleflight.Group

	// gens[slot(name)] is bumped by every write of name. A fill that
	// raced a write is dropped.
	gens [generationSlots]atomic.Uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// CachingStats counts CachingStore lookups.
type CachingStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// NewCachingStore caches up to maxBytes of blob content read from inner.
// Blobs larger than an eighth of maxBytes are read through uncached.
func NewCachingStore(inner BlobStore, maxBytes int64) (*CachingStore, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	// Records are tens of KiB; ristretto wants about ten counters per item.
	counters := max(1000, 10*maxBytes/(16<<10))
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        counters,
		MaxCost:            maxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &CachingStore{
		inner:   inner,
		cache:   c,
		maxBlob: max(1, maxBytes/8),
	}, nil
}

func (s *CachingStore) generation(name string) *atomic.Uint64 {
	return &s.gens[hash.CRC32C([]byte(name))%generationSlots]
}

// Open serves name from the cache, filling it on a miss.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if data, ok := s.cache.Get(name); ok {
		s.hits.Add(1)
		return memoryBlob(data), nil
	}
	s.misses.Add(1)

	v, err, _ := s.loads.Do(name, func() (any, error) {
		return s.fill(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	if data, ok := v.([]byte); ok {
		return memoryBlob(data), nil
	}
	return s.inner.Open(ctx, name)
}

// fill reads name from the inner store and caches it. It returns nil
// without error for blobs too large to cache.
func (s *CachingStore) fill(ctx context.Context, name string) (any, error) {
	gen := s.generation(name)
	before := gen.Load()

	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()
	if b.Size() > s.maxBlob {
		return nil, nil
	}
	data, err := readBlob(ctx, name, b)
	if err != nil {
		return nil, err
	}

	if s.cache.Set(name, data, int64(len(data))) {
		s.cache.Wait()
		if gen.Load() != before {
			s.cache.Del(name)
		}
	}
	return data, nil
}

func (s *CachingStore) invalidate(name string) {
	s.generation(name).Add(1)
	s.cache.Del(name)
}

// Put writes through to the inner store.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	err := s.inner.Put(ctx, name, data)
	s.invalidate(name)
	return err
}

// Delete removes name from the inner store and the cache.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	err := s.inner.Delete(ctx, name)
	s.invalidate(name)
	return err
}

// List is not cached.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Stats returns the lookup counters.
func (s *CachingStore) Stats() CachingStats {
	return CachingStats{Hits: s.hits.Load(), Misses: s.misses.Load()}
}

// Close releases the cache. The inner store is left open.
func (s *CachingStore) Close() error {
	s.cache.Close()
	return nil
}

var _ BlobStore = (*CachingStore)(nil)
