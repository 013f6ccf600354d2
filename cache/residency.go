package cache

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/framecache/model"
)

// residency tracks which indices of each source are resident in a tier.
// It is not safe for concurrent use; tiers guard it with their own mutex.
type residency struct {
	sources map[string]*roaring.Bitmap
}

func newResidency() *residency {
	return &residency{sources: make(map[string]*roaring.Bitmap)}
}

func (r *residency) add(k model.Key) {
	bm, ok := r.sources[k.SourceID]
	if !ok {
		bm = roaring.New()
		r.sources[k.SourceID] = bm
	}
	bm.Add(k.Index)
}

func (r *residency) remove(k model.Key) {
	bm, ok := r.sources[k.SourceID]
	if !ok {
		return
	}
	bm.Remove(k.Index)
	if bm.IsEmpty() {
		delete(r.sources, k.SourceID)
	}
}

// keys returns the resident keys of a source in ascending index order.
func (r *residency) keys(sourceID string) []model.Key {
	bm, ok := r.sources[sourceID]
	if !ok {
		return nil
	}
	out := make([]model.Key, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, model.NewKey(sourceID, it.Next()))
	}
	return out
}

// snapshot returns a copy of the resident indices of sourceID in [start, end].
func (r *residency) snapshot(sourceID string, start, end uint32) *roaring.Bitmap {
	bm, ok := r.sources[sourceID]
	if !ok || start > end {
		return roaring.New()
	}
	rng := roaring.New()
	rng.AddRange(uint64(start), uint64(end)+1)
	rng.And(bm)
	return rng
}

func (r *residency) clear() {
	r.sources = make(map[string]*roaring.Bitmap)
}
