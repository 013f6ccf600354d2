package preload

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/framecache/model"
	"github.com/hupe1980/framecache/task"
	"github.com/hupe1980/framecache/worker"
)

// harness runs a real pool whose thumbnail handler records keys. Keys of
// source "block" wait on gate.
type harness struct {
	pool *worker.Pool
	gate chan struct{}

	mu      sync.Mutex
	keys    []model.Key
	reports []Report
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{gate: make(chan struct{})}
	reg := worker.NewRegistry()
	worker.Register(reg, func(ctx context.Context, p task.ThumbnailPayload, _ worker.ProgressFunc) (task.ThumbnailResult, error) {
		h.mu.Lock()
		h.keys = append(h.keys, p.Key)
		h.mu.Unlock()
		if p.Key.SourceID == "block" {
			select {
			case <-h.gate:
			case <-ctx.Done():
				return task.ThumbnailResult{}, ctx.Err()
			}
		}
		return task.ThumbnailResult{Key: p.Key, Image: []byte{1}}, nil
	})
	pool, err := worker.NewPool(reg, worker.Options{Workers: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	h.pool = pool
	return h
}

func (h *harness) submitter() Submitter {
	return SubmitterFunc(func(ctx context.Context, key model.Key, priority int) (*worker.Future, error) {
		return h.pool.Execute(ctx, task.ThumbnailPayload{Key: key}, priority)
	})
}

func (h *harness) onComplete(r Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, r)
}

func (h *harness) submittedIndices(sourceID string) []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []uint32
	for _, k := range h.keys {
		if k.SourceID == sourceID {
			out = append(out, k.Index)
		}
	}
	slices.Sort(out)
	return out
}

func (h *harness) processed() []Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.reports)
}

type staticResidency map[string][]uint32

func (r staticResidency) Resident(sourceID string, start, end uint32) *roaring.Bitmap {
	bm := roaring.New()
	for _, i := range r[sourceID] {
		if i >= start && i <= end {
			bm.Add(i)
		}
	}
	return bm
}

func newScheduler(t *testing.T, opts Options) *Scheduler {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestScheduler_SkipsResidentKeys(t *testing.T) {
	h := newHarness(t)
	s := newScheduler(t, Options{
		Submitter:  h.submitter(),
		Tiers:      []Residency{staticResidency{"vid": {105, 106}}, staticResidency{"vid": {107}}},
		OnComplete: h.onComplete,
	})

	_, err := s.RequestPreload("vid", 100, 110, 0)
	require.NoError(t, err)
	waitIdle(t, s)

	assert.Equal(t, []uint32{100, 101, 102, 103, 104, 108, 109, 110}, h.submittedIndices("vid"))

	reps := h.processed()
	require.Len(t, reps, 1)
	assert.Equal(t, 11, reps[0].Wanted)
	assert.Equal(t, 3, reps[0].Resident)
	assert.Equal(t, 8, reps[0].Submitted)
	assert.Zero(t, reps[0].Failed)
}

func TestScheduler_Margins(t *testing.T) {
	h := newHarness(t)
	s := newScheduler(t, Options{
		Submitter:      h.submitter(),
		LeadingMargin:  3,
		TrailingMargin: 10,
		OnComplete:     h.onComplete,
	})

	_, err := s.RequestPreload("vid", 5, 7, 0)
	require.NoError(t, err)
	waitIdle(t, s)

	want := []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, want, h.submittedIndices("vid"))
}

func TestScheduler_ExpandClampsAtBounds(t *testing.T) {
	s := &Scheduler{opts: Options{LeadingMargin: 30, TrailingMargin: 10}}

	lo, hi := s.expand(3, 4)
	assert.Equal(t, uint32(0), lo)
	assert.Equal(t, uint32(34), hi)

	lo, hi = s.expand(100, ^uint32(0)-5)
	assert.Equal(t, uint32(90), lo)
	assert.Equal(t, ^uint32(0), hi)
}

func TestScheduler_PriorityOrder(t *testing.T) {
	h := newHarness(t)
	s := newScheduler(t, Options{Submitter: h.submitter(), OnComplete: h.onComplete})

	_, err := s.RequestPreload("block", 0, 0, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.submittedIndices("block")) == 1 }, 5*time.Second, 5*time.Millisecond)

	for _, r := range []struct {
		src string
		pri int
	}{{"low", 1}, {"high-a", 5}, {"mid", 3}, {"high-b", 5}} {
		_, err := s.RequestPreload(r.src, 0, 0, r.pri)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, s.Stats().Queued)
	assert.True(t, s.Stats().Processing)

	close(h.gate)
	waitIdle(t, s)

	var order []string
	for _, r := range h.processed() {
		order = append(order, r.Request.SourceID)
	}
	assert.Equal(t, []string{"block", "high-a", "high-b", "mid", "low"}, order)
	assert.Equal(t, uint64(5), s.Stats().Processed)
}

func TestScheduler_CancelPreloads(t *testing.T) {
	h := newHarness(t)
	s := newScheduler(t, Options{Submitter: h.submitter(), OnComplete: h.onComplete})

	_, err := s.RequestPreload("block", 0, 1, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.submittedIndices("block")) == 2 }, 5*time.Second, 5*time.Millisecond)

	_, err = s.RequestPreload("a", 0, 2, 0)
	require.NoError(t, err)
	_, err = s.RequestPreload("b", 0, 2, 0)
	require.NoError(t, err)
	_, err = s.RequestPreload("a", 10, 12, 0)
	require.NoError(t, err)

	pending := s.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, "a", pending[0].SourceID)
	assert.Equal(t, "b", pending[1].SourceID)

	assert.Equal(t, 2, s.CancelPreloads("a"))
	assert.Equal(t, 0, s.CancelPreloads("block"), "processing request is not queued")

	close(h.gate)
	waitIdle(t, s)

	assert.Empty(t, h.submittedIndices("a"))
	assert.Equal(t, []uint32{0, 1, 2}, h.submittedIndices("b"))
	assert.Len(t, h.processed(), 2)
}

func TestScheduler_CancelEverythingQueuedGoesIdle(t *testing.T) {
	h := newHarness(t)
	s := newScheduler(t, Options{Submitter: h.submitter()})

	_, err := s.RequestPreload("block", 0, 0, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.submittedIndices("block")) == 1 }, 5*time.Second, 5*time.Millisecond)
	_, err = s.RequestPreload("x", 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, s.CancelPreloads("x"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded, "still processing")

	close(h.gate)
	waitIdle(t, s)
}

func TestScheduler_PreloadVisibleRegion(t *testing.T) {
	h := newHarness(t)
	s := newScheduler(t, Options{
		Submitter:       h.submitter(),
		DefaultPriority: 7,
		OnComplete:      h.onComplete,
	})

	_, err := s.PreloadVisibleRegion("vid", 1.0, 2.0, 0)
	require.NoError(t, err)
	_, err = s.PreloadVisibleRegion("other", 1.55, 2.0, 10)
	require.NoError(t, err)
	waitIdle(t, s)

	reps := h.processed()
	require.Len(t, reps, 2)
	byID := map[string]Request{}
	for _, r := range reps {
		byID[r.Request.SourceID] = r.Request
	}
	assert.Equal(t, uint32(30), byID["vid"].Start)
	assert.Equal(t, uint32(60), byID["vid"].End)
	assert.Equal(t, 7, byID["vid"].Priority)
	assert.Equal(t, uint32(15), byID["other"].Start)
	assert.Equal(t, uint32(20), byID["other"].End)

	_, err = s.PreloadVisibleRegion("vid", 3, 2, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = s.PreloadVisibleRegion("vid", -1, 2, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestScheduler_InvalidRequests(t *testing.T) {
	h := newHarness(t)
	s := newScheduler(t, Options{Submitter: h.submitter(), MaxSpan: 100})

	_, err := s.RequestPreload("", 0, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = s.RequestPreload("vid", 5, 4, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = s.RequestPreload("vid", 0, 100, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = s.RequestPreload("vid", 0, 99, 0)
	assert.NoError(t, err)

	_, err = New(Options{})
	assert.ErrorIs(t, err, ErrNoSubmitter)
}

func TestScheduler_SubmitFailuresCounted(t *testing.T) {
	var mu sync.Mutex
	var reps []Report
	boom := errors.New("boom")
	s := newScheduler(t, Options{
		Submitter: SubmitterFunc(func(context.Context, model.Key, int) (*worker.Future, error) {
			return nil, boom
		}),
		OnComplete: func(r Report) {
			mu.Lock()
			reps = append(reps, r)
			mu.Unlock()
		},
	})

	_, err := s.RequestPreload("vid", 0, 4, 0)
	require.NoError(t, err)
	waitIdle(t, s)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reps, 1)
	assert.Equal(t, 5, reps[0].Failed)
	assert.Zero(t, reps[0].Submitted)
}

func TestScheduler_RateLimited(t *testing.T) {
	h := newHarness(t)
	s := newScheduler(t, Options{Submitter: h.submitter(), KeysPerSecond: 1000, Burst: 1})

	_, err := s.RequestPreload("vid", 0, 9, 0)
	require.NoError(t, err)
	waitIdle(t, s)
	assert.Len(t, h.submittedIndices("vid"), 10)
	assert.Equal(t, uint64(10), s.Stats().Submitted)
}

func TestScheduler_Close(t *testing.T) {
	h := newHarness(t)
	s, err := New(Options{Submitter: h.submitter()})
	require.NoError(t, err)

	_, err = s.RequestPreload("block", 0, 0, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.submittedIndices("block")) == 1 }, 5*time.Second, 5*time.Millisecond)
	_, err = s.RequestPreload("queued", 0, 0, 0)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	waitIdle(t, s)

	_, err = s.RequestPreload("vid", 0, 1, 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, h.submittedIndices("queued"))
	close(h.gate)
}
