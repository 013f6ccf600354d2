package preload

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hupe1980/framecache/internal/queue"
	"github.com/hupe1980/framecache/model"
	"github.com/hupe1980/framecache/worker"
)

// Request is a queued preload of frames [Start, End] of SourceID.
type Request struct {
	ID       string
	SourceID string
	Start    uint32
	End      uint32
	Priority int
}

// Report describes one processed request.
type Report struct {
	Request Request
	// Wanted counts keys after margin expansion.
	Wanted int
	// Resident counts wanted keys already cached.
	Resident int
	// Submitted counts keys handed to the submitter.
	Submitted int
	// Failed counts submissions or tasks that did not complete.
	Failed   int
	Duration time.Duration
}

// Stats is a snapshot of scheduler state.
type Stats struct {
	Queued     int    `json:"queued"`
	Processing bool   `json:"processing"`
	Processed  uint64 `json:"processed"`
	Submitted  uint64 `json:"submitted"`
}

// Scheduler queues and processes preload requests.
type Scheduler struct {
	opts    Options
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	queue      *queue.PriorityQueue[string, Request]
	processing bool
	busy       bool
	idle       chan struct{}
	closed     bool
	processed  uint64
	submitted  uint64

	wake chan struct{}
	wg   sync.WaitGroup
}

// New starts a scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Submitter == nil {
		return nil, ErrNoSubmitter
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		queue:  queue.New[string, Request](16),
		idle:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	close(s.idle)
	if opts.KeysPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.KeysPerSecond), opts.Burst)
	}

	s.wg.Add(1)
	go s.loop()
	return s, nil
}

// RequestPreload queues frames [start, end] of sourceID and returns the
// request id.
func (s *Scheduler) RequestPreload(sourceID string, start, end uint32, priority int) (string, error) {
	if sourceID == "" || start > end || uint64(end-start)+1 > uint64(s.opts.MaxSpan) {
		return "", ErrInvalidRange
	}
	req := Request{
		ID:       uuid.NewString(),
		SourceID: sourceID,
		Start:    start,
		End:      end,
		Priority: priority,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.queue.Push(req.ID, priority, req)
	s.markBusyLocked()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return req.ID, nil
}

// PreloadVisibleRegion queues the frames visible between visibleStart and
// visibleEnd (seconds) at keyRate keys per second. A non-positive keyRate
// uses the configured default.
func (s *Scheduler) PreloadVisibleRegion(sourceID string, visibleStart, visibleEnd, keyRate float64) (string, error) {
	if keyRate <= 0 || math.IsNaN(keyRate) || math.IsInf(keyRate, 0) {
		keyRate = s.opts.KeyRate
	}
	if math.IsNaN(visibleStart) || math.IsNaN(visibleEnd) || visibleStart < 0 || visibleEnd < visibleStart {
		return "", ErrInvalidRange
	}
	start := math.Floor(visibleStart * keyRate)
	end := math.Floor(visibleEnd * keyRate)
	if end > math.MaxUint32 {
		return "", ErrInvalidRange
	}
	return s.RequestPreload(sourceID, uint32(start), uint32(end), s.opts.DefaultPriority)
}

// CancelPreloads drops queued requests for sourceID and returns how many
// were dropped. A request already being processed is not affected.
func (s *Scheduler) CancelPreloads(sourceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := s.queue.RemoveFunc(func(_ string, r Request) bool { return r.SourceID == sourceID })
	if !s.processing && s.queue.Len() == 0 {
		s.markIdleLocked()
	}
	return len(dropped)
}

// Pending returns the queued requests in processing order.
func (s *Scheduler) Pending() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Drain and re-push keeps the heap's seq order.
	items := s.queue.Drain()
	for _, r := range items {
		s.queue.Push(r.ID, r.Priority, r)
	}
	return items
}

// Wait blocks until the queue is empty and no request is processing.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the scheduler state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Queued:     s.queue.Len(),
		Processing: s.processing,
		Processed:  s.processed,
		Submitted:  s.submitted,
	}
}

// Close drops queued requests and stops the dispatcher. The context handed
// to the submitter is cancelled, so the current request stops waiting on
// its tasks.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue.Drain()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.markIdleLocked()
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) markBusyLocked() {
	if !s.busy {
		s.busy = true
		s.idle = make(chan struct{})
	}
}

func (s *Scheduler) markIdleLocked() {
	if s.busy {
		s.busy = false
		close(s.idle)
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if s.closed {
				s.processing = false
				s.mu.Unlock()
				return
			}
			_, req, ok := s.queue.Pop()
			if !ok {
				s.processing = false
				s.markIdleLocked()
				s.mu.Unlock()
				break
			}
			s.processing = true
			s.mu.Unlock()

			rep := s.process(req)

			s.mu.Lock()
			s.processed++
			s.submitted += uint64(rep.Submitted)
			s.mu.Unlock()

			if s.opts.OnComplete != nil {
				s.opts.OnComplete(rep)
			}
		}
	}
}

// expand applies the margins to [start, end], clamping at the uint32 bounds.
func (s *Scheduler) expand(start, end uint32) (uint32, uint32) {
	lo := start
	if lo >= s.opts.TrailingMargin {
		lo -= s.opts.TrailingMargin
	} else {
		lo = 0
	}
	hi := min(uint64(end)+uint64(s.opts.LeadingMargin), math.MaxUint32)
	return lo, uint32(hi)
}

// missing returns the indices of [lo, hi] not resident in any tier, and the
// number that were.
func (s *Scheduler) missing(sourceID string, lo, hi uint32) (*roaring.Bitmap, int) {
	resident := roaring.New()
	for _, t := range s.opts.Tiers {
		if t == nil {
			continue
		}
		resident.Or(t.Resident(sourceID, lo, hi))
	}
	want := roaring.New()
	want.AddRange(uint64(lo), uint64(hi)+1)
	want.AndNot(resident)
	return want, int(resident.GetCardinality())
}

func (s *Scheduler) process(req Request) Report {
	started := s.opts.Now()
	log := s.opts.Logger.With("request_id", req.ID, "source_id", req.SourceID)

	lo, hi := s.expand(req.Start, req.End)
	want, resident := s.missing(req.SourceID, lo, hi)
	rep := Report{
		Request:  req,
		Wanted:   int(uint64(hi)-uint64(lo)) + 1,
		Resident: resident,
	}

	futures := make([]*worker.Future, 0, want.GetCardinality())
	it := want.Iterator()
	for it.HasNext() {
		key := model.NewKey(req.SourceID, it.Next())
		if s.limiter != nil {
			if err := s.limiter.Wait(s.ctx); err != nil {
				break
			}
		}
		f, err := s.opts.Submitter.Generate(s.ctx, key, req.Priority)
		if err != nil {
			rep.Failed++
			log.Warn("preload submit failed", "key", key.String(), "error", err)
			continue
		}
		futures = append(futures, f)
	}
	rep.Submitted = len(futures)

	for _, f := range futures {
		if _, err := f.Wait(s.ctx); err != nil {
			rep.Failed++
			if s.ctx.Err() != nil {
				break
			}
		}
	}

	rep.Duration = s.opts.Now().Sub(started)
	log.Debug("preload processed",
		"start", lo, "end", hi, "wanted", rep.Wanted, "resident", rep.Resident,
		"submitted", rep.Submitted, "failed", rep.Failed, "duration", rep.Duration)
	return rep
}
