package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/framecache/internal/queue"
	"github.com/hupe1980/framecache/task"
)

// Options configures a Pool.
type Options struct {
	// Workers is the number of worker goroutines. Defaults to NumCPU-1 (at least 1).
	Workers int
	// CloseTimeout bounds how long Close waits for workers whose handlers
	// ignore cancellation. Defaults to DefaultCloseTimeout.
	CloseTimeout time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// DefaultCloseTimeout is the default Options.CloseTimeout.
const DefaultCloseTimeout = 5 * time.Second

// DefaultWorkers returns the default pool size.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-1)
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Workers     int    `json:"workers"`
	LiveWorkers int    `json:"liveWorkers"`
	Idle        int    `json:"idle"`
	Busy        int    `json:"busy"`
	Queued      int    `json:"queued"`
	Submitted   uint64 `json:"submitted"`
	Completed   uint64 `json:"completed"`
	Failed      uint64 `json:"failed"`
	Cancelled   uint64 `json:"cancelled"`
	Crashed     uint64 `json:"crashed"`
}

type pending struct {
	task   task.Task
	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool // detaches the caller-context watcher
	future *Future
}

type running struct {
	*pending
	worker  *worker
	started time.Time
}

// Pool is a fixed-size worker pool with a stable priority queue.
type Pool struct {
	reg    *Registry
	size         int
	closeTimeout time.Duration
	logger       *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	closed  bool
	seq     int
	workers map[int]*worker
	idle    []*worker
	running map[task.ID]*running
	queued  *queue.PriorityQueue[task.ID, *pending]

	submitted, completed, failed, cancelled, crashed uint64

	responses chan Response
	done      chan struct{}
	wg        sync.WaitGroup // worker goroutines, retired ones included
	active    atomic.Int64
	collector sync.WaitGroup
	events    *eventBus
}

// NewPool starts a pool with opts.Workers workers.
func NewPool(reg *Registry, opts Options) (*Pool, error) {
	if reg == nil {
		return nil, errors.New("worker: nil registry")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}

	p := &Pool{
		reg:          reg,
		size:         opts.Workers,
		closeTimeout: opts.CloseTimeout,
		logger:       opts.Logger,
		now:          opts.Now,
		workers:      make(map[int]*worker, opts.Workers),
		running:      make(map[task.ID]*running),
		queued:       queue.New[task.ID, *pending](64),
		responses:    make(chan Response, opts.Workers*4),
		done:         make(chan struct{}),
		events:       newEventBus(),
	}

	p.mu.Lock()
	for range opts.Workers {
		p.spawnLocked()
	}
	p.mu.Unlock()

	p.collector.Add(1)
	go p.collect()

	return p, nil
}

// Subscribe registers fn for lifecycle events and returns a function that
// removes it. Events are delivered in order on a separate goroutine.
func (p *Pool) Subscribe(fn func(Event)) (unsubscribe func()) {
	return p.events.subscribe(fn)
}

// Execute submits a task. It never waits for the handler. If a worker is
// idle the task starts at once; otherwise it is queued by priority (higher
// first, FIFO among equals). Cancelling ctx cancels the task.
func (p *Pool) Execute(ctx context.Context, payload task.Payload, priority int) (*Future, error) {
	if payload == nil {
		return nil, ErrNilPayload
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	typ := payload.Type()
	if _, ok := p.reg.Lookup(typ); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, typ)
	}

	t := task.Task{
		ID:        task.NewID(),
		Type:      typ,
		Payload:   payload.Clone(),
		Priority:  priority,
		CreatedAt: p.now(),
	}
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pend := &pending{task: t, ctx: taskCtx, cancel: cancel, future: newFuture(t.ID, typ)}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		cancel()
		return nil, ErrPoolClosed
	}

	p.submitted++
	pend.stop = context.AfterFunc(ctx, func() { p.Cancel(t.ID) })
	p.queued.Push(t.ID, priority, pend)
	p.publish(pend, task.StatusQueued, 0, nil)
	p.logger.Debug("task queued", "task_id", t.ID.String(), "task_type", typ.String(), "priority", priority)
	p.dispatchLocked()

	return pend.future, nil
}

// Cancel cancels a queued or running task. It returns false if the task
// already settled or is unknown.
func (p *Pool) Cancel(id task.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelLocked(id)
}

func (p *Pool) cancelLocked(id task.ID) bool {
	if pend, ok := p.queued.Remove(id); ok {
		p.settleCancelledLocked(pend, 0, time.Time{})
		return true
	}
	if r, ok := p.running[id]; ok {
		delete(p.running, id)
		r.cancel()
		p.settleCancelledLocked(r.pending, r.worker.id, r.started)
		p.retireLocked(r.worker)
		if !p.closed {
			p.spawnLocked()
			p.dispatchLocked()
		}
		return true
	}
	return false
}

// CancelAll cancels every queued and running task and returns how many
// were cancelled.
func (p *Pool) CancelAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelAllLocked()
}

func (p *Pool) cancelAllLocked() int {
	n := 0
	for _, pend := range p.queued.Drain() {
		p.settleCancelledLocked(pend, 0, time.Time{})
		n++
	}
	for id := range p.running {
		if p.cancelLocked(id) {
			n++
		}
	}
	return n
}

func (p *Pool) settleCancelledLocked(pend *pending, workerID int, started time.Time) {
	pend.cancel()
	if pend.stop != nil {
		pend.stop()
	}
	if pend.future.reject(ErrCancelled) {
		p.cancelled++
		var d time.Duration
		if !started.IsZero() {
			d = p.now().Sub(started)
		}
		p.events.publish(Event{
			TaskID: pend.task.ID, Type: pend.task.Type, Status: task.StatusCancelled,
			Priority: pend.task.Priority, WorkerID: workerID, Duration: d, Err: ErrCancelled,
		})
		p.logger.Debug("task cancelled", "task_id", pend.task.ID.String(), "task_type", pend.task.Type.String(), "worker_id", workerID)
	}
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:     p.size,
		LiveWorkers: len(p.workers),
		Idle:        len(p.idle),
		Busy:        len(p.running),
		Queued:      p.queued.Len(),
		Submitted:   p.submitted,
		Completed:   p.completed,
		Failed:      p.failed,
		Cancelled:   p.cancelled,
		Crashed:     p.crashed,
	}
}

// LiveWorkerCount returns the number of live (non-retired) workers.
func (p *Pool) LiveWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close cancels all tasks and stops every worker. It waits up to
// Options.CloseTimeout for worker goroutines; a handler that ignores
// cancellation past that is abandoned and its result discarded.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cancelAllLocked()
	for _, w := range p.workers {
		p.retireLocked(w)
	}
	p.idle = nil
	p.mu.Unlock()

	close(p.done)
	if !p.waitWorkers(p.closeTimeout) {
		p.logger.Warn("abandoning workers that ignored cancellation",
			"workers", p.active.Load(), "timeout", p.closeTimeout)
	}
	p.collector.Wait()
	p.events.close()
	return nil
}

func (p *Pool) spawnLocked() {
	p.seq++
	w := newWorker(p.seq)
	p.workers[w.id] = w
	p.idle = append(p.idle, w)

	p.wg.Add(1)
	p.active.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.active.Add(-1)
		w.run(p.reg, p.responses, p.done, p.logger)
	}()
}

// waitWorkers waits for every worker goroutine to exit, or until timeout.
// It reports whether all of them exited.
func (p *Pool) waitWorkers(timeout time.Duration) bool {
	exited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(exited)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-exited:
		return true
	case <-t.C:
		return false
	}
}

// retireLocked detaches w. Its goroutine exits after the current handler returns.
func (p *Pool) retireLocked(w *worker) {
	if _, ok := p.workers[w.id]; !ok {
		return
	}
	delete(p.workers, w.id)
	close(w.reqs)
	for i, iw := range p.idle {
		if iw == w {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
}

func (p *Pool) dispatchLocked() {
	for len(p.idle) > 0 && p.queued.Len() > 0 {
		_, pend, _ := p.queued.Pop()
		w := p.idle[0]
		p.idle = p.idle[1:]

		r := &running{pending: pend, worker: w, started: p.now()}
		p.running[pend.task.ID] = r
		w.reqs <- Request{Ctx: pend.ctx, ID: pend.task.ID, Type: pend.task.Type, Payload: pend.task.Payload.Clone()}

		p.events.publish(Event{
			TaskID: pend.task.ID, Type: pend.task.Type, Status: task.StatusRunning,
			Priority: pend.task.Priority, WorkerID: w.id,
		})
		p.logger.Debug("task dispatched", "task_id", pend.task.ID.String(), "task_type", pend.task.Type.String(), "worker_id", w.id)
	}
}

func (p *Pool) publish(pend *pending, status task.Status, workerID int, err error) {
	p.events.publish(Event{
		TaskID: pend.task.ID, Type: pend.task.Type, Status: status,
		Priority: pend.task.Priority, WorkerID: workerID, Err: err,
	})
}

func (p *Pool) collect() {
	defer p.collector.Done()
	for {
		select {
		case resp := <-p.responses:
			p.handleResponse(resp)
		case <-p.done:
			return
		}
	}
}

func (p *Pool) handleResponse(resp Response) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, live := p.workers[resp.WorkerID]
	r, ok := p.running[resp.ID]
	if !live || !ok || r.worker != w {
		// Late message from a retired worker or for a cancelled task.
		return
	}

	if resp.Status == ResponseProgress {
		r.future.progress.Store(int32(resp.Progress))
		p.events.publish(Event{
			TaskID: r.task.ID, Type: r.task.Type, Status: task.StatusRunning,
			Priority: r.task.Priority, WorkerID: w.id, Progress: resp.Progress,
		})
		return
	}

	delete(p.running, resp.ID)
	r.cancel()
	if r.stop != nil {
		r.stop()
	}
	d := p.now().Sub(r.started)
	ev := Event{TaskID: r.task.ID, Type: r.task.Type, Priority: r.task.Priority, WorkerID: w.id, Duration: d}

	switch resp.Status {
	case ResponseCompleted:
		r.future.resolve(resp.Result)
		p.completed++
		ev.Status = task.StatusCompleted
		p.idle = append(p.idle, w)
		p.logger.Debug("task completed", "task_id", r.task.ID.String(), "task_type", r.task.Type.String(), "worker_id", w.id, "duration", d)

	case ResponseError:
		err := &GenerationError{TaskID: r.task.ID, Type: r.task.Type, Input: r.task.Payload.Clone(), Cause: resp.Err}
		r.future.reject(err)
		p.failed++
		ev.Status, ev.Err = task.StatusFailed, err
		p.idle = append(p.idle, w)
		p.logger.Warn("task failed", "task_id", r.task.ID.String(), "task_type", r.task.Type.String(), "worker_id", w.id, "error", resp.Err)

	case ResponseCrashed:
		err := &WorkerCrashedError{TaskID: r.task.ID, WorkerID: w.id, Cause: resp.Err}
		r.future.reject(err)
		p.failed++
		p.crashed++
		ev.Status, ev.Err = task.StatusFailed, err
		p.retireLocked(w)
		p.spawnLocked()
		p.logger.Warn("worker replaced after crash", "task_id", r.task.ID.String(), "worker_id", w.id, "error", resp.Err)
	}

	p.events.publish(ev)
	p.dispatchLocked()
}
