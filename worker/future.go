package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/framecache/task"
)

// Future is the outcome of a submitted task. It settles exactly once.
type Future struct {
	id   task.ID
	typ  task.Type
	done chan struct{}
	once sync.Once

	result task.Result
	err    error

	progress atomic.Int32
}

func newFuture(id task.ID, typ task.Type) *Future {
	return &Future{id: id, typ: typ, done: make(chan struct{})}
}

// ID returns the task id.
func (f *Future) ID() task.ID { return f.id }

// Type returns the task type.
func (f *Future) Type() task.Type { return f.typ }

// Done is closed when the task has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Progress returns the last reported progress.
func (f *Future) Progress() int { return int(f.progress.Load()) }

// Wait blocks until the task settles or ctx is done. A done ctx only stops
// waiting; it does not cancel the task.
func (f *Future) Wait(ctx context.Context) (task.Result, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the settled outcome. Each call returns its own copy of
// the result. Before settlement it returns (nil, nil).
func (f *Future) Result() (task.Result, error) {
	select {
	case <-f.done:
	default:
		return nil, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result.Clone(), nil
}

func (f *Future) resolve(r task.Result) bool {
	settled := false
	f.once.Do(func() {
		f.result = r
		f.progress.Store(100)
		settled = true
		close(f.done)
	})
	return settled
}

func (f *Future) reject(err error) bool {
	settled := false
	f.once.Do(func() {
		f.err = err
		settled = true
		close(f.done)
	})
	return settled
}

// Await waits for f and asserts the result type.
func Await[R task.Result](ctx context.Context, f *Future) (R, error) {
	var zero R
	res, err := f.Wait(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("worker: task %s returned %T, want %T", f.id, res, zero)
	}
	return typed, nil
}
