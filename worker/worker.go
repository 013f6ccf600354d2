package worker

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// worker is one execution goroutine. It handles one Request at a time and
// exits when its request channel is closed or a handler crashes it.
type worker struct {
	id   int
	reqs chan Request
}

func newWorker(id int) *worker {
	return &worker{id: id, reqs: make(chan Request, 1)}
}

func (w *worker) run(reg *Registry, out chan<- Response, done <-chan struct{}, logger *slog.Logger) {
	for req := range w.reqs {
		if !w.handle(req, reg, out, done, logger) {
			return
		}
	}
}

// handle runs one request. It returns false if the worker crashed.
func (w *worker) handle(req Request, reg *Registry, out chan<- Response, done <-chan struct{}, logger *slog.Logger) (alive bool) {
	send := func(r Response) {
		r.WorkerID = w.id
		r.ID = req.ID
		select {
		case out <- r:
		case <-done:
		}
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		// recover returns nil for runtime.Goexit; the goroutine ends regardless.
		var cause error = ErrWorkerExited
		if v := recover(); v != nil {
			cause = &PanicError{Value: v, Stack: debug.Stack()}
		}
		logger.Error("worker crashed", "worker_id", w.id, "task_id", req.ID.String(), "task_type", req.Type.String(), "error", cause)
		send(Response{Status: ResponseCrashed, Err: cause})
		alive = false
	}()

	h, ok := reg.Lookup(req.Type)
	if !ok {
		finished = true
		send(Response{Status: ResponseError, Err: fmt.Errorf("%w: %s", ErrUnknownTaskType, req.Type)})
		return true
	}

	progress := func(p int) {
		send(Response{Status: ResponseProgress, Progress: min(max(p, 0), 100)})
	}

	res, err := h(req.Ctx, req.Payload.Clone(), progress)
	finished = true

	switch {
	case err != nil:
		send(Response{Status: ResponseError, Err: err})
	case res == nil:
		send(Response{Status: ResponseError, Err: ErrEmptyResult})
	case res.Type() != req.Type:
		send(Response{Status: ResponseError, Err: fmt.Errorf("handler for %s returned %s result", req.Type, res.Type())})
	default:
		send(Response{Status: ResponseCompleted, Result: res.Clone()})
	}
	return true
}
