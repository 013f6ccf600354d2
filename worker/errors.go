package worker

import (
	"errors"
	"fmt"

	"github.com/hupe1980/framecache/task"
)

var (
	// ErrCancelled rejects the Future of a cancelled task.
	ErrCancelled = errors.New("worker: task cancelled")
	// ErrPoolClosed is returned by Execute after Close.
	ErrPoolClosed = errors.New("worker: pool closed")
	// ErrUnknownTaskType is returned for payloads without a registered handler.
	ErrUnknownTaskType = errors.New("worker: no handler registered for task type")
	// ErrNilPayload is returned by Execute for a nil payload.
	ErrNilPayload = errors.New("worker: nil payload")
	// ErrEmptyResult is the cause of a GenerationError when a handler
	// returned neither a result nor an error.
	ErrEmptyResult = errors.New("worker: handler returned no result")
	// ErrWorkerExited is the crash cause of a handler that terminated its goroutine.
	ErrWorkerExited = errors.New("worker: goroutine exited during task")
)

// GenerationError reports a handler failure.
type GenerationError struct {
	TaskID task.ID
	Type   task.Type
	Input  task.Payload
	Cause  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("worker: %s task %s failed: %v", e.Type, e.TaskID, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// WorkerCrashedError reports a task whose worker died while running it.
type WorkerCrashedError struct {
	TaskID   task.ID
	WorkerID int
	Cause    error
}

func (e *WorkerCrashedError) Error() string {
	return fmt.Sprintf("worker: worker %d crashed running task %s: %v", e.WorkerID, e.TaskID, e.Cause)
}

func (e *WorkerCrashedError) Unwrap() error { return e.Cause }

// PanicError carries the value and stack of a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
