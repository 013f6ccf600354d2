package worker

import (
	"context"

	"github.com/hupe1980/framecache/task"
)

// Request is sent from the coordinator to one worker.
type Request struct {
	Ctx     context.Context
	ID      task.ID
	Type    task.Type
	Payload task.Payload
}

// ResponseStatus is the kind of a worker Response.
type ResponseStatus uint8

const (
	ResponseProgress ResponseStatus = iota
	ResponseCompleted
	ResponseError
	ResponseCrashed
)

func (s ResponseStatus) String() string {
	switch s {
	case ResponseProgress:
		return "progress"
	case ResponseCompleted:
		return "completed"
	case ResponseError:
		return "error"
	case ResponseCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Response is sent from a worker to the coordinator.
type Response struct {
	WorkerID int
	ID       task.ID
	Status   ResponseStatus
	Progress int
	Result   task.Result
	Err      error
}
