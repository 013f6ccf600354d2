package task

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the handler a task is dispatched to.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeThumbnail
	TypeFrameRange
	TypeOptimize
	TypeAnalyze
)

// String returns the stable name of the type.
func (t Type) String() string {
	switch t {
	case TypeThumbnail:
		return "thumbnail"
	case TypeFrameRange:
		return "frame_range"
	case TypeOptimize:
		return "optimize"
	case TypeAnalyze:
		return "analyze"
	default:
		return "unknown"
	}
}

// Status is a task lifecycle state. Queued -> Running -> {Completed, Failed,
// Cancelled}; a queued task may also go straight to Cancelled.
type Status uint8

const (
	StatusQueued Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s >= StatusCompleted
}

// CanTransition reports whether s -> next is a legal lifecycle step.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// ID uniquely identifies a task.
type ID string

// NewID returns a random task id.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string { return string(id) }

// Payload is the input of a task. The set of implementations is closed.
type Payload interface {
	Type() Type
	Clone() Payload
	isPayload()
}

// Result is the output of a task. The set of implementations is closed.
type Result interface {
	Type() Type
	Clone() Result
	isResult()
}

// Task is a unit of background work.
type Task struct {
	ID        ID
	Type      Type
	Payload   Payload
	Priority  int
	CreatedAt time.Time
}
