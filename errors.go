package framecache

import (
	"context"
	"errors"

	"github.com/hupe1980/framecache/cache"
	"github.com/hupe1980/framecache/model"
	"github.com/hupe1980/framecache/preload"
	"github.com/hupe1980/framecache/worker"
)

var (
	// ErrClosed is returned by operations on a closed Cache.
	ErrClosed = errors.New("framecache: closed")

	// ErrCancelled is the cause of tasks cancelled before completion.
	ErrCancelled = worker.ErrCancelled
	// ErrPoolClosed is returned when submitting to a closed worker pool.
	ErrPoolClosed = worker.ErrPoolClosed
	// ErrPreloadClosed is returned by preload calls after Close.
	ErrPreloadClosed = preload.ErrClosed
	// ErrInvalidRange is returned for malformed preload ranges.
	ErrInvalidRange = preload.ErrInvalidRange
	// ErrInvalidKey is returned for keys without a source id.
	ErrInvalidKey = model.ErrInvalidKey
)

type (
	// GenerationError reports a failed task handler.
	GenerationError = worker.GenerationError
	// WorkerCrashedError reports a task whose worker died.
	WorkerCrashedError = worker.WorkerCrashedError
	// CacheIOError reports an absorbed persistent tier failure.
	CacheIOError = cache.CacheIOError
)

// IsCancelled reports whether err stems from task cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsRetryable reports whether repeating the operation may succeed: worker
// crashes, storage failures and deadline expiry are transient. Failed
// generations are never cached, so a retry always regenerates.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var crashed *WorkerCrashedError
	if errors.As(err, &crashed) {
		return true
	}
	var ioErr *CacheIOError
	if errors.As(err, &ioErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
