package preload

import "errors"

var (
	// ErrClosed is returned by operations on a closed scheduler.
	ErrClosed = errors.New("preload: scheduler closed")
	// ErrInvalidRange is returned for empty source ids, inverted ranges and
	// ranges wider than the configured maximum span.
	ErrInvalidRange = errors.New("preload: invalid range")
	// ErrNoSubmitter is returned by New without a submitter.
	ErrNoSubmitter = errors.New("preload: submitter is required")
)
