package mmap

import (
	"errors"
	"io"
	"math"
	"os"
	"sync/atomic"
)

var (
	// ErrClosed is returned by reads on a closed region.
	ErrClosed = errors.New("mmap: region is closed")
	// ErrTooLarge is returned for files that do not fit the address space.
	ErrTooLarge = errors.New("mmap: file too large")
	// ErrNegativeOffset is returned by ReadAt for off < 0.
	ErrNegativeOffset = errors.New("mmap: negative offset")
)

// Hint tells the kernel how a region will be read.
type Hint uint8

const (
	HintNone Hint = iota
	// HintSequential suits records that are decoded front to back once.
	HintSequential
	// HintRandom suits records probed at scattered offsets.
	HintRandom
)

// Region is a read-only view of a whole file.
type Region struct {
	data   []byte
	closed atomic.Bool
	unmap  func([]byte) error
}

// Open maps the file at path read-only and applies hint. Empty files
// yield an empty region without a mapping.
func Open(path string, hint Hint) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &Region{}, nil
	}
	if size > math.MaxInt {
		return nil, ErrTooLarge
	}

	data, unmap, err := mapFile(f, int(size))
	if err != nil {
		return nil, err
	}
	// Hints are advisory; a rejected hint leaves a usable region.
	_ = advise(data, hint)

	return &Region{data: data, unmap: unmap}, nil
}

// Len returns the mapped length in bytes.
func (r *Region) Len() int { return len(r.data) }

// Bytes returns the mapped bytes, or ErrClosed. The slice must not be
// used after Close.
func (r *Region) Bytes() ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	return r.data, nil
}

// ReadAt implements io.ReaderAt.
func (r *Region) ReadAt(p []byte, off int64) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the region. Subsequent calls are no-ops.
func (r *Region) Close() error {
	if r.closed.Swap(true) || r.unmap == nil {
		return nil
	}
	return r.unmap(r.data)
}
