package blobstore

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by FaultyStore.
var ErrInjected = errors.New("blobstore: injected fault")

// Op names a BlobStore operation for fault rules.
type Op string

const (
	OpOpen   Op = "open"
	OpPut    Op = "put"
	OpDelete Op = "delete"
	OpList   Op = "list"
)

// Fault defines specific failure behavior.
type Fault struct {
	// Ops limits the fault to these operations; empty means all.
	Ops []Op
	// Corrupt flips bytes of opened blobs instead of failing. Other
	// operations pass through.
	Corrupt bool
	// Err is returned by failing operations; defaults to ErrInjected.
	Err error
}

func (f Fault) applies(op Op) bool {
	if len(f.Ops) == 0 {
		return true
	}
	for _, o := range f.Ops {
		if o == op {
			return true
		}
	}
	return false
}

// FaultyStore is a BlobStore wrapper that can inject errors.
type FaultyStore struct {
	inner BlobStore

	mu    sync.Mutex
	rules map[string]Fault // name substring -> fault
	all   *Fault
}

// NewFaultyStore wraps inner (or a fresh MemoryStore if nil).
func NewFaultyStore(inner BlobStore) *FaultyStore {
	if inner == nil {
		inner = NewMemoryStore()
	}
	return &FaultyStore{inner: inner, rules: make(map[string]Fault)}
}

// AddRule injects fault for blob names containing pattern.
func (f *FaultyStore) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

// FailAll injects fault for every blob.
func (f *FaultyStore) FailAll(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = &fault
}

// Reset removes all rules.
func (f *FaultyStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = make(map[string]Fault)
	f.all = nil
}

func (f *FaultyStore) match(op Op, name string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.all != nil && f.all.applies(op) {
		return *f.all, true
	}
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) && rule.applies(op) {
			return rule, true
		}
	}
	return Fault{}, false
}

func faultErr(fault Fault) error {
	if fault.Err != nil {
		return fault.Err
	}
	return ErrInjected
}

func (f *FaultyStore) Open(ctx context.Context, name string) (Blob, error) {
	fault, ok := f.match(OpOpen, name)
	if ok && !fault.Corrupt {
		return nil, faultErr(fault)
	}
	b, err := f.inner.Open(ctx, name)
	if err != nil || !ok {
		return b, err
	}
	defer func() { _ = b.Close() }()

	data, err := ReadAll(ctx, f.inner, name)
	if err != nil {
		return nil, err
	}
	for i := range data {
		data[i] ^= 0xFF
	}
	return memoryBlob(data), nil
}

func (f *FaultyStore) Put(ctx context.Context, name string, data []byte) error {
	if fault, ok := f.match(OpPut, name); ok && !fault.Corrupt {
		return faultErr(fault)
	}
	return f.inner.Put(ctx, name, data)
}

func (f *FaultyStore) Delete(ctx context.Context, name string) error {
	if fault, ok := f.match(OpDelete, name); ok && !fault.Corrupt {
		return faultErr(fault)
	}
	return f.inner.Delete(ctx, name)
}

func (f *FaultyStore) List(ctx context.Context, prefix string) ([]string, error) {
	if fault, ok := f.match(OpList, prefix); ok && !fault.Corrupt {
		return nil, faultErr(fault)
	}
	return f.inner.List(ctx, prefix)
}
