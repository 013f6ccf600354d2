package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/hupe1980/framecache/task"
)

// ProgressFunc reports task progress in percent (clamped to 0..100).
type ProgressFunc func(percent int)

// HandlerFunc is the untyped form of a registered handler.
type HandlerFunc func(ctx context.Context, p task.Payload, progress ProgressFunc) (task.Result, error)

// Registry maps task types to handlers. It is populated before the pool
// starts and read-only afterwards.
type Registry struct {
	handlers map[task.Type]HandlerFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[task.Type]HandlerFunc)}
}

// Register binds a typed handler for payload type P. Registering the same
// type twice replaces the earlier handler.
func Register[P task.Payload, R task.Result](r *Registry, h func(ctx context.Context, p P, progress ProgressFunc) (R, error)) {
	var zero P
	r.handlers[zero.Type()] = func(ctx context.Context, p task.Payload, progress ProgressFunc) (task.Result, error) {
		typed, ok := p.(P)
		if !ok {
			return nil, fmt.Errorf("payload %T is not %T", p, zero)
		}
		res, err := h(ctx, typed, progress)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
}

// Lookup returns the handler for t.
func (r *Registry) Lookup(t task.Type) (HandlerFunc, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered task types in ascending order.
func (r *Registry) Types() []task.Type {
	out := make([]task.Type, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
