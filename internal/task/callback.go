package task

import (
	"context"
	"sync"
)

// Response is a single-assignment cell that carries a task's result to a waiting caller.
// It starts out holding a fallback value.
type Response[T any] struct {
	mu       sync.RWMutex
	value    T
	assigned bool
	done     chan struct{}
}

// NewResponse creates an unassigned response holding fallback
func NewResponse[T any](fallback T) *Response[T] {
	return &Response[T]{
		value: fallback,
		done:  make(chan struct{}),
	}
}

// Assign stores v if no value was assigned yet. It reports whether v was stored.
func (r *Response[T]) Assign(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.assigned {
		return false
	}
	r.value = v
	r.assigned = true
	close(r.done)
	return true
}

// Assigned reports whether a value was assigned
func (r *Response[T]) Assigned() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assigned
}

// Value returns the assigned value, or the fallback if none was assigned
func (r *Response[T]) Value() T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// Done is closed once a value is assigned
func (r *Response[T]) Done() <-chan struct{} {
	return r.done
}

// Await blocks until a value is assigned or ctx ends. On ctx expiry it returns
// the fallback value together with the context error.
func (r *Response[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.Value(), nil
	case <-ctx.Done():
		return r.Value(), ctx.Err()
	}
}

// Callback is implemented by executors (or step flow builders) that produce a
// value for a synchronous caller
type Callback[T any] interface {
	Response() *Response[T]
}

// ResponseOf returns the callback response exposed by t's executor or, for step
// flow tasks, by its builder
func ResponseOf[T any](t *Task) (*Response[T], bool) {
	if cb, ok := t.exec.(Callback[T]); ok {
		return cb.Response(), true
	}
	if flow, ok := t.exec.(*StepFlow); ok {
		if cb, ok := flow.builder.(Callback[T]); ok {
			return cb.Response(), true
		}
	}
	return nil, false
}

// NewCallbackStep creates a critical step that assigns the result of fn to resp
func NewCallbackStep[T any](name string, resp *Response[T], fn func(ctx context.Context) (T, error)) *Step {
	return NewStep(name, func(ctx context.Context, s *Step) (StepState, error) {
		v, err := fn(ctx)
		if err != nil {
			return StepException, err
		}
		resp.Assign(v)
		s.SetStatus("Response assigned")
		return StepSuccess, nil
	})
}
