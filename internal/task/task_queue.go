package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Common errors returned by the TaskQueue
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

// unit is a task admitted to a backend together with its run context and handle
type unit struct {
	task   *Task
	ctx    context.Context
	handle *Handle
}

// TaskQueue is a bounded FIFO of admitted units waiting for a worker.
// Its capacity can change at runtime.
type TaskQueue struct {
	mu       sync.Mutex
	units    []*unit
	capacity int
	closed   bool
	signal   chan struct{}
	done     chan struct{}
	logger   *slog.Logger
}

// NewTaskQueue creates a new task queue holding at most size units
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	if size < 0 {
		size = 0
	}
	return &TaskQueue{
		units:    make([]*unit, 0, size),
		capacity: size,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Enqueue adds a unit to the queue.
// Returns an error if the queue is full or closed.
func (q *TaskQueue) Enqueue(u *unit) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if len(q.units) >= q.capacity {
		capacity := q.capacity
		q.mu.Unlock()
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, capacity)
	}
	q.units = append(q.units, u)
	queueLen := len(q.units)
	q.mu.Unlock()

	q.notify()
	q.logger.Debug("task enqueued",
		"task_id", u.task.ID(),
		"task_name", u.task.Name(),
		"queue_len", queueLen)
	return nil
}

// dequeue blocks until a unit is available. It returns false once ctx ends,
// stop is closed, or the queue is closed and empty.
func (q *TaskQueue) dequeue(ctx context.Context, stop <-chan struct{}) (*unit, bool) {
	for {
		select {
		case <-stop:
			return nil, false
		default:
		}

		q.mu.Lock()
		if len(q.units) > 0 {
			u := q.units[0]
			q.units[0] = nil
			q.units = q.units[1:]
			remaining := len(q.units)
			q.mu.Unlock()
			if remaining > 0 {
				q.notify()
			}
			return u, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-stop:
			return nil, false
		case <-q.done:
		case <-q.signal:
		}
	}
}

func (q *TaskQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of waiting units
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}

// Cap returns the current capacity
func (q *TaskQueue) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// SetCapacity changes the capacity. Units already queued are kept.
func (q *TaskQueue) SetCapacity(size int) {
	if size < 0 {
		size = 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.capacity = size
}

// Close closes the task queue, preventing further submission, and returns
// the units that were still waiting
func (q *TaskQueue) Close() []*unit {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	pending := q.units
	q.units = nil
	close(q.done)
	q.mu.Unlock()

	q.logger.Info("task queue closed", "pending", len(pending))
	return pending
}
