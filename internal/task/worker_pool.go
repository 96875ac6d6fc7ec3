package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/phrazzld/tasker/internal/redact"
)

// ErrPoolStopped is returned when submitting to a stopped pool
var ErrPoolStopped = errors.New("worker pool is stopped")

// Handle cancels a unit admitted to a backend and reports when it has stopped running
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newHandle(cancel context.CancelFunc) *Handle {
	return &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Cancel requests cooperative interruption of the unit
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed once the unit has stopped running or was discarded
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) finish() {
	h.once.Do(func() {
		h.cancel()
		close(h.done)
	})
}

// WorkerPool manages a resizable pool of worker goroutines that run tasks
// from a bounded task queue. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	// queue holds admitted units until a worker picks them up
	queue *TaskQueue

	// queueSize is the number of units allowed to wait beyond the busy workers
	queueSize int

	mu          sync.Mutex
	workerCount int
	workers     map[int]chan struct{}
	nextID      int
	inflight    int
	started     bool
	stopped     bool

	running atomic.Int32

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is the parent of every unit context
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger

	// errorHandler is called when a unit panics outside the task's own recovery
	errorHandler func(t *Task, err error)
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// QueueSize is how many units may wait while every worker is busy
	// If negative, defaults to 0
	QueueSize int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 2,
		QueueSize:   100,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	// Apply defaults for invalid config values
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}
	queueSize := config.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With("component", "worker_pool")

	return &WorkerPool{
		queue:       NewTaskQueue(workerCount+queueSize, logger),
		queueSize:   queueSize,
		workerCount: workerCount,
		workers:     make(map[int]chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// SetErrorHandler allows setting a custom error handler for unit failures
func (p *WorkerPool) SetErrorHandler(handler func(t *Task, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorHandler = handler
}

// Start launches the worker goroutines. It is a no-op if the pool already started.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.workerCount; i++ {
		p.spawnLocked()
	}
	p.logger.Info("worker pool started", "worker_count", p.workerCount)
}

func (p *WorkerPool) spawnLocked() {
	id := p.nextID
	p.nextID++
	stop := make(chan struct{})
	p.workers[id] = stop
	p.wg.Add(1)
	go p.worker(id, stop)
}

// Stop cancels every unit, waits for the workers to exit and discards queued units
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	pending := p.queue.Close()
	p.wg.Wait()

	for _, u := range pending {
		p.discard(u)
	}
	p.logger.Info("worker pool stopped", "discarded", len(pending))
}

// Resize changes the number of workers. Shrinking lets the removed workers
// finish the unit they are running before they exit.
func (p *WorkerPool) Resize(workerCount int) {
	if workerCount <= 0 {
		workerCount = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}

	previous := p.workerCount
	p.workerCount = workerCount
	p.queue.SetCapacity(workerCount + p.queueSize)

	if p.started {
		for i := previous; i < workerCount; i++ {
			p.spawnLocked()
		}
		excess := previous - workerCount
		for id, stop := range p.workers {
			if excess <= 0 {
				break
			}
			close(stop)
			delete(p.workers, id)
			excess--
		}
	}

	p.logger.Info("worker pool resized",
		"previous_count", previous,
		"worker_count", workerCount)
}

// TrySubmit admits t if the pool has room for it. It never blocks; when every
// worker is busy and the queue is full it returns ErrQueueFull.
func (p *WorkerPool) TrySubmit(t *Task) (*Handle, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolStopped
	}
	capacity := p.workerCount + p.queueSize
	if p.inflight >= capacity {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: capacity %d reached", ErrQueueFull, capacity)
	}
	p.inflight++
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(p.ctx)
	u := &unit{task: t, ctx: ctx, handle: newHandle(cancel)}
	if err := p.queue.Enqueue(u); err != nil {
		p.release()
		cancel()
		return nil, err
	}
	return u.handle, nil
}

// Headroom returns how many more units the pool would admit right now
func (p *WorkerPool) Headroom() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return 0
	}
	room := p.workerCount + p.queueSize - p.inflight
	if room < 0 {
		return 0
	}
	return room
}

// Size returns the configured number of workers
func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workerCount
}

// Running returns the number of units currently executing
func (p *WorkerPool) Running() int {
	return int(p.running.Load())
}

// Queued returns the number of units waiting for a worker
func (p *WorkerPool) Queued() int {
	return p.queue.Len()
}

// worker processes units from the queue until stopped
func (p *WorkerPool) worker(id int, stop <-chan struct{}) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	for {
		u, ok := p.queue.dequeue(p.ctx, stop)
		if !ok {
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		}
		p.process(u, id)
	}
}

// process handles execution of a single unit
func (p *WorkerPool) process(u *unit, workerID int) {
	defer p.release()
	defer u.handle.finish()

	if u.ctx.Err() != nil {
		// Cancelled while waiting in the queue
		u.task.interrupt()
		p.logger.Debug("skipping cancelled task",
			"task_id", u.task.ID(),
			"task_name", u.task.Name(),
			"worker_id", workerID)
		return
	}

	p.running.Add(1)
	defer p.running.Add(-1)

	runUnit(u, p.logger.With("worker_id", workerID), p.handler())
}

func (p *WorkerPool) handler() func(t *Task, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorHandler
}

func (p *WorkerPool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
}

func (p *WorkerPool) discard(u *unit) {
	u.task.interrupt()
	u.handle.finish()
	p.release()
}

// runUnit runs a task's lifecycle, reporting panics that escape it
func runUnit(u *unit, logger *slog.Logger, errorHandler func(t *Task, err error)) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			u.task.setState(StateException)
			logger.Error("task lifecycle panicked",
				"task_id", u.task.ID(),
				"task_name", u.task.Name(),
				"error", redact.Error(err))
			if errorHandler != nil {
				errorHandler(u.task, err)
			}
		}
	}()

	logger.Debug("processing task", "task_id", u.task.ID(), "task_name", u.task.Name())
	u.task.Run(u.ctx)
}
