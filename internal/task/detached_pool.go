package task

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DetachedPool runs every submitted task on its own goroutine without any
// admission limit. It backs forced and keep-alive tasks.
type DetachedPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool

	running atomic.Int32
	logger  *slog.Logger

	errorHandler func(t *Task, err error)
}

// NewDetachedPool creates an unbounded pool
func NewDetachedPool(logger *slog.Logger) *DetachedPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &DetachedPool{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "detached_pool"),
	}
}

// SetErrorHandler allows setting a custom error handler for unit failures
func (p *DetachedPool) SetErrorHandler(handler func(t *Task, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorHandler = handler
}

// Submit starts t immediately
func (p *DetachedPool) Submit(t *Task) (*Handle, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolStopped
	}
	p.wg.Add(1)
	errorHandler := p.errorHandler
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(p.ctx)
	u := &unit{task: t, ctx: ctx, handle: newHandle(cancel)}

	go func() {
		defer p.wg.Done()
		defer u.handle.finish()

		p.running.Add(1)
		defer p.running.Add(-1)

		runUnit(u, p.logger, errorHandler)
	}()

	return u.handle, nil
}

// Running returns the number of tasks currently executing
func (p *DetachedPool) Running() int {
	return int(p.running.Load())
}

// Stop cancels every running task and waits for them to return
func (p *DetachedPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.logger.Info("detached pool stopped")
}
