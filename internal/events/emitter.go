package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNilEvent is returned when a nil event is emitted
var ErrNilEvent = errors.New("status event cannot be nil")

type registration struct {
	id      int
	handler EventHandler
}

// InMemoryEventEmitter fans status events out to the handlers registered with it.
// Handlers run synchronously on the emitting goroutine in registration order, so
// every handler sees a task's status changes in the order they happened.
type InMemoryEventEmitter struct {
	mu     sync.RWMutex
	regs   []registration
	nextID int
	logger *slog.Logger
}

// NewInMemoryEventEmitter creates an emitter without handlers
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{
		logger: logger.With("component", "status_emitter"),
	}
}

// RegisterHandler subscribes handler and returns a function that unsubscribes
// it again. Calling the returned function more than once is harmless.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.regs = append(e.regs, registration{id: id, handler: handler})
	count := len(e.regs)
	e.mu.Unlock()

	e.logger.Debug("status handler registered", "handler_id", id, "handler_count", count)

	var once sync.Once
	return func() {
		once.Do(func() { e.unregister(id) })
	}
}

func (e *InMemoryEventEmitter) unregister(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.regs {
		if r.id == id {
			e.regs = append(e.regs[:i:i], e.regs[i+1:]...)
			return
		}
	}
}

// HandlerCount returns the number of registered handlers
func (e *InMemoryEventEmitter) HandlerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.regs)
}

// EmitEvent delivers event to every registered handler. A failing handler does
// not stop delivery to the others; all failures are joined into the result.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *StatusEvent) error {
	if event == nil {
		return ErrNilEvent
	}

	e.mu.RLock()
	regs := append([]registration(nil), e.regs...)
	e.mu.RUnlock()

	var errs []error
	for _, r := range regs {
		if err := r.handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("status handler failed",
				"error", err,
				"handler_id", r.id,
				"task_id", event.TaskID,
				"task_name", event.TaskName)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
