package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/tasker/internal/events"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockExecutor counts its calls and delegates to execFn
type mockExecutor struct {
	mu     sync.Mutex
	calls  int
	execFn func(ctx context.Context, t *Task, call int) (State, error)
}

func (m *mockExecutor) ExecuteTask(ctx context.Context, t *Task) (State, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	fn := m.execFn
	m.mu.Unlock()

	if fn == nil {
		return StateFinished, nil
	}
	return fn(ctx, t, call)
}

func (m *mockExecutor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// hookedExecutor implements every optional executor interface
type hookedExecutor struct {
	mockExecutor
	preconditions bool
	policy        Policy
	maxAttempts   int
	started       atomic.Int32
	finished      atomic.Int32
}

func (h *hookedExecutor) PreConditionsMet(*Task) bool { return h.preconditions }
func (h *hookedExecutor) OnStart(*Task)               { h.started.Add(1) }
func (h *hookedExecutor) OnFinish(*Task)              { h.finished.Add(1) }
func (h *hookedExecutor) Policy() Policy              { return h.policy }
func (h *hookedExecutor) MaxAttempts() int            { return h.maxAttempts }

// recordingEmitter keeps every status event it receives
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.StatusEvent
	err    error
}

func (r *recordingEmitter) EmitEvent(_ context.Context, event *events.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingEmitter) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Message)
	}
	return out
}

// blockingExecutor runs until its context ends or it is released
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingExecutor) ExecuteTask(ctx context.Context, _ *Task) (State, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-ctx.Done():
		return StateCancel, nil
	case <-b.release:
		return StateFinished, nil
	}
}

// newQuickTask creates a task with no repeat delay
func newQuickTask(exec Executor, opts ...Option) *Task {
	return New(exec, append([]Option{WithRepeatDelay(0), WithLogger(setupTestLogger())}, opts...)...)
}

// runAsync runs t's lifecycle on a goroutine and returns a channel closed when it ends
func runAsync(ctx context.Context, t *Task) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.Run(ctx)
	}()
	return done
}

// waitDone fails the caller's expectations by returning false on timeout
func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
