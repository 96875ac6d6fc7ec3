package task

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncWaiter runs tasks inline and records the order
type syncWaiter struct {
	mu   sync.Mutex
	runs []string
}

func (w *syncWaiter) SubmitAndWait(ctx context.Context, t *Task) State {
	w.mu.Lock()
	w.runs = append(w.runs, t.Name())
	w.mu.Unlock()
	t.Run(ctx)
	return t.State()
}

func TestNewChain(t *testing.T) {
	waiter := &syncWaiter{}
	first := newQuickTask(&mockExecutor{}, WithName("first"))
	task, chain := NewChain("pipeline", waiter, first)

	assert.Equal(t, "pipeline", task.Name())
	assert.Equal(t, "pipeline", task.Kind())
	assert.True(t, task.HasProperty(PropRepeat))
	assert.True(t, task.HasProperty(PropIgnoreCritical))
	assert.True(t, task.HasProperty(PropDaemon))
	assert.Equal(t, PolicyForce, task.Policy())
	assert.Equal(t, 1, chain.Len())

	chain.Add(newQuickTask(&mockExecutor{}, WithName("second")))
	assert.Equal(t, 2, chain.Len())
}

func TestChain_RunsTasksInOrder(t *testing.T) {
	waiter := &syncWaiter{}
	failing := &mockExecutor{execFn: func(context.Context, *Task, int) (State, error) {
		return StateError, nil
	}}
	a := newQuickTask(&mockExecutor{}, WithName("a"))
	b := newQuickTask(failing, WithName("b"))
	c := newQuickTask(&mockExecutor{}, WithName("c"))

	task, chain := NewChain("pipeline", waiter, a, b)
	chain.Add(c)
	task.SetRepeatDelay(0)

	task.Run(context.Background())

	assert.Equal(t, []string{"a", "b", "c"}, waiter.runs)
	assert.Equal(t, StateFinished, a.State())
	assert.Equal(t, StateError, b.State())
	assert.Equal(t, StateFinished, c.State())
	assert.Equal(t, 0, chain.Len())
	assert.Equal(t, StateFinished, task.State())
}

func TestChain_EmptyEndsImmediately(t *testing.T) {
	waiter := &syncWaiter{}
	task, _ := NewChain("empty", waiter)

	task.Run(context.Background())

	assert.Empty(t, waiter.runs)
	assert.Equal(t, StateFinished, task.State())
}

func TestChain_StatusReportsLastTask(t *testing.T) {
	waiter := &syncWaiter{}
	task, _ := NewChain("pipeline", waiter, newQuickTask(&mockExecutor{}, WithName("only")))
	task.SetRepeatDelay(0)

	task.Run(context.Background())

	require.Len(t, waiter.runs, 1)
	assert.Equal(t, "only: Finished", task.Status())
}
