package task

import (
	"context"
	"sync"
)

// Waiter runs a task and blocks until it leaves its lifecycle
type Waiter interface {
	SubmitAndWait(ctx context.Context, t *Task) State
}

// Chain is an Executor that runs queued tasks one after another, each through
// a synchronous wait on a scheduler. The chain finishes once it runs out of tasks.
type Chain struct {
	waiter Waiter

	mu    sync.Mutex
	tasks []*Task
}

// NewChain creates a repeating daemon task that runs tasks in order.
// The chain is forced onto the detached backend so that waiting for a child
// never holds a bounded worker the child needs.
func NewChain(name string, waiter Waiter, tasks ...*Task) (*Task, *Chain) {
	c := &Chain{
		waiter: waiter,
		tasks:  append([]*Task(nil), tasks...),
	}
	t := New(c,
		WithName(name),
		WithKind(name),
		WithPolicy(PolicyForce),
		WithProperties(PropRepeat, PropIgnoreCritical, PropDaemon))
	return t, c
}

// Add appends a task to the chain
func (c *Chain) Add(t *Task) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, t)
	return c
}

// Len returns the number of tasks still waiting in the chain
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// ExecuteTask runs the next queued task and waits for it
func (c *Chain) ExecuteTask(ctx context.Context, t *Task) (State, error) {
	next := c.poll()
	if next != nil {
		t.SetStatus("Running " + next.Name())
		state := c.waiter.SubmitAndWait(ctx, next)
		t.SetStatus(next.Name() + ": " + state.String())
	}
	if c.Len() == 0 {
		return StateCancel, nil
	}
	return StateFinished, nil
}

func (c *Chain) poll() *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tasks) == 0 {
		return nil
	}
	next := c.tasks[0]
	c.tasks = c.tasks[1:]
	return next
}
