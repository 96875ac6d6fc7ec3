package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/phrazzld/tasker/internal/redact"
)

// Run drives the task lifecycle until it reaches a terminal condition.
//
// It is invoked once per admission by a backend. Cancelling ctx interrupts the
// waits between iterations and moves the task to StateCancel.
func (t *Task) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := t.log().With("task_id", t.id, "task_name", t.name)

	if pc, ok := t.exec.(PreConditionChecker); ok && !pc.PreConditionsMet(t) {
		t.setState(StateError)
		t.SetStatus("Pre-conditions not met")
		logger.Warn("task pre-conditions not met")
		return
	}

	t.onStart()
	if s, ok := t.exec.(Starter); ok {
		s.OnStart(t)
	}

	for {
		done, immediate := t.handle(ctx)
		if done {
			break
		}
		if immediate {
			continue
		}
		if !sleepCtx(ctx, t.RepeatDelay()) {
			t.interrupt()
		}
	}

	logger.Debug("task lifecycle ended", "state", t.State(), "attempts", t.Attempts())

	if f, ok := t.exec.(Finisher); ok {
		f.OnFinish(t)
	}
}

// onStart resets the task unless it was cancelled before it got to run
func (t *Task) onStart() {
	if t.State() == StateCancel {
		return
	}
	t.Reset()
}

// handle performs one lifecycle iteration. It reports whether the lifecycle is
// done, and whether the next iteration should start without the repeat delay.
func (t *Task) handle(ctx context.Context) (done bool, immediate bool) {
	if ctx.Err() != nil {
		t.interrupt()
	}

	switch t.State() {
	case StateCancel:
		return true, false
	case StatePaused:
		if !sleepCtx(ctx, t.pausePoll) {
			t.interrupt()
		}
		return false, true
	}

	t.mu.Lock()
	t.attempts++
	attempts := t.attempts
	t.state = StateRunning
	t.startedAt = time.Now()
	t.mu.Unlock()

	resp, err := t.execute(ctx)
	if err != nil {
		t.log().Error("task execution failed",
			"task_id", t.id,
			"task_name", t.name,
			"attempt", attempts,
			"error", redact.Error(err))
		resp = StateException
	}

	if ctx.Err() != nil {
		t.setState(StateCancel)
		return true, false
	}

	if t.State() == StateCancel || resp == StateCancel {
		t.setState(StateFinished)
		return true, false
	}

	if resp == StateRetry {
		t.mu.Lock()
		t.attempts = 0
		t.status = initialStatus
		t.mu.Unlock()
		t.settle(StateInQueue)
		return false, true
	}

	if resp == StateRunning {
		t.SetStatus("Fatal error, task state is still running after task execution")
		t.log().Error("task protocol violation",
			"task_id", t.id,
			"task_name", t.name,
			"error", ErrProtocolViolation)
		t.setState(StateException)
		return true, false
	}

	maxAttempts := t.MaxAttempts()

	if !t.HasProperty(PropRepeat) {
		if resp == StateFinished || attempts >= maxAttempts {
			t.settle(resp)
			return true, false
		}
		// the task must stay active between attempts
		t.settle(StateInQueue)
		return false, false
	}

	if resp.Failed() {
		if attempts < maxAttempts {
			t.settle(StateInQueue)
			return false, false
		}
		if t.HasProperty(PropIgnoreCritical) {
			t.settle(StateInQueue)
			return false, false
		}
		t.settle(resp)
		return true, false
	}

	t.settle(StateInQueue)
	return false, false
}

// execute runs the executor for one attempt, converting panics into errors
func (t *Task) execute(ctx context.Context) (state State, err error) {
	defer func() {
		if r := recover(); r != nil {
			state = StateException
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return t.exec.ExecuteTask(ctx, t)
}

// Reset returns the task to its initial state so it can be submitted again
func (t *Task) Reset() {
	t.mu.Lock()
	t.state = StateInQueue
	t.attempts = 0
	t.status = initialStatus
	t.startedAt = time.Time{}
	t.mu.Unlock()

	if r, ok := t.exec.(resetter); ok {
		r.reset()
	}
}

// Cancel forces the task into StateCancel. Running work observes it at the
// next lifecycle or step check.
func (t *Task) Cancel() *Task {
	t.setState(StateCancel)
	return t
}

// Pause suspends a task between iterations. It has no effect on cancelled or failed tasks.
func (t *Task) Pause() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StateCancel, StateError, StateException:
		return t
	}
	t.state = StatePaused
	return t
}

// Unpause resumes a paused task
func (t *Task) Unpause() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StatePaused {
		t.state = StateRunning
	}
	return t
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// settle records the outcome of an attempt without overriding a concurrent
// cancel, or a pause while the lifecycle keeps looping
func (t *Task) settle(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.state == StateCancel:
	case t.state == StatePaused && s == StateInQueue:
	default:
		t.state = s
	}
}

// interrupt marks a still-active task as cancelled after its context ended
func (t *Task) interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Active() {
		t.state = StateCancel
	}
}

// sleepCtx waits for d or until ctx is done. It returns false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
