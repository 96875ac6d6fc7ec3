package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStep(t *testing.T) {
	s := NewStep("fetch", nil)
	assert.Equal(t, "fetch", s.Name())
	assert.True(t, s.Critical())
	assert.Equal(t, StepInQueue, s.State())
	assert.Equal(t, "fetch: Idle", s.Status())

	s.SetStatus("downloading")
	assert.Equal(t, "fetch: downloading", s.Status())

	optional := NewStep("notify", nil, NonCritical(), nil)
	assert.False(t, optional.Critical())
}

func TestStep_Execute(t *testing.T) {
	t.Run("nil function succeeds", func(t *testing.T) {
		state, err := NewStep("noop", nil).Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StepSuccess, state)
	})

	t.Run("passes the step to its function", func(t *testing.T) {
		s := NewStep("self", func(_ context.Context, s *Step) (StepState, error) {
			s.SetStatus("seen")
			return StepInProgress, nil
		})

		state, err := s.Execute(context.Background())

		require.NoError(t, err)
		assert.Equal(t, StepInProgress, state)
		assert.Equal(t, "self: seen", s.Status())
	})

	t.Run("returns function errors", func(t *testing.T) {
		boom := errors.New("boom")
		s := NewStep("fail", func(context.Context, *Step) (StepState, error) {
			return StepFailed, boom
		})

		_, err := s.Execute(context.Background())

		assert.ErrorIs(t, err, boom)
	})

	t.Run("converts panics", func(t *testing.T) {
		s := NewStep("panic", func(context.Context, *Step) (StepState, error) {
			panic("unexpected")
		})

		state, err := s.Execute(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic: unexpected")
		assert.Equal(t, StepException, state)
	})
}

// fakeRunner starts forced tasks on their own goroutine
type fakeRunner struct {
	mu     sync.Mutex
	forced []*Task
	err    error
	ctx    context.Context
}

func (r *fakeRunner) Force(t *Task) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.forced = append(r.forced, t)
	r.mu.Unlock()
	go t.Run(r.ctx)
	return nil
}

func TestStep_RunExternal(t *testing.T) {
	t.Run("returns the external state", func(t *testing.T) {
		runner := &fakeRunner{ctx: context.Background()}
		external := newQuickTask(ExecutorFunc(func(_ context.Context, t *Task) (State, error) {
			t.SetStatus("external work")
			return StateFinished, nil
		}), WithName("external"))
		s := NewStep("delegate", nil)

		state := s.RunExternal(context.Background(), runner, external)

		assert.Equal(t, StateFinished, state)
		require.Len(t, runner.forced, 1)
		assert.Same(t, external, runner.forced[0])
	})

	t.Run("mirrors the external status", func(t *testing.T) {
		runnerCtx, stop := context.WithCancel(context.Background())
		defer stop()
		runner := &fakeRunner{ctx: runnerCtx}
		exec := newBlockingExecutor()
		external := newQuickTask(exec, WithName("external"))
		s := NewStep("delegate", nil)

		result := make(chan State, 1)
		go func() {
			result <- s.RunExternal(context.Background(), runner, external)
		}()

		<-exec.started
		external.SetStatus("halfway")
		assert.Eventually(t, func() bool {
			return s.Status() == "delegate: halfway"
		}, 2*time.Second, 20*time.Millisecond)

		close(exec.release)
		select {
		case state := <-result:
			assert.Equal(t, StateFinished, state)
		case <-time.After(2 * time.Second):
			t.Fatal("RunExternal did not return")
		}
	})

	t.Run("cancels the external task when the context ends", func(t *testing.T) {
		runnerCtx, stop := context.WithCancel(context.Background())
		defer stop()
		runner := &fakeRunner{ctx: runnerCtx}
		exec := newBlockingExecutor()
		external := newQuickTask(exec)
		s := NewStep("delegate", nil)
		ctx, cancel := context.WithCancel(context.Background())

		result := make(chan State, 1)
		go func() {
			result <- s.RunExternal(ctx, runner, external)
		}()

		<-exec.started
		cancel()

		select {
		case state := <-result:
			assert.Equal(t, StateCancel, state)
		case <-time.After(2 * time.Second):
			t.Fatal("RunExternal did not return")
		}
		assert.Equal(t, StateCancel, external.State())
	})

	t.Run("reports a failed start", func(t *testing.T) {
		runner := &fakeRunner{err: ErrSchedulerDisposed}
		external := newQuickTask(&mockExecutor{}, WithName("external"))
		s := NewStep("delegate", nil)

		state := s.RunExternal(context.Background(), runner, external)

		assert.Equal(t, StateError, state)
		assert.Contains(t, s.Status(), "Failed to start external")
		assert.Empty(t, runner.forced)
	})
}
