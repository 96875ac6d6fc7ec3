package task

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultStepDelay is the pause between step calls and between steps
const DefaultStepDelay = 100 * time.Millisecond

// ErrEmptyStepFlow is logged when a flow builder produces no steps
var ErrEmptyStepFlow = errors.New("empty step flow")

// FlowBuilder builds the ordered steps of one task run. It is called again
// whenever a step asks for a retry, unless the flow resumes on retry.
type FlowBuilder interface {
	BuildStepFlow(ctx context.Context, t *Task) []*Step
}

// FlowBuilderFunc adapts a plain function to the FlowBuilder interface
type FlowBuilderFunc func(ctx context.Context, t *Task) []*Step

// BuildStepFlow calls f(ctx, t)
func (f FlowBuilderFunc) BuildStepFlow(ctx context.Context, t *Task) []*Step {
	return f(ctx, t)
}

// StepFailHandler is implemented by builders that react to failed steps
type StepFailHandler interface {
	OnStepFail(t *Task, s *Step)
}

// StepExceptionHandler is implemented by builders that react to step faults
type StepExceptionHandler interface {
	OnException(t *Task, s *Step, err error)
}

// StepFlow is an Executor that resolves a task as a FIFO sequence of steps.
type StepFlow struct {
	builder       FlowBuilder
	stepDelay     time.Duration
	resumeOnRetry bool

	mu       sync.Mutex
	steps    []*Step
	queue    []*Step
	current  *Step
	resuming bool
}

// NewStepFlowTask creates a task whose execution is the step flow built by builder.
// Name and kind default to the builder's type name.
func NewStepFlowTask(builder FlowBuilder, opts ...Option) *Task {
	flow := &StepFlow{
		builder:   builder,
		stepDelay: DefaultStepDelay,
	}
	return New(flow, append([]Option{withKindSource(builder)}, opts...)...)
}

// WithStepDelay sets the pause between step calls of a step flow task
func WithStepDelay(d time.Duration) Option {
	return func(t *Task) {
		if f, ok := t.exec.(*StepFlow); ok {
			f.stepDelay = d
		}
	}
}

// WithResumeOnRetry makes a step flow continue from the step that asked for a
// retry instead of rebuilding the flow
func WithResumeOnRetry() Option {
	return func(t *Task) {
		if f, ok := t.exec.(*StepFlow); ok {
			f.resumeOnRetry = true
		}
	}
}

// Builder returns the flow builder
func (f *StepFlow) Builder() FlowBuilder {
	return f.builder
}

// Steps returns the steps of the last built flow
func (f *StepFlow) Steps() []*Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Step(nil), f.steps...)
}

// ExecuteTask builds the flow and resolves its steps in order
func (f *StepFlow) ExecuteTask(ctx context.Context, t *Task) (State, error) {
	logger := t.log().With("task_id", t.ID(), "task_name", t.Name())

	f.mu.Lock()
	resume := f.resumeOnRetry && f.resuming && len(f.queue) > 0
	f.resuming = false
	f.mu.Unlock()

	if !resume {
		steps := f.builder.BuildStepFlow(ctx, t)
		if len(steps) == 0 {
			t.SetStatus("Empty step flow")
			logger.Error("step flow rejected", "error", ErrEmptyStepFlow)
			return StateError, nil
		}
		f.mu.Lock()
		f.steps = append([]*Step(nil), steps...)
		f.queue = append([]*Step(nil), steps...)
		f.current = nil
		f.mu.Unlock()
	}

	for {
		step := f.next()
		if step == nil {
			break
		}
		if ctx.Err() != nil || t.State() == StateCancel {
			return StateCancel, nil
		}

		t.SetStatus(step.Name() + ": Executing")
		step.setState(StepInProgress)

		switch state := f.resolve(ctx, t, step); state {
		case StepCancel:
			t.SetStatus(step.Name() + ": Cancelled flow")
			return StateCancel, nil

		case StepInterrupt:
			t.SetStatus(step.Name() + ": Interrupted flow")
			return StateFinished, nil

		case StepRetry:
			t.SetStatus(step.Name() + ": Retrying flow")
			if f.resumeOnRetry {
				f.resumeFrom(step)
			}
			return StateRetry, nil

		case StepException, StepFailed:
			t.SetStatus(step.Name() + ": Failed to execute")
			f.onStepFail(t, step)
			if step.Critical() {
				if state == StepException {
					return StateException, nil
				}
				return StateError, nil
			}
			logger.Warn("non-critical step failed, continuing",
				"step", step.Name(),
				"step_state", state)

		default:
			t.SetStatus(step.Name() + ": Executed successfully")
		}

		if !sleepCtx(ctx, f.stepDelay) {
			return StateCancel, nil
		}
	}

	t.SetStatus("Successfully executed step flow " + t.Name())
	return StateFinished, nil
}

// resolve calls the step until it reports a state other than StepInProgress
func (f *StepFlow) resolve(ctx context.Context, t *Task, step *Step) StepState {
	for {
		state, err := step.Execute(ctx)
		if err != nil {
			t.log().Error("step execution failed",
				"task_id", t.ID(),
				"task_name", t.Name(),
				"step", step.Name(),
				"error", err)
			if h, ok := f.builder.(StepExceptionHandler); ok {
				h.OnException(t, step, err)
			}
			step.setState(StepException)
			return StepException
		}

		step.setState(state)
		if state != StepInProgress {
			return state
		}

		if !sleepCtx(ctx, f.stepDelay) || t.State() == StateCancel {
			step.setState(StepCancel)
			return StepCancel
		}
	}
}

func (f *StepFlow) onStepFail(t *Task, step *Step) {
	if h, ok := f.builder.(StepFailHandler); ok {
		h.OnStepFail(t, step)
		return
	}
	t.log().Warn("step failed",
		"task_id", t.ID(),
		"task_name", t.Name(),
		"step", step.Name(),
		"step_state", step.State(),
		"step_status", step.Status())
}

func (f *StepFlow) next() *Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil
	}
	step := f.queue[0]
	f.queue = f.queue[1:]
	f.current = step
	return step
}

func (f *StepFlow) resumeFrom(step *Step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append([]*Step{step}, f.queue...)
	f.resuming = true
}

func (f *StepFlow) currentStatus() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return "", false
	}
	return f.current.Status(), true
}

func (f *StepFlow) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = nil
	f.current = nil
	f.resuming = false
}
