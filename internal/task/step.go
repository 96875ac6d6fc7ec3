package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

const (
	initialStepStatus = "Idle"

	// externalPollInterval is how often a step mirrors the status of an external task
	externalPollInterval = 200 * time.Millisecond
)

// StepFunc performs one call of a step. Returning StepInProgress asks the flow
// to call it again after the step delay.
type StepFunc func(ctx context.Context, s *Step) (StepState, error)

// Step is a sub-unit of a step flow. A step belongs to one task run and is not shared.
type Step struct {
	name     string
	critical bool
	fn       StepFunc

	mu     sync.RWMutex
	state  StepState
	status string
}

// StepOption configures a Step at construction
type StepOption func(*Step)

// NonCritical lets the flow continue when the step fails
func NonCritical() StepOption {
	return func(s *Step) {
		s.critical = false
	}
}

// NewStep creates a critical step named name that runs fn
func NewStep(name string, fn StepFunc, opts ...StepOption) *Step {
	s := &Step{
		name:     name,
		critical: true,
		fn:       fn,
		state:    StepInQueue,
		status:   initialStepStatus,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Name returns the step name
func (s *Step) Name() string {
	return s.name
}

// Critical reports whether a failure of this step aborts the flow
func (s *Step) Critical() bool {
	return s.critical
}

// State returns the current step state
func (s *Step) State() StepState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Step) setState(state StepState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Status returns the step status prefixed with the step name
func (s *Step) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name + ": " + s.status
}

// SetStatus updates the step status
func (s *Step) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Execute performs one call of the step, converting panics into errors
func (s *Step) Execute(ctx context.Context) (state StepState, err error) {
	if s.fn == nil {
		return StepSuccess, nil
	}
	defer func() {
		if r := recover(); r != nil {
			state = StepException
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return s.fn(ctx, s)
}

// ExternalRunner starts a task outside of admission limits
type ExternalRunner interface {
	Force(t *Task) error
}

// RunExternal force-submits external, mirrors its status into the step while it
// runs and returns its final state. If ctx ends first the external task is
// cancelled and StateCancel is returned.
func (s *Step) RunExternal(ctx context.Context, runner ExternalRunner, external *Task) State {
	if err := runner.Force(external); err != nil {
		s.SetStatus(fmt.Sprintf("Failed to start %s: %v", external.Name(), err))
		return StateError
	}

	ticker := time.NewTicker(externalPollInterval)
	defer ticker.Stop()

	for external.Active() {
		s.SetStatus(external.Status())
		select {
		case <-ctx.Done():
			external.Cancel()
			return StateCancel
		case <-ticker.C:
		}
	}
	return external.State()
}
