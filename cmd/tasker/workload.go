package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/phrazzld/tasker/cmd/tasker/commands"
	"github.com/phrazzld/tasker/internal/platform/logger"
	"github.com/phrazzld/tasker/internal/task"
	"golang.org/x/sync/errgroup"
)

// ErrWorkloadFailed is returned when at least one task of the run failed
var ErrWorkloadFailed = errors.New("workload finished with failed tasks")

const (
	jobStepDuration = 20 * time.Millisecond
	jobStepDelay    = 10 * time.Millisecond
)

// jobFlow is a three step job. A failing job fails its critical process step.
type jobFlow struct {
	index   int
	failing bool
}

func (j *jobFlow) BuildStepFlow(_ context.Context, _ *task.Task) []*task.Step {
	return []*task.Step{
		task.NewStep("prepare", work),
		task.NewStep("process", j.process),
		task.NewStep("report", work, task.NonCritical()),
	}
}

func (j *jobFlow) process(ctx context.Context, s *task.Step) (task.StepState, error) {
	if j.failing {
		s.SetStatus(fmt.Sprintf("simulated failure of job %d", j.index))
		return task.StepFailed, nil
	}
	return work(ctx, s)
}

// work pretends to do something for a short while
func work(ctx context.Context, s *task.Step) (task.StepState, error) {
	timer := time.NewTimer(jobStepDuration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return task.StepCancel, nil
	case <-timer.C:
		s.SetStatus("done")
		return task.StepSuccess, nil
	}
}

// checksumFlow answers a synchronous caller with the sum of the job indexes
type checksumFlow struct {
	jobs int
	resp *task.Response[int]
}

func (c *checksumFlow) Response() *task.Response[int] {
	return c.resp
}

func (c *checksumFlow) BuildStepFlow(_ context.Context, _ *task.Task) []*task.Step {
	return []*task.Step{
		task.NewCallbackStep("checksum", c.resp, func(context.Context) (int, error) {
			return c.jobs * (c.jobs + 1) / 2, nil
		}),
	}
}

// summary counts final task states
type summary struct {
	mu     sync.Mutex
	states map[task.State]int
}

func (s *summary) record(state task.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state]++
}

func (s *summary) failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed := 0
	for state, n := range s.states {
		if state.Failed() {
			failed += n
		}
	}
	return failed
}

func (s *summary) count(state task.State) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[state]
}

// runWorkload submits the jobs, waits for all of them, asks the checksum
// task for its answer and prints a summary line.
func runWorkload(ctx context.Context, scheduler *task.Scheduler, opts commands.RunOptions, out io.Writer) error {
	log := logger.FromContext(ctx)

	policy := task.PolicyDefault
	if opts.Single {
		policy = task.PolicySingle
	}

	jobs := make([]*task.Task, opts.Tasks)
	for i := range jobs {
		index := i + 1
		jobs[i] = task.NewStepFlowTask(&jobFlow{
			index:   index,
			failing: opts.FailEvery > 0 && index%opts.FailEvery == 0,
		},
			task.WithName(fmt.Sprintf("job-%d", index)),
			task.WithPolicy(policy),
			task.WithStepDelay(jobStepDelay))
	}

	log.Info("submitting workload", "tasks", len(jobs), "policy", policy.String())
	started := time.Now()

	result := &summary{states: make(map[task.State]int)}
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			result.record(scheduler.SubmitAndWait(gctx, job))
			return nil
		})
	}
	_ = g.Wait()

	checksum := task.NewStepFlowTask(&checksumFlow{jobs: len(jobs), resp: task.NewResponse(-1)},
		task.WithName("checksum"),
		task.WithPolicy(task.PolicyForce),
		task.WithStepDelay(0))
	sum, err := task.SubmitAndAwaitResponse[int](ctx, scheduler, checksum)
	if err != nil {
		log.Warn("checksum did not answer", "error", err)
	}

	_, _ = fmt.Fprintf(out, "summary: tasks=%d finished=%d failed=%d cancelled=%d checksum=%d elapsed=%s\n",
		len(jobs),
		result.count(task.StateFinished),
		result.failed(),
		result.count(task.StateCancel),
		sum,
		time.Since(started).Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("workload interrupted: %w", err)
	}
	if failed := result.failed(); failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrWorkloadFailed, failed, len(jobs))
	}
	return nil
}
