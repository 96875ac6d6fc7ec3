package task

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/tasker/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerPool(t *testing.T) {
	logger := setupTestLogger()

	pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 5, QueueSize: 3}, logger)
	assert.Equal(t, 5, pool.Size())
	assert.Equal(t, 8, pool.Headroom())
	assert.Equal(t, 0, pool.Running())
	assert.Equal(t, 0, pool.Queued())

	// invalid values fall back to the minimum
	pool = NewWorkerPool(WorkerPoolConfig{WorkerCount: 0, QueueSize: -1}, logger)
	assert.Equal(t, 1, pool.Size())
	assert.Equal(t, 1, pool.Headroom())

	defaults := DefaultWorkerPoolConfig()
	assert.Equal(t, 2, defaults.WorkerCount)
	assert.Equal(t, 100, defaults.QueueSize)
}

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 2, QueueSize: 10}, setupTestLogger())
	pool.Start()
	defer pool.Stop()

	var handles []*Handle
	var tasks []*Task
	for i := 0; i < 5; i++ {
		task := newQuickTask(&mockExecutor{})
		h, err := pool.TrySubmit(task)
		require.NoError(t, err)
		handles = append(handles, h)
		tasks = append(tasks, task)
	}

	for i, h := range handles {
		require.True(t, waitDone(h.Done(), time.Second), "task %d did not finish", i)
		assert.Equal(t, StateFinished, tasks[i].State())
	}
	assert.Eventually(t, func() bool {
		return pool.Headroom() == 12
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerPool_TrySubmitFull(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 1, QueueSize: 1}, setupTestLogger())
	pool.Start()
	defer pool.Stop()

	first := newBlockingExecutor()
	_, err := pool.TrySubmit(newQuickTask(first))
	require.NoError(t, err)
	<-first.started

	_, err = pool.TrySubmit(newQuickTask(newBlockingExecutor()))
	require.NoError(t, err)
	assert.Equal(t, 0, pool.Headroom())
	assert.Equal(t, 1, pool.Running())
	assert.Equal(t, 1, pool.Queued())

	_, err = pool.TrySubmit(newQuickTask(&mockExecutor{}))
	assert.ErrorIs(t, err, ErrQueueFull)

	close(first.release)
	assert.Eventually(t, func() bool {
		return pool.Headroom() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerPool_HandleCancel(t *testing.T) {
	newPool := func(t *testing.T) *WorkerPool {
		pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 1, QueueSize: 1}, setupTestLogger())
		pool.Start()
		t.Cleanup(pool.Stop)
		return pool
	}

	t.Run("running task", func(t *testing.T) {
		pool := newPool(t)
		exec := newBlockingExecutor()
		task := newQuickTask(exec)
		h, err := pool.TrySubmit(task)
		require.NoError(t, err)
		<-exec.started

		h.Cancel()

		require.True(t, waitDone(h.Done(), time.Second))
		assert.Equal(t, StateCancel, task.State())
	})

	t.Run("queued task is skipped", func(t *testing.T) {
		pool := newPool(t)
		blocker := newBlockingExecutor()
		_, err := pool.TrySubmit(newQuickTask(blocker))
		require.NoError(t, err)
		<-blocker.started

		queued := &mockExecutor{}
		task := newQuickTask(queued)
		h, err := pool.TrySubmit(task)
		require.NoError(t, err)
		h.Cancel()
		close(blocker.release)

		require.True(t, waitDone(h.Done(), time.Second))
		assert.Equal(t, 0, queued.Calls())
		assert.Equal(t, StateCancel, task.State())
	})
}

func TestWorkerPool_PanicReachesErrorHandler(t *testing.T) {
	log, logBuf := logger.NewCaptureLogger(slog.LevelDebug)
	pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 1}, log)

	var mu sync.Mutex
	var failed *Task
	var failure error
	pool.SetErrorHandler(func(t *Task, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed, failure = t, err
	})
	pool.Start()
	defer pool.Stop()

	// a finish hook runs outside the lifecycle's own recovery
	exec := &panickingFinisher{}
	task := newQuickTask(exec)
	h, err := pool.TrySubmit(task)
	require.NoError(t, err)
	require.True(t, waitDone(h.Done(), time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Same(t, task, failed)
	require.Error(t, failure)
	assert.Contains(t, failure.Error(), "finish hook exploded")
	assert.Contains(t, failure.Error(), "goroutine", "the handler gets the full stack")
	assert.Equal(t, StateException, task.State())

	logger.AssertLogContains(t, logBuf, "task lifecycle panicked")
	logger.AssertLogContains(t, logBuf, "[STACK_TRACE_REDACTED]")
	assert.NotContains(t, logBuf.String(), "goroutine ", "logged panics carry no stack dump")
}

type panickingFinisher struct {
	mockExecutor
}

func (p *panickingFinisher) OnFinish(*Task) {
	panic("finish hook exploded")
}

func TestWorkerPool_Resize(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 1, QueueSize: 0}, setupTestLogger())
	pool.Start()
	defer pool.Stop()

	pool.Resize(3)
	assert.Equal(t, 3, pool.Size())
	assert.Equal(t, 3, pool.Headroom())

	var execs []*blockingExecutor
	for i := 0; i < 3; i++ {
		exec := newBlockingExecutor()
		execs = append(execs, exec)
		_, err := pool.TrySubmit(newQuickTask(exec))
		require.NoError(t, err)
	}
	for _, exec := range execs {
		require.True(t, waitDone(exec.started, time.Second), "grown pool should run tasks in parallel")
	}
	assert.Equal(t, 3, pool.Running())

	pool.Resize(1)
	assert.Equal(t, 1, pool.Size())
	assert.Equal(t, 0, pool.Headroom())
	assert.Equal(t, 3, pool.Running(), "shrinking lets running tasks finish")

	for _, exec := range execs {
		close(exec.release)
	}
	assert.Eventually(t, func() bool {
		return pool.Running() == 0 && pool.Headroom() == 1
	}, time.Second, 10*time.Millisecond)

	// only one worker remains
	a, b := newBlockingExecutor(), newBlockingExecutor()
	_, err := pool.TrySubmit(newQuickTask(a))
	require.NoError(t, err)
	_, err = pool.TrySubmit(newQuickTask(b))
	assert.ErrorIs(t, err, ErrQueueFull)
	close(a.release)
	close(b.release)
}

func TestWorkerPool_Stop(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 1, QueueSize: 2}, setupTestLogger())
	pool.Start()

	running := newBlockingExecutor()
	runningTask := newQuickTask(running)
	_, err := pool.TrySubmit(runningTask)
	require.NoError(t, err)
	<-running.started

	queuedTask := newQuickTask(&mockExecutor{})
	queuedHandle, err := pool.TrySubmit(queuedTask)
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()
	require.True(t, waitDone(stopped, time.Second), "stop should not hang")

	assert.Equal(t, StateCancel, runningTask.State())
	assert.Equal(t, StateCancel, queuedTask.State())
	assert.True(t, waitDone(queuedHandle.Done(), time.Second))

	_, err = pool.TrySubmit(newQuickTask(&mockExecutor{}))
	assert.ErrorIs(t, err, ErrPoolStopped)
	assert.Equal(t, 0, pool.Headroom())

	pool.Stop()
}

func TestDetachedPool(t *testing.T) {
	pool := NewDetachedPool(setupTestLogger())

	var handled atomic.Int32
	pool.SetErrorHandler(func(*Task, error) { handled.Add(1) })

	var execs []*blockingExecutor
	var tasks []*Task
	for i := 0; i < 20; i++ {
		exec := newBlockingExecutor()
		task := newQuickTask(exec)
		_, err := pool.Submit(task)
		require.NoError(t, err)
		execs = append(execs, exec)
		tasks = append(tasks, task)
	}
	for _, exec := range execs {
		require.True(t, waitDone(exec.started, time.Second))
	}
	assert.Equal(t, 20, pool.Running())

	close(execs[0].release)
	assert.Eventually(t, func() bool {
		return pool.Running() == 19
	}, time.Second, 10*time.Millisecond)

	pool.Stop()
	assert.Equal(t, 0, pool.Running())
	assert.Equal(t, StateFinished, tasks[0].State())
	assert.Equal(t, StateCancel, tasks[1].State())

	_, err := pool.Submit(newQuickTask(&mockExecutor{}))
	assert.ErrorIs(t, err, ErrPoolStopped)
	assert.Equal(t, int32(0), handled.Load())
}

func TestDetachedPool_HandleCancel(t *testing.T) {
	pool := NewDetachedPool(setupTestLogger())
	defer pool.Stop()

	exec := newBlockingExecutor()
	task := newQuickTask(exec)
	h, err := pool.Submit(task)
	require.NoError(t, err)
	<-exec.started

	h.Cancel()

	require.True(t, waitDone(h.Done(), time.Second))
	assert.Equal(t, StateCancel, task.State())
}
