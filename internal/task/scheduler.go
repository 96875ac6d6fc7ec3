package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/tasker/internal/events"
	"golang.org/x/sync/errgroup"
)

// Scheduler errors
var (
	ErrSchedulerDisposed = errors.New("scheduler is disposed")
	ErrAlreadyStarted    = errors.New("scheduler already started")
)

// Claim failures of the active set
var (
	errKindBusy      = errors.New("task kind is busy")
	errAlreadyActive = errors.New("task is already active")
)

const (
	schedulerIdle int32 = iota
	schedulerRunning
	schedulerDisposed
)

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	// MaxParallel is the number of workers of the bounded backend
	MaxParallel int

	// MaxQueueSize is how many admitted tasks may wait beyond the busy workers
	MaxQueueSize int

	// Debug surfaces status changes of daemon tasks
	Debug bool

	// RemoveFailed is carried for embedders and does not change scheduling
	RemoveFailed bool

	// ReconcileInterval is the pause between reconciliation passes while
	// tasks are tracked
	ReconcileInterval time.Duration

	// IdleInterval is the pause between passes while nothing is tracked
	IdleInterval time.Duration

	// WaitPollInterval is how often SubmitAndWait checks the task state
	WaitPollInterval time.Duration

	// CallbackTimeout bounds SubmitAndAwaitResponse when ctx has no deadline
	CallbackTimeout time.Duration
}

// DefaultSchedulerConfig returns a SchedulerConfig with reasonable defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxParallel:       40 * runtime.NumCPU(),
		MaxQueueSize:      100,
		RemoveFailed:      true,
		ReconcileInterval: 100 * time.Millisecond,
		IdleInterval:      10 * time.Second,
		WaitPollInterval:  time.Second,
		CallbackTimeout:   5 * time.Minute,
	}
}

// withDefaults fills zero values from DefaultSchedulerConfig
func (c SchedulerConfig) withDefaults() SchedulerConfig {
	d := DefaultSchedulerConfig()
	if c.MaxParallel <= 0 {
		c.MaxParallel = d.MaxParallel
	}
	if c.MaxQueueSize < 0 {
		c.MaxQueueSize = 0
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = d.ReconcileInterval
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = d.IdleInterval
	}
	if c.WaitPollInterval <= 0 {
		c.WaitPollInterval = d.WaitPollInterval
	}
	if c.CallbackTimeout <= 0 {
		c.CallbackTimeout = d.CallbackTimeout
	}
	return c
}

// Stats is a point-in-time summary of the scheduler
type Stats struct {
	Active      int
	Delayed     int
	Inactive    int
	Running     int
	Queued      int
	Detached    int
	MaxParallel int
}

// SchedulerOption customizes a Scheduler
type SchedulerOption func(*Scheduler)

// WithEventEmitter sets the emitter that receives status changes of
// submitted tasks. By default they are redacted and written to stdout.
func WithEventEmitter(emitter events.EventEmitter) SchedulerOption {
	return func(s *Scheduler) {
		s.emitter = emitter
	}
}

// Scheduler admits tasks to a bounded worker pool or an unbounded detached
// pool according to their policy, delays what does not fit, and reconciles
// its tracking sets in the background.
type Scheduler struct {
	cfgMu  sync.RWMutex
	config SchedulerConfig

	bounded  *WorkerPool
	detached *DetachedPool

	active   *activeSet
	delayed  *orderedSet
	inactive *orderedSet

	emitter events.EventEmitter
	logger  *slog.Logger

	// restarts holds keep-alive tasks between their timeout and the next run
	restarts sync.Map

	wake  chan struct{}
	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. Call Start to begin processing.
func NewScheduler(config SchedulerConfig, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	config = config.withDefaults()
	logger = logger.With("component", "scheduler")
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		config: config,
		bounded: NewWorkerPool(WorkerPoolConfig{
			WorkerCount: config.MaxParallel,
			QueueSize:   config.MaxQueueSize,
		}, logger),
		detached: NewDetachedPool(logger),
		active:   newActiveSet(),
		delayed:  newOrderedSet(),
		inactive: newOrderedSet(),
		logger:   logger,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.emitter == nil {
		emitter := events.NewInMemoryEventEmitter(logger)
		emitter.RegisterHandler(events.NewRedactingHandler(events.NewWriterHandler(os.Stdout)))
		s.emitter = emitter
	}

	s.bounded.SetErrorHandler(s.onCrash)
	s.detached.SetErrorHandler(s.onCrash)
	return s
}

// Start launches the workers and the reconciliation loop
func (s *Scheduler) Start() error {
	if !s.state.CompareAndSwap(schedulerIdle, schedulerRunning) {
		if s.state.Load() == schedulerDisposed {
			return ErrSchedulerDisposed
		}
		return ErrAlreadyStarted
	}

	s.bounded.Start()

	s.wg.Add(1)
	go s.reconcileLoop()

	s.logger.Info("scheduler started",
		"max_parallel", s.bounded.Size(),
		"max_queue_size", s.Config().MaxQueueSize)
	return nil
}

// Config returns the current configuration
func (s *Scheduler) Config() SchedulerConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.config
}

// SetMaxParallel resizes the bounded backend
func (s *Scheduler) SetMaxParallel(n int) {
	if n <= 0 {
		s.logger.Warn("ignoring invalid max parallel", "max_parallel", n)
		return
	}
	s.cfgMu.Lock()
	s.config.MaxParallel = n
	s.cfgMu.Unlock()

	s.bounded.Resize(n)
	s.signal()
}

// SetDebug toggles surfacing of daemon status changes for tasks submitted afterwards
func (s *Scheduler) SetDebug(debug bool) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.config.Debug = debug
}

// Submit hands t to the scheduler. It never blocks: the task is started,
// delayed or, for optional tasks, dropped when there is no room for it.
// Submitting a task that is already active or delayed is a no-op.
func (s *Scheduler) Submit(t *Task) error {
	if t == nil {
		return ErrNilTask
	}
	t.admission.Lock()
	defer t.admission.Unlock()
	return s.submitLocked(t)
}

func (s *Scheduler) submitLocked(t *Task) error {
	if s.disposed() {
		return ErrSchedulerDisposed
	}
	if s.active.contains(t) || s.delayed.contains(t) {
		s.logger.Debug("task already scheduled", "task_id", t.ID(), "task_name", t.Name())
		return nil
	}
	s.inactive.remove(t)
	s.prepare(t)

	s.route(t)
	s.signal()
	return nil
}

// Force runs t on the detached backend regardless of load
func (s *Scheduler) Force(t *Task) error {
	if t == nil {
		return ErrNilTask
	}
	if s.disposed() {
		return ErrSchedulerDisposed
	}
	t.admission.Lock()
	defer t.admission.Unlock()
	s.inactive.remove(t)
	s.delayed.remove(t)
	s.prepare(t)

	err := s.force(t)
	s.signal()
	return err
}

// Retry resets t and submits it again. It is a no-op for tasks that are still scheduled.
func (s *Scheduler) Retry(t *Task) error {
	if t == nil {
		return ErrNilTask
	}
	t.admission.Lock()
	defer t.admission.Unlock()
	if s.active.contains(t) || s.delayed.contains(t) {
		s.logger.Debug("task still scheduled, not retrying", "task_id", t.ID(), "task_name", t.Name())
		return nil
	}
	s.inactive.remove(t)
	t.Reset()
	return s.submitLocked(t)
}

// SubmitAndWait submits t and blocks until it leaves the active states, the
// scheduler stops tracking it, or ctx ends. It returns the last observed state.
func (s *Scheduler) SubmitAndWait(ctx context.Context, t *Task) State {
	if t == nil {
		return StateError
	}
	if err := s.Submit(t); err != nil {
		s.logger.Error("failed to submit task", "task_id", t.ID(), "task_name", t.Name(), "error", err)
		return t.State()
	}

	ticker := time.NewTicker(s.Config().WaitPollInterval)
	defer ticker.Stop()
	for t.Active() && s.tracks(t) {
		select {
		case <-ctx.Done():
			return t.State()
		case <-ticker.C:
		}
	}
	return t.State()
}

// SubmitAndAwaitResponse submits a callback task, waits for it and returns
// its response value. Without a deadline on ctx the wait is bounded by the
// scheduler's callback timeout; on expiry the current value is returned
// together with the context error.
func SubmitAndAwaitResponse[T any](ctx context.Context, s *Scheduler, t *Task) (T, error) {
	var zero T
	if t == nil {
		return zero, ErrNilTask
	}
	resp, ok := ResponseOf[T](t)
	if !ok {
		s.logger.Error("task is not a callback", "task_id", t.ID(), "task_name", t.Name())
		return zero, fmt.Errorf("%w: %s", ErrNotCallback, t.Name())
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config().CallbackTimeout)
		defer cancel()
	}

	s.SubmitAndWait(ctx, t)
	if err := ctx.Err(); err != nil {
		return resp.Value(), fmt.Errorf("waiting for %s: %w", t.Name(), err)
	}
	return resp.Value(), nil
}

// tracks reports whether t is active, delayed or waiting for a keep-alive restart
func (s *Scheduler) tracks(t *Task) bool {
	if s.active.contains(t) || s.delayed.contains(t) {
		return true
	}
	_, restarting := s.restarts.Load(t)
	return restarting
}

// Remove stops tracking t. An active task is cancelled and, unless it is a
// daemon or already ended cleanly, kept in the inactive set. A delayed task
// is cancelled before it ever runs. Removing an untracked task does nothing.
func (s *Scheduler) Remove(t *Task) {
	if t == nil {
		return
	}
	if h, ok := s.active.release(t); ok {
		state := t.State()
		if h != nil {
			h.Cancel()
		}
		s.retire(t, state)
		s.logger.Debug("task removed from active", "task_id", t.ID(), "task_name", t.Name())
		return
	}
	if s.delayed.remove(t) {
		t.Cancel()
		s.logger.Debug("task removed from delayed", "task_id", t.ID(), "task_name", t.Name())
		return
	}
	s.inactive.remove(t)
}

// Dispose cancels every tracked task, stops both backends and the
// reconciliation loop. The scheduler cannot be used afterwards.
func (s *Scheduler) Dispose() {
	if s.state.Swap(schedulerDisposed) == schedulerDisposed {
		return
	}
	s.cancel()

	for t, h := range s.active.drain() {
		if h != nil {
			h.Cancel()
		}
		t.interrupt()
	}
	for _, t := range s.delayed.clear() {
		t.Cancel()
	}
	s.inactive.clear()

	var g errgroup.Group
	g.Go(func() error {
		s.bounded.Stop()
		return nil
	})
	g.Go(func() error {
		s.detached.Stop()
		return nil
	})
	_ = g.Wait()

	s.wg.Wait()
	s.logger.Info("scheduler disposed")
}

// Active returns the tasks currently admitted to a backend
func (s *Scheduler) Active() []*Task {
	return s.active.snapshot()
}

// Delayed returns the tasks waiting for capacity, oldest first
func (s *Scheduler) Delayed() []*Task {
	return s.delayed.snapshot()
}

// Inactive returns the tasks that stopped without ending cleanly
func (s *Scheduler) Inactive() []*Task {
	return s.inactive.snapshot()
}

// All returns every tracked task
func (s *Scheduler) All() []*Task {
	all := s.Active()
	all = append(all, s.Delayed()...)
	return append(all, s.Inactive()...)
}

// TasksOfKind returns every tracked task of the given kind
func (s *Scheduler) TasksOfKind(kind string) []*Task {
	var tasks []*Task
	for _, t := range s.All() {
		if t.Kind() == kind {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// Stats returns counters for the tracking sets and backends
func (s *Scheduler) Stats() Stats {
	return Stats{
		Active:      s.active.len(),
		Delayed:     s.delayed.len(),
		Inactive:    s.inactive.len(),
		Running:     s.bounded.Running(),
		Queued:      s.bounded.Queued(),
		Detached:    s.detached.Running(),
		MaxParallel: s.bounded.Size(),
	}
}

// prepare binds scheduler collaborators and revives tasks that ended
// earlier. A cancelled task stays cancelled until it is retried.
func (s *Scheduler) prepare(t *Task) {
	t.attach(s.logger, s.emitter, s.Config().Debug)
	switch t.State() {
	case StateFinished, StateError, StateException, StateRetry:
		t.Reset()
	}
}

func (s *Scheduler) route(t *Task) {
	policy := t.Policy()
	if policy == PolicyForce || t.HasProperty(PropKeepAlive) {
		if err := s.force(t); err != nil {
			s.logger.Error("failed to force task", "task_id", t.ID(), "task_name", t.Name(), "error", err)
		}
		return
	}

	if s.active.contains(t) {
		s.logger.Debug("task already active", "task_id", t.ID(), "task_name", t.Name())
		return
	}

	if policy == PolicySingle && (s.active.hasKind(t.Kind()) || s.delayed.hasKind(t.Kind())) {
		s.delay(t)
		return
	}

	err := s.admit(t)
	switch {
	case err == nil:
	case errors.Is(err, errAlreadyActive):
		s.logger.Debug("task already active", "task_id", t.ID(), "task_name", t.Name())
	case errors.Is(err, errKindBusy):
		s.delay(t)
	case errors.Is(err, ErrQueueFull):
		s.reject(t, err)
	default:
		s.logger.Error("failed to admit task", "task_id", t.ID(), "task_name", t.Name(), "error", err)
	}
}

// admit claims t in the active set and hands it to the bounded backend
func (s *Scheduler) admit(t *Task) error {
	switch s.active.claim(t, t.Policy() == PolicySingle) {
	case claimHeld:
		return errAlreadyActive
	case claimKindBusy:
		return errKindBusy
	}
	h, err := s.bounded.TrySubmit(t)
	if err != nil {
		s.active.release(t)
		return err
	}
	if !s.active.bind(t, h) {
		h.Cancel()
	}
	return nil
}

// force claims t in the active set and hands it to the detached backend
func (s *Scheduler) force(t *Task) error {
	if s.active.claim(t, false) != claimed {
		return nil
	}
	h, err := s.detached.Submit(t)
	if err != nil {
		s.active.release(t)
		return err
	}
	if !s.active.bind(t, h) {
		h.Cancel()
	}
	return nil
}

// reject handles a task the bounded backend had no room for
func (s *Scheduler) reject(t *Task, err error) {
	switch t.Policy() {
	case PolicyOptional:
		t.Cancel()
		t.SetStatus("Dropped: no capacity")
		s.logger.Info("dropping optional task",
			"task_id", t.ID(),
			"task_name", t.Name(),
			"reason", err)
	default:
		s.delay(t)
	}
}

func (s *Scheduler) delay(t *Task) {
	if s.delayed.add(t) {
		s.logger.Debug("task delayed",
			"task_id", t.ID(),
			"task_name", t.Name(),
			"policy", t.Policy().String())
	}
}

// retire keeps a released task for inspection unless it is a daemon or had
// ended cleanly when it was released
func (s *Scheduler) retire(t *Task, state State) {
	if t.HasProperty(PropDaemon) {
		return
	}
	switch state {
	case StateFinished, StateCancel:
		return
	}
	s.inactive.add(t)
}

func (s *Scheduler) onCrash(t *Task, err error) {
	t.SetStatus("Crashed: " + err.Error())
}

func (s *Scheduler) disposed() bool {
	return s.state.Load() == schedulerDisposed
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// reconcileLoop periodically sweeps the active set and promotes delayed tasks
func (s *Scheduler) reconcileLoop() {
	defer s.wg.Done()

	s.logger.Debug("reconcile loop started")
	for {
		cfg := s.Config()
		interval := cfg.ReconcileInterval
		if s.active.len() == 0 && s.delayed.len() == 0 {
			interval = cfg.IdleInterval
		}

		timer := time.NewTimer(interval)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			s.logger.Debug("reconcile loop stopped")
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}

		s.reconcile()
	}
}

func (s *Scheduler) reconcile() {
	s.sweep()
	s.promote()
}

// sweep drops tasks whose lifecycle or backend run has ended and expires
// timed-out ones
func (s *Scheduler) sweep() {
	for _, t := range s.active.snapshot() {
		if t.TimedOut() {
			s.expire(t)
			continue
		}
		if !t.Active() {
			s.Remove(t)
			continue
		}
		if s.active.ended(t) {
			s.logger.Warn("task run ended in an active state",
				"task_id", t.ID(),
				"task_name", t.Name(),
				"state", t.State().String())
			s.Remove(t)
		}
	}
}

// expire cancels a timed-out task. Keep-alive tasks are restarted on the
// detached backend once the previous run has returned.
func (s *Scheduler) expire(t *Task) {
	keepAlive := t.HasProperty(PropKeepAlive)
	if keepAlive {
		s.restarts.Store(t, struct{}{})
	}
	h, ok := s.active.release(t)
	if !ok {
		s.restarts.Delete(t)
		return
	}
	s.logger.Warn("task timed out",
		"task_id", t.ID(),
		"task_name", t.Name(),
		"keep_alive", keepAlive)
	state := t.State()
	if h != nil {
		h.Cancel()
	}

	if !keepAlive {
		s.retire(t, state)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.restarts.Delete(t)
		if h != nil {
			select {
			case <-h.Done():
			case <-s.ctx.Done():
				return
			}
		}
		t.admission.Lock()
		defer t.admission.Unlock()
		if s.disposed() {
			return
		}
		s.inactive.remove(t)
		t.Reset()
		if err := s.force(t); err != nil {
			s.logger.Error("failed to restart keep-alive task",
				"task_id", t.ID(),
				"task_name", t.Name(),
				"error", err)
			return
		}
		s.logger.Info("keep-alive task restarted", "task_id", t.ID(), "task_name", t.Name())
	}()
}

// promote moves delayed tasks to the bounded backend in FIFO order while it has room
func (s *Scheduler) promote() {
	for _, t := range s.delayed.snapshot() {
		if s.bounded.Headroom() <= 0 {
			return
		}
		if t.Policy() == PolicySingle && s.active.hasKind(t.Kind()) {
			continue
		}

		if full := s.promoteOne(t); full {
			return
		}
	}
}

// promoteOne admits a single delayed task, putting it back in place when
// there is no room. It reports whether the bounded backend is full.
func (s *Scheduler) promoteOne(t *Task) bool {
	t.admission.Lock()
	defer t.admission.Unlock()

	pos, ok := s.delayed.take(t)
	if !ok {
		return false
	}
	err := s.admit(t)
	switch {
	case err == nil:
		s.logger.Debug("delayed task promoted", "task_id", t.ID(), "task_name", t.Name())
		return false
	case errors.Is(err, errAlreadyActive):
		return false
	}
	s.delayed.insertAt(pos, t)
	return errors.Is(err, ErrQueueFull)
}
