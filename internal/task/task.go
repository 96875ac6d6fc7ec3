package task

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasker/internal/events"
)

// Default lifecycle timings
const (
	// DefaultRepeatDelay is the pause between lifecycle iterations
	DefaultRepeatDelay = time.Second

	// DefaultPausePollInterval is how often a paused task checks whether it was resumed
	DefaultPausePollInterval = 2 * time.Second

	// DefaultMaxAttempts is the attempt budget of a task that does not declare one
	DefaultMaxAttempts = 1

	initialStatus = "In queue"
)

// Common task errors
var (
	ErrNilTask           = errors.New("task cannot be nil")
	ErrNilExecutor       = errors.New("executor cannot be nil")
	ErrProtocolViolation = errors.New("executor returned running state")
	ErrNotCallback       = errors.New("task does not expose a callback response")
)

// Executor is the unit of business logic driven by a task's lifecycle.
// ExecuteTask is called once per attempt and reports the outcome of that attempt.
// A returned error is treated as an execution fault and maps to StateException.
type Executor interface {
	ExecuteTask(ctx context.Context, t *Task) (State, error)
}

// ExecutorFunc adapts a plain function to the Executor interface
type ExecutorFunc func(ctx context.Context, t *Task) (State, error)

// ExecuteTask calls f(ctx, t)
func (f ExecutorFunc) ExecuteTask(ctx context.Context, t *Task) (State, error) {
	return f(ctx, t)
}

// PreConditionChecker is implemented by executors that must verify
// their environment before the lifecycle starts
type PreConditionChecker interface {
	PreConditionsMet(t *Task) bool
}

// Starter is implemented by executors that want a hook when the lifecycle starts.
// The task has already been reset when OnStart is called.
type Starter interface {
	OnStart(t *Task)
}

// Finisher is implemented by executors that want a hook when the lifecycle ends
type Finisher interface {
	OnFinish(t *Task)
}

// PolicyProvider is implemented by executors whose admission policy is fixed by their type
type PolicyProvider interface {
	Policy() Policy
}

// MaxAttemptsProvider is implemented by executors that declare their own attempt budget
type MaxAttemptsProvider interface {
	MaxAttempts() int
}

// TimeoutChecker is implemented by executors that can detect being stuck
// independently of the task state
type TimeoutChecker interface {
	TimedOut(t *Task) bool
}

// statusReporter lets an executor expose live progress as the task status
type statusReporter interface {
	currentStatus() (string, bool)
}

// resetter lets an executor drop per-run state when the task is reset
type resetter interface {
	reset()
}

// Task is a schedulable unit of work with its own lifecycle.
//
// Identity, kind and executor are fixed at construction. Lifecycle state is
// safe for concurrent reads; a single Task must not be run by two goroutines
// at once, which the Scheduler guarantees for the tasks it tracks.
type Task struct {
	id          uuid.UUID
	name        string
	kind        string
	exec        Executor
	kindSource  any
	policy      Policy
	maxAttempts int
	timeout     time.Duration
	pausePoll   time.Duration
	attrs       *Attributes

	// admission serializes scheduler decisions about this task
	admission sync.Mutex

	mu          sync.RWMutex
	state       State
	status      string
	attempts    int
	repeatDelay time.Duration
	props       Property
	startedAt   time.Time
	logger      *slog.Logger
	emitter     events.EventEmitter
	debug       bool
}

// Option configures a Task at construction
type Option func(*Task)

// WithName overrides the type-derived task name
func WithName(name string) Option {
	return func(t *Task) {
		t.name = name
	}
}

// WithKind overrides the key used for single-instance exclusion
func WithKind(kind string) Option {
	return func(t *Task) {
		t.kind = kind
	}
}

// WithPolicy sets the admission policy. An executor implementing
// PolicyProvider takes precedence.
func WithPolicy(p Policy) Option {
	return func(t *Task) {
		t.policy = p
	}
}

// WithProperties enables the given properties
func WithProperties(props ...Property) Option {
	return func(t *Task) {
		for _, p := range props {
			t.props |= p
		}
	}
}

// WithMaxAttempts sets the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(t *Task) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// WithRepeatDelay sets the pause between lifecycle iterations
func WithRepeatDelay(d time.Duration) Option {
	return func(t *Task) {
		t.repeatDelay = d
	}
}

// WithTimeout marks the task as timed out once a single attempt runs longer than d.
// Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Task) {
		t.timeout = d
	}
}

// WithPausePollInterval sets how often a paused task checks whether it was resumed
func WithPausePollInterval(d time.Duration) Option {
	return func(t *Task) {
		t.pausePoll = d
	}
}

// WithLogger sets the logger used for execution faults
func WithLogger(logger *slog.Logger) Option {
	return func(t *Task) {
		t.logger = logger
	}
}

// WithEmitter sets the sink that receives status changes
func WithEmitter(emitter events.EventEmitter) Option {
	return func(t *Task) {
		t.emitter = emitter
	}
}

// New creates a task driven by exec.
//
// The name and kind default to the executor's type name; tasks built from an
// ExecutorFunc use their name as kind instead, since every function shares one type.
// exec must not be nil.
func New(exec Executor, opts ...Option) *Task {
	if exec == nil {
		panic(ErrNilExecutor)
	}

	t := &Task{
		id:          uuid.New(),
		exec:        exec,
		kindSource:  exec,
		policy:      PolicyDefault,
		maxAttempts: DefaultMaxAttempts,
		pausePoll:   DefaultPausePollInterval,
		attrs:       newAttributes(),
		state:       StateInQueue,
		status:      initialStatus,
		repeatDelay: DefaultRepeatDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	if t.name == "" {
		t.name = typeName(t.kindSource)
	}
	if t.kind == "" {
		switch t.kindSource.(type) {
		case ExecutorFunc, FlowBuilderFunc:
			t.kind = t.name
		default:
			t.kind = typeName(t.kindSource)
		}
	}
	return t
}

// withKindSource derives the default name and kind from v instead of the executor
func withKindSource(v any) Option {
	return func(t *Task) {
		t.kindSource = v
	}
}

// NewFunc creates a task from a plain function
func NewFunc(name string, fn func(ctx context.Context, t *Task) (State, error), opts ...Option) *Task {
	return New(ExecutorFunc(fn), append([]Option{WithName(name)}, opts...)...)
}

func typeName(v any) string {
	rt := reflect.TypeOf(v)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Name() == "" {
		return rt.String()
	}
	return rt.Name()
}

// ID returns the task's unique identifier
func (t *Task) ID() uuid.UUID {
	return t.id
}

// Name returns the task name
func (t *Task) Name() string {
	return t.name
}

// Kind returns the concrete task type used for single-instance exclusion
func (t *Task) Kind() string {
	return t.kind
}

// Executor returns the business logic driven by this task
func (t *Task) Executor() Executor {
	return t.exec
}

// Policy returns the admission policy
func (t *Task) Policy() Policy {
	if pp, ok := t.exec.(PolicyProvider); ok {
		return pp.Policy()
	}
	return t.policy
}

// MaxAttempts returns the attempt budget
func (t *Task) MaxAttempts() int {
	if mp, ok := t.exec.(MaxAttemptsProvider); ok {
		if n := mp.MaxAttempts(); n > 0 {
			return n
		}
	}
	return t.maxAttempts
}

// Attributes returns the task's key/value bag
func (t *Task) Attributes() *Attributes {
	return t.attrs
}

// State returns the current lifecycle state
func (t *Task) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Active reports whether the task has not yet left its lifecycle
func (t *Task) Active() bool {
	return t.State().Active()
}

// Attempts returns the number of execution tries since the last reset
func (t *Task) Attempts() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.attempts
}

// Status returns the observable status text. While the task is running,
// executors that track progress (such as step flows) supply it.
func (t *Task) Status() string {
	if sr, ok := t.exec.(statusReporter); ok && t.State() == StateRunning {
		if s, ok := sr.currentStatus(); ok {
			return s
		}
	}
	return t.ownStatus()
}

func (t *Task) ownStatus() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// SetStatus updates the status text. It returns false if the status did not change.
// Changes are surfaced to the task's emitter unless the task is a daemon and
// debug output is disabled.
func (t *Task) SetStatus(status string) bool {
	t.mu.Lock()
	if t.status == status {
		t.mu.Unlock()
		return false
	}
	t.status = status
	state := t.state
	emitter := t.emitter
	surface := t.props&PropDaemon == 0 || t.debug
	t.mu.Unlock()

	if emitter != nil && surface {
		ev := events.NewStatusEvent(t.id, t.name, state.String(), status)
		if err := emitter.EmitEvent(context.Background(), ev); err != nil {
			t.log().Warn("failed to emit status event",
				"task_id", t.id,
				"task_name", t.name,
				"error", err)
		}
	}
	return true
}

// RepeatDelay returns the pause between lifecycle iterations
func (t *Task) RepeatDelay() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.repeatDelay
}

// SetRepeatDelay changes the pause between lifecycle iterations
func (t *Task) SetRepeatDelay(d time.Duration) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.repeatDelay = d
	return t
}

// HasProperty reports whether p is set
func (t *Task) HasProperty(p Property) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.props&p == p
}

// Properties returns the set properties
func (t *Task) Properties() Property {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.props
}

// SetProperty enables or disables p
func (t *Task) SetProperty(p Property, enabled bool) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enabled {
		t.props |= p
	} else {
		t.props &^= p
	}
	return t
}

// TimedOut reports whether the current attempt has exceeded the task's timeout
func (t *Task) TimedOut() bool {
	if tc, ok := t.exec.(TimeoutChecker); ok {
		return tc.TimedOut(t)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.timeout <= 0 || t.state != StateRunning {
		return false
	}
	return time.Since(t.startedAt) > t.timeout
}

// attach binds scheduler-provided collaborators that were not set explicitly
func (t *Task) attach(logger *slog.Logger, emitter events.EventEmitter, debug bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.logger == nil {
		t.logger = logger
	}
	if t.emitter == nil {
		t.emitter = emitter
	}
	t.debug = debug
}

func (t *Task) log() *slog.Logger {
	t.mu.RLock()
	logger := t.logger
	t.mu.RUnlock()
	if logger == nil {
		logger = slog.Default()
	}
	return logger
}

// String returns the task name
func (t *Task) String() string {
	return t.name
}

// Attributes is a concurrency-safe key/value bag for executor use
type Attributes struct {
	mu     sync.RWMutex
	values map[string]any
}

func newAttributes() *Attributes {
	return &Attributes{values: make(map[string]any)}
}

// Get returns the value stored under key
func (a *Attributes) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[key]
	return v, ok
}

// Set stores value under key
func (a *Attributes) Set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[key] = value
}

// Delete removes key
func (a *Attributes) Delete(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.values, key)
}

// Len returns the number of stored keys
func (a *Attributes) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.values)
}
