package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatusEvent reports a change of a task's human-readable status.
// It carries plain values so that consumers need no dependency on the task package.
type StatusEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// TaskID identifies the task whose status changed
	TaskID uuid.UUID `json:"task_id"`

	// TaskName is the display name of the task
	TaskName string `json:"task_name"`

	// State is the lifecycle state of the task when the status changed
	State string `json:"state"`

	// Message is the new status text
	Message string `json:"message"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewStatusEvent creates a new StatusEvent for the given task.
func NewStatusEvent(taskID uuid.UUID, taskName, state, message string) *StatusEvent {
	return &StatusEvent{
		ID:        uuid.New(),
		TaskID:    taskID,
		TaskName:  taskName,
		State:     state,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

// String renders the event the way it is printed to a console
func (e *StatusEvent) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.State, e.TaskName, e.Message)
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *StatusEvent) error
}

// EventHandlerFunc adapts a function to the EventHandler interface
type EventHandlerFunc func(ctx context.Context, event *StatusEvent) error

// HandleEvent calls f
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *StatusEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows tasks to publish status changes without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *StatusEvent) error
}
