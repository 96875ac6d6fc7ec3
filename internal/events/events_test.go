package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatusEvent(t *testing.T) {
	taskID := uuid.New()

	event := NewStatusEvent(taskID, "import", "Running", "Fetching rows")

	require.NotNil(t, event)
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, taskID, event.TaskID)
	assert.Equal(t, "import", event.TaskName)
	assert.Equal(t, "Running", event.State)
	assert.Equal(t, "Fetching rows", event.Message)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)
	assert.Equal(t, "[Running] import: Fetching rows", event.String())
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	mu sync.Mutex
	// The last event received by this handler
	LastEvent *StatusEvent
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *StatusEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestEventHandler(t *testing.T) {
	// Create a mock handler
	handler := &MockEventHandler{}

	event := NewStatusEvent(uuid.New(), "test", "In Queue", "In queue")

	// Handle the event
	err := handler.HandleEvent(context.Background(), event)
	assert.NoError(t, err)
	assert.Equal(t, 1, handler.HandledCount)
	assert.Equal(t, event, handler.LastEvent)

	// Test error case
	expectedErr := errors.New("handler error")
	handler.HandlerError = expectedErr
	err = handler.HandleEvent(context.Background(), event)
	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 2, handler.HandledCount)
}

func TestEventHandlerFunc(t *testing.T) {
	var got *StatusEvent
	handler := EventHandlerFunc(func(_ context.Context, event *StatusEvent) error {
		got = event
		return nil
	})

	event := NewStatusEvent(uuid.New(), "test", "Finished", "done")
	require.NoError(t, handler.HandleEvent(context.Background(), event))
	assert.Same(t, event, got)
}
