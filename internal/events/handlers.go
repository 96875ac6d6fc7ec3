package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/phrazzld/tasker/internal/redact"
)

// WriterHandler prints every event as a single line to an io.Writer
type WriterHandler struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterHandler creates a handler writing to w, or to stdout if w is nil
func NewWriterHandler(w io.Writer) *WriterHandler {
	if w == nil {
		w = os.Stdout
	}
	return &WriterHandler{w: w}
}

// HandleEvent writes the event followed by a newline
func (h *WriterHandler) HandleEvent(_ context.Context, event *StatusEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := fmt.Fprintln(h.w, event.String()); err != nil {
		return fmt.Errorf("failed to write status event: %w", err)
	}
	return nil
}

// LogHandler records events through a structured logger
type LogHandler struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogHandler creates a handler that logs events at the given level
func NewLogHandler(logger *slog.Logger, level slog.Level) *LogHandler {
	return &LogHandler{
		logger: logger.With("component", "status_events"),
		level:  level,
	}
}

// HandleEvent logs the event
func (h *LogHandler) HandleEvent(ctx context.Context, event *StatusEvent) error {
	h.logger.Log(ctx, h.level, "task status changed",
		"event_id", event.ID,
		"task_id", event.TaskID,
		"task_name", event.TaskName,
		"state", event.State,
		"message", event.Message)
	return nil
}

// RedactingHandler scrubs credentials and stack traces from event messages
// and passes a cleaned copy on to the next handler
type RedactingHandler struct {
	next EventHandler
}

// NewRedactingHandler wraps next
func NewRedactingHandler(next EventHandler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

// HandleEvent forwards a redacted copy of event. The original is left untouched.
func (h *RedactingHandler) HandleEvent(ctx context.Context, event *StatusEvent) error {
	clean := *event
	clean.Message = redact.String(event.Message)
	return h.next.HandleEvent(ctx, &clean)
}
