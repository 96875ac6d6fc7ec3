package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// LogBuffer captures the output of a JSON logger in tests.
// It is safe for concurrent use by the logger and the test.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Reset drops the captured output
func (b *LogBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// Entries decodes the captured JSON records in the order they were written
func (b *LogBuffer) Entries() ([]map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(b.String()))
	var entries []map[string]any
	for {
		var entry map[string]any
		err := dec.Decode(&entry)
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, fmt.Errorf("failed to decode log record %d: %w", len(entries)+1, err)
		}
		entries = append(entries, entry)
	}
}

// Find returns the first record whose message is msg
func (b *LogBuffer) Find(msg string) (map[string]any, bool) {
	entries, _ := b.Entries()
	for _, entry := range entries {
		if entry[slog.MessageKey] == msg {
			return entry, true
		}
	}
	return nil, false
}

// NewCaptureLogger returns a JSON logger at level that writes into a new buffer
func NewCaptureLogger(level slog.Level) (*slog.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})), buf
}

// CaptureDefault installs a debug capture logger as slog.Default until the test ends
func CaptureDefault(t testing.TB) (*slog.Logger, *LogBuffer) {
	t.Helper()
	original := slog.Default()
	log, buf := NewCaptureLogger(slog.LevelDebug)
	slog.SetDefault(log)
	t.Cleanup(func() { slog.SetDefault(original) })
	return log, buf
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// AssertLogContains fails the test unless the captured output contains content
func AssertLogContains(t testing.TB, buf *LogBuffer, content string) {
	t.Helper()
	if logs := buf.String(); !strings.Contains(logs, content) {
		t.Errorf("expected log output to contain %q\nlogs:\n%s", content, logs)
	}
}

// AssertLogField fails the test unless the record with message msg carries
// field set to expected
func AssertLogField(t testing.TB, buf *LogBuffer, msg, field string, expected any) {
	t.Helper()
	entry, ok := buf.Find(msg)
	if !ok {
		t.Errorf("no log record with message %q\nlogs:\n%s", msg, buf.String())
		return
	}
	if got := entry[field]; got != expected {
		t.Errorf("log record %q: field %q = %v, want %v", msg, field, got, expected)
	}
}
