// Package events carries task status changes from the engine to whoever
// wants to observe them.
//
// Tasks emit a StatusEvent every time their status text changes. An
// EventEmitter fans the events out to registered EventHandlers. The package
// ships an in-memory emitter, a handler printing events to an io.Writer and
// one recording them through log/slog.
package events
