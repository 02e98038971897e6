package recordfiles

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
// Useful for production when you don't need event handling or for testing
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// FileCommitted does nothing and returns nil
func (n *NoopEventSink) FileCommitted(ctx context.Context, file *File) error {
	return nil
}

// FileDeleted does nothing and returns nil
func (n *NoopEventSink) FileDeleted(ctx context.Context, file *File) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action
// Useful for development and debugging
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

// FileCommitted logs the commit event
func (l *LoggingEventSink) FileCommitted(ctx context.Context, file *File) error {
	l.logger.InfoContext(ctx, "File committed",
		"record_id", file.RecordID, "key", file.Key, "mimetype", file.MimeType, "kind", file.Kind())
	return nil
}

// FileDeleted logs the deletion event
func (l *LoggingEventSink) FileDeleted(ctx context.Context, file *File) error {
	l.logger.InfoContext(ctx, "File deleted",
		"record_id", file.RecordID, "key", file.Key, "kind", file.Kind())
	return nil
}
