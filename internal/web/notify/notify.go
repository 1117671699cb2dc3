// Package notify is the operational event sink the security pipeline
// reports into: cleanup completions, fail-closed store errors, critical
// alerts. Delivery beyond the process (pager, chat webhook) is a deployment
// concern; the default sink writes structured logs.
package notify

import (
	"context"
	"log/slog"
)

// Sink receives operational events.
type Sink interface {
	// Event records a routine operational event.
	Event(ctx context.Context, name string, attrs ...any)

	// Alert records an event that should page someone.
	Alert(ctx context.Context, name string, attrs ...any)
}

// LogSink writes events to a slog.Logger.
type LogSink struct {
	Logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{Logger: logger}
}

func (s *LogSink) Event(ctx context.Context, name string, attrs ...any) {
	s.Logger.InfoContext(ctx, name, attrs...)
}

func (s *LogSink) Alert(ctx context.Context, name string, attrs ...any) {
	s.Logger.ErrorContext(ctx, name, attrs...)
}

// NopSink discards everything. Useful in tests.
type NopSink struct{}

func (NopSink) Event(context.Context, string, ...any) {}
func (NopSink) Alert(context.Context, string, ...any) {}
