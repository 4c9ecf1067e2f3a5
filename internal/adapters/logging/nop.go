package logging

import (
	"context"

	"github.com/toolbay/toolbay/internal/ports"
)

// NopLogger discards all log messages.
type NopLogger struct{}

// NewNopLogger creates a logger that does nothing.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// Debug does nothing.
func (l *NopLogger) Debug(_ context.Context, _ string, _ ...ports.Field) {}

// Info does nothing.
func (l *NopLogger) Info(_ context.Context, _ string, _ ...ports.Field) {}

// Warn does nothing.
func (l *NopLogger) Warn(_ context.Context, _ string, _ ...ports.Field) {}

// Error does nothing.
func (l *NopLogger) Error(_ context.Context, _ string, _ ...ports.Field) {}

// With returns the same logger.
func (l *NopLogger) With(_ ...ports.Field) ports.Logger { return l }

// Level always reports LevelError.
func (l *NopLogger) Level() ports.Level { return ports.LevelError }

// SetLevel does nothing.
func (l *NopLogger) SetLevel(_ ports.Level) {}

// Ensure NopLogger implements Logger.
var _ ports.Logger = (*NopLogger)(nil)
