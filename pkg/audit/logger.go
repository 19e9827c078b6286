package audit

import (
	"context"
	"time"
)

// Logger is the audit sink contract. Log must not block the request path
// for long; implementations that can fail should degrade to an error
// return, never a panic.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
	Close() error
}

// contextKey is the type for context keys
type contextKey string

const loggerKey contextKey = "audit_logger"

// WithLogger stashes the audit logger on the context.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the context's audit logger, or a no-op one.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NopLogger discards everything. Used in tests and as the FromContext
// fallback.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Entry) error { return nil }
func (NopLogger) Close() error                     { return nil }

// stamp fills in the timestamp when the caller left it zero.
func stamp(entry *Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
}
