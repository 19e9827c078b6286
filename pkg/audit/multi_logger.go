package audit

import (
	"context"
	"errors"
)

// MultiLogger fans entries out to several sinks. Every sink sees every
// entry even when an earlier one fails; errors are joined.
type MultiLogger struct {
	loggers []Logger
}

func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Log(ctx context.Context, entry Entry) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
