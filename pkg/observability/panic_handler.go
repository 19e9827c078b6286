package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers a panic and logs it with the stack trace. Call it
// in a defer:
//
//	defer observability.RecoverPanic(logger, "audit sweep")
//
// The panic is not re-raised; the surrounding goroutine returns normally.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// RecoverPanicWithCallback recovers a panic, logs it, then runs callback.
// Use it when a goroutine must release something on the way out, like
// closing a channel other goroutines wait on.
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
		if callback != nil {
			callback()
		}
	}
}

// MustRecover converts a recovered panic value to an error, or nil when no
// panic occurred:
//
//	defer func() { err = observability.MustRecover(recover()) }()
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
