package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// PanicError carries a recovered panic value and the stack it was raised from
type PanicError struct {
	Name  string
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Name, e.Value)
}

// Recover recovers from panics in goroutines and logs them.
// If logger is nil, falls back to stderr to ensure the panic is recorded.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, r, stack(), logger)
	}
}

// RecoverError recovers a panic and stores it in *errp as a *PanicError.
// It must be deferred directly:
//
//	func step() (err error) {
//	    defer goroutine.RecoverError("step", logger, &err)
//	    ...
//	}
func RecoverError(name string, logger *zap.SugaredLogger, errp *error) {
	if r := recover(); r != nil {
		st := stack()
		logPanic(name, r, st, logger)
		if errp != nil {
			*errp = &PanicError{Name: name, Value: r, Stack: st}
		}
	}
}

func stack() string {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

func logPanic(name string, r interface{}, st string, logger *zap.SugaredLogger) {
	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", st)
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, st)
}
