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

// Recover recovers from panics in goroutines and logs them.
// Must be called directly by defer.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, r, logger)
	}
}

// RecoverWith is Recover plus a callback that receives the panic value,
// letting workers turn a panic into a result instead of losing it.
// Must be called directly by defer.
func RecoverWith(name string, logger *zap.SugaredLogger, onPanic func(r any)) {
	if r := recover(); r != nil {
		logPanic(name, r, logger)
		if onPanic != nil {
			onPanic(r)
		}
	}
}

// logPanic records the panic with a stack trace; without a logger it writes to stderr
func logPanic(name string, r any, logger *zap.SugaredLogger) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
		name, r, string(buf[:n]))
}
