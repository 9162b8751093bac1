// Package log routes the standard library's slog through the command logger
// and reports panics through whichever logger is installed.
package log

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

// Setup makes h the handler behind slog's default logger. The command tree
// passes its charm logger, so slog calls land in the same sink, level and
// IDENTIFY_LOG_TO_FILE file as everything else.
func Setup(h slog.Handler) {
	l := slog.New(h)
	slog.SetDefault(l)
	current.Store(l)
}

// RecoverPanic logs a panic in name with its stack, then runs cleanup. It
// must be deferred directly.
func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		report(name, r)
		if cleanup != nil {
			cleanup()
		}
	}
}

// RecoverInput turns a panic while processing path into an error in *errp.
// It must be deferred directly.
func RecoverInput(path string, errp *error) {
	if r := recover(); r != nil {
		report(path, r)
		*errp = fmt.Errorf("%s: panic: %v", path, r)
	}
}

func report(name string, r any) {
	if l := current.Load(); l != nil {
		l.Error(fmt.Sprintf("Panic in %s", name), "panic", r, "stack", string(debug.Stack()))
		return
	}
	fmt.Fprintf(os.Stderr, "panic in %s: %v\n%s", name, r, debug.Stack())
}
