// Package signal ties command lifetimes to process shutdown signals.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Shutdown lists the signals that stop a running command.
var Shutdown = []os.Signal{os.Interrupt, syscall.SIGTERM}

// NotifyContext derives a context from parent that is cancelled when a
// Shutdown signal arrives. A nil parent means context.Background().
// Call the returned stop function to release the signal handler.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, Shutdown...)
}
