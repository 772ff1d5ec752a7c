// Package background runs best-effort side effects detached from the caller.
//
// Cache population and usage bookkeeping must never fail or delay the main
// result path. Go() gives those effects a bounded lifetime of their own:
// failures are logged and dropped, panics are recovered.
package background

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a detached task's lifetime when no timeout is given.
const DefaultTimeout = 10 * time.Second

// Go runs fn in a new goroutine with its own context, detached from the
// caller's cancellation. fn's error is logged at Warn and never propagated.
//
// Callers must not rely on fn having completed when Go returns.
func Go(logger *slog.Logger, name string, timeout time.Duration, fn func(ctx context.Context) error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			logger.Warn("background task failed", "task", name, "error", err)
		}
	}()
}
