package safego

import (
	"context"
	"runtime/debug"

	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
)

// Go runs fn on a new goroutine and recovers any panic, logging the
// stack instead of crashing the process. The context is passed through
// untouched; it exists so call sites read naturally at spawn points.
func Go(_ context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("[safego] goroutine panic: %v\n%s", r, debug.Stack())
			}
		}()
		fn()
	}()
}
