package reqlib

import (
	"runtime/debug"

	"github.com/warpdl/warpreq/pkg/logger"
)

// safeCall runs fn with panic recovery so a misbehaving handler or
// transport cannot take down the worker. Panics are logged with a stack.
func safeCall(l logger.Logger, context string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.Error("PANIC [%s]: %v\n%s", context, r, debug.Stack())
		}
	}()
	fn()
}
