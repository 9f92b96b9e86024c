package safe

import (
	"fieldgate/logger"
	"fieldgate/tools/errs"
	"runtime/debug"

	"go.uber.org/zap"
)

// Go starts f on a new goroutine that recovers from panic, so a single
// connection or subscription cannot take the process down.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover is deferred at the top of long-lived goroutines.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("[safe] panic recovered",
			zap.String("task", name),
			zap.Error(errs.ErrPanic(r)),
			zap.ByteString("stack", debug.Stack()))
	}
}
