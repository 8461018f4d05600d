package orchestrator

import (
	"fmt"
	"runtime/debug"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/observability"
)

// safeInvoke runs a caller-supplied function with panic recovery.
// A panicking callback is logged and reported as an error.
func safeInvoke(logger observability.Logger, operation string, fn func()) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic_recovered",
				"operation", operation,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic in %s: %v", operation, r)
		}
	}()
	fn()
	return nil
}
