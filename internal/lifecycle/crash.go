package lifecycle

import (
	"fmt"
	"runtime/debug"

	"github.com/go-logr/logr"
)

// HandleCrash recovers a panic of the calling goroutine and logs it with
// its stack. It must be deferred directly:
//
//	defer lifecycle.HandleCrash(log)
func HandleCrash(log logr.Logger, keysAndValues ...interface{}) {
	if r := recover(); r != nil {
		kv := append(append([]interface{}(nil), keysAndValues...), "stack", string(debug.Stack()))
		log.Error(fmt.Errorf("panic: %v", r), "Recovered from panic", kv...)
	}
}
