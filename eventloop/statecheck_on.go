//go:build statecheck

package eventloop

import (
	"fmt"
	"sync/atomic"

	"github.com/jetsetilly/watdbg/assert"
)

// checkSingleWriter enforces the §3 single-writer invariant ("only the
// debug-event loop mutates DebuggerState") and the §5 rule that all OS
// debugging calls for a session happen on its one worker goroutine. It
// records the first goroutine to reach it and panics if a later call
// arrives from a different one. Built only under the statecheck tag: the
// guard is cheap but not free (one runtime.Stack call per command/event),
// so normal builds carry none of it.
func (w *Worker) checkSingleWriter() {
	id := assert.GetGoRoutineID()

	if atomic.CompareAndSwapUint64(&w.writerGoroutine, 0, id) {
		return
	}
	if owner := atomic.LoadUint64(&w.writerGoroutine); owner != id {
		panic(fmt.Sprintf("eventloop: worker state touched from goroutine %d, owned by %d", id, owner))
	}
}
