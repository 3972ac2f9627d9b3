// Package currentthread looks up the calling goroutine's OS thread id and
// exposes the small set of thread-identity helpers the reactor's
// thread-affinity assertions need.
//
// A goroutine normally floats across OS threads, so "current thread" only
// means something once the goroutine has pinned itself with
// runtime.LockOSThread — which is exactly what LoopThread does before it
// constructs an EventLoop. Callers outside a locked goroutine still get a
// valid (if potentially stale) thread id; it is only ever compared for
// equality against the id cached at EventLoop construction time.
package currentthread

import (
	"sync"

	"golang.org/x/sys/unix"
)

var tidOnce sync.Once
var cachedTid int32

// Tid returns the OS thread id of the calling goroutine's current carrier
// thread. The result is cheap to call repeatedly; it is not cached across
// goroutines since two different goroutines must never share a tid.
func Tid() int32 {
	return int32(unix.Gettid())
}

// CachedProcessTid returns the thread id of whichever goroutine first
// called it in this process. It exists purely for diagnostics (stack
// traces, log lines tagging the "main" thread) and must not be used for
// affinity assertions.
func CachedProcessTid() int32 {
	tidOnce.Do(func() {
		cachedTid = Tid()
	})
	return cachedTid
}
