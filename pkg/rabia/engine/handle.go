package engine

import (
	"sync"

	"github.com/jabolina/rabia/pkg/rabia/types"
)

// Result is what a Handle eventually resolves to: either the per-command
// results of a committed batch, or the cause it failed for (spec §7
// "User-visible failures").
type Result struct {
	Values []types.CommandResult
	Err    error
}

// Handle is the thread-safe completion primitive spec §5 requires: it may
// be awaited (Wait) or have callbacks attached (OnComplete) from any
// goroutine, and resolves exactly once.
type Handle struct {
	mutex     sync.Mutex
	done      chan struct{}
	result    Result
	resolved  bool
	callbacks []func(Result)
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// resolve completes the handle exactly once; later calls are no-ops.
func (h *Handle) resolve(r Result) {
	h.mutex.Lock()
	if h.resolved {
		h.mutex.Unlock()
		return
	}
	h.resolved = true
	h.result = r
	callbacks := h.callbacks
	h.callbacks = nil
	h.mutex.Unlock()

	close(h.done)
	for _, cb := range callbacks {
		cb(r)
	}
}

// Wait blocks until the handle resolves and returns its Result.
func (h *Handle) Wait() Result {
	<-h.done
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.result
}

// Done returns a channel closed when the handle resolves, for use in a
// select alongside a context or timeout - the core imposes no per-batch
// deadline itself (spec §5 "Cancellation and timeouts").
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// OnComplete registers cb to run when the handle resolves. If it has
// already resolved, cb runs synchronously before OnComplete returns.
func (h *Handle) OnComplete(cb func(Result)) {
	h.mutex.Lock()
	if h.resolved {
		r := h.result
		h.mutex.Unlock()
		cb(r)
		return
	}
	h.callbacks = append(h.callbacks, cb)
	h.mutex.Unlock()
}
