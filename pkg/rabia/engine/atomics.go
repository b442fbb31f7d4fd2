package engine

import "sync/atomic"

// State32 stores a State with acquire/release semantics so message
// handlers can cheaply check lifecycle state before deciding whether to
// dispatch onto the protocol executor at all (spec §5: "enables lock-free
// quick checks from message handlers before re-dispatch").
type State32 struct {
	v int32
}

func (s *State32) Store(st State) {
	atomic.StoreInt32(&s.v, int32(st))
}

func (s *State32) Load() State {
	return State(atomic.LoadInt32(&s.v))
}

// CompareAndSwap is the CAS primitive the design notes call for in place
// of the source's dual-purpose atomic-scalar-as-flag-and-race-guard idiom.
func (s *State32) CompareAndSwap(old, new State) bool {
	return atomic.CompareAndSwapInt32(&s.v, int32(old), int32(new))
}

// atomic64 is a lock-free monotonic counter used for currentPhase and
// lastCommittedPhase, both read from message handlers without touching
// the protocol executor and written only from within it.
type atomic64 struct {
	v uint64
}

func (a *atomic64) Load() uint64 {
	return atomic.LoadUint64(&a.v)
}

func (a *atomic64) Store(v uint64) {
	atomic.StoreUint64(&a.v, v)
}

// flag32 is the CAS guard for isInPhase: false->true is the single entry
// point into phase execution (startPhase or an inbound Propose), and the
// CAS winner is the only caller allowed to act on it.
type flag32 struct {
	v int32
}

func (f *flag32) CompareAndSwap(old, new bool) bool {
	return atomic.CompareAndSwapInt32(&f.v, b2i(old), b2i(new))
}

func (f *flag32) Load() bool {
	return atomic.LoadInt32(&f.v) != 0
}

func (f *flag32) Store(v bool) {
	atomic.StoreInt32(&f.v, b2i(v))
}

func b2i(v bool) int32 {
	if v {
		return 1
	}
	return 0
}
