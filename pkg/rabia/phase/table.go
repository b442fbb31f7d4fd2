package phase

import (
	"sync"

	"github.com/jabolina/rabia/pkg/rabia/types"
)

// Table owns the engine's PhaseData map, keyed by phase number. It is the
// engine's only mutable protocol state besides the scalar counters, and
// spec §4.5 requires it to be owned exclusively by the protocol executor;
// Table's own mutex exists only so diagnostics (len, GC) can run from a
// different goroutine without racing the executor.
type Table struct {
	mutex sync.Mutex
	data  map[types.Phase]*Data
}

// NewTable creates an empty phase table.
func NewTable() *Table {
	return &Table{data: make(map[types.Phase]*Data)}
}

// GetOrCreate returns the Data for p, creating it lazily on first
// reference (spec §3: "created lazily on first receipt of any message").
func (t *Table) GetOrCreate(p types.Phase) *Data {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	d, ok := t.data[p]
	if !ok {
		d = New(p)
		t.data[p] = d
	}
	return d
}

// Get returns the Data for p if it exists, without creating it.
func (t *Table) Get(p types.Phase) (*Data, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	d, ok := t.data[p]
	return d, ok
}

// Len reports how many phases currently have live Data, for diagnostics.
func (t *Table) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.data)
}

// CollectGarbage discards PhaseData for every phase older than
// current - olderThan (spec §4.5). Late votes for a discarded phase never
// recreate it: the engine drops every message for a phase below its
// currentPhase before touching the table - benign, because the phase has
// long since been decided everywhere honest nodes could matter.
func (t *Table) CollectGarbage(current types.Phase, olderThan types.Phase) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if current < olderThan {
		return
	}
	horizon := current - olderThan
	for p := range t.data {
		if p < horizon {
			delete(t.data, p)
		}
	}
}

// Clear discards all phase data, used when the engine goes Dormant (spec
// §4.5: "Engine persists its current snapshot, clears phase tables").
func (t *Table) Clear() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.data = make(map[types.Phase]*Data)
}
