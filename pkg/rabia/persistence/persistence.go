// Package persistence implements the engine's in-memory persistence shim
// (spec §4.5 "Synchronization", §6 "Persisted state"): it holds the single
// SavedState record used to answer SyncRequests while Dormant and to seed
// the next bootstrap, discarding it once the node reactivates. It is
// deliberately not durable - pkg/pgstore is the optional, external,
// disaster-recovery sink a deployment can layer on top.
package persistence

import (
	"sync"

	"github.com/jabolina/rabia/pkg/rabia/types"
)

// Shim holds at most one SavedState: a rejoining node's bootstrap record.
type Shim struct {
	mutex sync.Mutex
	saved *types.SavedState
}

// New creates an empty Shim.
func New() *Shim {
	return &Shim{}
}

// Save records state, overwriting whatever was previously saved. Called
// when the engine transitions to Dormant.
func (s *Shim) Save(state types.SavedState) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	cp := state
	s.saved = &cp
}

// Load returns the saved state, or the zero value and false if nothing has
// been saved - spec §4.5 allows a dormant node to "respond with the
// locally saved state (possibly empty)".
func (s *Shim) Load() (types.SavedState, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.saved == nil {
		return types.SavedState{}, false
	}
	return *s.saved, true
}

// Discard drops the saved state. Called once a node has successfully
// restored and gone Active again (spec §3: "discarded on reactivation
// after successful restore").
func (s *Shim) Discard() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.saved = nil
}
