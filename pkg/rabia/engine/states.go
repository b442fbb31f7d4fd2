package engine

import (
	"github.com/jabolina/rabia/pkg/rabia/phase"
	"github.com/jabolina/rabia/pkg/rabia/topology"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

// onQuorumStateNotification is subscribed to router.TopicQuorumState in New.
// It always runs on the goroutine that called bus.Route for that topic.
// Outside tests that is either the protocol executor (the engine invokes
// NodeJoined/NodeDown only from handleSignal, itself a task) or the
// goroutine that calls topo.Bootstrap before Run starts, so it mutates
// engine state directly instead of re-enqueuing onto itself (spec §4.5
// "States").
func (e *Engine) onQuorumStateNotification(msg interface{}) {
	note, ok := msg.(topology.QuorumStateNotification)
	if !ok {
		return
	}
	switch note.State {
	case types.QuorumEstablished:
		e.enterSyncing()
	case types.QuorumDisappeared:
		e.enterDormant()
	}
}

// enterDormant persists the engine's current view of the world so a future
// SyncRequest (ours or a peer's) can answer from it, then stops serving
// client work (spec §4.5 "Dormant").
func (e *Engine) enterDormant() {
	if e.State() == Dormant {
		return
	}
	e.saved.Save(e.snapshotState())
	e.cancelSyncRetry()
	e.state.Store(Dormant)
	e.isInPhase.Store(false)
	e.phases.Clear()
	e.futureDecisions = make(map[types.Phase]phase.Outcome)
	e.failAllHandles(types.ErrNodeInactive)
	e.log.Info().Msg("quorum lost, node is dormant")
}

// enterSyncing begins (or short-circuits) the restore sequence that must
// complete before the node may participate again (spec §4.5 "Syncing").
// The node's own last-saved state only ever answers a peer's SyncRequest
// (see onSyncRequest) - it must never be used to self-restore here, or a
// minority node healing from a partition would reactivate at its own stale
// lastCommittedPhase instead of catching up to the majority (spec §4.5
// Syncing->Active, §8 Scenario 3). A single-node cluster is the one
// exception: it is always its own quorum and has no peer to sync from, so
// it restores its own last-saved state (if any) and activates immediately.
func (e *Engine) enterSyncing() {
	if e.State() != Dormant {
		return
	}
	e.state.Store(Syncing)
	e.log.Info().Msg("quorum established, syncing")

	e.syncMu.Lock()
	e.syncResponses = make(map[types.NodeId]types.SavedState)
	e.syncMu.Unlock()

	if e.topo.QuorumSize() <= 1 {
		e.syncSolo()
		return
	}

	e.trans.Broadcast(&types.Envelope{
		Kind:        types.KindSyncRequest,
		SyncRequest: &types.SyncRequest{Sender: e.self, Version: types.ProtocolVersion},
	})
	e.scheduleSyncRetry()
}

// enterActive discards saved state (spec §3: "discarded on reactivation
// after successful restore") and resumes phase progression if there is
// pending work.
func (e *Engine) enterActive() {
	e.cancelSyncRetry()
	e.saved.Discard()
	e.state.Store(Active)
	e.log.Info().Uint64("phase", uint64(e.currentPhase.Load())).Msg("node is active")

	if _, ok := e.smallestPending(); ok {
		e.tryStartPhase()
	}
}

// snapshotState captures what a rejoining peer would need from this node:
// a fresh state-machine snapshot, the phase it is valid through, and
// whatever this node still has pending.
func (e *Engine) snapshotState() types.SavedState {
	snap, err := e.sm.MakeSnapshot()
	if err != nil {
		e.log.Warn().Err(err).Msg("snapshot failed, saving without one")
	}
	e.pendingMu.Lock()
	pending := make([]types.Batch, 0, len(e.pending))
	for _, b := range e.pending {
		pending = append(pending, b)
	}
	e.pendingMu.Unlock()

	return types.SavedState{
		Snapshot:           snap,
		LastCommittedPhase: types.Phase(e.lastCommittedPhase.Load()),
		PendingBatches:     pending,
	}
}
