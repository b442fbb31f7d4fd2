package engine

import (
	"math/rand"
	"time"

	"github.com/jabolina/rabia/pkg/rabia/phase"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

// onSyncRequest answers a peer's SyncRequest with whatever this node can
// offer: its live state if Active, its last-saved state if Dormant/Syncing,
// or an empty SavedState if it has neither (spec §4.5 "Synchronization": "respond
// with the locally saved state (possibly empty)").
func (e *Engine) onSyncRequest(req *types.SyncRequest) {
	if req == nil {
		return
	}
	from := req.Sender
	var state types.SavedState
	switch e.State() {
	case Active:
		state = e.snapshotState()
	default:
		// Dormant or Syncing: answer with whatever was last saved, or
		// the empty SavedState if nothing ever was (a brand new
		// cluster where no node has committed anything yet still
		// answers "possibly empty" rather than leaving every peer
		// waiting on a response nobody can give).
		state, _ = e.saved.Load()
	}

	e.trans.Send(from, &types.Envelope{
		Kind:         types.KindSyncResponse,
		SyncResponse: &types.SyncResponse{Sender: e.self, State: state, Version: types.ProtocolVersion},
	})
}

// onSyncResponse records a responder's offered state and, once at least
// quorumSize responses have been collected, restores from the one with the
// highest lastCommittedPhase (ties broken by smallest sender id) and
// activates (spec §4.5 Syncing->Active, §8 Scenario 3). A response
// arriving before quorum is reached is recorded but does not trigger a
// restore - restoring from a lone early responder, who may itself be a
// stale minority peer, is exactly the premature-activation bug this guard
// prevents.
func (e *Engine) onSyncResponse(resp *types.SyncResponse) {
	if resp == nil || e.State() != Syncing {
		return
	}
	e.syncMu.Lock()
	e.syncResponses[resp.Sender] = resp.State
	quorum := e.topo.QuorumSize()
	if len(e.syncResponses) < quorum {
		e.syncMu.Unlock()
		return
	}
	best := bestSavedState(e.syncResponses)
	e.syncMu.Unlock()

	e.restoreFrom(best)
}

// restoreFrom applies a SavedState to the local state machine and pending
// set, then activates, reporting whether the restore succeeded. Restoring
// an empty snapshot is valid (a brand new cluster has nothing to restore)
// and still activates the node. A RestoreSnapshot failure is logged and
// left to the caller to retry (spec §7 "recoverable stalls") rather than
// activating on a half-applied state machine.
func (e *Engine) restoreFrom(state types.SavedState) bool {
	if len(state.Snapshot) > 0 {
		if err := e.sm.RestoreSnapshot(state.Snapshot); err != nil {
			e.log.Error().Err(err).Msg("snapshot restore failed, retrying sync")
			return false
		}
	}
	e.lastCommittedPhase.Store(uint64(state.LastCommittedPhase))
	e.currentPhase.Store(uint64(state.LastCommittedPhase) + 1)
	e.futureDecisions = make(map[types.Phase]phase.Outcome)
	e.mergePending(state.PendingBatches)
	e.metrics.observeSyncRestore()
	e.enterActive()
	return true
}

// bestSavedState picks the response with the highest LastCommittedPhase,
// breaking ties by smallest sender id (spec §4.5). Iterating senders in
// ascending order and only replacing best on a strictly greater phase
// means the first (smallest-id) sender at the maximum phase is the one
// that survives.
func bestSavedState(responses map[types.NodeId]types.SavedState) types.SavedState {
	ids := make([]types.NodeId, 0, len(responses))
	for id := range responses {
		ids = append(ids, id)
	}
	types.SortNodeIds(ids)

	var best types.SavedState
	found := false
	for _, id := range ids {
		s := responses[id]
		if !found || s.LastCommittedPhase > best.LastCommittedPhase {
			best = s
			found = true
		}
	}
	return best
}

// scheduleSyncRetry starts a one-shot retry timer: if no usable sync
// response arrives before it fires, the request is broadcast again with a
// jittered backoff, for as long as the node remains Syncing (spec §4.5
// "retries the sync request on a jittered interval until restored").
func (e *Engine) scheduleSyncRetry() {
	stop := make(chan struct{})
	e.syncMu.Lock()
	e.syncRetryStop = stop
	e.syncMu.Unlock()

	delay := e.config.SyncRetryInterval + jitter(e.config.SyncRetryJitter)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-stop:
		case <-e.stopCh:
		case <-timer.C:
			e.enqueue(func(eng *Engine) { eng.retrySync(stop) })
		}
	}()
}

func (e *Engine) retrySync(owner chan struct{}) {
	e.syncMu.Lock()
	current := e.syncRetryStop
	e.syncMu.Unlock()
	if current != owner || e.State() != Syncing {
		return
	}
	e.trans.Broadcast(&types.Envelope{
		Kind:        types.KindSyncRequest,
		SyncRequest: &types.SyncRequest{Sender: e.self, Version: types.ProtocolVersion},
	})
	e.scheduleSyncRetry()
}

// syncSolo handles the single-node-cluster path of enterSyncing: there is
// no peer to request state from, so the node restores its own last-saved
// state (if any) directly instead of broadcasting SyncRequest.
func (e *Engine) syncSolo() {
	saved, ok := e.saved.Load()
	if !ok {
		e.enterActive()
		return
	}
	if !e.restoreFrom(saved) {
		e.scheduleSoloRetry(saved)
	}
}

// scheduleSoloRetry retries restoreFrom on the same jittered schedule
// scheduleSyncRetry uses, for a solo node stuck on a RestoreSnapshot
// failure with no peer to sync from instead (spec §7 "recoverable stalls").
func (e *Engine) scheduleSoloRetry(saved types.SavedState) {
	stop := make(chan struct{})
	e.syncMu.Lock()
	e.syncRetryStop = stop
	e.syncMu.Unlock()

	delay := e.config.SyncRetryInterval + jitter(e.config.SyncRetryJitter)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-stop:
		case <-e.stopCh:
		case <-timer.C:
			e.enqueue(func(eng *Engine) { eng.retrySolo(stop, saved) })
		}
	}()
}

func (e *Engine) retrySolo(owner chan struct{}, saved types.SavedState) {
	e.syncMu.Lock()
	current := e.syncRetryStop
	e.syncMu.Unlock()
	if current != owner || e.State() != Syncing {
		return
	}
	if !e.restoreFrom(saved) {
		e.scheduleSoloRetry(saved)
	}
}

func (e *Engine) cancelSyncRetry() {
	e.syncMu.Lock()
	if e.syncRetryStop != nil {
		close(e.syncRetryStop)
		e.syncRetryStop = nil
	}
	e.syncMu.Unlock()
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
