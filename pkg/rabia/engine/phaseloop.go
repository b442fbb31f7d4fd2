package engine

import (
	"github.com/jabolina/rabia/pkg/rabia/phase"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

// quorumSize/fPlusOne are derived from the topology manager's view at the
// moment a phase is evaluated - spec's Non-goals exclude dynamic
// reconfiguration mid-view, so this is stable for the lifetime of one
// Active period between Dormant transitions.
func (e *Engine) quorumSize() int { return e.topo.QuorumSize() }
func (e *Engine) fPlusOne() int   { return e.topo.QuorumSize() }

// tryStartPhase is startPhase's CAS-guarded entry point (spec §4.5
// "Phase progression"). Only the goroutine that wins the false->true CAS
// on isInPhase proceeds; every other caller's attempt is a no-op, which is
// what lets both onSubmit/onNewBatch and onPropose call this safely.
func (e *Engine) tryStartPhase() {
	if !e.isInPhase.CompareAndSwap(false, true) {
		return
	}
	batch, ok := e.smallestPending()
	if !ok {
		// Nothing pending after all (raced with a concurrent commit);
		// release the guard so the next submission can retry.
		e.isInPhase.Store(false)
		return
	}

	current := types.Phase(e.currentPhase.Load())
	data := e.phases.GetOrCreate(current)
	data.RegisterProposal(e.self, batch)

	e.trans.Broadcast(&types.Envelope{
		Kind:    types.KindPropose,
		Propose: &types.Propose{Sender: e.self, Phase: current, Batch: batch, Version: types.ProtocolVersion},
	})
}

// onPropose handles an inbound Propose for phase >= currentPhase (spec
// §4.5). Proposals for past phases are dropped silently.
func (e *Engine) onPropose(msg *types.Propose) {
	if msg == nil {
		return
	}
	current := types.Phase(e.currentPhase.Load())
	if msg.Phase < current {
		return
	}

	data := e.phases.GetOrCreate(msg.Phase)

	if msg.Phase == current && e.State() == Active {
		e.isInPhase.CompareAndSwap(false, true)
	}

	data.RegisterProposal(msg.Sender, msg.Batch)

	if msg.Phase != current || !e.isInPhase.Load() {
		return
	}
	e.castRound1IfNeeded(data, msg.Batch)
}

func (e *Engine) castRound1IfNeeded(data *phase.Data, proposal types.Batch) {
	vote, ok := data.EvaluateInitialVote(e.self, proposal)
	if !ok {
		return
	}
	data.RegisterRound1Vote(e.self, vote)
	e.trans.Broadcast(&types.Envelope{
		Kind:       types.KindVoteRound1,
		VoteRound1: &types.VoteRound1{Sender: e.self, Phase: data.Phase, StateValue: vote, Version: types.ProtocolVersion},
	})
}

// onVoteRound1 registers an inbound round-1 vote and, the first time a
// round-1 majority becomes observable locally, computes and broadcasts
// this node's round-2 vote (spec §4.5).
func (e *Engine) onVoteRound1(msg *types.VoteRound1) {
	if msg == nil {
		return
	}
	current := types.Phase(e.currentPhase.Load())
	if msg.Phase < current {
		return
	}
	data := e.phases.GetOrCreate(msg.Phase)
	data.RegisterRound1Vote(msg.Sender, msg.StateValue)

	vote, ok := data.EvaluateRound2Vote(e.self, e.quorumSize(), e.fPlusOne())
	if !ok {
		return
	}
	data.RegisterRound2Vote(e.self, vote)
	e.trans.Broadcast(&types.Envelope{
		Kind:       types.KindVoteRound2,
		VoteRound2: &types.VoteRound2{Sender: e.self, Phase: data.Phase, StateValue: vote, Version: types.ProtocolVersion},
	})
}

// onVoteRound2 registers an inbound round-2 vote and, the first time a
// round-2 majority becomes observable locally and the phase is not yet
// decided, computes the decision and broadcasts it (spec §4.5).
func (e *Engine) onVoteRound2(msg *types.VoteRound2) {
	if msg == nil {
		return
	}
	current := types.Phase(e.currentPhase.Load())
	if msg.Phase < current {
		return
	}
	data := e.phases.GetOrCreate(msg.Phase)
	data.RegisterRound2Vote(msg.Sender, msg.StateValue)

	if data.Decided() {
		return
	}
	outcome, ok := data.ProcessRound2Completion(e.quorumSize(), e.fPlusOne(), e.coin)
	if !ok {
		return
	}
	if !data.TryMarkDecided() {
		return
	}

	e.trans.Broadcast(&types.Envelope{
		Kind: types.KindDecision,
		Decision: &types.Decision{
			Sender:     e.self,
			Phase:      data.Phase,
			StateValue: outcome.StateValue,
			Batch:      outcome.Batch,
			Version:    types.ProtocolVersion,
		},
	})
	e.applyDecision(data.Phase, outcome)
}

// onDecision applies an inbound Decision, idempotently (spec §4.5).
func (e *Engine) onDecision(msg *types.Decision) {
	if msg == nil {
		return
	}
	current := types.Phase(e.currentPhase.Load())
	if msg.Phase < current {
		return
	}
	data := e.phases.GetOrCreate(msg.Phase)
	if !data.TryMarkDecided() {
		return
	}
	e.applyDecision(msg.Phase, phase.Outcome{StateValue: msg.StateValue, Batch: msg.Batch})
}

// applyDecision performs the "Commit" and phase-advance steps common to
// both the local-decision and inbound-Decision paths (spec §4.5 "Commit").
// A decision can arrive for a phase ahead of currentPhase - a faster peer's
// Decision, or a locally-computed round-2 completion racing an in-flight
// earlier phase - so anything beyond currentPhase is stashed rather than
// committed immediately: committing it now would let lastCommittedPhase
// jump ahead and then regress once the intervening phase finally commits,
// violating monotonic commit (spec §8). TryMarkDecided still runs on the
// phase.Data itself at the call sites, so this is only about commit order,
// not vote idempotency.
func (e *Engine) applyDecision(p types.Phase, outcome phase.Outcome) {
	e.metrics.observeDecision()
	current := types.Phase(e.currentPhase.Load())
	switch {
	case p > current:
		e.futureDecisions[p] = outcome
		return
	case p < current:
		return
	default:
		e.commitAndAdvance(p, outcome)
	}
}

// commitAndAdvance commits p (if it decided V1), advances currentPhase past
// it, and then replays any already-decided future phase that is now next in
// line - recursively, in case several phases ahead were decided out of
// order while this one was still pending.
func (e *Engine) commitAndAdvance(p types.Phase, outcome phase.Outcome) {
	if outcome.StateValue == types.V1 && !outcome.Batch.IsEmpty() {
		e.commit(p, outcome.Batch)
	}
	e.currentPhase.Store(uint64(p) + 1)
	e.isInPhase.Store(false)

	next := p + 1
	if queued, ok := e.futureDecisions[next]; ok {
		delete(e.futureDecisions, next)
		e.commitAndAdvance(next, queued)
		return
	}

	if _, ok := e.smallestPending(); ok && e.State() == Active {
		e.tryStartPhase()
	}
}
