package engine

import "github.com/jabolina/rabia/pkg/rabia/types"

// commit applies a decided V1 batch to the state machine (spec §4.5
// "Commit"). A state-machine failure here indicates non-determinism - a
// bug the engine cannot mask - so the action is dropped rather than
// retried (spec §7).
func (e *Engine) commit(p types.Phase, batch types.Batch) {
	results, err := e.sm.Process(batch.Commands)
	if err != nil {
		e.log.Error().Err(err).Uint64("phase", uint64(p)).Str("batch", string(batch.CorrelationId)).
			Msg("state machine commit failed, dropping action")
		e.resolveHandle(batch.CorrelationId, Result{Err: err})
		e.removePending(batch.CorrelationId)
		return
	}

	e.lastCommittedPhase.Store(uint64(p))
	e.removePending(batch.CorrelationId)
	e.resolveHandle(batch.CorrelationId, Result{Values: results})
	e.metrics.observeCommit()
}
