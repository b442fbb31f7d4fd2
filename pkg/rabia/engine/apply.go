package engine

import (
	"github.com/jabolina/rabia/pkg/rabia/types"
)

// Apply is the client entry point (spec §4.5 "apply"). It may be called
// from any goroutine. It fails synchronously with ErrEmptyBatch if
// commands is empty, or ErrNodeInactive if the engine is Dormant, and
// otherwise returns a Handle that resolves when the batch commits or the
// engine stops.
func (e *Engine) Apply(commands []types.Command) (*Handle, error) {
	if len(commands) == 0 {
		return nil, types.ErrEmptyBatch
	}
	if e.State() == Dormant {
		return nil, types.ErrNodeInactive
	}

	batch := types.Batch{CorrelationId: types.NewCorrelationId(), Commands: commands}
	handle := newHandle()

	e.completionsMu.Lock()
	e.completions[batch.CorrelationId] = handle
	e.completionsMu.Unlock()

	e.enqueue(func(eng *Engine) { eng.onSubmit(batch) })
	return handle, nil
}

// HandleSubmit is the forwarded-submission counterpart to Apply: same
// effect, no completion handle (spec §4.5 "handleSubmit"), used e.g. by
// the leader manager's consensus-mode proposals.
func (e *Engine) HandleSubmit(commands []types.Command) error {
	if len(commands) == 0 {
		return types.ErrEmptyBatch
	}
	if e.State() == Dormant {
		return types.ErrNodeInactive
	}
	batch := types.Batch{CorrelationId: types.NewCorrelationId(), Commands: commands}
	e.enqueue(func(eng *Engine) { eng.onSubmit(batch) })
	return nil
}

// onSubmit runs on the protocol executor: it registers the batch as
// pending, gossips it, and kicks off phase execution if none is active.
func (e *Engine) onSubmit(batch types.Batch) {
	e.pendingMu.Lock()
	e.pending[batch.CorrelationId] = batch
	e.pendingMu.Unlock()

	e.trans.Broadcast(&types.Envelope{
		Kind:     types.KindNewBatch,
		NewBatch: &types.NewBatch{Sender: e.self, Batch: batch, Version: types.ProtocolVersion},
	})

	if e.State() == Active && !e.isInPhase.Load() {
		e.tryStartPhase()
	}
}

func (e *Engine) onNewBatch(msg *types.NewBatch) {
	if msg == nil {
		return
	}
	e.pendingMu.Lock()
	if _, ok := e.pending[msg.Batch.CorrelationId]; !ok {
		e.pending[msg.Batch.CorrelationId] = msg.Batch
	}
	e.pendingMu.Unlock()

	if e.State() == Active && !e.isInPhase.Load() {
		e.tryStartPhase()
	}
}

// smallestPending returns the smallest pending batch by correlation id, or
// the empty sentinel and false if nothing is pending.
func (e *Engine) smallestPending() (types.Batch, bool) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	var best types.Batch
	found := false
	for _, b := range e.pending {
		if !found || b.Less(best) {
			best = b
			found = true
		}
	}
	return best, found
}

func (e *Engine) removePending(id types.CorrelationId) {
	e.pendingMu.Lock()
	delete(e.pending, id)
	e.pendingMu.Unlock()
}

func (e *Engine) mergePending(batches []types.Batch) {
	e.pendingMu.Lock()
	for _, b := range batches {
		if _, ok := e.pending[b.CorrelationId]; !ok {
			e.pending[b.CorrelationId] = b
		}
	}
	e.pendingMu.Unlock()
}

func (e *Engine) resolveHandle(id types.CorrelationId, result Result) {
	e.completionsMu.Lock()
	h, ok := e.completions[id]
	if ok {
		delete(e.completions, id)
	}
	e.completionsMu.Unlock()
	if ok {
		h.resolve(result)
	}
}

func (e *Engine) failAllHandles(err error) {
	e.completionsMu.Lock()
	handles := e.completions
	e.completions = make(map[types.CorrelationId]*Handle)
	e.completionsMu.Unlock()
	for _, h := range handles {
		h.resolve(Result{Err: err})
	}
}
