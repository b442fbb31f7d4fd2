// Package phase implements the per-phase bookkeeping spec §3/§4.4
// describe: proposals, round-1 votes, round-2 votes, and the decided flag.
// All operations here are guarded by a single mutex per Data and are
// idempotent against duplicate or out-of-order arrival, since the engine
// that owns a Data instance never issues two concurrent calls against it
// from different phases but may replay the same message more than once
// (spec §4.4, §4.5 "Failure semantics").
package phase

import (
	"sync"

	"github.com/jabolina/rabia/pkg/rabia/types"
)

// Outcome is the result of a decided phase: either V1 with the committed
// batch, or V0 (commit nothing).
type Outcome struct {
	StateValue types.StateValue
	Batch      types.Batch
}

// Data is the per-phase aggregate. Entries are append-only within a
// phase; once Decided is true, further votes are dropped.
type Data struct {
	mutex sync.Mutex

	Phase types.Phase

	proposals  map[types.NodeId]types.Batch
	round1     map[types.NodeId]types.StateValue
	round2     map[types.NodeId]types.StateValue
	decided    bool
	castRound1 bool
	castRound2 bool
}

// New creates an empty Data for the given phase.
func New(p types.Phase) *Data {
	return &Data{
		Phase:     p,
		proposals: make(map[types.NodeId]types.Batch),
		round1:    make(map[types.NodeId]types.StateValue),
		round2:    make(map[types.NodeId]types.StateValue),
	}
}

// RegisterProposal records sender -> batch unless sender already has one.
// Returns true if this call added a new entry.
func (d *Data) RegisterProposal(sender types.NodeId, batch types.Batch) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.proposals[sender]; ok {
		return false
	}
	d.proposals[sender] = batch
	return true
}

// ProposalCount reports how many distinct proposals have been registered.
func (d *Data) ProposalCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.proposals)
}

// SmallestProposal returns the smallest batch received so far by
// correlation id, including the empty sentinel, and whether any proposal
// has been seen at all.
func (d *Data) SmallestProposal() (types.Batch, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.smallestProposalLocked()
}

func (d *Data) smallestProposalLocked() (types.Batch, bool) {
	var best types.Batch
	found := false
	for _, b := range d.proposals {
		if !found || b.Less(best) {
			best = b
			found = true
		}
	}
	return best, found
}

// EvaluateInitialVote produces self's round-1 vote. It votes V1 when the
// given proposal equals the smallest proposal seen so far (by correlation
// id, including the empty sentinel); V0 otherwise. "Smallest so far" is
// re-evaluated on every call, so the first call a node makes naturally
// votes V1 since a single proposal is trivially minimal (spec §4.4).
// ok is false if self has already cast its round-1 vote - the caller must
// only broadcast/register on the first successful call.
func (d *Data) EvaluateInitialVote(self types.NodeId, proposal types.Batch) (types.StateValue, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.castRound1 {
		return 0, false
	}
	smallest, found := d.smallestProposalLocked()
	d.castRound1 = true
	if !found {
		smallest = proposal
	}
	if proposal.CorrelationId == smallest.CorrelationId {
		d.round1[self] = types.V1
		return types.V1, true
	}
	d.round1[self] = types.V0
	return types.V0, true
}

// HasCastRound1 reports whether self's round-1 vote has already been computed.
func (d *Data) HasCastRound1() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.castRound1
}

// HasCastRound2 reports whether self's round-2 vote has already been computed.
func (d *Data) HasCastRound2() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.castRound2
}

// RegisterRound1Vote records a round-1 vote, unless already present.
func (d *Data) RegisterRound1Vote(sender types.NodeId, vote types.StateValue) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.round1[sender]; !ok {
		d.round1[sender] = vote
	}
}

// Round1Count returns the number of round-1 votes collected.
func (d *Data) Round1Count() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.round1)
}

// EvaluateRound2Vote inspects collected round-1 votes once at least
// quorumSize have been gathered and produces self's round-2 vote (spec
// §4.4). ok is false if fewer than quorumSize round-1 votes are in yet, or
// self has already cast its round-2 vote.
func (d *Data) EvaluateRound2Vote(self types.NodeId, quorumSize, fPlusOne int) (types.StateValue, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.castRound2 {
		return 0, false
	}
	if len(d.round1) < quorumSize {
		return 0, false
	}

	v1, v0 := d.tallyRound1Locked()
	var vote types.StateValue
	switch {
	case v1 >= fPlusOne:
		vote = types.V1
	case v0 >= fPlusOne:
		vote = types.V0
	default:
		vote = types.VQ
	}
	d.castRound2 = true
	d.round2[self] = vote
	return vote, true
}

func (d *Data) tallyRound1Locked() (v1, v0 int) {
	for _, v := range d.round1 {
		switch v {
		case types.V1:
			v1++
		case types.V0:
			v0++
		}
	}
	return v1, v0
}

// RegisterRound2Vote records a round-2 vote, unless already present.
func (d *Data) RegisterRound2Vote(sender types.NodeId, vote types.StateValue) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.round2[sender]; !ok {
		d.round2[sender] = vote
	}
}

// Round2Count returns the number of round-2 votes collected.
func (d *Data) Round2Count() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.round2)
}

// CoinFunc is the deterministic, phase-indexed common coin consulted when
// round 2 yields neither a V1 nor a V0 majority.
type CoinFunc func(p types.Phase) types.StateValue

// DefaultCoin implements the coin spec §4.4 gives as an example:
// phase mod 2 == 0 -> V1, else V0.
func DefaultCoin(p types.Phase) types.StateValue {
	if p%2 == 0 {
		return types.V1
	}
	return types.V0
}

// ProcessRound2Completion inspects collected round-2 votes once at least
// quorumSize have been gathered and produces the phase's decision (spec
// §4.4). ok is false if fewer than quorumSize round-2 votes are in yet.
func (d *Data) ProcessRound2Completion(quorumSize, fPlusOne int, coin CoinFunc) (Outcome, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if len(d.round2) < quorumSize {
		return Outcome{}, false
	}

	v1, v0 := 0, 0
	for _, v := range d.round2 {
		switch v {
		case types.V1:
			v1++
		case types.V0:
			v0++
		}
	}

	switch {
	case v1 >= fPlusOne:
		batch, _ := d.bestRound1SupportedBatchLocked()
		return Outcome{StateValue: types.V1, Batch: batch}, true
	case v0 >= fPlusOne:
		return Outcome{StateValue: types.V0}, true
	default:
		outcome := coin(d.Phase)
		if outcome == types.V1 {
			batch, found := d.smallestProposalLocked()
			if !found {
				batch = types.EmptyBatch()
			}
			return Outcome{StateValue: types.V1, Batch: batch}, true
		}
		return Outcome{StateValue: types.V0}, true
	}
}

// bestRound1SupportedBatchLocked returns the batch that received majority
// round-1 V1 support: in this protocol exactly one batch can reach V1
// majority in round 1 (all correct nodes observing V1 must agree on the
// minimal proposal), so this is simply the smallest proposal seen.
func (d *Data) bestRound1SupportedBatchLocked() (types.Batch, bool) {
	return d.smallestProposalLocked()
}

// TryMarkDecided atomically flips Decided false->true and reports whether
// this call won the race. Subsequent calls for the same Data are no-ops.
func (d *Data) TryMarkDecided() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.decided {
		return false
	}
	d.decided = true
	return true
}

// Decided reports the current decided flag without mutating it.
func (d *Data) Decided() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.decided
}
