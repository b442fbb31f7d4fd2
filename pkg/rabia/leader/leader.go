// Package leader derives a single deterministic "leader" node identifier
// from the current cluster topology (spec §4.6). It is optional: nothing
// in pkg/rabia/engine depends on it, and an application that has no use
// for a leader concept can simply not construct one.
package leader

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jabolina/rabia/pkg/rabia/router"
	"github.com/jabolina/rabia/pkg/rabia/topology"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

// Mode selects how leader changes are agreed on.
type Mode int

const (
	// Local derives the leader purely from the local topology view -
	// smallest NodeId wins, recomputed on every membership change. Every
	// node may briefly disagree with its peers during a partition; no
	// two nodes ever durably disagree once the view converges.
	Local Mode = iota
	// Consensus routes leader changes through the replicated log itself,
	// so every node agrees on the leader at the same committed phase.
	Consensus
)

// Change is published on router.TopicLeaderChange whenever the leader
// changes, in both modes.
type Change struct {
	Leader       types.NodeId
	ViewSequence uint64
}

// ProposalFunc submits commands through the replicated log, e.g.
// engine.Engine.HandleSubmit. Only used in Consensus mode.
type ProposalFunc func(commands []types.Command) error

// RetryDelay is how long Consensus mode waits before retrying a proposal
// that failed at submission time (spec's Open Questions: retry on
// submit-error only, not on "submitted but not yet committed", to avoid
// duplicate proposals racing each other into the log).
const RetryDelay = 200 * time.Millisecond

// Manager tracks and, in Consensus mode, drives changes to the cluster's
// leader identifier.
type Manager struct {
	mutex sync.Mutex

	self types.NodeId
	mode Mode
	topo *topology.Manager
	bus  *router.Router
	log  zerolog.Logger

	propose ProposalFunc

	current      types.NodeId
	viewSequence uint64
	haveLeader   bool

	proposedCandidate types.NodeId
	proposedSeq       uint64
	hasProposed       bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Manager in Local mode. Use NewConsensus for Consensus mode.
func New(self types.NodeId, topo *topology.Manager, bus *router.Router, log zerolog.Logger) *Manager {
	return newManager(self, topo, bus, Local, nil, log)
}

// NewConsensus creates a Manager in Consensus mode; propose submits a
// leader-change command through the replicated log (spec §4.6). Committed
// leader-change commands must be fed back through the types.StateMachine
// returned by Manager.Wrap for onLeaderCommitted to fire.
func NewConsensus(self types.NodeId, topo *topology.Manager, bus *router.Router, propose ProposalFunc, log zerolog.Logger) *Manager {
	return newManager(self, topo, bus, Consensus, propose, log)
}

func newManager(self types.NodeId, topo *topology.Manager, bus *router.Router, mode Mode, propose ProposalFunc, log zerolog.Logger) *Manager {
	m := &Manager{
		self:    self,
		mode:    mode,
		topo:    topo,
		bus:     bus,
		propose: propose,
		log:     log.With().Str("node_id", string(self)).Logger(),
		stopCh:  make(chan struct{}),
	}
	bus.Subscribe(router.TopicNodeAdded, m.onTopologyChange)
	bus.Subscribe(router.TopicNodeRemoved, m.onTopologyChange)
	bus.Subscribe(router.TopicNodeDown, m.onTopologyChange)
	// The quorum edge is the only event a single-node cluster ever sees
	// (topology.Manager.Bootstrap), so it also triggers a recomputation.
	bus.Subscribe(router.TopicQuorumState, m.onTopologyChange)
	return m
}

// Current returns the last known leader and whether one has been observed
// yet.
func (m *Manager) Current() (types.NodeId, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.current, m.haveLeader
}

// IsLeader reports whether self is the current leader.
func (m *Manager) IsLeader() bool {
	id, ok := m.Current()
	return ok && id == m.self
}

func (m *Manager) onTopologyChange(msg interface{}) {
	view := m.topo.View()
	candidate, ok := view.First()
	if !ok {
		return
	}

	switch m.mode {
	case Local:
		m.adoptLocal(candidate)
	case Consensus:
		m.maybePropose(candidate)
	}
}

// adoptLocal implements Local mode: leader = topology.first(), announced
// synchronously the instant it changes (spec §4.6).
func (m *Manager) adoptLocal(candidate types.NodeId) {
	m.mutex.Lock()
	changed := !m.haveLeader || m.current != candidate
	if changed {
		m.current = candidate
		m.haveLeader = true
		m.viewSequence++
	}
	seq := m.viewSequence
	m.mutex.Unlock()

	if changed {
		m.bus.Route(router.TopicLeaderChange, Change{Leader: candidate, ViewSequence: seq})
	}
}

// maybePropose implements Consensus mode's proposing side: only the node
// that would itself become the new leader's proposer under Local-mode
// rules (i.e. the smallest surviving NodeId) originates the proposal, so
// correct nodes never race each other to propose the same view change.
// A second topology event for the same (candidate, viewSequence+1) pair
// arriving while the first proposal is still in flight (submitted, or
// retrying after a submit failure, but not yet committed) is a duplicate
// and is dropped rather than submitted again.
func (m *Manager) maybePropose(candidate types.NodeId) {
	if candidate != m.self {
		return
	}
	m.mutex.Lock()
	if m.haveLeader && m.current == candidate {
		m.mutex.Unlock()
		return
	}
	next := m.viewSequence + 1
	if m.hasProposed && m.proposedCandidate == candidate && m.proposedSeq == next {
		m.mutex.Unlock()
		return
	}
	m.hasProposed = true
	m.proposedCandidate = candidate
	m.proposedSeq = next
	m.mutex.Unlock()

	m.submitWithRetry(candidate, next)
}

func (m *Manager) submitWithRetry(candidate types.NodeId, seq uint64) {
	cmd, err := encodeChange(Change{Leader: candidate, ViewSequence: seq})
	if err != nil {
		m.log.Error().Err(err).Msg("failed to encode leader-change proposal")
		return
	}
	if err := m.propose([]types.Command{cmd}); err != nil {
		m.log.Warn().Err(err).Msg("leader-change proposal submission failed, retrying")
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			select {
			case <-time.After(RetryDelay):
				m.submitWithRetry(candidate, seq)
			case <-m.stopCh:
			}
		}()
	}
}

// onLeaderCommitted is invoked once a leader-change command has been
// committed through the log (spec §4.6: "A commit triggers
// onLeaderCommitted(leader, viewSequence)"). Stale commits are dropped.
// Notification is delivered via RouteAsync to avoid reentering the
// committing call stack (spec §4.6, §4.3).
func (m *Manager) onLeaderCommitted(change Change) {
	m.mutex.Lock()
	if change.ViewSequence < m.viewSequence {
		m.mutex.Unlock()
		return
	}
	m.current = change.Leader
	m.viewSequence = change.ViewSequence
	m.haveLeader = true
	m.hasProposed = false
	m.mutex.Unlock()

	m.bus.RouteAsync(router.TopicLeaderChange, func() interface{} { return change })
}

// Close stops any pending proposal retries. Idempotent up to the
// underlying WaitGroup's own single-close discipline.
func (m *Manager) Close() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.wg.Wait()
}
