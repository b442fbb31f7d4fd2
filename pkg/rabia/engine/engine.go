// Package engine implements the Rabia protocol state machine (spec §4.5):
// batches, phases, rounds, decision, commit and synchronization. All
// protocol-state mutations for one Engine are serialized on a single
// logical executor - a dedicated goroutine draining one inbox - so
// PhaseData, the pending-batch set and the phase/state counters never need
// their own locks against each other (spec §5).
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jabolina/rabia/pkg/rabia/persistence"
	"github.com/jabolina/rabia/pkg/rabia/phase"
	"github.com/jabolina/rabia/pkg/rabia/router"
	"github.com/jabolina/rabia/pkg/rabia/topology"
	"github.com/jabolina/rabia/pkg/rabia/transport"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

// State is one of the three states a node's engine can be in (spec §4.5).
type State int32

const (
	Dormant State = iota
	Syncing
	Active
)

func (s State) String() string {
	switch s {
	case Dormant:
		return "Dormant"
	case Syncing:
		return "Syncing"
	case Active:
		return "Active"
	default:
		return "Unknown"
	}
}

// Config carries the engine's tunables (spec §6 "Configuration").
type Config struct {
	CleanupInterval       time.Duration
	SyncRetryInterval     time.Duration
	SyncRetryJitter       time.Duration
	RemoveOlderThanPhases types.Phase
}

// DefaultConfig returns sane defaults for a production deployment.
func DefaultConfig() Config {
	return Config{
		CleanupInterval:       30 * time.Second,
		SyncRetryInterval:     2 * time.Second,
		SyncRetryJitter:       500 * time.Millisecond,
		RemoveOlderThanPhases: 256,
	}
}

// task is a closure dispatched onto the protocol executor; every one of
// them runs to completion before the next is picked up, which is what
// gives the engine its single-threaded semantics over channels instead of
// a mutex around PhaseData (spec's design notes on the source's "global
// executor service").
type task func(e *Engine)

// Engine replicates commands across a cluster using the Rabia protocol.
// Construct with New and start it with Run (typically in its own
// goroutine).
type Engine struct {
	self   types.NodeId
	log    zerolog.Logger
	sm     types.StateMachine
	trans  transport.Transport
	topo   *topology.Manager
	bus    *router.Router
	phases *phase.Table
	saved  *persistence.Shim
	coin   phase.CoinFunc
	config Config

	state State32

	currentPhase       atomic64
	lastCommittedPhase atomic64
	isInPhase          flag32

	pendingMu sync.Mutex
	pending   map[types.CorrelationId]types.Batch

	completionsMu sync.Mutex
	completions   map[types.CorrelationId]*Handle

	syncMu        sync.Mutex
	syncResponses map[types.NodeId]types.SavedState
	syncRetryStop chan struct{}

	// futureDecisions holds decisions for phases beyond currentPhase,
	// touched only from the protocol executor (applyDecision), so it needs
	// no lock of its own. Commits must apply in phase order so
	// lastCommittedPhase stays monotonic (spec §8 "Monotonic commit");
	// a decision for phase p > currentPhase is stashed here and replayed
	// once currentPhase reaches p.
	futureDecisions map[types.Phase]phase.Outcome

	internal chan task
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	metrics *Metrics
}

// New wires an Engine around sm, using trans for wire delivery, topo for
// membership/quorum awareness and bus to publish/subscribe to topology and
// leader events. The engine does not start consuming messages until Run is
// called. Call topo.Bootstrap() once after New returns, so the engine's
// quorum subscription (registered here) is in place before topo evaluates
// its initial membership.
func New(self types.NodeId, sm types.StateMachine, trans transport.Transport, topo *topology.Manager, bus *router.Router, cfg Config, log zerolog.Logger) *Engine {
	e := &Engine{
		self:            self,
		log:             log.With().Str("node_id", string(self)).Logger(),
		sm:              sm,
		trans:           trans,
		topo:            topo,
		bus:             bus,
		phases:          phase.NewTable(),
		saved:           persistence.New(),
		coin:            phase.DefaultCoin,
		config:          cfg,
		pending:         make(map[types.CorrelationId]types.Batch),
		completions:     make(map[types.CorrelationId]*Handle),
		syncResponses:   make(map[types.NodeId]types.SavedState),
		futureDecisions: make(map[types.Phase]phase.Outcome),
		internal:        make(chan task, 1024),
		stopCh:          make(chan struct{}),
		metrics:         newMetrics(),
	}
	e.state.Store(Dormant)
	bus.Subscribe(router.TopicQuorumState, e.onQuorumStateNotification)
	return e
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	return e.state.Load()
}

// CurrentPhase returns the phase the engine is sequencing, for diagnostics.
func (e *Engine) CurrentPhase() types.Phase {
	return types.Phase(e.currentPhase.Load())
}

// LastCommittedPhase returns the highest phase committed locally.
func (e *Engine) LastCommittedPhase() types.Phase {
	return types.Phase(e.lastCommittedPhase.Load())
}

// MetricsCollectors returns the engine's Prometheus collectors, for a
// caller to register with whatever prometheus.Registerer it exposes
// /metrics through.
func (e *Engine) MetricsCollectors() []prometheus.Collector {
	return e.metrics.Collectors()
}

// PendingCount reports how many batches are awaiting commit, for
// diagnostics; read via an atomic snapshot of the pending set (spec §5).
func (e *Engine) PendingCount() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

// Run drains the protocol executor until Stop is called or ctx is
// cancelled. It must be called exactly once, typically in its own
// goroutine.
func (e *Engine) Run(ctx context.Context) {
	inbound := e.trans.Listen()
	cleanup := time.NewTicker(e.config.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return
		case <-e.stopCh:
			return
		case in, ok := <-inbound:
			if !ok {
				return
			}
			e.dispatchInbound(in)
		case t := <-e.internal:
			t(e)
		case <-cleanup.C:
			e.phases.CollectGarbage(e.CurrentPhase(), e.config.RemoveOlderThanPhases)
		}
	}
}

// enqueue hands t to the protocol executor. Safe to call from any
// goroutine, including from inside a task itself (it will simply run
// after the current one returns).
func (e *Engine) enqueue(t task) {
	select {
	case e.internal <- t:
	case <-e.stopCh:
	}
}

func (e *Engine) dispatchInbound(in transport.Inbound) {
	if in.IsSignal {
		e.enqueue(func(eng *Engine) { eng.handleSignal(in) })
		return
	}
	msg := in.Message
	if msg == nil {
		return
	}
	e.enqueue(func(eng *Engine) { eng.handleEnvelope(in.From, msg) })
}

func (e *Engine) handleSignal(in transport.Inbound) {
	switch in.Signal {
	case transport.SignalNodeUp:
		e.topo.NodeJoined(in.From)
	case transport.SignalNodeDown:
		e.topo.NodeDown(in.From)
	}
}

func (e *Engine) handleEnvelope(from types.NodeId, msg *types.Envelope) {
	if v := msg.Version(); v != types.ProtocolVersion {
		e.log.Warn().
			Err(types.ErrUnsupportedProtocol).
			Str("peer", string(from)).
			Str("kind", msg.Kind.String()).
			Int("version", v).
			Msg("dropping envelope")
		e.metrics.observeUnsupportedProtocol()
		return
	}
	switch msg.Kind {
	case types.KindPropose:
		e.onPropose(msg.Propose)
	case types.KindVoteRound1:
		e.onVoteRound1(msg.VoteRound1)
	case types.KindVoteRound2:
		e.onVoteRound2(msg.VoteRound2)
	case types.KindDecision:
		e.onDecision(msg.Decision)
	case types.KindNewBatch:
		e.onNewBatch(msg.NewBatch)
	case types.KindSyncRequest:
		e.onSyncRequest(msg.SyncRequest)
	case types.KindSyncResponse:
		e.onSyncResponse(msg.SyncResponse)
	case types.KindHeartbeat:
		// Liveness only; the transport already turned connectivity
		// changes into signals dispatched through handleSignal.
	default:
		e.log.Warn().Str("kind", msg.Kind.String()).Msg("unknown envelope kind")
	}
}

// Stop transitions the engine to inactive and releases all outstanding
// handles with ErrNodeInactive (spec §4.5 "stop()"). Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.state.Store(Dormant)
		e.failAllHandles(types.ErrNodeInactive)
		close(e.stopCh)
	})
	e.wg.Wait()
}
