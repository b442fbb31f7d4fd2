package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jabolina/rabia/pkg/rabia/router"
	"github.com/jabolina/rabia/pkg/rabia/topology"
	"github.com/jabolina/rabia/pkg/rabia/transport"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingStateMachine appends every command it processes, guarded by a
// mutex since the engine's single-threaded executor guarantee is exactly
// what this test is checking, not assuming.
type recordingStateMachine struct {
	mutex    sync.Mutex
	commands [][]byte
	restored [][]byte
}

func (r *recordingStateMachine) Process(commands []types.Command) ([]types.CommandResult, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	results := make([]types.CommandResult, len(commands))
	for i, c := range commands {
		r.commands = append(r.commands, c)
		results[i] = types.CommandResult{Value: c}
	}
	return results, nil
}

func (r *recordingStateMachine) MakeSnapshot() ([]byte, error) { return nil, nil }

func (r *recordingStateMachine) RestoreSnapshot(snapshot []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.restored = append(r.restored, snapshot)
	return nil
}

func (r *recordingStateMachine) Reset() {}

func (r *recordingStateMachine) seen() [][]byte {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([][]byte, len(r.commands))
	copy(out, r.commands)
	return out
}

func (r *recordingStateMachine) restoredSnapshots() [][]byte {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([][]byte, len(r.restored))
	copy(out, r.restored)
	return out
}

type testNode struct {
	engine *Engine
	sm     *recordingStateMachine
	topo   *topology.Manager
}

func otherMembers(ids []types.NodeId, self types.NodeId) []types.NodeId {
	out := make([]types.NodeId, 0, len(ids)-1)
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

func buildCluster(t *testing.T, ids []types.NodeId) (map[types.NodeId]*testNode, func()) {
	t.Helper()
	hub := transport.NewHub()
	nodes := make(map[types.NodeId]*testNode, len(ids))
	transports := make(map[types.NodeId]*transport.Local, len(ids))
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	for _, id := range ids {
		trans := hub.Join(id)
		transports[id] = trans
		bus := router.New()
		topo := topology.New(id, otherMembers(ids, id), bus)
		sm := &recordingStateMachine{}
		log := zerolog.Nop()
		eng := New(id, sm, trans, topo, bus, DefaultConfig(), log)
		topo.Bootstrap()

		nodes[id] = &testNode{engine: eng, sm: sm, topo: topo}

		wg.Add(1)
		go func() {
			defer wg.Done()
			eng.Run(ctx)
		}()
	}

	stop := func() {
		cancel()
		wg.Wait()
		for _, trans := range transports {
			trans.Close()
		}
	}
	return nodes, stop
}

func TestEngine_SingleBatchCommitsEverywhere(t *testing.T) {
	ids := []types.NodeId{"n1", "n2", "n3"}
	nodes, stop := buildCluster(t, ids)
	defer stop()

	require.Eventually(t, func() bool {
		return nodes["n1"].engine.State() == Active &&
			nodes["n2"].engine.State() == Active &&
			nodes["n3"].engine.State() == Active
	}, 2*time.Second, 10*time.Millisecond, "all nodes must reach Active once quorum is established")

	handle, err := nodes["n1"].engine.Apply([]types.Command{types.Command("hello")})
	require.NoError(t, err)

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not commit in time")
	}
	result := handle.Wait()
	require.NoError(t, result.Err)
	require.Len(t, result.Values, 1)
	require.Equal(t, "hello", string(result.Values[0].Value))

	require.Eventually(t, func() bool {
		for _, id := range ids {
			found := false
			for _, cmd := range nodes[id].sm.seen() {
				if string(cmd) == "hello" {
					found = true
				}
			}
			if !found {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "every replica must eventually commit the same batch")
}

func TestEngine_Apply_RejectsEmptyBatch(t *testing.T) {
	ids := []types.NodeId{"n1", "n2", "n3"}
	nodes, stop := buildCluster(t, ids)
	defer stop()

	_, err := nodes["n1"].engine.Apply(nil)
	require.ErrorIs(t, err, types.ErrEmptyBatch)
}

// TestEngine_SingleNodeCluster_ActivatesWithoutSyncRequest covers the N=1
// boundary (spec §8): a single-node cluster is its own quorum and has no
// peer to fetch state from, so it must activate immediately rather than
// wait on a SyncRequest/SyncResponse round trip nobody can answer.
func TestEngine_SingleNodeCluster_ActivatesWithoutSyncRequest(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	topo := topology.New("solo", nil, bus)
	hub := transport.NewHub()
	trans := hub.Join("solo")
	defer trans.Close()

	eng := New("solo", &recordingStateMachine{}, trans, topo, bus, DefaultConfig(), zerolog.Nop())
	topo.Bootstrap()

	require.Equal(t, Active, eng.State())
}

// TestEngine_DuplicateDecisionCommitsOnce covers Scenario 5 (duplicate
// delivery resilience, spec §8): replaying the same Decision twice - the
// same message arriving once over the wire and once more from a retry, or
// a node reaching its own Decision locally after already having received
// one from a peer - must commit exactly once.
func TestEngine_DuplicateDecisionCommitsOnce(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	topo := topology.New("solo", nil, bus)
	hub := transport.NewHub()
	trans := hub.Join("solo")
	defer trans.Close()

	sm := &recordingStateMachine{}
	eng := New("solo", sm, trans, topo, bus, DefaultConfig(), zerolog.Nop())
	topo.Bootstrap()
	require.Equal(t, Active, eng.State())

	batch := types.Batch{CorrelationId: types.NewCorrelationId(), Commands: []types.Command{types.Command("dup")}}
	decision := &types.Decision{
		Sender:     "solo",
		Phase:      eng.CurrentPhase(),
		StateValue: types.V1,
		Batch:      batch,
		Version:    types.ProtocolVersion,
	}

	eng.onDecision(decision)
	eng.onDecision(decision)

	require.Len(t, sm.seen(), 1, "a replayed Decision for an already-decided phase must not commit twice")
	require.Equal(t, types.Phase(1), eng.CurrentPhase())
}

// TestEngine_OutOfOrderDecisionsCommitInPhaseOrder covers spec §8's
// "Monotonic commit": a Decision for a future phase must not advance
// lastCommittedPhase ahead of an earlier phase that hasn't committed yet,
// and must be replayed once that earlier phase catches up.
func TestEngine_OutOfOrderDecisionsCommitInPhaseOrder(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	topo := topology.New("solo", nil, bus)
	hub := transport.NewHub()
	trans := hub.Join("solo")
	defer trans.Close()

	sm := &recordingStateMachine{}
	eng := New("solo", sm, trans, topo, bus, DefaultConfig(), zerolog.Nop())
	topo.Bootstrap()
	require.Equal(t, Active, eng.State())

	current := eng.CurrentPhase()
	futureBatch := types.Batch{CorrelationId: types.NewCorrelationId(), Commands: []types.Command{types.Command("future")}}
	currentBatch := types.Batch{CorrelationId: types.NewCorrelationId(), Commands: []types.Command{types.Command("current")}}

	// The future phase's decision arrives first - it must not be committed
	// or change lastCommittedPhase yet.
	eng.onDecision(&types.Decision{
		Sender: "solo", Phase: current + 1, StateValue: types.V1, Batch: futureBatch, Version: types.ProtocolVersion,
	})
	require.Empty(t, sm.seen())
	require.Equal(t, types.Phase(0), eng.LastCommittedPhase())
	require.Equal(t, current, eng.CurrentPhase())

	// The current phase's decision arrives next - it commits, advances
	// currentPhase, and must immediately replay the stashed future
	// decision in order, rather than ever letting lastCommittedPhase jump
	// ahead and then regress.
	eng.onDecision(&types.Decision{
		Sender: "solo", Phase: current, StateValue: types.V1, Batch: currentBatch, Version: types.ProtocolVersion,
	})

	seen := sm.seen()
	require.Len(t, seen, 2)
	require.Equal(t, "current", string(seen[0]))
	require.Equal(t, "future", string(seen[1]))
	require.Equal(t, current+1, eng.LastCommittedPhase())
}

// TestEngine_SyncRequiresQuorumOfResponses covers the defect spec §8
// Scenario 3 calls out: a single SyncResponse must never be enough to
// restore and activate when quorumSize is greater than one - a lone
// responder could itself be a stale minority peer.
func TestEngine_SyncRequiresQuorumOfResponses(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	topo := topology.New("self", []types.NodeId{"a", "b"}, bus)
	hub := transport.NewHub()
	trans := hub.Join("self")
	defer trans.Close()

	sm := &recordingStateMachine{}
	eng := New("self", sm, trans, topo, bus, DefaultConfig(), zerolog.Nop())
	topo.Bootstrap()
	require.Equal(t, Dormant, eng.State(), "not enough of N=3's quorum (2) is reachable yet")

	topo.NodeJoined("a")
	topo.NodeJoined("b")
	require.Equal(t, Syncing, eng.State())

	eng.onSyncResponse(&types.SyncResponse{Sender: "a", State: types.SavedState{LastCommittedPhase: 3}, Version: types.ProtocolVersion})
	require.Equal(t, Syncing, eng.State(), "a single response must not satisfy a quorumSize of 2")

	eng.onSyncResponse(&types.SyncResponse{Sender: "b", State: types.SavedState{LastCommittedPhase: 7}, Version: types.ProtocolVersion})
	require.Equal(t, Active, eng.State())
	require.Equal(t, types.Phase(7), eng.LastCommittedPhase(), "must adopt the highest lastCommittedPhase among the quorum of responses")
}

// TestEngine_SyncTieBreaksBySmallestSenderId covers the tie-break spec §4.5
// names for Syncing->Active: when two responses report the same
// lastCommittedPhase, the smallest sender id's state wins.
func TestEngine_SyncTieBreaksBySmallestSenderId(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	topo := topology.New("self", []types.NodeId{"a", "z"}, bus)
	hub := transport.NewHub()
	trans := hub.Join("self")
	defer trans.Close()

	sm := &recordingStateMachine{}
	eng := New("self", sm, trans, topo, bus, DefaultConfig(), zerolog.Nop())
	topo.Bootstrap()
	topo.NodeJoined("a")
	topo.NodeJoined("z")
	require.Equal(t, Syncing, eng.State())

	eng.onSyncResponse(&types.SyncResponse{
		Sender: "z", State: types.SavedState{LastCommittedPhase: 5, Snapshot: []byte("from-z")}, Version: types.ProtocolVersion,
	})
	eng.onSyncResponse(&types.SyncResponse{
		Sender: "a", State: types.SavedState{LastCommittedPhase: 5, Snapshot: []byte("from-a")}, Version: types.ProtocolVersion,
	})

	require.Equal(t, Active, eng.State())
	restored := sm.restoredSnapshots()
	require.Len(t, restored, 1)
	require.Equal(t, "from-a", string(restored[0]), "equal lastCommittedPhase must break ties toward the smallest sender id")
}

// TestEngine_ConcurrentSubmissionsConvergeToSameOrder covers Scenario 2
// (spec §8): batches submitted to different nodes at the same time must
// still be applied in one identical order by every replica.
func TestEngine_ConcurrentSubmissionsConvergeToSameOrder(t *testing.T) {
	ids := []types.NodeId{"n1", "n2", "n3"}
	nodes, stop := buildCluster(t, ids)
	defer stop()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if nodes[id].engine.State() != Active {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	var handles []*Handle
	for _, id := range ids {
		h, err := nodes[id].engine.Apply([]types.Command{types.Command("from-" + string(id))})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("batch did not commit in time")
		}
		require.NoError(t, h.Wait().Err)
	}

	require.Eventually(t, func() bool {
		var order [][]byte
		for i, id := range ids {
			seen := nodes[id].sm.seen()
			if len(seen) != len(ids) {
				return false
			}
			if i == 0 {
				order = seen
				continue
			}
			for j := range seen {
				if string(seen[j]) != string(order[j]) {
					return false
				}
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "every replica must apply concurrently submitted batches in the same order")
}

// TestEngine_MajorityKeepsCommittingWithOneNodeDown covers the N=3,
// one-node-down boundary (spec §8): QuorumSize is fixed at floor(N/2)+1
// for the view's lifetime, so n1 and n2 marking n3 unreachable still
// leaves them spanning a quorum (2 of 3) and client work must keep
// committing through them.
func TestEngine_MajorityKeepsCommittingWithOneNodeDown(t *testing.T) {
	ids := []types.NodeId{"n1", "n2", "n3"}
	nodes, stop := buildCluster(t, ids)
	defer stop()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if nodes[id].engine.State() != Active {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	nodes["n1"].topo.NodeDown("n3")
	nodes["n2"].topo.NodeDown("n3")

	handle, err := nodes["n1"].engine.Apply([]types.Command{types.Command("majority-only")})
	require.NoError(t, err)
	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("the surviving quorum of n1/n2 must still commit without n3")
	}
	require.NoError(t, handle.Wait().Err)
}
