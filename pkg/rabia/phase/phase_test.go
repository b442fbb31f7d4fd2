package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jabolina/rabia/pkg/rabia/types"
)

func TestEvaluateInitialVote_FirstCallVotesV1(t *testing.T) {
	d := New(1)
	batch := types.Batch{CorrelationId: "aaa"}

	vote, ok := d.EvaluateInitialVote("n1", batch)
	require.True(t, ok)
	assert.Equal(t, types.V1, vote)
}

func TestEvaluateInitialVote_VotesV0WhenNotSmallest(t *testing.T) {
	d := New(1)
	d.RegisterProposal("n0", types.Batch{CorrelationId: "aaa"})

	vote, ok := d.EvaluateInitialVote("n1", types.Batch{CorrelationId: "bbb"})
	require.True(t, ok)
	assert.Equal(t, types.V0, vote)
}

func TestEvaluateInitialVote_OnlyCastsOnce(t *testing.T) {
	d := New(1)
	_, ok := d.EvaluateInitialVote("n1", types.Batch{CorrelationId: "aaa"})
	require.True(t, ok)

	_, ok = d.EvaluateInitialVote("n1", types.Batch{CorrelationId: "zzz"})
	assert.False(t, ok, "second call for the same node must be a no-op")
}

func TestEvaluateRound2Vote_WaitsForQuorum(t *testing.T) {
	d := New(1)
	d.RegisterRound1Vote("n1", types.V1)

	_, ok := d.EvaluateRound2Vote("n1", 3, 2)
	assert.False(t, ok, "one vote is below quorumSize=3")

	d.RegisterRound1Vote("n2", types.V1)
	d.RegisterRound1Vote("n3", types.V1)
	vote, ok := d.EvaluateRound2Vote("n1", 3, 2)
	require.True(t, ok)
	assert.Equal(t, types.V1, vote)
}

func TestEvaluateRound2Vote_SplitYieldsVQ(t *testing.T) {
	d := New(1)
	d.RegisterRound1Vote("n1", types.V1)
	d.RegisterRound1Vote("n2", types.V0)
	d.RegisterRound1Vote("n3", types.V1)
	// quorumSize=3, fPlusOne=3: 2 V1s and 1 V0, neither reaches 3.
	vote, ok := d.EvaluateRound2Vote("n1", 3, 3)
	require.True(t, ok)
	assert.Equal(t, types.VQ, vote)
}

func TestProcessRound2Completion_V1Majority(t *testing.T) {
	d := New(1)
	batch := types.Batch{CorrelationId: "aaa"}
	d.RegisterProposal("n1", batch)
	d.RegisterRound2Vote("n1", types.V1)
	d.RegisterRound2Vote("n2", types.V1)
	d.RegisterRound2Vote("n3", types.V1)

	outcome, ok := d.ProcessRound2Completion(3, 2, DefaultCoin)
	require.True(t, ok)
	assert.Equal(t, types.V1, outcome.StateValue)
	assert.Equal(t, batch.CorrelationId, outcome.Batch.CorrelationId)
}

func TestProcessRound2Completion_FallsBackToCoin(t *testing.T) {
	d := New(2)
	d.RegisterProposal("n1", types.Batch{CorrelationId: "aaa"})
	d.RegisterRound2Vote("n1", types.V1)
	d.RegisterRound2Vote("n2", types.V0)
	d.RegisterRound2Vote("n3", types.VQ)

	coin := func(types.Phase) types.StateValue { return types.V0 }
	outcome, ok := d.ProcessRound2Completion(3, 2, coin)
	require.True(t, ok)
	assert.Equal(t, types.V0, outcome.StateValue)
}

func TestTryMarkDecided_OnlyOneWinner(t *testing.T) {
	d := New(1)
	assert.True(t, d.TryMarkDecided())
	assert.False(t, d.TryMarkDecided())
	assert.True(t, d.Decided())
}

// TestEvaluateRound2Vote_NeverBelowFPlusOneUnlessQuorumMet is a property
// check: EvaluateRound2Vote must never report ok before quorumSize votes
// have been registered, for any registration order.
func TestEvaluateRound2Vote_NeverBelowFPlusOneUnlessQuorumMet(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		quorum := rapid.IntRange(1, 7).Draw(rt, "quorum")
		votes := rapid.IntRange(0, quorum-1).Draw(rt, "votesBelowQuorum")

		d := New(1)
		for i := 0; i < votes; i++ {
			d.RegisterRound1Vote(types.NodeId(rapid.StringMatching(`n[0-9]{1,3}`).Draw(rt, "voter")), types.V1)
		}
		_, ok := d.EvaluateRound2Vote("self", quorum, quorum)
		assert.False(rt, ok)
	})
}
