// Package proptest wraps pgregory.net/rapid generators for the consensus
// core's data types, so pkg/rabia/engine and pkg/rabia/phase tests can
// build Agreement/Validity/round-trip invariant checks without each
// re-inventing the same generators.
package proptest

import (
	"pgregory.net/rapid"

	"github.com/jabolina/rabia/pkg/rabia/types"
)

// NodeId generates a plausible, short NodeId.
func NodeId(t *rapid.T) types.NodeId {
	return types.NodeId(rapid.StringMatching(`node-[0-9]{1,3}`).Draw(t, "nodeId"))
}

// Cluster generates a sorted, deduplicated cluster of n NodeIds, n drawn
// from [min, max] and forced odd (spec.md requires an odd N >= 3).
func Cluster(t *rapid.T, min, max int) []types.NodeId {
	n := rapid.IntRange(min, max).Draw(t, "n")
	if n%2 == 0 {
		n++
	}
	seen := make(map[types.NodeId]struct{}, n)
	ids := make([]types.NodeId, 0, n)
	for len(ids) < n {
		id := types.NodeId(rapid.StringMatching(`[a-z]{4,8}`).Draw(t, "member"))
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return types.SortNodeIds(ids)
}

// Command generates an opaque command payload.
func Command(t *rapid.T) types.Command {
	return types.Command(rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(t, "command"))
}

// Batch generates a Batch with a fresh correlation id and 1-4 commands.
func Batch(t *rapid.T) types.Batch {
	n := rapid.IntRange(1, 4).Draw(t, "numCommands")
	cmds := make([]types.Command, n)
	for i := range cmds {
		cmds[i] = Command(t)
	}
	return types.Batch{CorrelationId: types.NewCorrelationId(), Commands: cmds}
}

// StateValue generates one of V0, V1, VQ.
func StateValue(t *rapid.T) types.StateValue {
	return types.StateValue(rapid.IntRange(0, 2).Draw(t, "stateValue"))
}

// Votes generates a vote assignment for the given cluster, one vote per
// member, drawn from the supplied candidate set - used to build round-1 and
// round-2 vote tallies directly at whatever count a test needs, bypassing
// the network for invariant checks on phase.Data alone.
func Votes(t *rapid.T, cluster []types.NodeId, candidates []types.StateValue) map[types.NodeId]types.StateValue {
	votes := make(map[types.NodeId]types.StateValue, len(cluster))
	for _, id := range cluster {
		idx := rapid.IntRange(0, len(candidates)-1).Draw(t, "vote_"+string(id))
		votes[id] = candidates[idx]
	}
	return votes
}
