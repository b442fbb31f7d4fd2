package leader

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jabolina/rabia/pkg/rabia/router"
	"github.com/jabolina/rabia/pkg/rabia/topology"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

func TestLocalMode_AdoptsSmallestNodeId(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	topo := topology.New("b", []types.NodeId{"a", "c"}, bus)
	m := New("b", topo, bus, zerolog.Nop())

	var changes []Change
	bus.Subscribe(router.TopicLeaderChange, func(msg interface{}) { changes = append(changes, msg.(Change)) })

	topo.NodeJoined("a")
	topo.NodeJoined("c")

	leaderId, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, types.NodeId("a"), leaderId)
	require.NotEmpty(t, changes)
	assert.Equal(t, types.NodeId("a"), changes[len(changes)-1].Leader)
}

func TestLocalMode_IsLeader(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	topo := topology.New("a", nil, bus)
	m := New("a", topo, bus, zerolog.Nop())
	topo.Bootstrap()

	assert.True(t, m.IsLeader())
}

func TestConsensusMode_ProposesOnlyFromSmallestNode(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	topo := topology.New("b", []types.NodeId{"a"}, bus)

	var proposed [][]types.Command
	propose := func(cmds []types.Command) error {
		proposed = append(proposed, cmds)
		return nil
	}
	NewConsensus("b", topo, bus, propose, zerolog.Nop())

	topo.NodeJoined("a")
	assert.Empty(t, proposed, "node b is not the smallest id and must not propose")
}

func TestConsensusMode_CommitAppliesChange(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	topo := topology.New("a", []types.NodeId{"b"}, bus)
	m := NewConsensus("a", topo, bus, func([]types.Command) error { return nil }, zerolog.Nop())

	change := Change{Leader: "a", ViewSequence: 1}
	m.onLeaderCommitted(change)

	id, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, types.NodeId("a"), id)

	// A stale commit must not roll the view back.
	m.onLeaderCommitted(Change{Leader: "b", ViewSequence: 0})
	id, _ = m.Current()
	assert.Equal(t, types.NodeId("a"), id)
}

func TestCodec_RoundTrip(t *testing.T) {
	cmd, err := encodeChange(Change{Leader: "x", ViewSequence: 7})
	require.NoError(t, err)

	change, ok := decodeChange(cmd)
	require.True(t, ok)
	assert.Equal(t, types.NodeId("x"), change.Leader)
	assert.EqualValues(t, 7, change.ViewSequence)
}

func TestCodec_OrdinaryCommandIsNotAChange(t *testing.T) {
	_, ok := decodeChange(types.Command("just some bytes"))
	assert.False(t, ok)
}
