package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jabolina/rabia/pkg/rabia/router"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

func TestQuorumSize(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	m := New("n1", []types.NodeId{"n2", "n3"}, bus)
	assert.Equal(t, 2, m.QuorumSize())
}

func TestNodeDown_BelowQuorumPublishesDisappeared(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	m := New("n1", []types.NodeId{"n2", "n3"}, bus)
	m.NodeJoined("n2")
	m.NodeJoined("n3")

	var notes []QuorumStateNotification
	bus.Subscribe(router.TopicQuorumState, func(msg interface{}) {
		notes = append(notes, msg.(QuorumStateNotification))
	})

	m.NodeDown("n2")
	m.NodeDown("n3")

	require.Len(t, notes, 1, "quorum-disappeared must fire exactly once across the edge")
	assert.Equal(t, types.QuorumDisappeared, notes[0].State)
	assert.False(t, m.HasQuorum())
}

func TestNodeJoined_IgnoresDuplicate(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	m := New("n1", []types.NodeId{"n2"}, bus)

	var added int
	bus.Subscribe(router.TopicNodeAdded, func(msg interface{}) { added++ })

	m.NodeJoined("n3")
	m.NodeJoined("n3")
	assert.Equal(t, 1, added)
}

func TestViewFirst_SortedAscending(t *testing.T) {
	bus := router.New()
	defer bus.Close()
	m := New("c", []types.NodeId{"b", "a"}, bus)
	m.NodeJoined("b")
	m.NodeJoined("a")

	first, ok := m.View().First()
	require.True(t, ok)
	assert.Equal(t, types.NodeId("a"), first)
}
