// Package topology maintains the current membership view of a cluster and
// emits the notifications spec §4.2 specifies: NodeAdded/NodeRemoved/
// NodeDown, and an edge-triggered quorum-state change.
package topology

import (
	"sync"

	"github.com/jabolina/rabia/pkg/rabia/router"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

// View is an immutable snapshot of the currently reachable membership,
// always sorted by NodeId ascending - the sole tiebreaker used elsewhere
// (e.g. leader selection).
type View struct {
	Members []types.NodeId
}

// First returns the smallest NodeId in the view, or the zero value and
// false if the view is empty.
func (v View) First() (types.NodeId, bool) {
	if len(v.Members) == 0 {
		return "", false
	}
	return v.Members[0], true
}

// Contains reports whether id is a current member.
func (v View) Contains(id types.NodeId) bool {
	for _, m := range v.Members {
		if m == id {
			return true
		}
	}
	return false
}

// NodeAdded is published when a member becomes reachable and the new
// topology spans a quorum.
type NodeAdded struct {
	Topology View
}

// NodeRemoved is published when a member is gracefully removed.
type NodeRemoved struct {
	Topology View
}

// NodeDown is published when a peer becomes unreachable long enough to be
// excluded. Topology may be the empty View's zero value if the manager
// could not determine a consistent post-removal view.
type NodeDown struct {
	Topology View
}

// QuorumStateNotification is the edge-triggered quorum signal.
type QuorumStateNotification struct {
	State types.QuorumState
}

// Manager owns the sorted membership list for one node's view of the
// cluster and publishes every transition through a Router.
type Manager struct {
	mutex       sync.Mutex
	self        types.NodeId
	params      types.ClusterParams
	members     map[types.NodeId]struct{}
	quorumState types.QuorumState
	quorumSet   bool
	bus         *router.Router
}

// New creates a Manager for self. configured lists every other member of
// the cluster this node expects to eventually reach (not including self);
// it fixes N for QuorumSize and FPlusOne, per spec.md's Non-goals excluding
// dynamic reconfiguration mid-view - a topology change produces a fresh
// Manager, not a resize of this one's N. No peer is considered reachable
// until the transport reports it up via NodeJoined: a freshly constructed
// Manager's only member is self, same as a node that has not yet
// rendezvoused with anyone.
func New(self types.NodeId, configured []types.NodeId, bus *router.Router) *Manager {
	n := len(configured) + 1
	members := map[types.NodeId]struct{}{self: {}}
	return &Manager{
		self:    self,
		params:  types.ClusterParams{N: n},
		members: members,
		bus:     bus,
	}
}

// Bootstrap evaluates and, if warranted, publishes the quorum state implied
// by the membership New left it in. Call it once every subscriber (notably
// the engine, via its own constructor) has registered - a single-node
// cluster (QuorumSize 1) is its own quorum from the start and would
// otherwise never see an ESTABLISHED edge, since NodeJoined/NodeDown are
// the only other triggers and neither fires for a node rendezvousing with
// nobody.
func (m *Manager) Bootstrap() {
	m.mutex.Lock()
	reachable := len(m.members)
	m.mutex.Unlock()
	m.maybePublishQuorum(reachable)
}

// View returns the current sorted membership snapshot.
func (m *Manager) View() View {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.viewLocked()
}

func (m *Manager) viewLocked() View {
	ids := make([]types.NodeId, 0, len(m.members))
	for id := range m.members {
		ids = append(ids, id)
	}
	return View{Members: types.SortNodeIds(ids)}
}

// QuorumSize returns floor(N/2)+1 for the membership size at Manager
// creation time (see New's note on fixed-N-per-view).
func (m *Manager) QuorumSize() int {
	return m.params.QuorumSize()
}

// NodeJoined marks id reachable. If the resulting topology spans a
// quorum, NodeAdded is published; a quorum-established edge is published
// separately and only once per transition.
func (m *Manager) NodeJoined(id types.NodeId) {
	m.mutex.Lock()
	_, existed := m.members[id]
	if !existed {
		m.members[id] = struct{}{}
	}
	view := m.viewLocked()
	reachable := len(m.members)
	m.mutex.Unlock()

	if existed {
		return
	}
	if reachable >= m.params.QuorumSize() {
		m.bus.Route(router.TopicNodeAdded, NodeAdded{Topology: view})
	}
	m.maybePublishQuorum(reachable)
}

// NodeLeft marks id gracefully removed.
func (m *Manager) NodeLeft(id types.NodeId) {
	m.mutex.Lock()
	_, existed := m.members[id]
	delete(m.members, id)
	view := m.viewLocked()
	reachable := len(m.members)
	m.mutex.Unlock()

	if !existed {
		return
	}
	m.bus.Route(router.TopicNodeRemoved, NodeRemoved{Topology: view})
	m.maybePublishQuorum(reachable)
}

// NodeDown marks id unreachable (excluded after a transport-detected
// failure, spec §4.1's "persistent inability to reach a peer").
func (m *Manager) NodeDown(id types.NodeId) {
	m.mutex.Lock()
	_, existed := m.members[id]
	delete(m.members, id)
	view := m.viewLocked()
	reachable := len(m.members)
	m.mutex.Unlock()

	if !existed {
		return
	}
	m.bus.Route(router.TopicNodeDown, NodeDown{Topology: view})
	m.maybePublishQuorum(reachable)
}

func (m *Manager) maybePublishQuorum(reachable int) {
	m.mutex.Lock()
	quorum := m.params.QuorumSize()
	established := reachable >= quorum
	var next types.QuorumState
	if established {
		next = types.QuorumEstablished
	} else {
		next = types.QuorumDisappeared
	}
	fire := !m.quorumSet || next != m.quorumState
	m.quorumSet = true
	m.quorumState = next
	m.mutex.Unlock()

	if fire {
		m.bus.Route(router.TopicQuorumState, QuorumStateNotification{State: next})
	}
}

// HasQuorum reports whether the current reachable set meets quorum.
func (m *Manager) HasQuorum() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.members) >= m.params.QuorumSize()
}
