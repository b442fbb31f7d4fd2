package transport

import (
	"sync"

	"github.com/jabolina/rabia/pkg/rabia/types"
)

// Hub is the shared substrate a set of Local transports register with. It
// models a fully connected, at-least-once network in a single process -
// the role the TCP transport plays for real deployments - used by tests.
type Hub struct {
	mutex sync.Mutex
	peers map[types.NodeId]*Local
}

// NewHub creates an empty hub. Peers register themselves via Join.
func NewHub() *Hub {
	return &Hub{peers: make(map[types.NodeId]*Local)}
}

// Join creates and registers a Local transport for id, broadcasting a
// SignalNodeUp to every already-joined peer (and delivering one to the
// newcomer for each existing peer), mirroring how a real transport surfaces
// membership changes.
func (h *Hub) Join(id types.NodeId) *Local {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	l := &Local{
		self:   id,
		hub:    h,
		inbox:  make(chan Inbound, 1024),
		closed: make(chan struct{}),
	}
	for _, peer := range h.peers {
		peer.deliverSignal(id, SignalNodeUp)
		l.deliverSignal(peer.self, SignalNodeUp)
	}
	h.peers[id] = l
	return l
}

// Leave removes id from the hub and tells every remaining peer it went down.
func (h *Hub) Leave(id types.NodeId) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	delete(h.peers, id)
	for _, peer := range h.peers {
		peer.deliverSignal(id, SignalNodeDown)
	}
}

func (h *Hub) snapshot() []*Local {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	out := make([]*Local, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	return out
}

func (h *Hub) lookup(id types.NodeId) (*Local, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	p, ok := h.peers[id]
	return p, ok
}

// Local is an in-process Transport implementation backed by a Hub.
type Local struct {
	self   types.NodeId
	hub    *Hub
	inbox  chan Inbound
	once   sync.Once
	closed chan struct{}
}

var _ Transport = (*Local)(nil)

func (l *Local) Self() types.NodeId { return l.self }

// Broadcast delivers msg to every peer currently joined to the hub,
// including self, per the Transport contract.
func (l *Local) Broadcast(msg *types.Envelope) error {
	for _, peer := range l.hub.snapshot() {
		peer.deliver(l.self, msg)
	}
	return nil
}

// Send delivers msg to a single peer if it is still joined; delivery to a
// departed peer is silently dropped, same as a real transport's retries
// eventually giving up once the peer is excluded.
func (l *Local) Send(dest types.NodeId, msg *types.Envelope) error {
	if peer, ok := l.hub.lookup(dest); ok {
		peer.deliver(l.self, msg)
	}
	return nil
}

func (l *Local) Listen() <-chan Inbound {
	return l.inbox
}

func (l *Local) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.hub.Leave(l.self)
	})
	return nil
}

func (l *Local) deliver(from types.NodeId, msg *types.Envelope) {
	select {
	case <-l.closed:
	case l.inbox <- Inbound{From: from, Message: msg}:
	}
}

func (l *Local) deliverSignal(from types.NodeId, kind SignalKind) {
	select {
	case <-l.closed:
	case l.inbox <- Inbound{From: from, Signal: kind, IsSignal: true}:
	}
}
