// Package transport defines the external wire-transport contract the
// consensus core relies on (spec §4.1, §6) plus a synthetic in-process
// implementation used by tests. The production
// adapter lives in pkg/rabia/transport/tcp.
package transport

import "github.com/jabolina/rabia/pkg/rabia/types"

// Signal carries synthetic membership events the transport layer injects
// into the inbound stream alongside real protocol messages, per spec §4.1.
type SignalKind uint8

const (
	SignalNodeUp SignalKind = iota
	SignalNodeDown
)

// Inbound is what arrives on the transport's Listen channel: either a real
// protocol Envelope from a peer, or a synthetic membership Signal.
type Inbound struct {
	From    types.NodeId
	Message *types.Envelope
	Signal  SignalKind
	IsSignal bool
}

// Transport is the reliable unicast/broadcast abstraction the engine and
// topology manager depend on. Implementations retry delivery transparently
// and never suppress duplicates - the core is already idempotent against
// replays (spec §4.1).
type Transport interface {
	// Broadcast delivers msg to every current member, including self,
	// at-least-once. Delivery order between different senders is not
	// required; order from the same sender is preserved.
	Broadcast(msg *types.Envelope) error

	// Send delivers msg to a single member at-least-once.
	Send(dest types.NodeId, msg *types.Envelope) error

	// Listen returns the channel on which inbound messages and synthetic
	// node-up/node-down signals are delivered.
	Listen() <-chan Inbound

	// Self returns the local node's identifier.
	Self() types.NodeId

	// Close releases transport resources. Idempotent.
	Close() error
}
