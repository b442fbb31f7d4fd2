// Package types holds the data model shared across the consensus core:
// node identifiers, commands, batches, phases, vote values and the saved
// state used to bootstrap a rejoining node. None of these types know how
// to move across the wire or across phases — they are plain values.
package types

import (
	"errors"
	"sort"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrEmptyBatch is returned synchronously by Apply when called with no commands.
	ErrEmptyBatch = errors.New("rabia: batch must contain at least one command")
	// ErrNodeInactive is returned when the engine cannot accept client work,
	// either because it was never started or because it has since stopped.
	ErrNodeInactive = errors.New("rabia: node is not active")
	// ErrUnsupportedProtocol is returned when an inbound message carries a
	// protocol version this build does not understand.
	ErrUnsupportedProtocol = errors.New("rabia: protocol version not supported")
	// ErrStateMachine wraps a failure returned by the host state machine.
	ErrStateMachine = errors.New("rabia: state machine operation failed")
)

// NodeId is a stable, comparable identifier for a cluster member. The
// total order over NodeId is used as the topology's sort key and, in Local
// leader mode, as the tiebreaker for leader selection.
type NodeId string

// Less defines the total order referenced throughout the protocol.
func (n NodeId) Less(other NodeId) bool {
	return n < other
}

// SortNodeIds sorts ids ascending in place and returns the slice for chaining.
func SortNodeIds(ids []NodeId) []NodeId {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Command is an opaque payload the host state machine knows how to execute.
// The engine never inspects a Command's contents.
type Command []byte

// CorrelationId names a Batch and totally orders it against every other
// batch ever proposed. It must be time-sortable so that concurrently
// submitted batches still resolve to a deterministic order everywhere -
// a ULID satisfies both properties.
type CorrelationId string

// EmptyCorrelationId is the fixed correlation id shared by every node's
// empty-batch sentinel. It is a fixed constant, not freshly minted per
// phase, so that all nodes agree on what "the empty batch" orders as
// (see spec's Open Questions: fixed beats per-phase-fresh for safety).
const EmptyCorrelationId CorrelationId = "00000000000000000000000000"

// NewCorrelationId mints a fresh, time-sortable, globally unique id for a
// client-submitted batch.
func NewCorrelationId() CorrelationId {
	return CorrelationId(ulid.Make().String())
}

// Less defines the total order over correlation ids used to pick the
// minimal proposal in a phase and to break coin-outcome ties.
func (c CorrelationId) Less(other CorrelationId) bool {
	return c < other
}

// Batch is the unit of work a phase decides on. Identity is CorrelationId;
// Commands may be empty only for the reserved sentinel returned by
// EmptyBatch.
type Batch struct {
	CorrelationId CorrelationId
	Commands      []Command
}

// IsEmpty reports whether this is the empty-batch sentinel.
func (b Batch) IsEmpty() bool {
	return len(b.Commands) == 0
}

// EmptyBatch is the sentinel batch proposed when a node must participate
// in a phase despite having nothing pending.
func EmptyBatch() Batch {
	return Batch{CorrelationId: EmptyCorrelationId}
}

// Less orders two batches by correlation id. This is the order every
// correct node uses to pick the smallest proposal in a phase and the
// batch associated with a V1 coin outcome.
func (b Batch) Less(other Batch) bool {
	return b.CorrelationId.Less(other.CorrelationId)
}

// Phase is the monotonic, non-negative sequencing domain of the protocol.
// There is no persistent log of phases; a node is always "in" exactly one.
type Phase uint64

// StateValue is the three-valued vote tag used in both rounds of a phase.
type StateValue uint8

const (
	// V0 means "commit nothing this phase".
	V0 StateValue = iota
	// V1 means "commit the associated batch".
	V1
	// VQ means "undecided; consult the common coin".
	VQ
)

func (s StateValue) String() string {
	switch s {
	case V0:
		return "V0"
	case V1:
		return "V1"
	case VQ:
		return "VQ"
	default:
		return "V?"
	}
}

// QuorumState is the edge-triggered notification emitted by the topology
// manager when the reachable set crosses the quorum threshold.
type QuorumState uint8

const (
	QuorumEstablished QuorumState = iota
	QuorumDisappeared
)

func (q QuorumState) String() string {
	if q == QuorumEstablished {
		return "ESTABLISHED"
	}
	return "DISAPPEARED"
}

// SavedState is the triple used to bootstrap a rejoining node: the
// snapshot bytes, the phase through which they are valid, and any batches
// the departing node had not yet seen committed.
type SavedState struct {
	Snapshot           []byte
	LastCommittedPhase Phase
	PendingBatches     []Batch
}

// ClusterParams are the functions of topology size N referenced throughout
// the protocol. N must be odd and >= 3.
type ClusterParams struct {
	N int
}

// QuorumSize is floor(N/2)+1, the number of messages that must be
// collected before a round can be evaluated.
func (c ClusterParams) QuorumSize() int {
	return c.N/2 + 1
}

// FPlusOne is numerically identical to QuorumSize but named separately
// because it plays a different protocol role: "at least one honest node"
// rather than "enough messages collected".
func (c ClusterParams) FPlusOne() int {
	return c.N/2 + 1
}

// CommandResult is the per-command outcome produced by a state machine's
// Process call, returned to the client that submitted the batch.
type CommandResult struct {
	Value []byte
	Err   error
}
