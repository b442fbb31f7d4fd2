package types

// MessageKind tags the concrete type carried by an Envelope so the router
// and the transport can dispatch without a type switch on every hop.
type MessageKind uint8

const (
	KindPropose MessageKind = iota
	KindVoteRound1
	KindVoteRound2
	KindDecision
	KindNewBatch
	KindSyncRequest
	KindSyncResponse
	KindHeartbeat
)

func (k MessageKind) String() string {
	switch k {
	case KindPropose:
		return "Propose"
	case KindVoteRound1:
		return "VoteRound1"
	case KindVoteRound2:
		return "VoteRound2"
	case KindDecision:
		return "Decision"
	case KindNewBatch:
		return "NewBatch"
	case KindSyncRequest:
		return "SyncRequest"
	case KindSyncResponse:
		return "SyncResponse"
	case KindHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

// ProtocolVersion is bumped whenever a wire-incompatible change is made to
// the messages below.
const ProtocolVersion = 1

// Propose carries a phase's single proposal from its originator.
type Propose struct {
	Sender  NodeId
	Phase   Phase
	Batch   Batch
	Version int
}

// VoteRound1 carries a node's first-round vote for a phase.
type VoteRound1 struct {
	Sender     NodeId
	Phase      Phase
	StateValue StateValue
	Version    int
}

// VoteRound2 carries a node's second-round vote for a phase.
type VoteRound2 struct {
	Sender     NodeId
	Phase      Phase
	StateValue StateValue
	Version    int
}

// Decision announces a phase's outcome, reached locally via round 2
// majority or via the common coin.
type Decision struct {
	Sender     NodeId
	Phase      Phase
	StateValue StateValue
	Batch      Batch
	Version    int
}

// NewBatch gossips a freshly submitted batch outside phase progression.
type NewBatch struct {
	Sender  NodeId
	Batch   Batch
	Version int
}

// SyncRequest asks the cluster for a state transfer while Dormant/Syncing.
type SyncRequest struct {
	Sender  NodeId
	Version int
}

// SyncResponse answers a SyncRequest with the responder's saved or live state.
type SyncResponse struct {
	Sender  NodeId
	State   SavedState
	Version int
}

// Heartbeat is a transport-level liveness probe. It never reaches the
// protocol executor's handlers beyond a no-op dispatch; it exists purely so
// a TCP connection pool has a cheap, valid frame to send when there is no
// protocol traffic to carry liveness information piggy-backed on it.
type Heartbeat struct {
	Sender  NodeId
	Version int
}

// Envelope is the one concrete type that ever crosses the transport. The
// core never hands the transport a naked Propose/Decision/etc.; everything
// is wrapped so a single Listen() channel can carry every message kind.
type Envelope struct {
	Kind         MessageKind
	Propose      *Propose
	VoteRound1   *VoteRound1
	VoteRound2   *VoteRound2
	Decision     *Decision
	NewBatch     *NewBatch
	SyncRequest  *SyncRequest
	SyncResponse *SyncResponse
	Heartbeat    *Heartbeat
}

// Version returns the Version field off of whichever payload is set, or 0
// if the envelope carries no recognized payload. Every payload type stamps
// the sender's ProtocolVersion independently (there is no envelope-level
// field) so a receiver can reject a version mismatch before touching
// protocol state.
func (e *Envelope) Version() int {
	switch e.Kind {
	case KindPropose:
		if e.Propose != nil {
			return e.Propose.Version
		}
	case KindVoteRound1:
		if e.VoteRound1 != nil {
			return e.VoteRound1.Version
		}
	case KindVoteRound2:
		if e.VoteRound2 != nil {
			return e.VoteRound2.Version
		}
	case KindDecision:
		if e.Decision != nil {
			return e.Decision.Version
		}
	case KindNewBatch:
		if e.NewBatch != nil {
			return e.NewBatch.Version
		}
	case KindSyncRequest:
		if e.SyncRequest != nil {
			return e.SyncRequest.Version
		}
	case KindSyncResponse:
		if e.SyncResponse != nil {
			return e.SyncResponse.Version
		}
	case KindHeartbeat:
		if e.Heartbeat != nil {
			return e.Heartbeat.Version
		}
	}
	return 0
}
