package types

// StateMachine is the host application's deterministic replicated state.
// The engine invokes it on a single logical execution thread and never
// issues two concurrent Process calls (spec §5).
type StateMachine interface {
	// Process applies commands, in order, and returns one result per
	// command. It must be deterministic: every correct replica that
	// processes the same sequence of batches must produce the same
	// results.
	Process(commands []Command) ([]CommandResult, error)

	// MakeSnapshot must capture all state affecting future Process
	// calls.
	MakeSnapshot() ([]byte, error)

	// RestoreSnapshot is the inverse of MakeSnapshot. A successful
	// restore implies Reset.
	RestoreSnapshot(snapshot []byte) error

	// Reset drops all state.
	Reset()
}

// SnapshotSink is the external, optional collaborator that archives
// snapshots for disaster recovery. It is not part of the consensus core;
// pkg/pgstore provides a concrete Postgres-backed implementation.
type SnapshotSink interface {
	SaveSnapshot(node NodeId, phase Phase, snapshot []byte) error
	LoadLatestSnapshot(node NodeId) (Phase, []byte, error)
}
