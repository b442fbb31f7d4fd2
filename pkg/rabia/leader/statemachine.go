package leader

import "github.com/jabolina/rabia/pkg/rabia/types"

// decoratedStateMachine wraps a host application's StateMachine so that, in
// Consensus mode, leader-change commands committed through the replicated
// log are intercepted and routed to onLeaderCommitted instead of reaching
// the host application (spec §4.6). Every other command is forwarded
// unchanged, in order, so determinism is preserved for the host's own
// state.
type decoratedStateMachine struct {
	inner types.StateMachine
	mgr   *Manager
}

// Wrap returns a types.StateMachine to hand to engine.New in place of
// inner, when mgr is operating in Consensus mode. Using it with a Local
// mode Manager is a no-op wrapper (no commands carry the leader magic).
func (m *Manager) Wrap(inner types.StateMachine) types.StateMachine {
	return &decoratedStateMachine{inner: inner, mgr: m}
}

func (d *decoratedStateMachine) Process(commands []types.Command) ([]types.CommandResult, error) {
	forward := make([]types.Command, 0, len(commands))
	positions := make([]int, 0, len(commands))
	results := make([]types.CommandResult, len(commands))

	for i, cmd := range commands {
		if change, ok := decodeChange(cmd); ok {
			d.mgr.onLeaderCommitted(change)
			results[i] = types.CommandResult{}
			continue
		}
		forward = append(forward, cmd)
		positions = append(positions, i)
	}

	if len(forward) == 0 {
		return results, nil
	}

	innerResults, err := d.inner.Process(forward)
	if err != nil {
		return nil, err
	}
	for j, pos := range positions {
		if j < len(innerResults) {
			results[pos] = innerResults[j]
		}
	}
	return results, nil
}

func (d *decoratedStateMachine) MakeSnapshot() ([]byte, error) { return d.inner.MakeSnapshot() }

func (d *decoratedStateMachine) RestoreSnapshot(snapshot []byte) error {
	return d.inner.RestoreSnapshot(snapshot)
}

func (d *decoratedStateMachine) Reset() { d.inner.Reset() }
