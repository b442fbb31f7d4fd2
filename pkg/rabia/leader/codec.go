package leader

import (
	"bytes"
	"encoding/gob"

	"github.com/jabolina/rabia/pkg/rabia/types"
)

// magic tags a Command as a leader-change proposal so the decorating state
// machine can pull it out of the committed stream before anything reaches
// the host application's real state machine.
var magic = [4]byte{'r', 'l', 'd', 'r'}

type wireChange struct {
	Magic        [4]byte
	Leader       types.NodeId
	ViewSequence uint64
}

func encodeChange(c Change) (types.Command, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wireChange{Magic: magic, Leader: c.Leader, ViewSequence: c.ViewSequence}); err != nil {
		return nil, err
	}
	return types.Command(buf.Bytes()), nil
}

// decodeChange returns the decoded Change and true if cmd is a
// leader-change proposal, or false if it is an ordinary application
// command that should pass through untouched.
func decodeChange(cmd types.Command) (Change, bool) {
	if len(cmd) < 4 {
		return Change{}, false
	}
	var wc wireChange
	if err := gob.NewDecoder(bytes.NewReader(cmd)).Decode(&wc); err != nil {
		return Change{}, false
	}
	if wc.Magic != magic {
		return Change{}, false
	}
	return Change{Leader: wc.Leader, ViewSequence: wc.ViewSequence}, true
}
