package tcp

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"

	"github.com/jabolina/rabia/pkg/rabia/types"
)

const maxFrameBytes = 16 << 20 // 16 MiB; generous for a batch of commands

// writeFrame gob-encodes env and writes it length-prefixed (4-byte
// big-endian length, then payload) - the simplest framing that lets a
// stream-oriented TCP connection carry discrete Envelopes.
func writeFrame(conn net.Conn, env *types.Envelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return err
	}
	if buf.Len() > maxFrameBytes {
		return fmt.Errorf("tcp: frame of %d bytes exceeds limit", buf.Len())
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(buf.Len()))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err := conn.Write(buf.Bytes())
	return err
}

// readFrame reads one length-prefixed gob-encoded Envelope from r.
func readFrame(r io.Reader) (*types.Envelope, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxFrameBytes {
		return nil, fmt.Errorf("tcp: incoming frame of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	var env types.Envelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}
