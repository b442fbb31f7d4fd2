// Package tcp is the production Transport adapter (spec.md §4.1, §6): a
// length-prefixed, gob-encoded TCP transport with a pooled connection per
// peer and a heartbeat goroutine that turns unreachable peers into
// synthetic node-down signals, the same shape HashiCorp's raft
// NetworkTransport uses.
package tcp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jabolina/rabia/pkg/rabia/transport"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

// Config carries a TCP transport's tunables.
type Config struct {
	DialTimeout      time.Duration
	HeartbeatPeriod  time.Duration
	HeartbeatMisses  int // consecutive failures before a peer is declared down
}

// DefaultConfig returns sane defaults for a production deployment.
func DefaultConfig() Config {
	return Config{
		DialTimeout:     2 * time.Second,
		HeartbeatPeriod: time.Second,
		HeartbeatMisses: 3,
	}
}

// Transport is a TCP-backed transport.Transport. Peer addresses are fixed
// at construction - spec.md's Non-goals exclude dynamic reconfiguration
// mid-view, so adding a peer means constructing a fresh Transport (and
// Manager) the same way a topology change does.
type Transport struct {
	self   types.NodeId
	config Config
	log    zerolog.Logger

	listener net.Listener
	producer chan transport.Inbound

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pool *pool

	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New binds listenAddr and begins accepting peer connections. peers maps
// every other cluster member to its dial address; self is this node's own
// identifier (not included in peers).
func New(self types.NodeId, listenAddr string, peers map[types.NodeId]string, cfg Config, log zerolog.Logger) (*Transport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		self:     self,
		config:   cfg,
		log:      log.With().Str("node_id", string(self)).Str("component", "tcp_transport").Logger(),
		listener: ln,
		producer: make(chan transport.Inbound, 1024),
		ctx:      ctx,
		cancel:   cancel,
	}
	t.pool = newPool(t, peers)

	t.wg.Add(1)
	go t.acceptLoop()
	t.pool.startHeartbeats()
	return t, nil
}

func (t *Transport) Self() types.NodeId { return t.self }

// Broadcast sends msg to every known peer and to self (spec's Transport
// contract requires self-delivery so the sender observes its own vote the
// same way it observes a peer's).
func (t *Transport) Broadcast(msg *types.Envelope) error {
	t.deliverLocal(t.self, msg)
	var firstErr error
	for _, id := range t.pool.peerIds() {
		if err := t.Send(id, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Send delivers msg to dest, dialing or redialing the pooled connection as
// needed. A single retry against a freshly dialed connection absorbs a
// connection that died silently between heartbeats.
func (t *Transport) Send(dest types.NodeId, msg *types.Envelope) error {
	if dest == t.self {
		t.deliverLocal(t.self, msg)
		return nil
	}
	if err := t.pool.send(dest, msg); err != nil {
		t.log.Debug().Err(err).Str("dest", string(dest)).Msg("send failed, retrying once")
		return t.pool.sendFresh(dest, msg)
	}
	return nil
}

func (t *Transport) Listen() <-chan transport.Inbound {
	return t.producer
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.listener.Close()
		t.pool.close()
		t.wg.Wait()
		close(t.producer)
	})
	return nil
}

func (t *Transport) deliverLocal(from types.NodeId, msg *types.Envelope) {
	select {
	case <-t.ctx.Done():
	case t.producer <- transport.Inbound{From: from, Message: msg}:
	}
}

func (t *Transport) deliverSignal(from types.NodeId, kind transport.SignalKind) {
	select {
	case <-t.ctx.Done():
	case t.producer <- transport.Inbound{From: from, Signal: kind, IsSignal: true}:
	}
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
				t.log.Warn().Err(err).Msg("accept failed")
				return
			}
		}
		t.wg.Add(1)
		go t.serve(conn)
	}
}

func (t *Transport) serve(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()
	for {
		env, err := readFrame(conn)
		if err != nil {
			return
		}
		t.deliverLocal("", env)
	}
}
