package tcp

import (
	"net"
	"sync"
	"time"

	"github.com/jabolina/rabia/pkg/rabia/transport"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

// pool owns one long-lived outbound connection per peer, dialed lazily and
// replaced on send failure.
type pool struct {
	t     *Transport
	addrs map[types.NodeId]string

	mutex   sync.Mutex
	conns   map[types.NodeId]net.Conn
	writeMu map[types.NodeId]*sync.Mutex
	fails   map[types.NodeId]int
	up      map[types.NodeId]bool

	stopCh chan struct{}
}

func newPool(t *Transport, addrs map[types.NodeId]string) *pool {
	return &pool{
		t:       t,
		addrs:   addrs,
		conns:   make(map[types.NodeId]net.Conn),
		writeMu: make(map[types.NodeId]*sync.Mutex),
		fails:   make(map[types.NodeId]int),
		up:      make(map[types.NodeId]bool),
		stopCh:  make(chan struct{}),
	}
}

func (p *pool) peerIds() []types.NodeId {
	ids := make([]types.NodeId, 0, len(p.addrs))
	for id := range p.addrs {
		ids = append(ids, id)
	}
	return ids
}

// send writes env over the pooled connection to dest, dialing one if none
// exists yet.
func (p *pool) send(dest types.NodeId, env *types.Envelope) error {
	conn, err := p.get(dest)
	if err != nil {
		return err
	}
	if err := p.writeLocked(dest, conn, env); err != nil {
		p.drop(dest)
		return err
	}
	p.recordSuccess(dest)
	return nil
}

// sendFresh discards whatever connection is pooled for dest and dials a new
// one before writing, absorbing a connection that died silently.
func (p *pool) sendFresh(dest types.NodeId, env *types.Envelope) error {
	p.drop(dest)
	conn, err := p.get(dest)
	if err != nil {
		p.recordFailure(dest)
		return err
	}
	if err := p.writeLocked(dest, conn, env); err != nil {
		p.drop(dest)
		p.recordFailure(dest)
		return err
	}
	p.recordSuccess(dest)
	return nil
}

// writeLocked serializes writeFrame's two conn.Write calls (header then
// payload) behind dest's own mutex, so the heartbeat goroutine and whatever
// goroutine is calling send/sendFresh for the same peer can never interleave
// their frames on the wire.
func (p *pool) writeLocked(dest types.NodeId, conn net.Conn, env *types.Envelope) error {
	mu := p.connWriteMutex(dest)
	mu.Lock()
	defer mu.Unlock()
	return writeFrame(conn, env)
}

func (p *pool) connWriteMutex(dest types.NodeId) *sync.Mutex {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	mu, ok := p.writeMu[dest]
	if !ok {
		mu = &sync.Mutex{}
		p.writeMu[dest] = mu
	}
	return mu
}

func (p *pool) get(dest types.NodeId) (net.Conn, error) {
	p.mutex.Lock()
	if conn, ok := p.conns[dest]; ok {
		p.mutex.Unlock()
		return conn, nil
	}
	addr := p.addrs[dest]
	p.mutex.Unlock()

	conn, err := net.DialTimeout("tcp", addr, p.t.config.DialTimeout)
	if err != nil {
		return nil, err
	}
	p.mutex.Lock()
	p.conns[dest] = conn
	p.mutex.Unlock()
	return conn, nil
}

func (p *pool) drop(dest types.NodeId) {
	p.mutex.Lock()
	conn, ok := p.conns[dest]
	delete(p.conns, dest)
	p.mutex.Unlock()
	if ok {
		conn.Close()
	}
}

func (p *pool) recordSuccess(dest types.NodeId) {
	p.mutex.Lock()
	p.fails[dest] = 0
	wasDown := !p.up[dest]
	p.up[dest] = true
	p.mutex.Unlock()
	if wasDown {
		p.t.deliverSignal(dest, transport.SignalNodeUp)
	}
}

func (p *pool) recordFailure(dest types.NodeId) {
	p.mutex.Lock()
	p.fails[dest]++
	n := p.fails[dest]
	stillUp := p.up[dest]
	declareDown := stillUp && n >= p.t.config.HeartbeatMisses
	if declareDown {
		p.up[dest] = false
	}
	p.mutex.Unlock()
	if declareDown {
		p.t.deliverSignal(dest, transport.SignalNodeDown)
	}
}

// startHeartbeats launches one probing goroutine per peer, each on its own
// ticker, so a slow peer never delays the liveness check of another.
func (p *pool) startHeartbeats() {
	for id := range p.addrs {
		p.t.wg.Add(1)
		go p.heartbeatLoop(id)
	}
}

func (p *pool) heartbeatLoop(dest types.NodeId) {
	defer p.t.wg.Done()
	ticker := time.NewTicker(p.t.config.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.t.ctx.Done():
			return
		case <-ticker.C:
			err := p.send(dest, &types.Envelope{
				Kind:      types.KindHeartbeat,
				Heartbeat: &types.Heartbeat{Sender: p.t.self, Version: types.ProtocolVersion},
			})
			if err != nil {
				p.recordFailure(dest)
			} else {
				p.recordSuccess(dest)
			}
		}
	}
}

func (p *pool) close() {
	close(p.stopCh)
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, conn := range p.conns {
		conn.Close()
	}
}
