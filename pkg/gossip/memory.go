package gossip

import (
	"context"
	"sync"
	"time"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

const memoryInbox = 256

// MemoryNetwork connects in-process endpoints. It drops datagrams to or from
// isolated nodes and when an inbox is full, like a lossy network would.
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[ring.NodeID]*MemoryEndpoint
	isolated  map[ring.NodeID]bool
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		endpoints: make(map[ring.NodeID]*MemoryEndpoint),
		isolated:  make(map[ring.NodeID]bool),
	}
}

// Endpoint attaches a transport for id, replacing any previous one.
func (n *MemoryNetwork) Endpoint(id ring.NodeID) *MemoryEndpoint {
	e := &MemoryEndpoint{
		net:    n,
		id:     id,
		closed: make(chan struct{}),
	}
	for i := range e.inbox {
		e.inbox[i] = make(chan []byte, memoryInbox)
	}
	n.mu.Lock()
	n.endpoints[id] = e
	delete(n.isolated, id)
	n.mu.Unlock()
	return e
}

// Isolate silently drops all traffic to and from id, simulating a crash.
func (n *MemoryNetwork) Isolate(id ring.NodeID) {
	n.mu.Lock()
	n.isolated[id] = true
	n.mu.Unlock()
}

// route finds the destination endpoint. Like UDP, an absent peer is not an
// error; the datagram just goes nowhere.
func (n *MemoryNetwork) route(from, to ring.NodeID) (*MemoryEndpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.isolated[from] || n.isolated[to] {
		return nil, false
	}
	e, ok := n.endpoints[to]
	return e, ok
}

type MemoryEndpoint struct {
	net       *MemoryNetwork
	id        ring.NodeID
	inbox     [2]chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (e *MemoryEndpoint) Send(ctx context.Context, to ring.NodeID, ch Channel, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, ok := e.net.route(e.id, to)
	if !ok {
		return nil
	}
	select {
	case <-dst.closed:
	case dst.inbox[ch] <- append([]byte(nil), payload...):
	default:
	}
	return nil
}

func (e *MemoryEndpoint) Receive(ctx context.Context, ch Channel, timeout time.Duration) ([]byte, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-e.inbox[ch]:
		return p, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-e.closed:
		return nil, false, ErrStopped
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (e *MemoryEndpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.net.mu.Lock()
		if e.net.endpoints[e.id] == e {
			delete(e.net.endpoints, e.id)
		}
		e.net.mu.Unlock()
	})
	return nil
}
