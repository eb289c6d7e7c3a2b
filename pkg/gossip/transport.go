package gossip

import (
	"context"
	"time"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

// Transport moves unreliable datagrams between nodes over two channels.
// Implementations: UDPTransport for deployments, MemoryNetwork for tests.
type Transport interface {
	// Send delivers payload to node to on channel ch. Delivery is best effort.
	Send(ctx context.Context, to ring.NodeID, ch Channel, payload []byte) error
	// Receive waits up to timeout for the next payload on ch. ok is false when
	// the timeout elapsed with nothing received.
	Receive(ctx context.Context, ch Channel, timeout time.Duration) (payload []byte, ok bool, err error)
	Close() error
}

// Resolver maps a persistent id to the host:port of its heartbeat socket.
type Resolver interface {
	Resolve(ctx context.Context, id ring.NodeID) (string, error)
}

// BackpropResolver is implemented by resolvers that know a node's backprop
// address directly. Other resolvers get the heartbeat port + 1.
type BackpropResolver interface {
	ResolveBackprop(ctx context.Context, id ring.NodeID) (string, error)
}
