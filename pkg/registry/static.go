package registry

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

// StaticResolver is a fixed peer table. Addresses without a port get
// DefaultPort.
type StaticResolver struct {
	Peers       map[ring.NodeID]string
	DefaultPort int
}

func (r StaticResolver) Resolve(_ context.Context, id ring.NodeID) (string, error) {
	addr, ok := r.Peers[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return NormalizeHostPort(addr, strconv.Itoa(r.DefaultPort)), nil
}
