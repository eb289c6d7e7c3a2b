package node

import (
	"github.com/ryandielhenn/ringd/pkg/gossip"
)

// View is the part of a daemon the admin surface reads.
type View interface {
	Snapshot() gossip.Snapshot
}

type Node struct {
	view   View
	addr   string
	bootID string
}

func NewNode(view View, addr, bootID string) *Node {
	return &Node{
		view:   view,
		addr:   addr,
		bootID: bootID,
	}
}

func (n *Node) Addr() string {
	return n.addr
}

func (n *Node) BootID() string {
	return n.bootID
}
