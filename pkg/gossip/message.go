package gossip

import "github.com/ryandielhenn/ringd/pkg/ring"

// Category selects one of the three event lists of a Delta.
type Category uint8

const (
	Joined Category = iota
	Left
	Failed
)

var categories = [...]Category{Joined, Left, Failed}

func (c Category) String() string {
	switch c {
	case Joined:
		return "joined"
	case Left:
		return "left"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Delta is a changelist: membership events that have not yet been seen to
// travel all the way around the ring back to where they started.
type Delta struct {
	Joined    []ring.Identity `json:"joined"`
	Left      []ring.Identity `json:"left"`
	Failed    []ring.Identity `json:"failed"`
	Timestamp ring.Timestamp  `json:"timestamp"`
}

// Channel is one of the two directed flows between neighbours.
type Channel uint8

const (
	// ChannelHeartbeat carries heartbeats from a node to its successor.
	ChannelHeartbeat Channel = iota
	// ChannelBackprop carries changelists and join requests to a node's predecessor.
	ChannelBackprop
)

func (c Channel) String() string {
	if c == ChannelHeartbeat {
		return "heartbeat"
	}
	return "backprop"
}
