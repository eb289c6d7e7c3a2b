package gossip

import (
	"time"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

// Phase is the lifecycle state of a Daemon.
type Phase uint8

const (
	PhaseUnjoined Phase = iota
	PhaseJoined
	PhaseDeparted
	PhaseKilled
)

func (p Phase) String() string {
	switch p {
	case PhaseUnjoined:
		return "UNJOINED"
	case PhaseJoined:
		return "JOINED"
	case PhaseDeparted:
		return "DEPARTED"
	case PhaseKilled:
		return "KILLED"
	default:
		return "INVALID"
	}
}

// Member is one ring record as reported to operators.
type Member struct {
	ID          ring.NodeID    `json:"id"`
	Incarnation ring.Timestamp `json:"incarnation"`
	State       string         `json:"state"`
	Self        bool           `json:"self,omitempty"`
}

// Snapshot is a point-in-time view of a Daemon.
type Snapshot struct {
	PersistentID    ring.NodeID    `json:"persistent_id"`
	Self            *ring.Identity `json:"self,omitempty"`
	Phase           string         `json:"phase"`
	Clock           ring.Timestamp `json:"clock"`
	Members         []Member       `json:"members"`
	Pending         Delta          `json:"pending"`
	LastHeartbeat   *ring.Identity `json:"last_heartbeat,omitempty"`
	LastHeartbeatAt *time.Time     `json:"last_heartbeat_at,omitempty"`
}

// Online returns the ids of ONLINE members in ring order.
func (s Snapshot) Online() []ring.NodeID {
	var ids []ring.NodeID
	for _, m := range s.Members {
		if m.State == ring.StateOnline.String() {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
