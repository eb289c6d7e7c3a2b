package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/ringd/pkg/gossip"
	"github.com/ryandielhenn/ringd/pkg/ring"
)

// healthz returns 200 OK while the daemon is a member of the group and 503
// once it has left or been killed.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	phase := n.view.Snapshot().Phase
	if phase == gossip.PhaseDeparted.String() || phase == gossip.PhaseKilled.String() {
		http.Error(w, phase, http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// info writes a JSON payload with the process ID, boot id, current time and
// a summary of the daemon's state.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID     int            `json:"pid"`
		BootID  string         `json:"boot_id"`
		Now     time.Time      `json:"now"`
		ID      ring.NodeID    `json:"id"`
		Self    *ring.Identity `json:"self,omitempty"`
		Phase   string         `json:"phase"`
		Clock   ring.Timestamp `json:"clock"`
		Online  int            `json:"online"`
		Pending int            `json:"pending"`
	}
	s := n.view.Snapshot()
	writeJSON(w, resp{
		PID:     os.Getpid(),
		BootID:  n.bootID,
		Now:     time.Now(),
		ID:      s.PersistentID,
		Self:    s.Self,
		Phase:   s.Phase,
		Clock:   s.Clock,
		Online:  len(s.Online()),
		Pending: s.Pending.Len(),
	})
}

// members writes the full snapshot: every ring record in admission order,
// pending events and the last heartbeat seen.
func (n *Node) Members(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, n.view.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
