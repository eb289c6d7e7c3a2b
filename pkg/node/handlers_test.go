package node

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ryandielhenn/ringd/pkg/gossip"
	"github.com/ryandielhenn/ringd/pkg/ring"
)

type fixedView gossip.Snapshot

func (v fixedView) Snapshot() gossip.Snapshot { return gossip.Snapshot(v) }

func joinedView() fixedView {
	self := ring.Identity{ID: 2, Incarnation: 4}
	return fixedView{
		PersistentID: 2,
		Self:         &self,
		Phase:        gossip.PhaseJoined.String(),
		Clock:        9,
		Members: []gossip.Member{
			{ID: 1, Incarnation: 0, State: "ONLINE"},
			{ID: 2, Incarnation: 4, State: "ONLINE", Self: true},
			{ID: 3, Incarnation: 6, State: "DIED"},
		},
		Pending: gossip.Delta{Failed: []ring.Identity{{ID: 3, Incarnation: 6}}},
	}
}

func TestHealthz(t *testing.T) {
	n := NewNode(joinedView(), ":8080", "boot")
	rec := httptest.NewRecorder()
	n.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	left := joinedView()
	left.Phase = gossip.PhaseDeparted.String()
	rec = httptest.NewRecorder()
	NewNode(left, ":8080", "boot").Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz after leaving = %d, want 503", rec.Code)
	}
}

func TestInfo(t *testing.T) {
	n := NewNode(joinedView(), ":8080", "0b5e1d9c")
	rec := httptest.NewRecorder()
	n.Info(rec, httptest.NewRequest(http.MethodGet, "/info", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	var got struct {
		BootID  string         `json:"boot_id"`
		ID      ring.NodeID    `json:"id"`
		Self    ring.Identity  `json:"self"`
		Phase   string         `json:"phase"`
		Clock   ring.Timestamp `json:"clock"`
		Online  int            `json:"online"`
		Pending int            `json:"pending"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if got.BootID != "0b5e1d9c" || got.ID != 2 || got.Self.Incarnation != 4 {
		t.Fatalf("info identity = %+v", got)
	}
	if got.Phase != "JOINED" || got.Clock != 9 || got.Online != 2 || got.Pending != 1 {
		t.Fatalf("info state = %+v", got)
	}
}

func TestMembers(t *testing.T) {
	n := NewNode(joinedView(), ":8080", "boot")
	rec := httptest.NewRecorder()
	n.Members(rec, httptest.NewRequest(http.MethodGet, "/members", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("members = %d", rec.Code)
	}
	var got gossip.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode members: %v", err)
	}
	if len(got.Members) != 3 || got.Members[2].State != "DIED" || !got.Members[1].Self {
		t.Fatalf("members = %+v", got.Members)
	}

	rec = httptest.NewRecorder()
	n.Members(rec, httptest.NewRequest(http.MethodPost, "/members", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /members = %d, want 405", rec.Code)
	}
}
