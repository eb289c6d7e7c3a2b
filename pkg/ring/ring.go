package ring

import (
	"fmt"
	"sync"
)

// NodeID is the persistent identifier of a physical node. It survives
// leaving and rejoining the group.
type NodeID uint32

// Timestamp is a 16-bit Lamport time.
type Timestamp uint16

// Identity names one membership record: a persistent id plus the Lamport
// time at which that record was created.
type Identity struct {
	ID          NodeID    `json:"id"`
	Incarnation Timestamp `json:"incarnation"`
}

func (i Identity) String() string {
	return fmt.Sprintf("%d@%d", i.ID, i.Incarnation)
}

type State uint8

const (
	StateOnline State = iota
	StateDeparted
	StateDied
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "ONLINE"
	case StateDeparted:
		return "DEPARTED"
	case StateDied:
		return "DIED"
	default:
		return "INVALID"
	}
}

// Outcome is the result of applying a membership update. Join yields
// Rejected, NoOp or Added; Leave and Fail yield Rejected or Ok.
type Outcome int8

const (
	Rejected Outcome = iota
	NoOp
	Added
	Ok
)

// Changed reports whether the update altered the ring.
func (o Outcome) Changed() bool {
	return o == Added || o == Ok
}

func (o Outcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case NoOp:
		return "noop"
	case Added:
		return "added"
	case Ok:
		return "ok"
	default:
		return "unknown"
	}
}

type Entry struct {
	Identity Identity
	State    State
}

// Ring keeps every membership record in the order it was first admitted
// locally. Successor and predecessor walk that order over ONLINE entries only.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
}

func New() *Ring {
	return &Ring{entries: make([]Entry, 0, 8)}
}

// Join admits id as ONLINE. At most one incarnation of a persistent id may be
// ONLINE; a stale or conflicting incarnation is rejected.
func (r *Ring) Join(id Identity) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.latest(id.ID); i >= 0 {
		existing := r.entries[i]
		switch {
		case existing.Identity.Incarnation > id.Incarnation:
			return Rejected
		case existing.Identity.Incarnation < id.Incarnation:
			if existing.State == StateOnline {
				return Rejected
			}
		default:
			if existing.State != StateOnline {
				return Rejected
			}
			return NoOp
		}
	}
	r.entries = append(r.entries, Entry{Identity: id, State: StateOnline})
	return Added
}

// Leave marks id DEPARTED. Returns Rejected if id is unknown, is a different
// incarnation, or is no longer ONLINE.
func (r *Ring) Leave(id Identity) Outcome {
	return r.retire(id, StateDeparted)
}

// Fail marks id DIED with the same rules as Leave.
func (r *Ring) Fail(id Identity) Outcome {
	return r.retire(id, StateDied)
}

func (r *Ring) retire(id Identity, to State) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.latest(id.ID)
	if i < 0 {
		return Rejected
	}
	e := &r.entries[i]
	if e.Identity.Incarnation != id.Incarnation || e.State != StateOnline {
		return Rejected
	}
	e.State = to
	return Ok
}

// Successor returns the next ONLINE entry after id, wrapping around.
func (r *Ring) Successor(id Identity) (Identity, bool) {
	return r.walk(id, 1)
}

// Predecessor returns the previous ONLINE entry before id, wrapping around.
func (r *Ring) Predecessor(id Identity) (Identity, bool) {
	return r.walk(id, -1)
}

func (r *Ring) HasSuccessor(id Identity) bool {
	_, ok := r.Successor(id)
	return ok
}

func (r *Ring) HasPredecessor(id Identity) bool {
	_, ok := r.Predecessor(id)
	return ok
}

func (r *Ring) walk(id Identity, step int) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := r.index(id)
	if start < 0 {
		return Identity{}, false
	}
	n := len(r.entries)
	for k := 1; k < n; k++ {
		e := r.entries[((start+step*k)%n+n)%n]
		if e.State == StateOnline {
			return e.Identity, true
		}
	}
	return Identity{}, false
}

// Lookup returns the most recently admitted entry for a persistent id.
func (r *Ring) Lookup(id NodeID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.latest(id); i >= 0 {
		return r.entries[i], true
	}
	return Entry{}, false
}

// Entries returns a copy of every record in admission order.
func (r *Ring) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries...)
}

// Online returns the ONLINE identities in ring order.
func (r *Ring) Online() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Identity, 0, len(r.entries))
	for _, e := range r.entries {
		if e.State == StateOnline {
			out = append(out, e.Identity)
		}
	}
	return out
}

// Count returns the number of records in each state.
func (r *Ring) Count() map[State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[State]int{StateOnline: 0, StateDeparted: 0, StateDied: 0}
	for _, e := range r.entries {
		counts[e.State]++
	}
	return counts
}

// latest finds the newest record for a persistent id. Older incarnations stay
// in the slice as history but are never ONLINE once superseded.
func (r *Ring) latest(id NodeID) int {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Identity.ID == id {
			return i
		}
	}
	return -1
}

func (r *Ring) index(id Identity) int {
	for i, e := range r.entries {
		if e.Identity == id {
			return i
		}
	}
	return -1
}
