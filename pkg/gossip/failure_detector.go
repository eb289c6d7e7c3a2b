package gossip

import (
	"sync"
	"time"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

// Monitor decides when a silent receive window counts as a missed heartbeat.
// A predecessor is only held to account once it has been the watched
// predecessor for a whole window; every change of predecessor re-arms the
// grace period so a freshly admitted node gets time to learn it joined.
type Monitor struct {
	mu       sync.Mutex
	watched  ring.Identity
	watching bool
	armed    bool

	last   ring.Identity
	lastAt time.Time
}

// Watch is called at the start of every receive window with the current
// predecessor.
func (m *Monitor) Watch(pred ring.Identity, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !ok:
		m.watching, m.armed = false, false
	case !m.watching || m.watched != pred:
		m.watched, m.watching, m.armed = pred, true, false
	default:
		m.armed = true
	}
}

// Observe records a heartbeat.
func (m *Monitor) Observe(from ring.Identity, at time.Time) {
	m.mu.Lock()
	m.last, m.lastAt = from, at
	m.mu.Unlock()
}

// Missed reports the predecessor to suspect after a window with no heartbeat.
func (m *Monitor) Missed() (ring.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.watching || !m.armed {
		return ring.Identity{}, false
	}
	return m.watched, true
}

// Last returns the most recent heartbeat sender and when it arrived.
func (m *Monitor) Last() (ring.Identity, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.lastAt
}
