package gossip

import "github.com/ryandielhenn/ringd/pkg/ring"

// Clock is a 16-bit Lamport clock. It wraps on overflow. Callers synchronize.
type Clock struct {
	now ring.Timestamp
}

func NewClock(start ring.Timestamp) Clock {
	return Clock{now: start}
}

func (c *Clock) Now() ring.Timestamp {
	return c.now
}

// Tick advances the clock for a local event.
func (c *Clock) Tick() ring.Timestamp {
	c.now++
	return c.now
}

// Observe merges a remote timestamp: max(local, remote) + 1.
func (c *Clock) Observe(remote ring.Timestamp) ring.Timestamp {
	c.now = max(c.now, remote) + 1
	return c.now
}
