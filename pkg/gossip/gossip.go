package gossip

import (
	"time"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

const (
	DefaultRecruiterID       = ring.NodeID(1)
	DefaultHeartbeatInterval = 250 * time.Millisecond
	DefaultReceiveTimeout    = time.Second
	DefaultJoinRetry         = 2 * time.Second
)

// Config tunes a Daemon. Zero fields take the defaults above, except
// JoinRetry where a negative value disables retries.
type Config struct {
	RecruiterID       ring.NodeID
	HeartbeatInterval time.Duration
	ReceiveTimeout    time.Duration
	JoinRetry         time.Duration
}

func DefaultConfig() Config {
	return Config{
		RecruiterID:       DefaultRecruiterID,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ReceiveTimeout:    DefaultReceiveTimeout,
		JoinRetry:         DefaultJoinRetry,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecruiterID == 0 {
		c.RecruiterID = d.RecruiterID
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = d.ReceiveTimeout
	}
	if c.JoinRetry == 0 {
		c.JoinRetry = d.JoinRetry
	}
	return c
}
