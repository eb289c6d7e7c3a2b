package gossip

import "errors"

var (
	ErrNoSuccessor   = errors.New("gossip: no successor")
	ErrNoPredecessor = errors.New("gossip: no predecessor")
	ErrNotJoined     = errors.New("gossip: node has not joined")
	ErrNotRecruiter  = errors.New("gossip: join request sent to a non-recruiter")
	ErrStopped       = errors.New("gossip: stopped")

	ErrIDOutOfRange = errors.New("gossip: node id does not fit the wire format")
	ErrMalformed    = errors.New("gossip: malformed message")
	ErrNoSentinel   = errors.New("gossip: missing message sentinel")
)
