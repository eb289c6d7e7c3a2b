package gossip

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

// Wire formats, all ASCII:
//
//	heartbeat     <id>:<incarnation>
//	join request  +<id>
//	changelist    <ts>j{<id2><inc>m}*l{<id2><inc>m}*f{<id2><inc>m}*
//
// where <id2> is the persistent id zero padded to two digits. Every datagram
// is terminated by Sentinel.
const (
	Sentinel  = "TTT"
	MaxWireID = ring.NodeID(10)

	joinPrefix = '+'
	markJoined = 'j'
	markLeft   = 'l'
	markFailed = 'f'
	markEntry  = 'm'
)

// Frame appends the sentinel to payload.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(Sentinel))
	out = append(out, payload...)
	return append(out, Sentinel...)
}

// Unframe returns the bytes before the first sentinel. A datagram without one
// is truncated or foreign and is rejected.
func Unframe(buf []byte) ([]byte, error) {
	i := bytes.Index(buf, []byte(Sentinel))
	if i < 0 {
		return nil, ErrNoSentinel
	}
	return buf[:i], nil
}

func EncodeHeartbeat(id ring.Identity) []byte {
	return fmt.Appendf(nil, "%d:%d", id.ID, id.Incarnation)
}

func DecodeHeartbeat(b []byte) (ring.Identity, error) {
	idStr, incStr, ok := strings.Cut(string(b), ":")
	if !ok {
		return ring.Identity{}, fmt.Errorf("%w: heartbeat %q", ErrMalformed, b)
	}
	id, err := parseID(idStr)
	if err != nil {
		return ring.Identity{}, err
	}
	inc, err := parseTimestamp(incStr)
	if err != nil {
		return ring.Identity{}, err
	}
	return ring.Identity{ID: id, Incarnation: inc}, nil
}

func EncodeJoinRequest(id ring.NodeID) []byte {
	return fmt.Appendf(nil, "%c%d", joinPrefix, id)
}

// IsJoinRequest reports whether a backprop payload is a join request rather
// than a changelist.
func IsJoinRequest(b []byte) bool {
	return len(b) > 0 && b[0] == joinPrefix
}

func DecodeJoinRequest(b []byte) (ring.NodeID, error) {
	if !IsJoinRequest(b) {
		return 0, fmt.Errorf("%w: join request %q", ErrMalformed, b)
	}
	return parseID(string(b[1:]))
}

// EncodeDelta renders a changelist. Ids above MaxWireID cannot be written in
// two digits and fail with ErrIDOutOfRange.
func EncodeDelta(d Delta) ([]byte, error) {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(d.Timestamp), 10))
	for _, c := range categories {
		b.WriteByte(marker(c))
		for _, id := range d.Get(c) {
			if id.ID > MaxWireID {
				return nil, fmt.Errorf("%w: %s", ErrIDOutOfRange, id)
			}
			fmt.Fprintf(&b, "%02d%d%c", id.ID, id.Incarnation, markEntry)
		}
	}
	return []byte(b.String()), nil
}

func DecodeDelta(b []byte) (Delta, error) {
	s := string(b)
	i := strings.IndexByte(s, markJoined)
	if i <= 0 {
		return Delta{}, fmt.Errorf("%w: changelist %q has no timestamp", ErrMalformed, s)
	}
	ts, err := parseTimestamp(s[:i])
	if err != nil {
		return Delta{}, err
	}
	d := Delta{Timestamp: ts}
	rest := s[i+1:]
	if d.Joined, rest, err = decodeSection(rest, markLeft); err != nil {
		return Delta{}, err
	}
	if d.Left, rest, err = decodeSection(rest, markFailed); err != nil {
		return Delta{}, err
	}
	if d.Failed, _, err = decodeSection(rest, 0); err != nil {
		return Delta{}, err
	}
	return d, nil
}

// decodeSection reads entries until the end marker, or to the end of input
// when end is 0.
func decodeSection(s string, end byte) ([]ring.Identity, string, error) {
	var out []ring.Identity
	for {
		if len(s) == 0 {
			if end != 0 {
				return nil, "", fmt.Errorf("%w: missing %q section", ErrMalformed, end)
			}
			return out, "", nil
		}
		if end != 0 && s[0] == end {
			return out, s[1:], nil
		}
		if len(s) < 4 {
			return nil, "", fmt.Errorf("%w: short entry %q", ErrMalformed, s)
		}
		id, err := parseID(s[:2])
		if err != nil {
			return nil, "", err
		}
		if id > MaxWireID {
			return nil, "", fmt.Errorf("%w: node id %d above %d", ErrMalformed, id, MaxWireID)
		}
		m := strings.IndexByte(s[2:], markEntry)
		if m <= 0 {
			return nil, "", fmt.Errorf("%w: unterminated entry %q", ErrMalformed, s)
		}
		inc, err := parseTimestamp(s[2 : 2+m])
		if err != nil {
			return nil, "", err
		}
		out = append(out, ring.Identity{ID: id, Incarnation: inc})
		s = s[2+m+1:]
	}
}

func marker(c Category) byte {
	switch c {
	case Joined:
		return markJoined
	case Left:
		return markLeft
	default:
		return markFailed
	}
}

func parseID(s string) (ring.NodeID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: node id %q", ErrMalformed, s)
	}
	return ring.NodeID(n), nil
}

func parseTimestamp(s string) (ring.Timestamp, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: timestamp %q", ErrMalformed, s)
	}
	return ring.Timestamp(n), nil
}
