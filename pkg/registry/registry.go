// Package registry maps persistent node ids to network addresses.
//
// Three resolvers are provided: a hostname template (the classic lab setup
// where node 7 runs on host ...-07), a static peer table, and an etcd-backed
// registry where every node publishes its own address under a lease.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

var (
	ErrUnknownNode = errors.New("registry: unknown node")
	ErrBadHostname = errors.New("registry: hostname does not match template")
)

// DefaultHostFormat names lab hosts by their zero-padded persistent id.
const DefaultHostFormat = "fa17-cs425-g18-%02d.cs.illinois.edu"

// NormalizeHostPort cuts the http:// https:// prefixes from the input address
// and adds a default port.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return net.JoinHostPort(addr, defPort)
}

// TemplateResolver derives a host name from the id with a printf format such
// as DefaultHostFormat.
type TemplateResolver struct {
	Format string
	Port   int
}

func (r TemplateResolver) Resolve(_ context.Context, id ring.NodeID) (string, error) {
	return net.JoinHostPort(fmt.Sprintf(r.Format, id), strconv.Itoa(r.Port)), nil
}

// IDFromHostname recovers the persistent id from a host name built with the
// given template. The template must contain exactly one integer verb.
func IDFromHostname(format, hostname string) (ring.NodeID, error) {
	prefix, suffix, err := splitVerb(format)
	if err != nil {
		return 0, err
	}
	digits, ok := strings.CutPrefix(hostname, prefix)
	if ok {
		digits, ok = strings.CutSuffix(digits, suffix)
	}
	if !ok || digits == "" {
		return 0, fmt.Errorf("%w: %q against %q", ErrBadHostname, hostname, format)
	}
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q against %q", ErrBadHostname, hostname, format)
	}
	return ring.NodeID(n), nil
}

// splitVerb splits "a-%02d.b" into "a-" and ".b".
func splitVerb(format string) (string, string, error) {
	i := strings.IndexByte(format, '%')
	if i < 0 {
		return "", "", fmt.Errorf("host format %q has no verb", format)
	}
	j := i + 1
	for j < len(format) && (format[j] >= '0' && format[j] <= '9') {
		j++
	}
	if j >= len(format) || format[j] != 'd' {
		return "", "", fmt.Errorf("host format %q: only %%d verbs are supported", format)
	}
	suffix := format[j+1:]
	if strings.Contains(suffix, "%") {
		return "", "", fmt.Errorf("host format %q has more than one verb", format)
	}
	return format[:i], suffix, nil
}
