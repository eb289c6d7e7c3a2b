package gossip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

// loopback resolves nodes to the ephemeral ports their transports bound.
type loopback struct {
	mu    sync.Mutex
	addrs map[ring.NodeID][2]string
}

func (l *loopback) add(n ring.NodeID, t *UDPTransport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.addrs == nil {
		l.addrs = make(map[ring.NodeID][2]string)
	}
	l.addrs[n] = [2]string{
		t.LocalAddr(ChannelHeartbeat).String(),
		t.LocalAddr(ChannelBackprop).String(),
	}
}

func (l *loopback) lookup(n ring.NodeID, ch Channel) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.addrs[n]
	if !ok {
		return "", fmt.Errorf("unknown node %d", n)
	}
	return a[ch], nil
}

func (l *loopback) Resolve(_ context.Context, n ring.NodeID) (string, error) {
	return l.lookup(n, ChannelHeartbeat)
}

func (l *loopback) ResolveBackprop(_ context.Context, n ring.NodeID) (string, error) {
	return l.lookup(n, ChannelBackprop)
}

func listenLoopback(t *testing.T, res *loopback, n ring.NodeID) *UDPTransport {
	t.Helper()
	tr, err := ListenUDP(UDPConfig{
		HeartbeatAddr: "127.0.0.1:0",
		BackpropAddr:  "127.0.0.1:0",
		Resolver:      res,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	res.add(n, tr)
	return tr
}

func TestUDPTransportChannels(t *testing.T) {
	res := &loopback{}
	a := listenLoopback(t, res, 1)
	b := listenLoopback(t, res, 2)
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, 2, ChannelHeartbeat, EncodeHeartbeat(id(1, 0))))
	got, ok, err := b.Receive(ctx, ChannelHeartbeat, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1:0", string(got))

	require.NoError(t, a.Send(ctx, 2, ChannelBackprop, EncodeJoinRequest(1)))
	got, ok, err = b.Receive(ctx, ChannelBackprop, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "+1", string(got))

	_, ok, err = b.Receive(ctx, ChannelHeartbeat, 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "timeout is not an error")

	assert.Error(t, a.Send(ctx, 9, ChannelHeartbeat, []byte("x")), "unresolvable peer")
}

func TestUDPTransportRejectsUnframedDatagrams(t *testing.T) {
	res := &loopback{}
	b := listenLoopback(t, res, 2)

	conn, err := net.Dial("udp", b.LocalAddr(ChannelHeartbeat).String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("1:0"))
	require.NoError(t, err)

	_, ok, err := b.Receive(context.Background(), ChannelHeartbeat, time.Second)
	assert.ErrorIs(t, err, ErrNoSentinel)
	assert.False(t, ok)
}

func TestUDPTransportClosed(t *testing.T) {
	res := &loopback{}
	a := listenLoopback(t, res, 1)
	require.NoError(t, a.Close())

	_, _, err := a.Receive(context.Background(), ChannelBackprop, time.Second)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestBackpropAddr(t *testing.T) {
	got, err := BackpropAddr("node-01.example.com:31337")
	require.NoError(t, err)
	assert.Equal(t, "node-01.example.com:31338", got)

	_, err = BackpropAddr("no-port")
	assert.Error(t, err)
}

func TestDaemonsOverUDP(t *testing.T) {
	res := &loopback{}
	nodes := make([]*Daemon, 0, 3)
	for _, n := range []ring.NodeID{1, 2, 3} {
		d := New(n, clusterConfig(), listenLoopback(t, res, n), zaptest.NewLogger(t))
		t.Cleanup(d.Stop)
		nodes = append(nodes, d)
	}
	for _, d := range nodes {
		require.NoError(t, d.Start(context.Background()))
		require.Eventually(t, func() bool { return d.Phase() == PhaseJoined }, waitFor, tick)
	}

	require.Eventually(t, func() bool {
		for _, d := range nodes {
			if len(d.Snapshot().Online()) != 3 {
				return false
			}
		}
		return true
	}, waitFor, tick)
}
