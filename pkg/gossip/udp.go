package gossip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

const (
	DefaultHeartbeatPort = 31337
	maxDatagram          = 1024
)

// BackpropAddr returns the backprop address paired with a heartbeat address:
// same host, port + 1.
func BackpropAddr(heartbeat string) (string, error) {
	host, port, err := net.SplitHostPort(heartbeat)
	if err != nil {
		return "", err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("port %q: %w", port, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(p+1)), nil
}

type UDPConfig struct {
	// HeartbeatAddr and BackpropAddr are the local listen addresses.
	HeartbeatAddr string
	BackpropAddr  string
	Resolver      Resolver
}

// UDPTransport binds one socket per channel and sends framed datagrams to
// peers found through a Resolver.
type UDPTransport struct {
	conns    [2]*net.UDPConn
	resolver Resolver
	log      *zap.Logger
}

func ListenUDP(cfg UDPConfig, log *zap.Logger) (*UDPTransport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Resolver == nil {
		return nil, errors.New("udp transport: resolver is required")
	}
	t := &UDPTransport{resolver: cfg.Resolver, log: log}
	for ch, addr := range map[Channel]string{ChannelHeartbeat: cfg.HeartbeatAddr, ChannelBackprop: cfg.BackpropAddr} {
		laddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("resolve %s listen address %q: %w", ch, addr, err)
		}
		conn, err := net.ListenUDP("udp", laddr)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("listen %s on %q: %w", ch, addr, err)
		}
		t.conns[ch] = conn
	}
	log.Info("udp transport listening",
		zap.Stringer("heartbeat", t.LocalAddr(ChannelHeartbeat)),
		zap.Stringer("backprop", t.LocalAddr(ChannelBackprop)))
	return t, nil
}

func (t *UDPTransport) LocalAddr(ch Channel) net.Addr {
	return t.conns[ch].LocalAddr()
}

func (t *UDPTransport) Send(ctx context.Context, to ring.NodeID, ch Channel, payload []byte) error {
	addr, err := t.resolve(ctx, to, ch)
	if err != nil {
		return err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if _, err := conn.Write(Frame(payload)); err != nil {
		return fmt.Errorf("write %s to %s: %w", ch, addr, err)
	}
	return nil
}

func (t *UDPTransport) resolve(ctx context.Context, to ring.NodeID, ch Channel) (string, error) {
	if br, ok := t.resolver.(BackpropResolver); ok && ch == ChannelBackprop {
		addr, err := br.ResolveBackprop(ctx, to)
		if err != nil {
			return "", fmt.Errorf("resolve node %d: %w", to, err)
		}
		return addr, nil
	}
	addr, err := t.resolver.Resolve(ctx, to)
	if err != nil {
		return "", fmt.Errorf("resolve node %d: %w", to, err)
	}
	if ch == ChannelBackprop {
		if addr, err = BackpropAddr(addr); err != nil {
			return "", fmt.Errorf("backprop address for node %d: %w", to, err)
		}
	}
	return addr, nil
}

func (t *UDPTransport) Receive(ctx context.Context, ch Channel, timeout time.Duration) ([]byte, bool, error) {
	conn := t.conns[ch]
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, false, ErrStopped
		}
		return nil, false, fmt.Errorf("set read deadline: %w", err)
	}
	buf := make([]byte, maxDatagram)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		var ne net.Error
		switch {
		case errors.Is(err, net.ErrClosed):
			return nil, false, ErrStopped
		case ctx.Err() != nil:
			return nil, false, ctx.Err()
		case errors.As(err, &ne) && ne.Timeout():
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", ch, err)
	}
	payload, err := Unframe(buf[:n])
	if err != nil {
		t.log.Debug("dropping unframed datagram", zap.Stringer("from", from), zap.Stringer("channel", ch))
		return nil, false, fmt.Errorf("datagram from %s: %w", from, err)
	}
	return payload, true, nil
}

func (t *UDPTransport) Close() error {
	var errs []error
	for _, c := range t.conns {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
