package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
)

// UDPTransport sends to a backend over a fixed set of connected UDP sockets,
// picking them round-robin. Responses are read from the same sockets by the
// caller (see Conns).
type UDPTransport struct {
	conns []*net.UDPConn
	next  atomic.Uint32
}

// DialUDP opens n connected sockets to addr.
func DialUDP(ctx context.Context, addr netip.AddrPort, n int) (*UDPTransport, error) {
	n = max(n, 1)
	t := &UDPTransport{conns: make([]*net.UDPConn, 0, n)}
	var d net.Dialer
	for range n {
		c, err := d.DialContext(ctx, "udp", addr.String())
		if err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("dial backend %s: %w", addr, err)
		}
		t.conns = append(t.conns, c.(*net.UDPConn))
	}
	return t, nil
}

// Conns returns the sockets so receivers can read backend responses.
func (t *UDPTransport) Conns() []*net.UDPConn { return t.conns }

// Send writes b on the next socket.
func (t *UDPTransport) Send(b []byte) error {
	c := t.conns[int(t.next.Add(1)-1)%len(t.conns)]
	_, err := c.Write(b)
	return err
}

// Close closes every socket.
func (t *UDPTransport) Close() error {
	var errs []error
	for _, c := range t.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
