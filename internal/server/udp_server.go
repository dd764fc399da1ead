package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/jroosing/hydralb/internal/dispatch"
	"github.com/jroosing/hydralb/internal/dns"
	"github.com/jroosing/hydralb/internal/pool"
)

// queryBufferSize leaves room past the largest query we accept for the
// client subnet option the engine may append.
const queryBufferSize = dns.EDNSMaxUDPPayloadSize

var queryBuffers = pool.NewPackets(queryBufferSize)

// UDPServer is the client-facing UDP frontend. Each received datagram is
// dispatched in its own goroutine, bounded by MaxConcurrency.
//
// Request processing flow:
//  1. Read packet from socket into a pooled buffer
//  2. Apply rate limiting (drop if exceeded)
//  3. Acquire semaphore slot (drop if at max concurrency)
//  4. Dispatch; the engine replies through the socket itself
type UDPServer struct {
	Logger         *slog.Logger
	Engine         *dispatch.Engine
	Limiter        *RateLimiter // optional
	MaxConcurrency int

	conn  *net.UDPConn
	local netip.AddrPort
	wg    sync.WaitGroup
	sem   chan struct{}
}

// udpOrigin sends replies back through the socket the query arrived on.
type udpOrigin struct{ conn *net.UDPConn }

func (o udpOrigin) Reply(b []byte, client netip.AddrPort) error {
	_, err := o.conn.WriteToUDPAddrPort(b, client)
	return err
}

// Run listens on addr and serves until ctx is done.
func (s *UDPServer) Run(ctx context.Context, addr string, rcvBuf int) error {
	conn, err := listenUDP(ctx, addr, rcvBuf)
	if err != nil {
		return err
	}
	return s.RunOnConn(ctx, conn)
}

// RunOnConn serves on an existing socket, which it closes on return.
func (s *UDPServer) RunOnConn(ctx context.Context, conn *net.UDPConn) error {
	s.conn = conn
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	s.local = netip.AddrPortFrom(local.Addr().Unmap(), local.Port())
	s.sem = make(chan struct{}, max(s.MaxConcurrency, 1))
	origin := udpOrigin{conn: conn}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		bufp := queryBuffers.Get()
		n, remote, err := conn.ReadFromUDPAddrPort(*bufp)
		if err != nil {
			queryBuffers.Put(bufp)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if s.Logger != nil {
				s.Logger.Warn("udp read failed", "err", err)
			}
			continue
		}
		remote = netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port())

		if !s.Limiter.AllowAddr(remote.Addr()) || !s.tryAcquireSemaphore() {
			queryBuffers.Put(bufp)
			continue
		}

		s.wg.Add(1)
		go s.handle(ctx, bufp, n, remote, origin)
	}
}

func (s *UDPServer) tryAcquireSemaphore() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *UDPServer) handle(ctx context.Context, bufp *[]byte, n int, remote netip.AddrPort, origin udpOrigin) {
	defer s.wg.Done()
	defer func() { <-s.sem }()
	defer queryBuffers.Put(bufp)

	out := s.Engine.Dispatch(ctx, *bufp, n, remote, s.local, origin)
	if out.Kind == dispatch.Dropped && s.Logger != nil {
		s.Logger.Debug("query dropped", "client", remote, "reason", out.Reason)
	}
}

// Stop closes the socket and waits up to timeout for in-flight dispatches.
func (s *UDPServer) Stop(timeout time.Duration) error {
	if s.conn == nil {
		return nil
	}
	_ = s.conn.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("udp server: timeout waiting for in-flight requests")
	}
}
