// Package dnstap streams client queries and responses to a dnstap collector
// over a Frame Streams connection.
package dnstap

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	tap "github.com/dnstap/golang-dnstap"
	framestream "github.com/farsightsec/golang-framestream"
	"google.golang.org/protobuf/proto"

	"github.com/jroosing/hydralb/internal/query"
)

// ContentType is the Frame Streams content type of dnstap payloads.
const ContentType = "protobuf:dnstap.Dnstap"

// Config configures a Sink.
type Config struct {
	Network       string        // "unix" or "tcp"
	Address       string        // socket path or host:port
	Identity      string        // server identity written into every frame
	Version       string        // server version written into every frame
	QueueSize     int           // frames buffered while the collector is slow
	FlushInterval time.Duration // how often buffered frames are flushed
	RetryInterval time.Duration // wait between reconnect attempts
	Bidirectional bool          // use the READY/ACCEPT handshake
}

func (c Config) withDefaults() Config {
	if c.Network == "" {
		c.Network = "unix"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	return c
}

// Sink encodes dnstap messages and writes them to a collector from a single
// goroutine (Run). Producers never block: when the queue is full the frame
// is dropped and counted.
type Sink struct {
	cfg    Config
	queue  chan []byte
	logger *slog.Logger
	dial   func(ctx context.Context) (net.Conn, error)

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewSink creates a sink. Nothing is connected until Run is called.
func NewSink(cfg Config, logger *slog.Logger) *Sink {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		cfg:    cfg,
		queue:  make(chan []byte, cfg.QueueSize),
		logger: logger,
	}
	s.dial = func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, cfg.Network, cfg.Address)
	}
	return s
}

// Sent returns the number of frames written to the collector.
func (s *Sink) Sent() uint64 { return s.sent.Load() }

// Dropped returns the number of frames discarded because the queue was full.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// ClientQuery logs a query as received from a client.
func (s *Sink) ClientQuery(client, local netip.AddrPort, protocol query.Protocol, at time.Time, msg []byte) {
	m := s.message(tap.Message_CLIENT_QUERY, client, local, protocol)
	m.QueryTimeSec = proto.Uint64(uint64(at.Unix()))
	m.QueryTimeNsec = proto.Uint32(uint32(at.Nanosecond()))
	m.QueryMessage = append([]byte(nil), msg...)
	s.enqueue(m)
}

// ClientResponse logs a response as sent to a client.
func (s *Sink) ClientResponse(client, local netip.AddrPort, protocol query.Protocol, queryAt, at time.Time, msg []byte) {
	m := s.message(tap.Message_CLIENT_RESPONSE, client, local, protocol)
	if !queryAt.IsZero() {
		m.QueryTimeSec = proto.Uint64(uint64(queryAt.Unix()))
		m.QueryTimeNsec = proto.Uint32(uint32(queryAt.Nanosecond()))
	}
	m.ResponseTimeSec = proto.Uint64(uint64(at.Unix()))
	m.ResponseTimeNsec = proto.Uint32(uint32(at.Nanosecond()))
	m.ResponseMessage = append([]byte(nil), msg...)
	s.enqueue(m)
}

func (s *Sink) message(typ tap.Message_Type, client, local netip.AddrPort, protocol query.Protocol) *tap.Message {
	family := tap.SocketFamily_INET
	if client.Addr().Unmap().Is6() {
		family = tap.SocketFamily_INET6
	}
	socket := tap.SocketProtocol_UDP
	if protocol == query.ProtoDoH {
		socket = tap.SocketProtocol_DOH
	}
	m := &tap.Message{
		Type:           typ.Enum(),
		SocketFamily:   family.Enum(),
		SocketProtocol: socket.Enum(),
		QueryAddress:   client.Addr().Unmap().AsSlice(),
		QueryPort:      proto.Uint32(uint32(client.Port())),
	}
	if local.IsValid() {
		m.ResponseAddress = local.Addr().Unmap().AsSlice()
		m.ResponsePort = proto.Uint32(uint32(local.Port()))
	}
	return m
}

func (s *Sink) enqueue(m *tap.Message) {
	payload := &tap.Dnstap{
		Type:    tap.Dnstap_MESSAGE.Enum(),
		Message: m,
	}
	if s.cfg.Identity != "" {
		payload.Identity = []byte(s.cfg.Identity)
	}
	if s.cfg.Version != "" {
		payload.Version = []byte(s.cfg.Version)
	}
	frame, err := proto.Marshal(payload)
	if err != nil {
		s.logger.Debug("dnstap marshal failed", "err", err)
		return
	}
	select {
	case s.queue <- frame:
	default:
		s.dropped.Add(1)
	}
}

// Run writes queued frames to the collector until ctx is cancelled,
// reconnecting after failures.
func (s *Sink) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("dnstap connection lost", "address", s.cfg.Address, "err", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.RetryInterval):
		}
	}
}

func (s *Sink) session(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", s.cfg.Network, s.cfg.Address, err)
	}
	defer conn.Close()

	enc, err := framestream.NewEncoder(conn, &framestream.EncoderOptions{
		ContentType:   []byte(ContentType),
		Bidirectional: s.cfg.Bidirectional,
	})
	if err != nil {
		return fmt.Errorf("frame stream handshake: %w", err)
	}
	defer enc.Close()
	s.logger.Info("dnstap connected", "network", s.cfg.Network, "address", s.cfg.Address)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return enc.Flush()
		case frame := <-s.queue:
			if _, err := enc.Write(frame); err != nil {
				return err
			}
			s.sent.Add(1)
		case <-ticker.C:
			if err := enc.Flush(); err != nil {
				return err
			}
		}
	}
}
