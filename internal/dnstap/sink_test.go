package dnstap

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	tap "github.com/dnstap/golang-dnstap"
	framestream "github.com/farsightsec/golang-framestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/jroosing/hydralb/internal/query"
)

var (
	client = netip.MustParseAddrPort("192.0.2.10:40000")
	local  = netip.MustParseAddrPort("[2001:db8::53]:53")
)

// collector decodes frames from the far end of a pipe until it is closed.
func collector(t *testing.T, conn net.Conn) <-chan *tap.Dnstap {
	t.Helper()
	out := make(chan *tap.Dnstap, 16)
	go func() {
		defer close(out)
		dec, err := framestream.NewDecoder(conn, &framestream.DecoderOptions{
			ContentType: []byte(ContentType),
		})
		if err != nil {
			return
		}
		for {
			frame, err := dec.Decode()
			if err != nil {
				return
			}
			var dt tap.Dnstap
			if proto.Unmarshal(frame, &dt) == nil {
				out <- &dt
			}
		}
	}()
	return out
}

func receive(t *testing.T, ch <-chan *tap.Dnstap) *tap.Dnstap {
	t.Helper()
	select {
	case dt, ok := <-ch:
		require.True(t, ok, "collector stopped")
		return dt
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func TestSink_WritesQueryAndResponse(t *testing.T) {
	ours, theirs := net.Pipe()
	frames := collector(t, theirs)

	s := NewSink(Config{Identity: "lb1", Version: "test", FlushInterval: 10 * time.Millisecond}, nil)
	s.dial = func(context.Context) (net.Conn, error) { return ours, nil }

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	at := time.Unix(1700000000, 500)
	s.ClientQuery(client, local, query.ProtoUDP, at, []byte{0xAB, 0xCD})
	s.ClientResponse(client, local, query.ProtoUDP, at, at.Add(time.Millisecond), []byte{0x01})

	q := receive(t, frames)
	assert.Equal(t, tap.Dnstap_MESSAGE, q.GetType())
	assert.Equal(t, "lb1", string(q.GetIdentity()))
	assert.Equal(t, "test", string(q.GetVersion()))
	m := q.GetMessage()
	assert.Equal(t, tap.Message_CLIENT_QUERY, m.GetType())
	assert.Equal(t, tap.SocketFamily_INET, m.GetSocketFamily())
	assert.Equal(t, tap.SocketProtocol_UDP, m.GetSocketProtocol())
	assert.Equal(t, []byte{192, 0, 2, 10}, m.GetQueryAddress())
	assert.Equal(t, uint32(40000), m.GetQueryPort())
	assert.Equal(t, uint32(53), m.GetResponsePort())
	assert.Equal(t, uint64(1700000000), m.GetQueryTimeSec())
	assert.Equal(t, uint32(500), m.GetQueryTimeNsec())
	assert.Equal(t, []byte{0xAB, 0xCD}, m.GetQueryMessage())

	r := receive(t, frames).GetMessage()
	assert.Equal(t, tap.Message_CLIENT_RESPONSE, r.GetType())
	assert.Equal(t, []byte{0x01}, r.GetResponseMessage())
	assert.Equal(t, uint32(1000500), r.GetResponseTimeNsec())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, uint64(2), s.Sent())
	assert.Zero(t, s.Dropped())
}

func TestSink_DropsWhenQueueFull(t *testing.T) {
	s := NewSink(Config{QueueSize: 1}, nil)

	s.ClientQuery(client, local, query.ProtoUDP, time.Now(), []byte{1})
	s.ClientQuery(client, local, query.ProtoUDP, time.Now(), []byte{2})
	s.ClientQuery(client, local, query.ProtoUDP, time.Now(), []byte{3})

	assert.Equal(t, uint64(2), s.Dropped())
	assert.Len(t, s.queue, 1)
}

func TestSink_CopiesMessage(t *testing.T) {
	s := NewSink(Config{}, nil)
	msg := []byte{1, 2, 3}
	s.ClientQuery(client, local, query.ProtoUDP, time.Now(), msg)
	msg[0] = 9

	var dt tap.Dnstap
	require.NoError(t, proto.Unmarshal(<-s.queue, &dt))
	assert.Equal(t, []byte{1, 2, 3}, dt.GetMessage().GetQueryMessage())
}

func TestSink_IPv6Client(t *testing.T) {
	s := NewSink(Config{}, nil)
	s.ClientQuery(netip.MustParseAddrPort("[2001:db8::1]:5300"), netip.AddrPort{}, query.ProtoUDP, time.Now(), nil)

	var dt tap.Dnstap
	require.NoError(t, proto.Unmarshal(<-s.queue, &dt))
	m := dt.GetMessage()
	assert.Equal(t, tap.SocketFamily_INET6, m.GetSocketFamily())
	assert.Len(t, m.GetQueryAddress(), 16)
	assert.Nil(t, m.ResponsePort)
}

func TestSink_DoHSocketProtocol(t *testing.T) {
	s := NewSink(Config{QueueSize: 4}, nil)
	s.ClientQuery(client, local, query.ProtoDoH, time.Now(), []byte{1})
	s.ClientResponse(client, local, query.ProtoDoH, time.Now(), time.Now(), []byte{2})

	for _, want := range []tap.Message_Type{tap.Message_CLIENT_QUERY, tap.Message_CLIENT_RESPONSE} {
		var dt tap.Dnstap
		require.NoError(t, proto.Unmarshal(<-s.queue, &dt))
		assert.Equal(t, want, dt.GetMessage().GetType())
		assert.Equal(t, tap.SocketProtocol_DOH, dt.GetMessage().GetSocketProtocol())
	}
}

func TestSink_RunReturnsOnCancelWhileDisconnected(t *testing.T) {
	s := NewSink(Config{Network: "unix", Address: "/nonexistent/dnstap.sock", RetryInterval: time.Hour}, nil)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
