package dispatch_test

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/dispatch"
)

var (
	clientAddr = netip.MustParseAddrPort("192.0.2.10:40000")
	localAddr  = netip.MustParseAddrPort("198.51.100.1:53")
)

type fakeTransport struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (f *fakeTransport) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, append([]byte(nil), b...))
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) packets() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

type reply struct {
	msg    []byte
	client netip.AddrPort
}

type fakeOrigin struct {
	mu      sync.Mutex
	replies []reply
	err     error
}

func (o *fakeOrigin) Reply(b []byte, client netip.AddrPort) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.replies = append(o.replies, reply{msg: append([]byte(nil), b...), client: client})
	return nil
}

func (o *fakeOrigin) all() []reply {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]reply(nil), o.replies...)
}

func (o *fakeOrigin) last(t *testing.T) *mdns.Msg {
	t.Helper()
	rs := o.all()
	require.NotEmpty(t, rs, "no reply sent")
	return unpack(t, rs[len(rs)-1].msg)
}

// fixture is an engine with one backend in the default pool.
type fixture struct {
	engine    *dispatch.Engine
	pool      *backend.Pool
	backend   *backend.Backend
	transport *fakeTransport
	origin    *fakeOrigin
}

func newFixture(t *testing.T, cfg backend.Config) *fixture {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "b1"
	}
	if !cfg.Addr.IsValid() {
		cfg.Addr = netip.MustParseAddrPort("203.0.113.53:53")
	}
	tr := &fakeTransport{}
	b := backend.New(cfg, tr)
	pools := backend.NewPools()
	pool := pools.GetOrCreate("")
	pool.Add(b)
	return &fixture{
		engine:    &dispatch.Engine{Pools: pools},
		pool:      pool,
		backend:   b,
		transport: tr,
		origin:    &fakeOrigin{},
	}
}

func (f *fixture) dispatch(t *testing.T, m *mdns.Msg) dispatch.Outcome {
	t.Helper()
	buf, n := pack(t, m, 1232)
	return f.engine.Dispatch(t.Context(), buf, n, clientAddr, localAddr, f.origin)
}

// answer builds the backend's reply to the last forwarded query and feeds
// it to the engine.
func (f *fixture) answer(t *testing.T, edit func(req, resp *mdns.Msg)) dispatch.Outcome {
	t.Helper()
	sent := f.transport.packets()
	require.NotEmpty(t, sent, "nothing was forwarded")
	req := unpack(t, sent[len(sent)-1])

	resp := new(mdns.Msg)
	resp.SetReply(req)
	resp.RecursionAvailable = true
	resp.Answer = append(resp.Answer, &mdns.A{
		Hdr: mdns.RR_Header{Name: req.Question[0].Name, Rrtype: mdns.TypeA, Class: mdns.ClassINET, Ttl: 300},
		A:   net.IPv4(192, 0, 2, 80),
	})
	if edit != nil {
		edit(req, resp)
	}
	buf, n := pack(t, resp, 1232)
	return f.engine.HandleResponse(f.backend, buf, n)
}

func newQuery(name string, qtype uint16, id uint16) *mdns.Msg {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), qtype)
	m.Id = id
	return m
}

func pack(t *testing.T, m *mdns.Msg, capacity int) ([]byte, int) {
	t.Helper()
	raw, err := m.Pack()
	require.NoError(t, err)
	buf := make([]byte, max(capacity, len(raw)))
	copy(buf, raw)
	return buf, len(raw)
}

func unpack(t *testing.T, b []byte) *mdns.Msg {
	t.Helper()
	m := new(mdns.Msg)
	require.NoError(t, m.Unpack(b))
	return m
}

func ecsOf(m *mdns.Msg) *mdns.EDNS0_SUBNET {
	opt := m.IsEdns0()
	if opt == nil {
		return nil
	}
	for _, o := range opt.Option {
		if s, ok := o.(*mdns.EDNS0_SUBNET); ok {
			return s
		}
	}
	return nil
}

var errBoom = errors.New("boom")

// waitReplies waits until the origin has seen n replies.
func waitReplies(t *testing.T, o *fakeOrigin, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(o.all()) >= n }, time.Second, 5*time.Millisecond)
}
