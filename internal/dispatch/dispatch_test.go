package dispatch_test

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/cache"
	"github.com/jroosing/hydralb/internal/dispatch"
	"github.com/jroosing/hydralb/internal/query"
	"github.com/jroosing/hydralb/internal/rules"
)

func TestDispatch_ForwardedIDIsSlotIndex(t *testing.T) {
	f := newFixture(t, backend.Config{Slots: 8})

	for i, id := range []uint16{0x4242, 0x0001, 0xffff} {
		out := f.dispatch(t, newQuery("example.com", mdns.TypeA, id))
		require.Equal(t, dispatch.ForwardedToBackend, out.Kind)
		require.NoError(t, out.Reason)
		assert.Same(t, f.backend, out.Backend)
		assert.Equal(t, uint16(i), out.Slot)

		sent := f.transport.packets()
		require.Len(t, sent, i+1)
		m := unpack(t, sent[i])
		assert.Equal(t, out.Slot, m.Id, "wire ID must be the claimed slot")
		assert.Equal(t, "example.com.", m.Question[0].Name)
	}

	st := f.backend.Snapshot()
	assert.Equal(t, uint64(3), st.Queries)
	assert.Equal(t, int64(3), st.Outstanding)
	assert.Equal(t, uint64(3), f.engine.Stats().Queries)
	assert.Equal(t, int64(3), f.engine.Stats().Outstanding)
}

func TestDispatch_ReuseBeforeMatch(t *testing.T) {
	t.Run("single slot, two claims", func(t *testing.T) {
		f := newFixture(t, backend.Config{Slots: 1})

		require.Equal(t, dispatch.ForwardedToBackend, f.dispatch(t, newQuery("a.test", mdns.TypeA, 1)).Kind)
		require.Equal(t, dispatch.ForwardedToBackend, f.dispatch(t, newQuery("b.test", mdns.TypeA, 2)).Kind)

		st := f.backend.Snapshot()
		assert.Equal(t, uint64(1), st.Reuseds)
		assert.Equal(t, int64(1), st.Outstanding, "outstanding does not grow past 1 net")
		assert.Equal(t, uint64(2), st.Queries)
		assert.Equal(t, uint64(1), f.engine.Stats().Reuseds)
		assert.Equal(t, uint64(1), f.engine.Stats().DownstreamTimeouts)
	})

	t.Run("capacity C, C+1 claims", func(t *testing.T) {
		f := newFixture(t, backend.Config{Slots: 2})
		for i := range 3 {
			f.dispatch(t, newQuery("a.test", mdns.TypeA, uint16(i)))
		}
		st := f.backend.Snapshot()
		assert.Equal(t, uint64(1), st.Reuseds)
		assert.Equal(t, int64(2), st.Outstanding)
	})
}

func TestDispatch_MalformedOnlyCountsError(t *testing.T) {
	f := newFixture(t, backend.Config{})

	buf := make([]byte, 8)
	out := f.engine.Dispatch(t.Context(), buf, len(buf), clientAddr, localAddr, f.origin)

	require.Equal(t, dispatch.Dropped, out.Kind)
	require.ErrorIs(t, out.Reason, dispatch.ErrMalformedPacket)
	assert.Equal(t, dispatch.StatsSnapshot{Malformed: 1}, f.engine.Stats())
	assert.Equal(t, backend.Stats{
		Name:      "b1",
		Addr:      "203.0.113.53:53",
		Mode:      "auto",
		Available: true,
	}, f.backend.Snapshot())
	assert.Empty(t, f.transport.packets())
	assert.Empty(t, f.origin.all())
}

func TestDispatch_MalformedQueries(t *testing.T) {
	tests := []struct {
		name string
		msg  func() *mdns.Msg
	}{
		{"response bit set", func() *mdns.Msg {
			m := newQuery("example.com", mdns.TypeA, 1)
			m.Response = true
			return m
		}},
		{"notify opcode", func() *mdns.Msg {
			m := newQuery("example.com", mdns.TypeSOA, 1)
			m.Opcode = mdns.OpcodeNotify
			return m
		}},
		{"no question", func() *mdns.Msg {
			m := newQuery("example.com", mdns.TypeA, 1)
			m.Question = nil
			return m
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, backend.Config{})
			out := f.dispatch(t, tt.msg())
			require.Equal(t, dispatch.Dropped, out.Kind)
			require.ErrorIs(t, out.Reason, dispatch.ErrMalformedPacket)
			assert.Zero(t, f.engine.Stats().Queries)
		})
	}
}

func TestDispatch_ECSInsertedAndStripped(t *testing.T) {
	f := newFixture(t, backend.Config{UseECS: true})

	out := f.dispatch(t, newQuery("geo.example.com", mdns.TypeA, 0x1111))
	require.Equal(t, dispatch.ForwardedToBackend, out.Kind)

	sent := unpack(t, f.transport.packets()[0])
	ecs := ecsOf(sent)
	require.NotNil(t, ecs)
	assert.Equal(t, "192.0.2.0", ecs.Address.String())
	assert.Equal(t, uint8(24), ecs.SourceNetmask)

	back := f.answer(t, func(req, resp *mdns.Msg) {
		resp.SetEdns0(4096, false)
		opt := resp.IsEdns0()
		opt.Option = append(opt.Option, ecsOf(req))
	})
	require.Equal(t, dispatch.ForwardedToClient, back.Kind)
	assert.Equal(t, rules.KindResponse, back.Answer)

	got := f.origin.last(t)
	assert.Equal(t, uint16(0x1111), got.Id)
	assert.Nil(t, got.IsEdns0(), "the OPT record added on the way out is removed")
	require.Len(t, got.Answer, 1)
	assert.Equal(t, clientAddr, f.origin.all()[0].client)
}

func TestDispatch_ECSAddedToClientOPTIsRemovedAlone(t *testing.T) {
	f := newFixture(t, backend.Config{UseECS: true})
	q := newQuery("geo.example.com", mdns.TypeA, 7)
	q.SetEdns0(1232, true)

	f.dispatch(t, q)
	require.NotNil(t, ecsOf(unpack(t, f.transport.packets()[0])))

	f.answer(t, func(req, resp *mdns.Msg) {
		resp.SetEdns0(1232, true)
		opt := resp.IsEdns0()
		opt.Option = append(opt.Option, ecsOf(req))
	})
	got := f.origin.last(t)
	require.NotNil(t, got.IsEdns0(), "client's own OPT survives")
	assert.Nil(t, ecsOf(got))
}

func TestDispatch_PoolECSAppliesToSelectedBackend(t *testing.T) {
	f := newFixture(t, backend.Config{UseECS: false})
	f.pool.SetUseECS(true)

	out := f.dispatch(t, newQuery("geo.example.com", mdns.TypeA, 0x4242))
	require.Equal(t, dispatch.ForwardedToBackend, out.Kind)
	require.Same(t, f.backend, out.Backend)

	ecs := ecsOf(unpack(t, f.transport.packets()[0]))
	require.NotNil(t, ecs, "the pool asks for ECS even though the backend does not")
	assert.Equal(t, "192.0.2.0", ecs.Address.String())

	f.answer(t, func(req, resp *mdns.Msg) {
		resp.SetEdns0(4096, false)
		opt := resp.IsEdns0()
		opt.Option = append(opt.Option, ecsOf(req))
	})
	assert.Nil(t, f.origin.last(t).IsEdns0())
}

func TestDispatch_ECSInsertionFailure(t *testing.T) {
	f := newFixture(t, backend.Config{UseECS: true})

	buf, n := pack(t, newQuery("example.com", mdns.TypeA, 9), 0) // no tail room
	out := f.engine.Dispatch(t.Context(), buf, n, clientAddr, localAddr, f.origin)

	require.Equal(t, dispatch.Dropped, out.Kind)
	require.ErrorIs(t, out.Reason, dispatch.ErrEcsInsertionFailed)
	assert.Empty(t, f.transport.packets(), "nothing is sent")
	assert.Equal(t, uint64(1), f.engine.Stats().ECSFailures)
	assert.Zero(t, f.backend.Snapshot().Queries)
}

func TestDispatch_CacheHitRestoresIDAndFlags(t *testing.T) {
	f := newFixture(t, backend.Config{})
	f.pool.SetCache(cache.New(cache.Config{}))

	f.dispatch(t, newQuery("www.example.com", mdns.TypeA, 0x0101))
	f.answer(t, nil)
	require.Len(t, f.origin.all(), 1)

	q := newQuery("WWW.Example.com", mdns.TypeA, 0x0202)
	q.RecursionDesired = false
	q.CheckingDisabled = true
	out := f.dispatch(t, q)

	require.Equal(t, dispatch.ForwardedToClient, out.Kind)
	assert.Equal(t, rules.KindCacheHit, out.Answer)
	assert.Len(t, f.transport.packets(), 1, "cache hit does not contact the backend")

	got := f.origin.last(t)
	assert.Equal(t, uint16(0x0202), got.Id)
	assert.True(t, got.Response)
	assert.False(t, got.RecursionDesired)
	assert.True(t, got.CheckingDisabled)
	require.Len(t, got.Answer, 1)

	st := f.engine.Stats()
	assert.Equal(t, uint64(1), st.CacheHits)
	assert.Equal(t, uint64(1), st.CacheMisses)
	assert.Equal(t, uint64(1), st.Responses)
}

func TestDispatch_StaleCacheOnlyWithoutBackend(t *testing.T) {
	clk := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, backend.Config{Mode: backend.ModeUp})
	f.pool.SetCache(cache.New(cache.Config{
		StaleWindow:   time.Hour,
		StaleServeTTL: 30 * time.Second,
		Now:           func() time.Time { return clk },
	}))

	f.dispatch(t, newQuery("stale.example.com", mdns.TypeA, 1))
	f.answer(t, nil) // TTL 300
	require.Equal(t, 1, f.pool.Cache().Len())
	clk = clk.Add(301 * time.Second)

	t.Run("backend up forwards", func(t *testing.T) {
		out := f.dispatch(t, newQuery("stale.example.com", mdns.TypeA, 2))
		require.Equal(t, dispatch.ForwardedToBackend, out.Kind)
		assert.Len(t, f.transport.packets(), 2)
		f.answer(t, nil)
		clk = clk.Add(301 * time.Second)
	})

	t.Run("backend down serves stale", func(t *testing.T) {
		f.backend.SetMode(backend.ModeDown)
		out := f.dispatch(t, newQuery("stale.example.com", mdns.TypeA, 3))

		require.Equal(t, dispatch.ForwardedToClient, out.Kind)
		assert.Equal(t, rules.KindCacheHit, out.Answer)
		assert.Len(t, f.transport.packets(), 2)

		got := f.origin.last(t)
		assert.Equal(t, uint16(3), got.Id)
		require.Len(t, got.Answer, 1)
		assert.Equal(t, uint32(30), got.Answer[0].Header().Ttl)
	})

	assert.Equal(t, uint64(1), f.pool.Cache().Stats().StaleHits)
}

func TestDispatch_SkipCacheRule(t *testing.T) {
	f := newFixture(t, backend.Config{})
	f.pool.SetCache(cache.New(cache.Config{}))
	chain, err := rules.Compile([]rules.Rule{{Action: rules.ActionSkipCache}}, nil)
	require.NoError(t, err)
	f.engine.QueryRules = chain

	f.dispatch(t, newQuery("example.com", mdns.TypeA, 1))
	f.answer(t, nil)
	f.dispatch(t, newQuery("example.com", mdns.TypeA, 2))

	assert.Len(t, f.transport.packets(), 2)
	assert.Zero(t, f.pool.Cache().Len())
}

func TestDispatch_NoBackend(t *testing.T) {
	t.Run("servfail", func(t *testing.T) {
		f := newFixture(t, backend.Config{Mode: backend.ModeDown})
		f.engine.ServFailOnNoPolicy = true

		out := f.dispatch(t, newQuery("example.com", mdns.TypeA, 0x5151))

		require.Equal(t, dispatch.ForwardedToClient, out.Kind)
		require.ErrorIs(t, out.Reason, dispatch.ErrNoBackendAvailable)
		got := f.origin.last(t)
		assert.Equal(t, uint16(0x5151), got.Id)
		assert.Equal(t, mdns.RcodeServerFailure, got.Rcode)
		assert.True(t, got.RecursionDesired)
		assert.Empty(t, f.transport.packets())
		assert.Equal(t, uint64(1), f.engine.Stats().NoPolicy)
	})

	t.Run("drop", func(t *testing.T) {
		f := newFixture(t, backend.Config{Mode: backend.ModeDown})

		out := f.dispatch(t, newQuery("example.com", mdns.TypeA, 1))

		require.Equal(t, dispatch.Dropped, out.Kind)
		require.ErrorIs(t, out.Reason, dispatch.ErrNoBackendAvailable)
		assert.Empty(t, f.origin.all())
		assert.Equal(t, uint64(1), f.engine.Stats().NoPolicy)
	})

	t.Run("unknown pool", func(t *testing.T) {
		f := newFixture(t, backend.Config{})
		chain, err := rules.Compile([]rules.Rule{{Action: rules.ActionPool, Arg: "missing"}}, nil)
		require.NoError(t, err)
		f.engine.QueryRules = chain

		out := f.dispatch(t, newQuery("example.com", mdns.TypeA, 1))
		require.ErrorIs(t, out.Reason, dispatch.ErrNoBackendAvailable)
	})
}

func TestDispatch_QueryRules(t *testing.T) {
	chain, err := rules.Compile([]rules.Rule{
		{Domains: []string{"blocked.test"}, Action: rules.ActionDrop},
		{Domains: []string{"nx.test"}, Action: rules.ActionNXDomain},
		{Domains: []string{"tc.test"}, Action: rules.ActionTruncate},
	}, nil)
	require.NoError(t, err)

	f := newFixture(t, backend.Config{})
	f.engine.QueryRules = chain

	out := f.dispatch(t, newQuery("ads.blocked.test", mdns.TypeA, 1))
	assert.Equal(t, dispatch.Dropped, out.Kind)
	require.ErrorIs(t, out.Reason, dispatch.ErrDroppedByRule)

	out = f.dispatch(t, newQuery("nx.test", mdns.TypeA, 2))
	assert.Equal(t, dispatch.ForwardedToClient, out.Kind)
	assert.Equal(t, rules.KindSelfAnswered, out.Answer)
	assert.Equal(t, mdns.RcodeNameError, f.origin.last(t).Rcode)

	out = f.dispatch(t, newQuery("tc.test", mdns.TypeA, 3))
	assert.Equal(t, dispatch.ForwardedToClient, out.Kind)
	assert.True(t, f.origin.last(t).Truncated)

	assert.Empty(t, f.transport.packets())
	st := f.engine.Stats()
	assert.Equal(t, uint64(1), st.RuleDrop)
	assert.Equal(t, uint64(2), st.SelfAnswered)
}

func TestDispatch_ResponseRuleDrop(t *testing.T) {
	chain, err := rules.Compile([]rules.Rule{
		{Response: true, Kinds: []string{"response"}, RCodes: []string{"NXDOMAIN"}, Action: rules.ActionDrop},
	}, nil)
	require.NoError(t, err)
	f := newFixture(t, backend.Config{})
	f.engine.ResponseRules = chain

	f.dispatch(t, newQuery("gone.test", mdns.TypeA, 1))
	out := f.answer(t, func(_, resp *mdns.Msg) {
		resp.Rcode = mdns.RcodeNameError
		resp.Answer = nil
	})

	require.Equal(t, dispatch.Dropped, out.Kind)
	require.ErrorIs(t, out.Reason, dispatch.ErrDroppedByRule)
	assert.Empty(t, f.origin.all())
	assert.Equal(t, uint64(1), f.engine.Stats().ResponseRuleDrop)
}

func TestDispatch_ResponseRuleRewritesRCode(t *testing.T) {
	chain, err := rules.Compile([]rules.Rule{
		{Response: true, Kinds: []string{"response"}, RCodes: []string{"NXDOMAIN"}, Action: rules.ActionRefused},
	}, nil)
	require.NoError(t, err)
	f := newFixture(t, backend.Config{})
	f.engine.ResponseRules = chain

	f.dispatch(t, newQuery("gone.test", mdns.TypeA, 0x0909))
	out := f.answer(t, func(_, resp *mdns.Msg) {
		resp.Rcode = mdns.RcodeNameError
		resp.Answer = nil
	})

	require.Equal(t, dispatch.ForwardedToClient, out.Kind)
	got := f.origin.last(t)
	assert.Equal(t, uint16(0x0909), got.Id)
	assert.True(t, got.Response)
	assert.Equal(t, mdns.RcodeRefused, got.Rcode)
	assert.Zero(t, f.engine.Stats().ResponseRuleDrop)
}

func TestDispatch_SendFailure(t *testing.T) {
	f := newFixture(t, backend.Config{})
	f.transport.err = errBoom

	out := f.dispatch(t, newQuery("example.com", mdns.TypeA, 1))

	require.Equal(t, dispatch.ForwardedToBackend, out.Kind)
	require.ErrorIs(t, out.Reason, dispatch.ErrSendFailed)
	require.ErrorIs(t, out.Reason, errBoom)
	assert.Equal(t, uint64(1), f.engine.Stats().SendErrors)
	assert.Equal(t, uint64(1), f.backend.Snapshot().SendErrors)
}

func TestDispatch_ReplyFailureIsReported(t *testing.T) {
	f := newFixture(t, backend.Config{Mode: backend.ModeDown})
	f.engine.ServFailOnNoPolicy = true
	f.origin.err = errBoom

	out := f.dispatch(t, newQuery("example.com", mdns.TypeA, 1))
	require.ErrorIs(t, out.Reason, dispatch.ErrReplyFailed)
	assert.Equal(t, uint64(1), f.engine.Stats().ReplyErrors)
}

func TestHandleResponse_Unmatched(t *testing.T) {
	f := newFixture(t, backend.Config{Slots: 4})
	f.dispatch(t, newQuery("example.com", mdns.TypeA, 1))

	t.Run("question mismatch keeps the slot", func(t *testing.T) {
		out := f.answer(t, func(_, resp *mdns.Msg) {
			resp.Question[0].Name = "other.test."
		})
		require.ErrorIs(t, out.Reason, dispatch.ErrUnmatchedResponse)
		assert.Equal(t, int64(1), f.backend.Outstanding())
	})

	t.Run("matching response consumes", func(t *testing.T) {
		out := f.answer(t, nil)
		require.Equal(t, dispatch.ForwardedToClient, out.Kind)
		assert.Zero(t, f.backend.Outstanding())
	})

	t.Run("duplicate response", func(t *testing.T) {
		out := f.answer(t, nil)
		require.ErrorIs(t, out.Reason, dispatch.ErrUnmatchedResponse)
		assert.Len(t, f.origin.all(), 1)
	})

	assert.Equal(t, uint64(2), f.engine.Stats().Unmatched)
}

func TestHandleResponse_NotAResponse(t *testing.T) {
	f := newFixture(t, backend.Config{})
	buf, n := pack(t, newQuery("example.com", mdns.TypeA, 0), 512)
	out := f.engine.HandleResponse(f.backend, buf, n)
	require.ErrorIs(t, out.Reason, dispatch.ErrMalformedPacket)
}

func TestEngine_TickExpiresSlots(t *testing.T) {
	f := newFixture(t, backend.Config{MaxAge: 1})
	f.dispatch(t, newQuery("slow.test", mdns.TypeA, 1))

	assert.Zero(t, f.engine.Tick())
	assert.Equal(t, 1, f.engine.Tick())
	assert.Zero(t, f.backend.Outstanding())
	assert.Equal(t, uint64(1), f.backend.Snapshot().Timeouts)
	assert.Equal(t, uint64(1), f.engine.Stats().DownstreamTimeouts)

	out := f.answer(t, nil)
	require.Equal(t, dispatch.Dropped, out.Kind)
	require.ErrorIs(t, out.Reason, dispatch.ErrDownstreamTimeout, "late answer hits the expired slot")
	assert.Empty(t, f.origin.all())

	st := f.engine.Stats()
	assert.Equal(t, uint64(1), st.DownstreamTimeouts, "the timeout is counted once")
	assert.Equal(t, uint64(1), st.LateResponses)
	assert.Zero(t, st.Unmatched)
	assert.Equal(t, uint64(1), f.backend.Snapshot().Timeouts)

	out = f.answer(t, nil)
	require.ErrorIs(t, out.Reason, dispatch.ErrUnmatchedResponse, "a second copy finds a free slot")
}

func TestDispatch_PoolPolicyOverridesDefault(t *testing.T) {
	f := newFixture(t, backend.Config{Name: "a"})
	other := backend.New(backend.Config{Name: "z", Addr: netip.MustParseAddrPort("203.0.113.54:53")}, &fakeTransport{})
	f.pool.Add(other)
	f.pool.SetPolicy(&fixedPolicy{name: "z"})

	out := f.dispatch(t, newQuery("example.com", mdns.TypeA, 1))
	assert.Same(t, other, out.Backend)
}

func TestDispatch_ExclusivePolicyIsSerialized(t *testing.T) {
	f := newFixture(t, backend.Config{})
	p := &exclusivePolicy{}
	f.engine.Policy = p

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf, n := pack(t, newQuery("example.com", mdns.TypeA, uint16(i)), 512)
			f.engine.Dispatch(t.Context(), buf, n, clientAddr, localAddr, f.origin)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.maxInside.Load())
	assert.Len(t, f.transport.packets(), 32)
}

func TestDispatch_PanicIsContained(t *testing.T) {
	f := newFixture(t, backend.Config{})
	f.engine.Policy = panicPolicy{}

	out := f.dispatch(t, newQuery("example.com", mdns.TypeA, 1))
	require.Equal(t, dispatch.Dropped, out.Kind)
	require.ErrorIs(t, out.Reason, dispatch.ErrMalformedPacket)
}

func TestDispatch_DelayedReply(t *testing.T) {
	chain, err := rules.Compile([]rules.Rule{
		{Action: rules.ActionDelay, Arg: "30ms"},
		{Action: rules.ActionRefused},
	}, nil)
	require.NoError(t, err)
	f := newFixture(t, backend.Config{})
	f.engine.QueryRules = chain

	start := time.Now()
	out := f.dispatch(t, newQuery("example.com", mdns.TypeA, 0x7777))
	require.Equal(t, dispatch.ForwardedToClient, out.Kind)

	waitReplies(t, f.origin, 1)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	got := f.origin.last(t)
	assert.Equal(t, uint16(0x7777), got.Id)
	assert.Equal(t, mdns.RcodeRefused, got.Rcode)
}

func TestDispatch_Tap(t *testing.T) {
	f := newFixture(t, backend.Config{})
	tap := &recordingTap{}
	f.engine.Tap = tap

	f.dispatch(t, newQuery("example.com", mdns.TypeA, 0x2020))
	f.answer(t, nil)

	require.Len(t, tap.queries, 1)
	require.Len(t, tap.responses, 1)
	assert.Equal(t, uint16(0x2020), unpack(t, tap.queries[0]).Id)
	assert.Equal(t, uint16(0x2020), unpack(t, tap.responses[0]).Id)
	assert.Equal(t, []query.Protocol{query.ProtoUDP, query.ProtoUDP}, tap.protocols)
}

func TestDispatch_TapSeesFrontendProtocol(t *testing.T) {
	f := newFixture(t, backend.Config{})
	tap := &recordingTap{}
	f.engine.Tap = tap
	origin := &dohOrigin{}

	buf, n := pack(t, newQuery("example.com", mdns.TypeA, 0x3030), 512)
	f.engine.Dispatch(t.Context(), buf, n, clientAddr, localAddr, origin)
	f.answer(t, nil)

	require.Len(t, origin.all(), 1)
	assert.Equal(t, []query.Protocol{query.ProtoDoH, query.ProtoDoH}, tap.protocols)
}

type fixedPolicy struct{ name string }

func (p *fixedPolicy) Name() string    { return "fixed" }
func (p *fixedPolicy) Exclusive() bool { return false }

func (p *fixedPolicy) Select(servers []*backend.Backend, _ *query.Context) *backend.Backend {
	for _, b := range servers {
		if b.Name == p.name {
			return b
		}
	}
	return nil
}

type exclusivePolicy struct {
	inside    atomic.Int32
	maxInside atomic.Int32
}

func (p *exclusivePolicy) Name() string    { return "exclusive" }
func (p *exclusivePolicy) Exclusive() bool { return true }

func (p *exclusivePolicy) Select(servers []*backend.Backend, _ *query.Context) *backend.Backend {
	n := p.inside.Add(1)
	for {
		m := p.maxInside.Load()
		if n <= m || p.maxInside.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(100 * time.Microsecond)
	p.inside.Add(-1)
	return servers[0]
}

type panicPolicy struct{}

func (panicPolicy) Name() string    { return "panic" }
func (panicPolicy) Exclusive() bool { return false }

func (panicPolicy) Select([]*backend.Backend, *query.Context) *backend.Backend {
	panic("policy bug")
}

type recordingTap struct {
	mu        sync.Mutex
	queries   [][]byte
	responses [][]byte
	protocols []query.Protocol
}

func (r *recordingTap) ClientQuery(_, _ netip.AddrPort, protocol query.Protocol, _ time.Time, msg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, append([]byte(nil), msg...))
	r.protocols = append(r.protocols, protocol)
}

func (r *recordingTap) ClientResponse(_, _ netip.AddrPort, protocol query.Protocol, _, _ time.Time, msg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, append([]byte(nil), msg...))
	r.protocols = append(r.protocols, protocol)
}

// dohOrigin is a fakeOrigin that reports itself as a DoH frontend.
type dohOrigin struct{ fakeOrigin }

func (*dohOrigin) Protocol() query.Protocol { return query.ProtoDoH }
