package metrics_test

import (
	"net/netip"
	"strings"
	"testing"

	mdns "github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/cache"
	"github.com/jroosing/hydralb/internal/dispatch"
	"github.com/jroosing/hydralb/internal/metrics"
	"github.com/jroosing/hydralb/internal/rules"
)

type nopTransport struct{}

func (nopTransport) Send([]byte) error { return nil }
func (nopTransport) Close() error      { return nil }

type nopOrigin struct{}

func (nopOrigin) Reply([]byte, netip.AddrPort) error { return nil }

type tapStats struct{ sent, dropped uint64 }

func (s tapStats) Sent() uint64    { return s.sent }
func (s tapStats) Dropped() uint64 { return s.dropped }

func setup(t *testing.T) (*prometheus.Registry, *dispatch.Engine) {
	t.Helper()
	pools := backend.NewPools()
	pool := pools.GetOrCreate("")
	pool.Add(backend.New(backend.Config{Name: "b1", Addr: netip.MustParseAddrPort("203.0.113.1:53")}, nopTransport{}))
	pool.SetCache(cache.New(cache.Config{}))

	chain, err := rules.Compile([]rules.Rule{
		{Name: "block", Domains: []string{"blocked.test"}, Action: rules.ActionDrop},
		{Domains: []string{"also.test"}, Action: rules.ActionDrop},
	}, nil)
	require.NoError(t, err)

	engine := &dispatch.Engine{Pools: pools, QueryRules: chain}
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg, metrics.NewCollector(engine, pools, chain, tapStats{sent: 5, dropped: 1})))
	return reg, engine
}

func send(t *testing.T, e *dispatch.Engine, name string) {
	t.Helper()
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), mdns.TypeA)
	raw, err := m.Pack()
	require.NoError(t, err)
	buf := make([]byte, 512)
	n := copy(buf, raw)
	e.Dispatch(t.Context(), buf, n, netip.MustParseAddrPort("192.0.2.1:1000"), netip.AddrPort{}, nopOrigin{})
}

func TestCollector_ExportsCounters(t *testing.T) {
	reg, engine := setup(t)
	send(t, engine, "example.com")
	send(t, engine, "example.org")
	send(t, engine, "ads.blocked.test")

	expected := `
# HELP hydralb_queries_total Dispatch counter queries_total.
# TYPE hydralb_queries_total counter
hydralb_queries_total 3
# HELP hydralb_rule_drops_total Dispatch counter rule_drops_total.
# TYPE hydralb_rule_drops_total counter
hydralb_rule_drops_total 1
# HELP hydralb_outstanding Queries awaiting an answer across all backends.
# TYPE hydralb_outstanding gauge
hydralb_outstanding 2
# HELP hydralb_backend_queries_total Queries forwarded to the backend.
# TYPE hydralb_backend_queries_total counter
hydralb_backend_queries_total{backend="b1"} 2
# HELP hydralb_cache_lookup_misses_total Cache lookups that found nothing usable.
# TYPE hydralb_cache_lookup_misses_total counter
hydralb_cache_lookup_misses_total{pool=""} 2
# HELP hydralb_rule_hits_total Times a rule matched.
# TYPE hydralb_rule_hits_total counter
hydralb_rule_hits_total{action="drop",index="0",rule="block",stage="query"} 1
hydralb_rule_hits_total{action="drop",index="1",rule="drop",stage="query"} 0
# HELP hydralb_dnstap_frames_dropped_total Frames dropped because the dnstap queue was full.
# TYPE hydralb_dnstap_frames_dropped_total counter
hydralb_dnstap_frames_dropped_total 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"hydralb_queries_total",
		"hydralb_rule_drops_total",
		"hydralb_outstanding",
		"hydralb_backend_queries_total",
		"hydralb_cache_lookup_misses_total",
		"hydralb_rule_hits_total",
		"hydralb_dnstap_frames_dropped_total",
	)
	require.NoError(t, err)
}

func TestCollector_Cardinality(t *testing.T) {
	reg, _ := setup(t)
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)

	// 16 global series, 8 per backend, 5 per cached pool, 2 rules, 2 dnstap.
	assert.Equal(t, 16+8+5+2+2, n)
}

func TestCollector_DuplicateRegistration(t *testing.T) {
	reg, engine := setup(t)
	err := metrics.Register(reg, metrics.NewCollector(engine, backend.NewPools(), nil, nil))
	require.Error(t, err)
}
