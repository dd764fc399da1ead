// Package dispatch forwards client queries to backend servers and routes
// their answers back.
//
// A query is validated, run through the query rules, assigned a backend by
// the pool's policy, optionally given an EDNS Client Subnet option, looked
// up in the pool cache and finally sent to the backend with its wire ID
// replaced by a slot index. The backend's answer addresses that slot
// directly, which restores the client's ID, flags and address.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/cache"
	"github.com/jroosing/hydralb/internal/dns"
	"github.com/jroosing/hydralb/internal/policy"
	"github.com/jroosing/hydralb/internal/query"
	"github.com/jroosing/hydralb/internal/rules"
)

// Tap receives client-facing traffic for query logging. Implementations
// must copy msg if they keep it.
type Tap interface {
	ClientQuery(client, local netip.AddrPort, protocol query.Protocol, at time.Time, msg []byte)
	ClientResponse(client, local netip.AddrPort, protocol query.Protocol, queryAt, at time.Time, msg []byte)
}

// Engine is the query dispatcher. Exported fields are configuration and must
// not change once the engine is in use; the zero value of each optional
// field is usable.
type Engine struct {
	Pools         *backend.Pools      // required
	Policy        backend.Policy      // default when a pool has none (leastOutstanding)
	QueryRules    rules.QueryRules    // optional
	ResponseRules rules.ResponseRules // optional
	Tap           Tap                 // optional
	Logger        *slog.Logger        // optional

	ServFailOnNoPolicy bool // answer SERVFAIL instead of dropping when no backend is available
	ECSPrefixV4        int  // source prefix for IPv4 clients, 0 for the default
	ECSPrefixV6        int  // source prefix for IPv6 clients, 0 for the default
	ECSOverride        bool // replace client-supplied ECS options

	// scriptMu serializes exclusive policies. Native policies never take it.
	scriptMu sync.Mutex
	stats    Stats

	initOnce sync.Once
}

func (e *Engine) init() {
	e.initOnce.Do(func() {
		if e.Logger == nil {
			e.Logger = slog.Default()
		}
		if e.Policy == nil {
			e.Policy = policy.LeastOutstanding{}
		}
		if e.QueryRules == nil {
			e.QueryRules = rules.None{}
		}
		if e.ResponseRules == nil {
			e.ResponseRules = rules.None{}
		}
		if e.Pools == nil {
			e.Pools = backend.NewPools()
		}
	})
}

// Stats returns the current dispatch counters.
func (e *Engine) Stats() StatsSnapshot {
	e.init()
	s := e.stats.snapshot()
	for _, b := range e.Pools.Backends() {
		s.Outstanding += b.Outstanding()
	}
	return s
}

// Dispatch handles one inbound query held in buf[:n]. The engine may modify
// buf, up to its capacity, until Dispatch returns; replies are written to
// origin before that or, for delayed answers, from a copy.
func (e *Engine) Dispatch(ctx context.Context, buf []byte, n int, client, local netip.AddrPort, origin query.Origin) (out Outcome) {
	e.init()
	defer func() {
		if r := recover(); r != nil {
			e.stats.malformed.Add(1)
			e.Logger.Error("dispatch panic", "client", client, "panic", r)
			out = dropped(ErrMalformedPacket)
		}
	}()

	// Step 1: validate
	v, err := dns.NewView(buf, n)
	if err == nil {
		err = dns.ValidateQuery(v)
	}
	var (
		q    dns.Question
		qEnd int
	)
	if err == nil {
		q, qEnd, err = v.Question()
	}
	if err != nil {
		e.stats.malformed.Add(1)
		e.Logger.Debug("malformed query", "client", client, "err", err)
		return dropped(fmt.Errorf("%w: %w", ErrMalformedPacket, err))
	}

	// Step 2: per-query context
	e.stats.queries.Add(1)
	qc := query.New(v, q, qEnd, client, local, origin)
	qc.DestHarvested = local.IsValid() && !local.Addr().IsUnspecified()
	if e.ECSPrefixV4 > 0 {
		qc.ECSPrefixV4 = e.ECSPrefixV4
	}
	if e.ECSPrefixV6 > 0 {
		qc.ECSPrefixV6 = e.ECSPrefixV6
	}
	qc.ECSOverride = e.ECSOverride
	if e.Tap != nil {
		e.Tap.ClientQuery(client, local, query.ProtocolOf(origin), qc.Received, v.Bytes())
	}
	e.logQuery(ctx, qc)

	// Step 3: query rules
	switch e.QueryRules.Apply(qc) {
	case rules.Drop:
		e.stats.ruleDrop.Add(1)
		return dropped(ErrDroppedByRule)
	case rules.SendAsIs:
		qc.SkipCache = true
	}

	// Step 4: a rule answered the query itself
	if v.IsResponse() {
		e.stats.selfAnswered.Add(1)
		return e.finalize(rules.KindSelfAnswered, qc, v)
	}

	// Step 5: pool, cache and policy
	pool, ok := e.Pools.Get(qc.PoolName)
	if !ok {
		e.Logger.Debug("unknown pool", "pool", qc.PoolName, "qname", qc.Name)
		pool = backend.NewPool(qc.PoolName)
	}
	pol := pool.Policy()
	if pol == nil {
		pol = e.Policy
	}

	// Step 6: select a backend
	b := e.selectBackend(pol, pool.Servers(), qc)

	// Step 7: EDNS Client Subnet
	var ednsAdded, ecsAdded bool
	if qc.UseECS && ((b != nil && b.UseECS) || pool.UseECS()) {
		cs := dns.NewClientSubnet(client.Addr(), qc.ECSPrefixV4, qc.ECSPrefixV6)
		ednsAdded, ecsAdded, err = dns.SetClientSubnet(v, qc.QEnd, cs, qc.ECSOverride)
		if err != nil {
			e.stats.ecsFailures.Add(1)
			e.Logger.Warn("ecs insertion failed", "client", client, "qname", qc.Name, "err", err)
			return dropped(fmt.Errorf("%w: %w", ErrEcsInsertionFailed, err))
		}
	}

	// Step 8: cache
	c := pool.Cache()
	var key uint64
	if c != nil && !qc.SkipCache {
		key, err = cache.Key(v.Bytes(), qc.Question(), qc.QEnd)
		if err != nil {
			e.Logger.Debug("cache key failed", "qname", qc.Name, "err", err)
			key = 0
		}
		if key != 0 {
			if out, hit := e.lookupCache(c, key, qc, v, b == nil); hit {
				return out
			}
			e.stats.cacheMisses.Add(1)
		}
	}

	// Step 9: nobody to ask
	if b == nil {
		e.stats.noPolicy.Add(1)
		if !e.ServFailOnNoPolicy {
			return dropped(ErrNoBackendAvailable)
		}
		if err := dns.ErrorResponse(v, qc.QEnd, dns.RCodeServFail); err != nil {
			return dropped(fmt.Errorf("%w: %w", ErrNoBackendAvailable, err))
		}
		out := e.finalize(rules.KindSelfAnswered, qc, v)
		if out.Reason == nil {
			out.Reason = ErrNoBackendAvailable
		}
		return out
	}

	// Step 10: claim a slot and forward
	return e.forward(b, pool, c, key, qc, v, ednsAdded, ecsAdded)
}

// selectBackend runs the policy, holding scriptMu only for exclusive ones.
func (e *Engine) selectBackend(pol backend.Policy, servers []*backend.Backend, qc *query.Context) *backend.Backend {
	if !pol.Exclusive() {
		return pol.Select(servers, qc)
	}
	e.scriptMu.Lock()
	defer e.scriptMu.Unlock()
	return pol.Select(servers, qc)
}

func (e *Engine) lookupCache(
	c *cache.Cache,
	key uint64,
	qc *query.Context,
	v *dns.View,
	allowStale bool,
) (Outcome, bool) {
	n, hit := c.Lookup(v.Buffer(), key, qc.Question(), allowStale)
	if !hit {
		return Outcome{}, false
	}
	if err := v.SetLen(n); err != nil {
		return Outcome{}, false
	}
	e.stats.cacheHits.Add(1)
	return e.finalize(rules.KindCacheHit, qc, v), true
}

func (e *Engine) forward(
	b *backend.Backend,
	pool *backend.Pool,
	c *cache.Cache,
	key uint64,
	qc *query.Context,
	v *dns.View,
	ednsAdded, ecsAdded bool,
) Outcome {
	b.CountQuery()
	slot := backend.Slot{
		Origin:         qc.Origin,
		Client:         qc.Client,
		Local:          qc.Local,
		DestHarvested:  qc.DestHarvested,
		OrigID:         qc.ID,
		OrigFlags:      qc.Flags,
		Name:           qc.Name,
		Type:           qc.Type,
		Class:          qc.Class,
		CacheKey:       key,
		SkipCache:      qc.SkipCache,
		Cache:          c,
		Pool:           pool.Name,
		EDNSAdded:      ednsAdded,
		ECSAdded:       ecsAdded,
		Tags:           qc.CloneTags(),
		SentAt:         time.Now(),
		Delay:          qc.Delay,
		TempFailureTTL: qc.TempFailureTTL,
	}
	idx, reused := b.Claim(slot)
	if reused {
		e.stats.reuseds.Add(1)
		e.stats.downstreamTimeouts.Add(1)
	}
	v.SetID(idx)

	out := Outcome{Kind: ForwardedToBackend, Backend: b, Slot: idx}
	if err := b.Send(v.Bytes()); err != nil {
		e.stats.sendErrors.Add(1)
		e.Logger.Warn("send to backend failed", "backend", b.Name, "qname", qc.Name, "err", err)
		out.Reason = fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return out
}

func (e *Engine) logQuery(ctx context.Context, qc *query.Context) {
	if !e.Logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	e.Logger.Debug(
		"dns query",
		"client", qc.Client,
		"id", int(qc.ID),
		"qname", qc.Name,
		"qtype", int(qc.Type),
		"bytes", qc.View.Len(),
	)
}
