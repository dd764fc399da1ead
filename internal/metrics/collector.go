// Package metrics exports the balancer's counters to Prometheus.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/dispatch"
	"github.com/jroosing/hydralb/internal/rules"
)

// Namespace prefixes every metric name.
const Namespace = "hydralb"

// TapStats is the part of a dnstap sink the collector reads.
type TapStats interface {
	Sent() uint64
	Dropped() uint64
}

// Collector reads the engine, backend, cache and rule counters at scrape
// time. The counters themselves are kept as atomics by their owners, so
// nothing here sits on the query path.
type Collector struct {
	engine *dispatch.Engine
	pools  *backend.Pools
	rules  *rules.Chain
	tap    TapStats

	global map[string]*prometheus.Desc

	backendQueries     *prometheus.Desc
	backendOutstanding *prometheus.Desc
	backendReuseds     *prometheus.Desc
	backendTimeouts    *prometheus.Desc
	backendSendErrors  *prometheus.Desc
	backendResponses   *prometheus.Desc
	backendLatency     *prometheus.Desc
	backendUp          *prometheus.Desc

	cacheEntries *prometheus.Desc
	cacheHits    *prometheus.Desc
	cacheMisses  *prometheus.Desc
	cacheStale   *prometheus.Desc
	cacheEvicted *prometheus.Desc

	ruleHits *prometheus.Desc

	tapSent    *prometheus.Desc
	tapDropped *prometheus.Desc
}

// globalCounters maps metric names to the field of a stats snapshot.
var globalCounters = map[string]func(dispatch.StatsSnapshot) uint64{
	"queries_total":             func(s dispatch.StatsSnapshot) uint64 { return s.Queries },
	"responses_total":           func(s dispatch.StatsSnapshot) uint64 { return s.Responses },
	"self_answered_total":       func(s dispatch.StatsSnapshot) uint64 { return s.SelfAnswered },
	"cache_hits_total":          func(s dispatch.StatsSnapshot) uint64 { return s.CacheHits },
	"cache_misses_total":        func(s dispatch.StatsSnapshot) uint64 { return s.CacheMisses },
	"no_policy_total":           func(s dispatch.StatsSnapshot) uint64 { return s.NoPolicy },
	"send_errors_total":         func(s dispatch.StatsSnapshot) uint64 { return s.SendErrors },
	"reuseds_total":             func(s dispatch.StatsSnapshot) uint64 { return s.Reuseds },
	"downstream_timeouts_total": func(s dispatch.StatsSnapshot) uint64 { return s.DownstreamTimeouts },
	"malformed_total":           func(s dispatch.StatsSnapshot) uint64 { return s.Malformed },
	"ecs_failures_total":        func(s dispatch.StatsSnapshot) uint64 { return s.ECSFailures },
	"rule_drops_total":          func(s dispatch.StatsSnapshot) uint64 { return s.RuleDrop },
	"response_rule_drops_total": func(s dispatch.StatsSnapshot) uint64 { return s.ResponseRuleDrop },
	"unmatched_responses_total": func(s dispatch.StatsSnapshot) uint64 { return s.Unmatched },
	"late_responses_total":      func(s dispatch.StatsSnapshot) uint64 { return s.LateResponses },
	"reply_errors_total":        func(s dispatch.StatsSnapshot) uint64 { return s.ReplyErrors },
}

// NewCollector creates a collector. chain and tap may be nil.
func NewCollector(engine *dispatch.Engine, pools *backend.Pools, chain *rules.Chain, tap TapStats) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, labels, nil)
	}

	c := &Collector{
		engine: engine,
		pools:  pools,
		rules:  chain,
		tap:    tap,
		global: make(map[string]*prometheus.Desc, len(globalCounters)+1),

		backendQueries:     desc("backend_queries_total", "Queries forwarded to the backend.", "backend"),
		backendOutstanding: desc("backend_outstanding", "Queries awaiting an answer from the backend.", "backend"),
		backendReuseds:     desc("backend_reuseds_total", "Slots reused before their query was answered.", "backend"),
		backendTimeouts:    desc("backend_timeouts_total", "Queries expired without an answer.", "backend"),
		backendSendErrors:  desc("backend_send_errors_total", "Failed sends to the backend.", "backend"),
		backendResponses:   desc("backend_responses_total", "Answers matched to a query.", "backend"),
		backendLatency:     desc("backend_latency_seconds", "Moving average of answer latency.", "backend"),
		backendUp:          desc("backend_up", "Whether policies may select the backend.", "backend"),

		cacheEntries: desc("cache_entries", "Entries in the pool cache.", "pool"),
		cacheHits:    desc("cache_lookup_hits_total", "Cache lookups that returned an answer.", "pool"),
		cacheMisses:  desc("cache_lookup_misses_total", "Cache lookups that found nothing usable.", "pool"),
		cacheStale:   desc("cache_stale_hits_total", "Expired answers served while no backend was available.", "pool"),
		cacheEvicted: desc("cache_evictions_total", "Entries removed to make room.", "pool"),

		ruleHits: desc("rule_hits_total", "Times a rule matched.", "stage", "index", "rule", "action"),

		tapSent:    desc("dnstap_frames_sent_total", "Frames written to the dnstap collector."),
		tapDropped: desc("dnstap_frames_dropped_total", "Frames dropped because the dnstap queue was full."),
	}
	for name := range globalCounters {
		c.global[name] = desc(name, "Dispatch counter "+name+".")
	}
	c.global["outstanding"] = desc("outstanding", "Queries awaiting an answer across all backends.")
	return c
}

// Register adds the collector to reg.
func Register(reg prometheus.Registerer, c *Collector) error {
	if err := reg.Register(c); err != nil {
		return fmt.Errorf("registering %s collector: %w", Namespace, err)
	}
	return nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.global {
		ch <- d
	}
	for _, d := range []*prometheus.Desc{
		c.backendQueries, c.backendOutstanding, c.backendReuseds, c.backendTimeouts,
		c.backendSendErrors, c.backendResponses, c.backendLatency, c.backendUp,
		c.cacheEntries, c.cacheHits, c.cacheMisses, c.cacheStale, c.cacheEvicted,
		c.ruleHits, c.tapSent, c.tapDropped,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	s := c.engine.Stats()
	for name, get := range globalCounters {
		counter(c.global[name], get(s))
	}
	gauge(c.global["outstanding"], float64(s.Outstanding))

	for _, b := range c.pools.Backends() {
		st := b.Snapshot()
		counter(c.backendQueries, st.Queries, st.Name)
		gauge(c.backendOutstanding, float64(st.Outstanding), st.Name)
		counter(c.backendReuseds, st.Reuseds, st.Name)
		counter(c.backendTimeouts, st.Timeouts, st.Name)
		counter(c.backendSendErrors, st.SendErrors, st.Name)
		counter(c.backendResponses, st.Responses, st.Name)
		gauge(c.backendLatency, st.LatencyMs/1000, st.Name)
		gauge(c.backendUp, boolToFloat(st.Available), st.Name)
	}

	for _, p := range c.pools.All() {
		pc := p.Cache()
		if pc == nil {
			continue
		}
		st := pc.Stats()
		gauge(c.cacheEntries, float64(st.Entries), p.Name)
		counter(c.cacheHits, st.Hits, p.Name)
		counter(c.cacheMisses, st.Misses, p.Name)
		counter(c.cacheStale, st.StaleHits, p.Name)
		counter(c.cacheEvicted, st.Evictions, p.Name)
	}

	if c.rules != nil {
		for _, r := range c.rules.Stats() {
			counter(c.ruleHits, r.Hits, r.Stage, strconv.Itoa(r.Index), r.Name, r.Action)
		}
	}

	if c.tap != nil {
		counter(c.tapSent, c.tap.Sent())
		counter(c.tapDropped, c.tap.Dropped())
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
