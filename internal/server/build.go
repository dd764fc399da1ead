package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/cache"
	"github.com/jroosing/hydralb/internal/config"
	"github.com/jroosing/hydralb/internal/dispatch"
	"github.com/jroosing/hydralb/internal/dnstap"
	"github.com/jroosing/hydralb/internal/metrics"
	"github.com/jroosing/hydralb/internal/policy"
	"github.com/jroosing/hydralb/internal/rules"
)

// Version is reported in dnstap frames. It is set at link time.
var Version = "dev"

// Balancer is the dispatch core assembled from a configuration: the engine
// and everything it was built from.
type Balancer struct {
	Engine  *dispatch.Engine
	Pools   *backend.Pools
	Rules   *rules.Chain
	Tap     *dnstap.Sink // nil when dnstap is disabled
	Targets []HealthTarget

	transports map[*backend.Backend]*backend.UDPTransport
	scripts    []*policy.Lua
}

// Build compiles the rules, creates pools and backends, and dials every
// backend. The caller must Close the result.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Balancer, err error) {
	bal := &Balancer{
		Pools:      backend.NewPools(),
		transports: map[*backend.Backend]*backend.UDPTransport{},
	}
	defer func() {
		if err != nil {
			_ = bal.Close()
		}
	}()

	bal.Rules, err = rules.Compile(cfg.Rules, logger)
	if err != nil {
		return nil, err
	}

	defaultPolicy, err := bal.policy(cfg, cfg.Dispatch.DefaultPolicy, logger)
	if err != nil {
		return nil, err
	}

	for _, pc := range cfg.Pools {
		p := bal.Pools.GetOrCreate(pc.Name)
		if pc.Policy != "" {
			pol, err := bal.policy(cfg, pc.Policy, logger)
			if err != nil {
				return nil, fmt.Errorf("pool %q: %w", pc.Name, err)
			}
			p.SetPolicy(pol)
		}
		p.SetUseECS(pc.UseECS)
		if pc.Cache != nil {
			p.SetCache(cache.New(pc.Cache.Cache()))
		}
	}

	maxAge := cfg.Dispatch.MaxAge()
	for _, bcfg := range cfg.Backends {
		c, err := bcfg.Backend(maxAge)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", bcfg.Name, err)
		}
		t, err := backend.DialUDP(ctx, c.Addr, bcfg.Sockets)
		if err != nil {
			return nil, err
		}
		b := backend.New(c, t)
		bal.transports[b] = t
		for _, name := range bcfg.PoolNames() {
			bal.Pools.GetOrCreate(name).Add(b)
		}
		bal.Targets = append(bal.Targets, HealthTarget{
			Backend:  b,
			Interval: bcfg.HealthCheck.Interval,
			Timeout:  bcfg.HealthCheck.Timeout,
		})
	}

	bal.Engine = &dispatch.Engine{
		Pools:              bal.Pools,
		Policy:             defaultPolicy,
		QueryRules:         bal.Rules,
		ResponseRules:      bal.Rules,
		Logger:             logger,
		ServFailOnNoPolicy: cfg.Dispatch.ServFailOnNoPolicy,
		ECSPrefixV4:        cfg.Dispatch.ECSPrefixV4,
		ECSPrefixV6:        cfg.Dispatch.ECSPrefixV6,
		ECSOverride:        cfg.Dispatch.ECSOverride,
	}
	if cfg.Dnstap.Enabled {
		bal.Tap = dnstap.NewSink(dnstap.Config{
			Network:       cfg.Dnstap.Network,
			Address:       cfg.Dnstap.Address,
			Identity:      cfg.Dnstap.Identity,
			Version:       "hydralb " + Version,
			QueueSize:     cfg.Dnstap.QueueSize,
			Bidirectional: cfg.Dnstap.Bidirectional,
		}, logger)
		bal.Engine.Tap = bal.Tap
	}
	return bal, nil
}

// policy resolves a policy name. Scripted policies share one interpreter,
// loaded on first use.
func (bal *Balancer) policy(cfg *config.Config, name string, logger *slog.Logger) (backend.Policy, error) {
	if name != config.PolicyLua {
		return policy.ByName(name)
	}
	if len(bal.scripts) > 0 {
		return bal.scripts[0], nil
	}
	f, err := os.Open(cfg.Dispatch.PolicyScript)
	if err != nil {
		return nil, fmt.Errorf("policy script: %w", err)
	}
	defer f.Close()
	p, err := policy.NewLua(cfg.Dispatch.PolicyScript, f, logger)
	if err != nil {
		return nil, err
	}
	bal.scripts = append(bal.scripts, p)
	return p, nil
}

// Collector returns a Prometheus collector over bal's counters.
func (bal *Balancer) Collector() *metrics.Collector {
	var tap metrics.TapStats
	if bal.Tap != nil {
		tap = bal.Tap
	}
	return metrics.NewCollector(bal.Engine, bal.Pools, bal.Rules, tap)
}

// Conns returns the backend sockets to read responses from.
func (bal *Balancer) Conns() map[*backend.Backend]*backend.UDPTransport {
	return bal.transports
}

// Close closes every backend socket and script interpreter.
func (bal *Balancer) Close() error {
	var errs []error
	for _, t := range bal.transports {
		if err := t.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, s := range bal.scripts {
		s.Close()
	}
	return errors.Join(errs...)
}
