package server

import (
	"context"
	"log/slog"
	"time"

	mdns "github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/jroosing/hydralb/internal/backend"
)

// Health probe defaults.
const (
	DefaultCheckName     = "a.root-servers.net."
	DefaultCheckInterval = time.Second
	DefaultCheckTimeout  = time.Second
)

// HealthTarget is one backend to probe and how often.
type HealthTarget struct {
	Backend  *backend.Backend
	Interval time.Duration
	Timeout  time.Duration
}

// HealthChecker probes backends in ModeAuto and feeds the verdicts to
// Backend.ReportCheck.
type HealthChecker struct {
	Logger *slog.Logger
	// Exchange sends a probe; nil uses a miekg/dns UDP client.
	Exchange func(ctx context.Context, m *mdns.Msg, addr string, timeout time.Duration) (*mdns.Msg, error)
}

// Run probes every target on its own interval until ctx is done.
func (h *HealthChecker) Run(ctx context.Context, targets []HealthTarget) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		g.Go(func() error {
			h.loop(ctx, t)
			return nil
		})
	}
	return g.Wait()
}

func (h *HealthChecker) loop(ctx context.Context, t HealthTarget) {
	interval := t.Interval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.Backend.Mode() == backend.ModeAuto {
				h.Check(ctx, t)
			}
		}
	}
}

// Check sends one probe and records the result. It reports whether the
// probe succeeded.
func (h *HealthChecker) Check(ctx context.Context, t HealthTarget) bool {
	b := t.Backend
	cfg := b.Config()
	name := cfg.CheckName
	if name == "" {
		name = DefaultCheckName
	}
	qtype := cfg.CheckType
	if qtype == 0 {
		qtype = mdns.TypeA
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}

	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), qtype)
	m.RecursionDesired = true

	exchange := h.Exchange
	if exchange == nil {
		exchange = udpExchange
	}
	resp, err := exchange(ctx, m, b.Addr.String(), timeout)
	ok := err == nil && resp != nil &&
		resp.Rcode != mdns.RcodeServerFailure && resp.Rcode != mdns.RcodeRefused

	if b.ReportCheck(ok) && h.Logger != nil {
		if b.Healthy() {
			h.Logger.Info("backend up", "backend", b.Name, "addr", b.Addr)
		} else {
			h.Logger.Warn("backend down", "backend", b.Name, "addr", b.Addr, "err", err)
		}
	}
	return ok
}

func udpExchange(ctx context.Context, m *mdns.Msg, addr string, timeout time.Duration) (*mdns.Msg, error) {
	c := &mdns.Client{Net: "udp", Timeout: timeout}
	resp, _, err := c.ExchangeContext(ctx, m, addr)
	return resp, err
}
