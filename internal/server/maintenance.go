package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/dispatch"
)

// Maintenance ages the slot tables once per tick and purges expired cache
// entries every CacheEvery ticks.
type Maintenance struct {
	Engine     *dispatch.Engine
	Pools      *backend.Pools
	Logger     *slog.Logger
	Tick       time.Duration // one slot-table age unit, default one second
	CacheEvery int           // default 60
}

// Run loops until ctx is done.
func (m *Maintenance) Run(ctx context.Context) error {
	tick := m.Tick
	if tick <= 0 {
		tick = time.Second
	}
	every := m.CacheEvery
	if every <= 0 {
		every = 60
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		m.step(n%every == 0)
	}
}

func (m *Maintenance) step(purge bool) (expired, purged int) {
	expired = m.Engine.Tick()
	if expired > 0 && m.Logger != nil {
		m.Logger.Debug("queries timed out", "count", expired)
	}
	if !purge {
		return expired, 0
	}
	for _, p := range m.Pools.All() {
		if c := p.Cache(); c != nil {
			purged += c.Expunge()
		}
	}
	if purged > 0 && m.Logger != nil {
		m.Logger.Debug("cache entries purged", "count", purged)
	}
	return expired, purged
}
