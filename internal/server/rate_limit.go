package server

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jroosing/hydralb/internal/config"
)

// RateLimiter is pre-dispatch admission control on the UDP frontend. A query
// must pass the global bucket and the bucket of its source address.
type RateLimiter struct {
	global *rate.Limiter // nil when disabled

	ipRate  rate.Limit
	ipBurst int

	cleanupInterval time.Duration
	maxEntries      int

	mu          sync.Mutex
	lastCleanup time.Time
	clients     map[netip.Addr]*clientBucket
}

type clientBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns nil when both limits are disabled; a nil
// RateLimiter allows everything.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	if !enabled(cfg.GlobalQPS, cfg.GlobalBurst) && !enabled(cfg.IPQPS, cfg.IPBurst) {
		return nil
	}
	r := &RateLimiter{
		cleanupInterval: cfg.CleanupInterval,
		maxEntries:      cfg.MaxIPEntries,
		lastCleanup:     time.Now(),
		clients:         map[netip.Addr]*clientBucket{},
	}
	if r.cleanupInterval <= 0 {
		r.cleanupInterval = time.Minute
	}
	if r.maxEntries <= 0 {
		r.maxEntries = 1
	}
	if enabled(cfg.GlobalQPS, cfg.GlobalBurst) {
		r.global = rate.NewLimiter(rate.Limit(cfg.GlobalQPS), cfg.GlobalBurst)
	}
	if enabled(cfg.IPQPS, cfg.IPBurst) {
		r.ipRate, r.ipBurst = rate.Limit(cfg.IPQPS), cfg.IPBurst
	}
	return r
}

func enabled(qps float64, burst int) bool { return qps > 0 && burst > 0 }

// AllowAddr reports whether a query from ip may be dispatched now.
func (r *RateLimiter) AllowAddr(ip netip.Addr) bool {
	if r == nil {
		return true
	}
	return r.allowAt(ip.Unmap(), time.Now())
}

func (r *RateLimiter) allowAt(ip netip.Addr, now time.Time) bool {
	if r.global != nil && !r.global.AllowN(now, 1) {
		return false
	}
	if r.ipRate == 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastCleanup) > r.cleanupInterval {
		r.cleanupLocked(now)
	}
	c, ok := r.clients[ip]
	if !ok {
		if len(r.clients) >= r.maxEntries {
			r.cleanupLocked(now)
			if len(r.clients) >= r.maxEntries {
				// Still at capacity: refuse sources we are not tracking.
				return false
			}
		}
		c = &clientBucket{lim: rate.NewLimiter(r.ipRate, r.ipBurst)}
		r.clients[ip] = c
	}
	c.lastSeen = now
	return c.lim.AllowN(now, 1)
}

// cleanupLocked drops sources idle for a full cleanup interval. r.mu must be
// held.
func (r *RateLimiter) cleanupLocked(now time.Time) {
	staleBefore := now.Add(-r.cleanupInterval)
	for k, c := range r.clients {
		if !c.lastSeen.After(staleBefore) {
			delete(r.clients, k)
		}
	}
	r.lastCleanup = now
}

// Tracked returns the number of source addresses with a bucket.
func (r *RateLimiter) Tracked() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// FormatRateLimitsLog returns a human-readable summary of rate limit configuration.
func FormatRateLimitsLog(cfg config.RateLimitConfig) string {
	fmtLimiter := func(name string, qps float64, burst int) string {
		if !enabled(qps, burst) {
			return name + "=disabled"
		}
		return fmt.Sprintf("%s=%gqps/%d", name, qps, burst)
	}
	return fmt.Sprintf("%s %s cleanup=%s max_ip=%d",
		fmtLimiter("global", cfg.GlobalQPS, cfg.GlobalBurst),
		fmtLimiter("ip", cfg.IPQPS, cfg.IPBurst),
		cfg.CleanupInterval,
		cfg.MaxIPEntries,
	)
}
