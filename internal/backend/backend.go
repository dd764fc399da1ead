// Package backend models the upstream DNS servers a balancer forwards to:
// their counters and availability, the slot tables that correlate forwarded
// queries with responses, and the pools that group them.
package backend

import (
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoTransport is returned by Send on a backend that has no transport.
var ErrNoTransport = errors.New("backend has no transport")

// Mode is the administrative availability setting of a backend.
type Mode int32

const (
	ModeAuto Mode = iota // follow health checks
	ModeUp               // always available
	ModeDown             // never available
)

// String returns the mode name used in configuration and the API.
func (m Mode) String() string {
	switch m {
	case ModeUp:
		return "up"
	case ModeDown:
		return "down"
	default:
		return "auto"
	}
}

// ParseMode parses a mode name. The empty string is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "auto":
		return ModeAuto, nil
	case "up":
		return ModeUp, nil
	case "down":
		return ModeDown, nil
	default:
		return ModeAuto, fmt.Errorf("unknown backend mode %q", s)
	}
}

// Transport sends datagrams to a backend.
type Transport interface {
	Send(b []byte) error
	Close() error
}

// Config describes a backend.
type Config struct {
	Name   string
	Addr   netip.AddrPort
	Weight int
	Order  int
	UseECS bool
	Mode   Mode
	QPS    float64 // zero means unlimited

	Slots  int    // slot table size, default MaxSlots
	MaxAge uint16 // ticks a forwarded query may stay unanswered

	// Health checking; a backend in ModeAuto is marked down after
	// MaxFailures consecutive failed probes and up after Rise successes.
	CheckName   string
	CheckType   uint16
	MaxFailures int
	Rise        int
}

// Backend is one upstream server. Counters are only changed through its
// methods and are safe for concurrent use.
type Backend struct {
	Name   string
	Addr   netip.AddrPort
	Weight int
	Order  int
	UseECS bool

	Slots *SlotTable

	cfg       Config
	qps       *rate.Limiter
	transport atomic.Pointer[transportRef]

	mode      atomic.Int32
	healthy   atomic.Bool
	failures  atomic.Int32
	successes atomic.Int32

	queries     atomic.Uint64
	outstanding atomic.Int64
	reuseds     atomic.Uint64
	timeouts    atomic.Uint64
	sendErrors  atomic.Uint64
	responses   atomic.Uint64
	latencyUsec atomic.Uint64 // moving average
}

// New creates a backend that sends through t. t may be nil until SetTransport.
func New(cfg Config, t Transport) *Backend {
	if cfg.Weight <= 0 {
		cfg.Weight = 1
	}
	if cfg.Slots <= 0 {
		cfg.Slots = MaxSlots
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 2
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}
	if cfg.Rise <= 0 {
		cfg.Rise = 1
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Addr.String()
	}

	b := &Backend{
		Name:   cfg.Name,
		Addr:   cfg.Addr,
		Weight: cfg.Weight,
		Order:  cfg.Order,
		UseECS: cfg.UseECS,
		Slots:  NewSlotTable(cfg.Slots, cfg.MaxAge),
		cfg:    cfg,
	}
	b.SetTransport(t)
	if cfg.QPS > 0 {
		b.qps = rate.NewLimiter(rate.Limit(cfg.QPS), max(int(cfg.QPS), 1))
	}
	b.mode.Store(int32(cfg.Mode))
	b.healthy.Store(true)
	return b
}

// Config returns the configuration the backend was created with.
func (b *Backend) Config() Config { return b.cfg }

// transportRef lets a Transport interface value live in an atomic.Pointer.
type transportRef struct{ Transport }

// SetTransport replaces the transport. It is safe to call while queries are
// being sent; a Send already in progress finishes on the old transport.
func (b *Backend) SetTransport(t Transport) {
	if t == nil {
		b.transport.Store(nil)
		return
	}
	b.transport.Store(&transportRef{t})
}

func (b *Backend) currentTransport() Transport {
	if r := b.transport.Load(); r != nil {
		return r.Transport
	}
	return nil
}

// Close closes the transport.
func (b *Backend) Close() error {
	t := b.currentTransport()
	if t == nil {
		return nil
	}
	return t.Close()
}

// Mode returns the administrative mode.
func (b *Backend) Mode() Mode { return Mode(b.mode.Load()) }

// SetMode changes the administrative mode.
func (b *Backend) SetMode(m Mode) { b.mode.Store(int32(m)) }

// Healthy returns the last health check verdict.
func (b *Backend) Healthy() bool { return b.healthy.Load() }

// Available reports whether policies may select the backend.
func (b *Backend) Available() bool {
	switch b.Mode() {
	case ModeUp:
		return true
	case ModeDown:
		return false
	default:
		return b.healthy.Load()
	}
}

// ReportCheck records the result of a health probe and reports whether the
// healthy flag changed.
func (b *Backend) ReportCheck(ok bool) (changed bool) {
	if ok {
		b.failures.Store(0)
		if b.healthy.Load() {
			return false
		}
		if int(b.successes.Add(1)) < b.cfg.Rise {
			return false
		}
		b.successes.Store(0)
		return b.healthy.CompareAndSwap(false, true)
	}

	b.successes.Store(0)
	if !b.healthy.Load() {
		return false
	}
	if int(b.failures.Add(1)) < b.cfg.MaxFailures {
		return false
	}
	b.failures.Store(0)
	return b.healthy.CompareAndSwap(true, false)
}

// AllowQuery reports whether the backend is under its QPS limit, consuming
// a token when it is.
func (b *Backend) AllowQuery() bool {
	return b.qps == nil || b.qps.Allow()
}

// CountQuery records a query about to be forwarded.
func (b *Backend) CountQuery() { b.queries.Add(1) }

// Claim reserves a slot for s. A reused slot counts as a reuse instead of a
// new outstanding query.
func (b *Backend) Claim(s Slot) (index uint16, reused bool) {
	index, reused = b.Slots.Claim(s)
	if reused {
		b.reuseds.Add(1)
	} else {
		b.outstanding.Add(1)
	}
	return index, reused
}

// Match consumes the slot addressed by a response's wire ID.
func (b *Backend) Match(id uint16) (Slot, MatchState) {
	return b.MatchIf(id, nil)
}

// MatchIf consumes the slot addressed by id when accept approves it. An
// expired slot was already counted as a timeout by Tick.
func (b *Backend) MatchIf(id uint16, accept func(*Slot) bool) (Slot, MatchState) {
	s, state := b.Slots.MatchIf(id, accept)
	switch state {
	case MatchLive:
		b.outstanding.Add(-1)
	}
	return s, state
}

// Tick ages the slot table and returns the number of queries that timed out.
func (b *Backend) Tick() int {
	n := b.Slots.Tick()
	if n > 0 {
		b.outstanding.Add(int64(-n))
		b.timeouts.Add(uint64(n))
	}
	return n
}

// Send forwards a packet to the backend.
func (b *Backend) Send(p []byte) error {
	t := b.currentTransport()
	if t == nil {
		b.sendErrors.Add(1)
		return ErrNoTransport
	}
	if err := t.Send(p); err != nil {
		b.sendErrors.Add(1)
		return err
	}
	return nil
}

// RecordResponse records an answer that was matched to a slot.
func (b *Backend) RecordResponse(latency time.Duration) {
	b.responses.Add(1)
	usec := uint64(max(latency.Microseconds(), 0))
	for {
		old := b.latencyUsec.Load()
		next := usec
		if old != 0 {
			next = (old*127 + usec) / 128
		}
		if b.latencyUsec.CompareAndSwap(old, next) {
			return
		}
	}
}

// Outstanding returns the number of forwarded queries awaiting an answer.
func (b *Backend) Outstanding() int64 { return b.outstanding.Load() }

// Stats is a point-in-time snapshot of a backend's counters.
type Stats struct {
	Name        string
	Addr        string
	Mode        string
	Available   bool
	Queries     uint64
	Outstanding int64
	Reuseds     uint64
	Timeouts    uint64
	SendErrors  uint64
	Responses   uint64
	LatencyMs   float64
}

// Snapshot returns the current counters.
func (b *Backend) Snapshot() Stats {
	return Stats{
		Name:        b.Name,
		Addr:        b.Addr.String(),
		Mode:        b.Mode().String(),
		Available:   b.Available(),
		Queries:     b.queries.Load(),
		Outstanding: b.outstanding.Load(),
		Reuseds:     b.reuseds.Load(),
		Timeouts:    b.timeouts.Load(),
		SendErrors:  b.sendErrors.Load(),
		Responses:   b.responses.Load(),
		LatencyMs:   float64(b.latencyUsec.Load()) / 1000,
	}
}
