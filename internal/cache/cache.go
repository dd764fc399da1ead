// Package cache implements the response cache shared by the queries of a
// backend pool.
//
// Entries are keyed by a 64-bit fingerprint of the query (see Key) and hold
// the backend's answer bytes. Eviction is by insertion order: when the cache
// is full the oldest inserted entry goes first. Entries past their TTL may
// still be served for a bounded grace window when the caller allows it, which
// is used when no backend is available.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jroosing/hydralb/internal/dns"
)

// Config holds cache limits. Zero fields take the DefaultConfig values.
type Config struct {
	MaxEntries     int
	MinTTL         time.Duration // positive answers below this are not cached
	MaxTTL         time.Duration // cap for positive answers
	NegativeTTL    time.Duration // NXDOMAIN/NODATA without SOA
	MaxNegativeTTL time.Duration
	ServFailTTL    time.Duration
	StaleWindow    time.Duration // how long past expiry an entry may still be served
	StaleServeTTL  time.Duration // TTL rewritten into stale answers
	DontAge        bool          // serve TTLs as stored instead of decrementing them

	Now func() time.Time // clock, time.Now when nil
}

// DefaultConfig returns the defaults used for zero Config fields.
func DefaultConfig() Config {
	return Config{
		MaxEntries:     100000,
		MaxTTL:         24 * time.Hour,
		NegativeTTL:    5 * time.Minute,
		MaxNegativeTTL: time.Hour,
		ServFailTTL:    60 * time.Second,
		StaleServeTTL:  60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.MaxTTL <= 0 {
		c.MaxTTL = d.MaxTTL
	}
	if c.NegativeTTL <= 0 {
		c.NegativeTTL = d.NegativeTTL
	}
	if c.MaxNegativeTTL <= 0 {
		c.MaxNegativeTTL = d.MaxNegativeTTL
	}
	if c.ServFailTTL <= 0 {
		c.ServFailTTL = d.ServFailTTL
	}
	if c.StaleServeTTL <= 0 {
		c.StaleServeTTL = d.StaleServeTTL
	}
	return c
}

// Entry is one cached answer.
type Entry struct {
	Key    uint64
	Answer []byte
	Name   string // normalized, for collision checks
	Type   uint16
	Class  uint16
	QEnd   int
	Added  time.Time
	TTL    time.Duration
	Kind   EntryType

	elem *list.Element
}

func (e *Entry) expiresAt() time.Time { return e.Added.Add(e.TTL) }

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Entries    int
	Hits       uint64
	StaleHits  uint64
	Misses     uint64
	Insertions uint64
	Evictions  uint64
	Collisions uint64
	Expired    uint64
}

// Cache is a bounded, thread-safe response cache.
type Cache struct {
	cfg Config

	mu    sync.Mutex
	order *list.List // insertion order, front = oldest
	data  map[uint64]*Entry

	now func() time.Time

	hits       atomic.Uint64
	staleHits  atomic.Uint64
	misses     atomic.Uint64
	insertions atomic.Uint64
	evictions  atomic.Uint64
	collisions atomic.Uint64
	expired    atomic.Uint64
}

// New creates a cache.
func New(cfg Config) *Cache {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		cfg:   cfg.withDefaults(),
		order: list.New(),
		data:  make(map[uint64]*Entry),
		now:   now,
	}
}

// Config returns the effective configuration.
func (c *Cache) Config() Config { return c.cfg }

// Lookup copies the answer stored under key into dst and returns its length.
// The copy has its TTLs decremented by the time spent in the cache. Entries
// past expiry are only returned when allowStale is set and they are within
// the stale window; their TTLs are rewritten to StaleServeTTL. A stored
// answer for a different question (a key collision) or one that does not fit
// in dst is a miss.
func (c *Cache) Lookup(dst []byte, key uint64, q dns.Question, allowStale bool) (int, bool) {
	now := c.now()
	name := dns.NormalizeName(q.Name)

	c.mu.Lock()
	e := c.data[key]
	if e == nil {
		c.mu.Unlock()
		c.misses.Add(1)
		return 0, false
	}
	if e.Name != name || e.Type != q.Type || e.Class != q.Class {
		c.mu.Unlock()
		c.collisions.Add(1)
		c.misses.Add(1)
		return 0, false
	}

	stale := now.After(e.expiresAt())
	if stale && (!allowStale || now.After(e.expiresAt().Add(c.cfg.StaleWindow))) {
		if now.After(e.expiresAt().Add(c.cfg.StaleWindow)) {
			c.removeLocked(e)
			c.expired.Add(1)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return 0, false
	}
	if len(e.Answer) > len(dst) {
		c.mu.Unlock()
		c.misses.Add(1)
		return 0, false
	}
	n := copy(dst, e.Answer)
	qEnd, added, ttl := e.QEnd, e.Added, e.TTL
	c.mu.Unlock()

	var age time.Duration
	switch {
	case stale:
		age = max(ttl-c.cfg.StaleServeTTL, 0)
		c.staleHits.Add(1)
	case !c.cfg.DontAge:
		age = now.Sub(added)
	}
	if age >= time.Second {
		_ = dns.AgeTTLs(dst[:n], qEnd, uint32(age/time.Second))
	}
	c.hits.Add(1)
	return n, true
}

// Insert stores a copy of resp under key when the response is cacheable.
// It reports whether the answer was stored.
func (c *Cache) Insert(key uint64, q dns.Question, resp []byte, qEnd int, tempFailureTTL time.Duration) bool {
	d := c.Decide(resp, qEnd, tempFailureTTL)
	ttl := c.capTTL(d)
	if ttl <= 0 {
		return false
	}

	e := &Entry{
		Key:    key,
		Answer: append([]byte(nil), resp...),
		Name:   dns.NormalizeName(q.Name),
		Type:   q.Type,
		Class:  q.Class,
		QEnd:   qEnd,
		Added:  c.now(),
		TTL:    ttl,
		Kind:   d.Type,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing := c.data[key]; existing != nil {
		c.order.Remove(existing.elem)
	}
	e.elem = c.order.PushBack(e)
	c.data[key] = e
	c.insertions.Add(1)

	for len(c.data) > c.cfg.MaxEntries {
		c.removeLocked(c.order.Front().Value.(*Entry))
		c.evictions.Add(1)
	}
	return true
}

// capTTL applies TTL caps based on entry type.
func (c *Cache) capTTL(d Decision) time.Duration {
	switch d.Type {
	case EntryPositive:
		if d.TTL < c.cfg.MinTTL {
			return 0
		}
		return min(d.TTL, c.cfg.MaxTTL)
	default:
		return min(d.TTL, c.cfg.MaxNegativeTTL)
	}
}

func (c *Cache) removeLocked(e *Entry) {
	c.order.Remove(e.elem)
	delete(c.data, e.Key)
}

// Expunge removes every entry that is past expiry and the stale window.
func (c *Cache) Expunge() int {
	cutoff := c.now().Add(-c.cfg.StaleWindow)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*Entry)
		if cutoff.After(e.expiresAt()) {
			c.removeLocked(e)
			removed++
		}
		el = next
	}
	c.expired.Add(uint64(removed))
	return removed
}

// ExpungeByName removes the entries for name, or for name and everything
// below it when suffix is set.
func (c *Cache) ExpungeByName(name string, suffix bool) int {
	name = dns.NormalizeName(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*Entry)
		if e.Name == name || (suffix && (name == "" || strings.HasSuffix(e.Name, "."+name))) {
			c.removeLocked(e)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:    c.Len(),
		Hits:       c.hits.Load(),
		StaleHits:  c.staleHits.Load(),
		Misses:     c.misses.Load(),
		Insertions: c.insertions.Load(),
		Evictions:  c.evictions.Load(),
		Collisions: c.collisions.Load(),
		Expired:    c.expired.Load(),
	}
}
