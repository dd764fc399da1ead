package backend

import (
	"cmp"
	"slices"
	"sync"

	"github.com/jroosing/hydralb/internal/cache"
	"github.com/jroosing/hydralb/internal/query"
)

// Policy picks a backend for a query. Implementations live in the policy
// package; the interface is declared here so pools can carry one.
type Policy interface {
	Name() string
	// Exclusive reports whether Select must not run concurrently with any
	// other exclusive policy, as is the case for script-backed policies
	// sharing one interpreter.
	Exclusive() bool
	// Select returns nil when no backend can serve the query.
	Select(servers []*Backend, qc *query.Context) *Backend
}

// Pool is a named, ordered group of backends with an optional cache and
// policy override. Readers get an immutable snapshot of the member list;
// changes replace the slice.
type Pool struct {
	Name string

	mu      sync.RWMutex
	servers []*Backend
	cache   *cache.Cache
	policy  Policy
	useECS  bool
}

// NewPool creates an empty pool.
func NewPool(name string) *Pool {
	return &Pool{Name: name}
}

// Servers returns the members ordered by (Order, Name). The slice must not be
// modified.
func (p *Pool) Servers() []*Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.servers
}

// Add inserts b, replacing a member with the same name.
func (p *Pool) Add(b *Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make([]*Backend, 0, len(p.servers)+1)
	for _, s := range p.servers {
		if s.Name != b.Name {
			next = append(next, s)
		}
	}
	next = append(next, b)
	slices.SortStableFunc(next, func(a, b *Backend) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.Name, b.Name))
	})
	p.servers = next
}

// Remove deletes the member with the given name and reports whether it was
// present.
func (p *Pool) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := slices.IndexFunc(p.servers, func(b *Backend) bool { return b.Name == name })
	if i < 0 {
		return false
	}
	p.servers = slices.Delete(slices.Clone(p.servers), i, i+1)
	return true
}

// Cache returns the pool cache, or nil.
func (p *Pool) Cache() *cache.Cache {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cache
}

// SetCache attaches a cache.
func (p *Pool) SetCache(c *cache.Cache) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = c
}

// Policy returns the pool's policy override, or nil.
func (p *Pool) Policy() Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policy
}

// SetPolicy sets the policy override.
func (p *Pool) SetPolicy(pol Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = pol
}

// UseECS reports whether queries sent through this pool carry ECS when no
// backend was selected.
func (p *Pool) UseECS() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.useECS
}

// SetUseECS sets the pool ECS default.
func (p *Pool) SetUseECS(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.useECS = on
}

// Pools is the set of pools known to the balancer, by name. The default
// pool is named "".
type Pools struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewPools creates an empty set.
func NewPools() *Pools {
	return &Pools{pools: make(map[string]*Pool)}
}

// Get returns the named pool.
func (s *Pools) Get(name string) (*Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[name]
	return p, ok
}

// GetOrCreate returns the named pool, creating it if needed.
func (s *Pools) GetOrCreate(name string) *Pool {
	if p, ok := s.Get(name); ok {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pools[name]; ok {
		return p
	}
	p := NewPool(name)
	s.pools[name] = p
	return p
}

// Delete removes a pool and reports whether it existed.
func (s *Pools) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pools[name]
	delete(s.pools, name)
	return ok
}

// All returns the pools sorted by name.
func (s *Pools) All() []*Pool {
	s.mu.RLock()
	out := make([]*Pool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Pool) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Backends returns every distinct backend across all pools, sorted by name.
func (s *Pools) Backends() []*Backend {
	seen := make(map[*Backend]struct{})
	var out []*Backend
	for _, p := range s.All() {
		for _, b := range p.Servers() {
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b *Backend) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Backend finds a backend by name across all pools.
func (s *Pools) Backend(name string) (*Backend, bool) {
	for _, b := range s.Backends() {
		if b.Name == name {
			return b, true
		}
	}
	return nil, false
}
