// Package policy provides the backend selection strategies a pool can use.
package policy

import (
	"cmp"
	"fmt"
	"hash/maphash"
	"math/rand/v2"
	"slices"
	"sync/atomic"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/query"
)

// Policy picks a backend for a query. See backend.Policy.
type Policy = backend.Policy

// Built-in policy names.
const (
	NameFirstAvailable   = "firstAvailable"
	NameRoundRobin       = "roundrobin"
	NameLeastOutstanding = "leastOutstanding"
	NameWeightedRandom   = "wrandom"
	NameWeightedHashed   = "whashed"
)

// ByName returns a new instance of a built-in policy.
func ByName(name string) (Policy, error) {
	switch name {
	case NameFirstAvailable:
		return FirstAvailable{}, nil
	case NameRoundRobin:
		return &RoundRobin{}, nil
	case "", NameLeastOutstanding:
		return LeastOutstanding{}, nil
	case NameWeightedRandom:
		return WeightedRandom{}, nil
	case NameWeightedHashed:
		return NewWeightedHashed(), nil
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}

func available(servers []*backend.Backend) []*backend.Backend {
	out := make([]*backend.Backend, 0, len(servers))
	for _, s := range servers {
		if s.Available() {
			out = append(out, s)
		}
	}
	return out
}

// FirstAvailable returns the first available backend, in pool order, that is
// under its QPS limit. When every available backend is over its limit it
// falls back to LeastOutstanding.
type FirstAvailable struct{}

func (FirstAvailable) Name() string    { return NameFirstAvailable }
func (FirstAvailable) Exclusive() bool { return false }

func (FirstAvailable) Select(servers []*backend.Backend, qc *query.Context) *backend.Backend {
	for _, s := range servers {
		if s.Available() && s.AllowQuery() {
			return s
		}
	}
	return LeastOutstanding{}.Select(servers, qc)
}

// RoundRobin cycles through the available backends.
type RoundRobin struct {
	counter atomic.Uint64
}

func (*RoundRobin) Name() string    { return NameRoundRobin }
func (*RoundRobin) Exclusive() bool { return false }

func (p *RoundRobin) Select(servers []*backend.Backend, _ *query.Context) *backend.Backend {
	up := available(servers)
	if len(up) == 0 {
		return nil
	}
	n := p.counter.Add(1) - 1
	return up[n%uint64(len(up))]
}

// LeastOutstanding picks the available backend with the fewest queries in
// flight, breaking ties by order and then by higher weight.
type LeastOutstanding struct{}

func (LeastOutstanding) Name() string    { return NameLeastOutstanding }
func (LeastOutstanding) Exclusive() bool { return false }

func (LeastOutstanding) Select(servers []*backend.Backend, _ *query.Context) *backend.Backend {
	up := available(servers)
	if len(up) == 0 {
		return nil
	}
	return slices.MinFunc(up, func(a, b *backend.Backend) int {
		return cmp.Or(
			cmp.Compare(a.Outstanding(), b.Outstanding()),
			cmp.Compare(a.Order, b.Order),
			cmp.Compare(b.Weight, a.Weight),
		)
	})
}

// pickWeighted maps v in [0, total weight) onto the backend owning that
// share of the weight.
func pickWeighted(up []*backend.Backend, v uint64) *backend.Backend {
	for _, s := range up {
		w := uint64(s.Weight)
		if v < w {
			return s
		}
		v -= w
	}
	return up[len(up)-1]
}

func totalWeight(up []*backend.Backend) uint64 {
	var total uint64
	for _, s := range up {
		total += uint64(s.Weight)
	}
	return total
}

// WeightedRandom picks an available backend at random, proportionally to
// its weight.
type WeightedRandom struct{}

func (WeightedRandom) Name() string    { return NameWeightedRandom }
func (WeightedRandom) Exclusive() bool { return false }

func (WeightedRandom) Select(servers []*backend.Backend, _ *query.Context) *backend.Backend {
	up := available(servers)
	total := totalWeight(up)
	if total == 0 {
		return nil
	}
	return pickWeighted(up, rand.Uint64N(total))
}

// WeightedHashed is like WeightedRandom but derives the choice from the query
// name, so a name sticks to one backend while the available set is stable.
type WeightedHashed struct {
	seed maphash.Seed
}

// NewWeightedHashed creates the policy with a fresh hash seed.
func NewWeightedHashed() *WeightedHashed {
	return &WeightedHashed{seed: maphash.MakeSeed()}
}

func (*WeightedHashed) Name() string    { return NameWeightedHashed }
func (*WeightedHashed) Exclusive() bool { return false }

func (p *WeightedHashed) Select(servers []*backend.Backend, qc *query.Context) *backend.Backend {
	up := available(servers)
	total := totalWeight(up)
	if total == 0 {
		return nil
	}
	var name string
	if qc != nil {
		name = qc.Name
	}
	return pickWeighted(up, maphash.String(p.seed, name)%total)
}
