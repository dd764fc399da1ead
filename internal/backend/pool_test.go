package backend_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/cache"
)

func named(name string, order int) *backend.Backend {
	return backend.New(backend.Config{
		Name:  name,
		Addr:  netip.MustParseAddrPort("192.0.2.1:53"),
		Order: order,
		Slots: 4,
	}, nil)
}

func TestPool_OrderedCopyOnWrite(t *testing.T) {
	p := backend.NewPool("edge")
	p.Add(named("c", 2))
	p.Add(named("b", 1))
	p.Add(named("a", 1))

	snap := p.Servers()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{snap[0].Name, snap[1].Name, snap[2].Name})

	assert.True(t, p.Remove("b"))
	assert.False(t, p.Remove("b"))
	assert.Len(t, p.Servers(), 2)
	assert.Len(t, snap, 3, "earlier snapshots are not modified")
	assert.Equal(t, "b", snap[1].Name)

	p.Add(named("a", 5))
	servers := p.Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, "c", servers[0].Name)
}

func TestPool_Settings(t *testing.T) {
	p := backend.NewPool("")
	assert.Nil(t, p.Cache())
	assert.Nil(t, p.Policy())
	assert.False(t, p.UseECS())

	c := cache.New(cache.Config{})
	p.SetCache(c)
	p.SetUseECS(true)
	assert.Same(t, c, p.Cache())
	assert.True(t, p.UseECS())
}

func TestPools(t *testing.T) {
	s := backend.NewPools()
	_, ok := s.Get("")
	assert.False(t, ok)

	def := s.GetOrCreate("")
	assert.Same(t, def, s.GetOrCreate(""))

	shared := named("shared", 0)
	def.Add(shared)
	other := s.GetOrCreate("other")
	other.Add(shared)
	other.Add(named("only-other", 0))

	assert.Len(t, s.All(), 2)
	assert.Equal(t, "", s.All()[0].Name)
	assert.Len(t, s.Backends(), 2)

	b, ok := s.Backend("only-other")
	require.True(t, ok)
	assert.Equal(t, "only-other", b.Name)

	assert.True(t, s.Delete("other"))
	assert.False(t, s.Delete("other"))
}
