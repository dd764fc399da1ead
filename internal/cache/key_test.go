package cache_test

import (
	"net"
	"testing"

	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydralb/internal/cache"
	"github.com/jroosing/hydralb/internal/dns"
)

func keyOf(t *testing.T, m *mdns.Msg) uint64 {
	t.Helper()
	raw, err := m.Pack()
	require.NoError(t, err)
	v, err := dns.NewView(raw, len(raw))
	require.NoError(t, err)
	q, qEnd, err := v.Question()
	require.NoError(t, err)
	k, err := cache.Key(raw, q, qEnd)
	require.NoError(t, err)
	return k
}

func withECS(m *mdns.Msg, ip string, bits uint8) *mdns.Msg {
	m.SetEdns0(1232, false)
	m.IsEdns0().Option = append(m.IsEdns0().Option, &mdns.EDNS0_SUBNET{
		Code: mdns.EDNS0SUBNET, Family: 1, SourceNetmask: bits, Address: net.ParseIP(ip).To4(),
	})
	return m
}

func baseQuery() *mdns.Msg {
	m := new(mdns.Msg)
	m.SetQuestion("example.com.", mdns.TypeA)
	return m
}

func TestKey_IgnoresIDAndFlags(t *testing.T) {
	a := baseQuery()
	a.Id = 1
	b := baseQuery()
	b.Id = 2
	b.RecursionDesired = false
	b.CheckingDisabled = true
	b.AuthenticatedData = true
	b.Question[0].Name = "EXAMPLE.com."

	assert.Equal(t, keyOf(t, a), keyOf(t, b))
}

func TestKey_ECSBits(t *testing.T) {
	a := withECS(baseQuery(), "192.0.2.0", 24)
	b := withECS(baseQuery(), "192.0.2.0", 24)
	b.Id = 77
	assert.Equal(t, keyOf(t, a), keyOf(t, b))

	c := withECS(baseQuery(), "198.51.100.0", 24)
	assert.NotEqual(t, keyOf(t, a), keyOf(t, c))

	d := withECS(baseQuery(), "192.0.2.0", 16)
	assert.NotEqual(t, keyOf(t, a), keyOf(t, d))

	assert.NotEqual(t, keyOf(t, a), keyOf(t, baseQuery()))
}

func TestKey_QuestionAndDO(t *testing.T) {
	base := keyOf(t, baseQuery())

	aaaa := baseQuery()
	aaaa.Question[0].Qtype = mdns.TypeAAAA
	assert.NotEqual(t, base, keyOf(t, aaaa))

	other := baseQuery()
	other.Question[0].Name = "example.net."
	assert.NotEqual(t, base, keyOf(t, other))

	do := baseQuery()
	do.SetEdns0(1232, true)
	noDO := baseQuery()
	noDO.SetEdns0(1232, false)
	assert.NotEqual(t, keyOf(t, do), keyOf(t, noDO))
	assert.Equal(t, base, keyOf(t, noDO), "an OPT without DO or ECS does not change the key")
}
