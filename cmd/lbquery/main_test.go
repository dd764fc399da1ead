package main

import (
	"testing"

	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQuery(t *testing.T) {
	m, err := buildQuery("example.com", "aaaa", "198.51.100.77/24", true, 1232)
	require.NoError(t, err)
	assert.Equal(t, "example.com.", m.Question[0].Name)
	assert.Equal(t, mdns.TypeAAAA, m.Question[0].Qtype)

	opt := m.IsEdns0()
	require.NotNil(t, opt)
	assert.True(t, opt.Do())
	assert.Equal(t, uint16(1232), opt.UDPSize())
	require.Len(t, opt.Option, 1)
	ecs := opt.Option[0].(*mdns.EDNS0_SUBNET)
	assert.Equal(t, uint16(1), ecs.Family)
	assert.Equal(t, uint8(24), ecs.SourceNetmask)
	assert.Equal(t, "198.51.100.0", ecs.Address.String())
}

func TestBuildQuery_Errors(t *testing.T) {
	_, err := buildQuery(" ", "A", "", false, 1232)
	assert.Error(t, err)
	_, err = buildQuery("example.com", "NOPE", "", false, 1232)
	assert.Error(t, err)
	_, err = buildQuery("example.com", "A", "not-a-cidr", false, 1232)
	assert.Error(t, err)
	_, err = buildQuery("example.com", "A", "2001:db8::/56", false, 0)
	assert.Error(t, err)

	m, err := buildQuery("example.com", "A", "", false, 0)
	require.NoError(t, err)
	assert.Nil(t, m.IsEdns0())
}
