package dns

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/jroosing/hydralb/internal/helpers"
)

// Address families used by the ECS option (IANA address family numbers).
const (
	ECSFamilyIPv4 uint16 = 1
	ECSFamilyIPv6 uint16 = 2
)

// Default source prefix lengths applied to client addresses.
const (
	DefaultECSPrefixV4 = 24
	DefaultECSPrefixV6 = 56
)

// ClientSubnet is the content of an EDNS Client Subnet option (RFC 7871).
//
//	+0 (MSB)                            +1 (LSB)
//	+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+
//	|                            FAMILY                             |
//	+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+
//	|     SOURCE PREFIX-LENGTH      |     SCOPE PREFIX-LENGTH       |
//	+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+
//	|                           ADDRESS...                          /
//	+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+
type ClientSubnet struct {
	Addr         netip.Addr // already masked to SourcePrefix
	SourcePrefix uint8
	ScopePrefix  uint8
}

// NewClientSubnet masks addr to v4Bits or v6Bits depending on its family.
func NewClientSubnet(addr netip.Addr, v4Bits, v6Bits int) ClientSubnet {
	addr = addr.Unmap()
	bits := v6Bits
	if addr.Is4() {
		bits = v4Bits
	}
	bits = helpers.ClampInt(bits, 0, addr.BitLen())
	return ClientSubnet{
		Addr:         helpers.MaskAddr(addr, bits),
		SourcePrefix: helpers.ClampIntToUint8(bits),
	}
}

// Family returns the ECS family code of the address.
func (c ClientSubnet) Family() uint16 {
	if c.Addr.Is4() {
		return ECSFamilyIPv4
	}
	return ECSFamilyIPv6
}

// Pack encodes the option data. Only the bytes covered by the source prefix
// are emitted.
func (c ClientSubnet) Pack() []byte {
	n := (int(c.SourcePrefix) + 7) / 8
	raw := c.Addr.AsSlice()
	if n > len(raw) {
		n = len(raw)
	}
	b := make([]byte, 0, 4+n)
	b = binary.BigEndian.AppendUint16(b, c.Family())
	b = append(b, c.SourcePrefix, c.ScopePrefix)
	return append(b, raw[:n]...)
}

// String renders the subnet as a CIDR prefix.
func (c ClientSubnet) String() string {
	return netip.PrefixFrom(c.Addr, int(c.SourcePrefix)).String()
}

// ParseClientSubnet decodes ECS option data.
func ParseClientSubnet(data []byte) (ClientSubnet, error) {
	if len(data) < 4 {
		return ClientSubnet{}, fmt.Errorf("%w: ECS option too short", ErrDNSError)
	}
	family := binary.BigEndian.Uint16(data[0:2])
	src, scope := data[2], data[3]
	addrBytes := data[4:]

	var full []byte
	switch family {
	case ECSFamilyIPv4:
		full = make([]byte, 4)
	case ECSFamilyIPv6:
		full = make([]byte, 16)
	default:
		return ClientSubnet{}, fmt.Errorf("%w: unknown ECS family %d", ErrDNSError, family)
	}
	if int(src) > len(full)*8 || len(addrBytes) != (int(src)+7)/8 {
		return ClientSubnet{}, fmt.Errorf("%w: ECS prefix %d does not match %d address bytes", ErrDNSError, src, len(addrBytes))
	}
	copy(full, addrBytes)
	addr, _ := netip.AddrFromSlice(full)
	return ClientSubnet{
		Addr:         helpers.MaskAddr(addr, int(src)),
		SourcePrefix: src,
		ScopePrefix:  scope,
	}, nil
}
