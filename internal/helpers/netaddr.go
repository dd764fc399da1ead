// Package helpers holds small numeric and address utilities shared by the
// wire code. Narrowing conversions saturate at the bounds of the target type.
package helpers

import (
	"cmp"
	"math"
	"net/netip"
)

// ClampInt returns v limited to [lo, hi].
func ClampInt[T cmp.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

// ClampIntToUint8 narrows v to a uint8, saturating at 0 and 255.
func ClampIntToUint8(v int) uint8 {
	return uint8(ClampInt(v, 0, math.MaxUint8)) //nolint:gosec // saturated above
}

// MaskAddr zeroes every bit of addr past the first bits. IPv4-mapped
// addresses are unmapped first; bits is limited to the family's length.
func MaskAddr(addr netip.Addr, bits int) netip.Addr {
	addr = addr.Unmap()
	p, err := addr.Prefix(ClampInt(bits, 0, addr.BitLen()))
	if err != nil {
		return addr
	}
	return p.Addr()
}
