package dns

import (
	"encoding/binary"
	"math"
)

// MinTTL returns the smallest TTL among the answer and authority records of
// msg. qEnd is the offset just past the question section. The bool is false
// when there is no record to take a TTL from.
func MinTTL(msg []byte, qEnd int) (uint32, bool, error) {
	minTTL := uint32(math.MaxUint32)
	found := false
	err := WalkRecords(msg, qEnd, func(rr RRLoc) bool {
		if rr.Section == SectionAdditional {
			return false
		}
		if rr.TTL < minTTL {
			minTTL = rr.TTL
		}
		found = true
		return true
	})
	if err != nil || !found {
		return 0, false, err
	}
	return minTTL, true, nil
}

// SOAMinimum returns the negative caching TTL of a response, which is the
// smaller of the SOA record's own TTL and its MINIMUM field (RFC 2308
// Section 5). The bool is false when the authority section has no SOA.
//
// SOA RDATA format:
//
//	/ MNAME / RNAME / SERIAL / REFRESH / RETRY / EXPIRE / MINIMUM /
func SOAMinimum(msg []byte, qEnd int) (uint32, bool, error) {
	var (
		ttl   uint32
		found bool
	)
	err := WalkRecords(msg, qEnd, func(rr RRLoc) bool {
		if rr.Section == SectionAdditional {
			return false
		}
		if rr.Section != SectionAuthority || rr.Type != TypeSOA {
			return true
		}
		off, err := SkipName(msg, rr.RData)
		if err != nil {
			return false
		}
		if off, err = SkipName(msg, off); err != nil {
			return false
		}
		if off+20 > rr.End {
			return false
		}
		ttl = min(rr.TTL, binary.BigEndian.Uint32(msg[off+16:off+20]))
		found = true
		return false
	})
	if err != nil {
		return 0, false, err
	}
	return ttl, found, nil
}

// AgeTTLs subtracts age seconds from every record TTL of msg in place,
// flooring at zero. OPT pseudo-records are left untouched since their TTL
// field carries flags.
func AgeTTLs(msg []byte, qEnd int, age uint32) error {
	if age == 0 {
		return nil
	}
	return WalkRecords(msg, qEnd, func(rr RRLoc) bool {
		if rr.Type == TypeOPT {
			return true
		}
		ttl := rr.TTL
		if ttl > age {
			ttl -= age
		} else {
			ttl = 0
		}
		binary.BigEndian.PutUint32(msg[rr.TTLOffset():], ttl)
		return true
	})
}
