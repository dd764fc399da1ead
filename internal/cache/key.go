package cache

import (
	"encoding/binary"
	"hash/maphash"

	"github.com/jroosing/hydralb/internal/dns"
)

// hashSeed is the seed used by all caches to create keys, so a key computed
// once is valid for any pool's cache.
var hashSeed = maphash.MakeSeed()

// Key returns the fingerprint of the query in msg. It covers the question
// (name compared case-insensitively), the DO bit and the raw ECS option
// data, and ignores the transaction ID and all header flags. qEnd is the
// offset just past the question section.
func Key(msg []byte, q dns.Question, qEnd int) (uint64, error) {
	e, err := dns.ReadEDNS(msg, qEnd)
	if err != nil {
		return 0, err
	}

	h := &maphash.Hash{}
	h.SetSeed(hashSeed)
	_, _ = h.WriteString(dns.NormalizeName(q.Name))

	var buf [6]byte
	binary.LittleEndian.PutUint16(buf[:2], q.Type)
	binary.LittleEndian.PutUint16(buf[2:4], q.Class)
	if e.DNSSECOk {
		buf[4] = 1
	}
	if e.ECS != nil {
		buf[5] = 1
	}
	_, _ = h.Write(buf[:])
	_, _ = h.Write(e.ECS)

	return h.Sum64(), nil
}
