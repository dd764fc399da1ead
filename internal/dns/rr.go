package dns

import (
	"encoding/binary"
	"fmt"
)

// Section identifies one of the three resource record sections.
type Section int

const (
	SectionAnswer Section = iota
	SectionAuthority
	SectionAdditional
)

// rrFixedLen is TYPE + CLASS + TTL + RDLENGTH.
const rrFixedLen = 10

// RRLoc describes where one resource record sits inside a message. Offsets
// are absolute and only valid until the message is next resized.
type RRLoc struct {
	Section Section
	Start   int // first byte of the owner name
	Fixed   int // first byte of TYPE
	RData   int // first byte of RDATA
	End     int // first byte after RDATA
	Type    RecordType
	Class   uint16
	TTL     uint32
}

// RDLength returns the RDATA length.
func (r RRLoc) RDLength() int { return r.End - r.RData }

// TTLOffset returns the offset of the 32-bit TTL field.
func (r RRLoc) TTLOffset() int { return r.Fixed + 4 }

// RDLengthOffset returns the offset of the 16-bit RDLENGTH field.
func (r RRLoc) RDLengthOffset() int { return r.Fixed + 8 }

// WalkRecords visits every answer, authority and additional record after
// off, which must point just past the question section. Returning false from
// fn stops the walk.
func WalkRecords(msg []byte, off int, fn func(RRLoc) bool) error {
	if len(msg) < HeaderSize {
		return fmt.Errorf("%w: message shorter than header", ErrDNSError)
	}
	counts := [3]int{
		int(binary.BigEndian.Uint16(msg[6:8])),
		int(binary.BigEndian.Uint16(msg[8:10])),
		int(binary.BigEndian.Uint16(msg[10:12])),
	}
	for sec, n := range counts {
		for range n {
			rr, next, err := readRR(msg, off)
			if err != nil {
				return err
			}
			rr.Section = Section(sec)
			if !fn(rr) {
				return nil
			}
			off = next
		}
	}
	return nil
}

func readRR(msg []byte, off int) (RRLoc, int, error) {
	fixed, err := SkipName(msg, off)
	if err != nil {
		return RRLoc{}, 0, err
	}
	if fixed+rrFixedLen > len(msg) {
		return RRLoc{}, 0, fmt.Errorf("%w: unexpected EOF in resource record header", ErrDNSError)
	}
	rdlen := int(binary.BigEndian.Uint16(msg[fixed+8 : fixed+10]))
	rdata := fixed + rrFixedLen
	if rdata+rdlen > len(msg) {
		return RRLoc{}, 0, fmt.Errorf("%w: RDATA runs past end of message", ErrDNSError)
	}
	rr := RRLoc{
		Start: off,
		Fixed: fixed,
		RData: rdata,
		End:   rdata + rdlen,
		Type:  RecordType(binary.BigEndian.Uint16(msg[fixed : fixed+2])),
		Class: binary.BigEndian.Uint16(msg[fixed+2 : fixed+4]),
		TTL:   binary.BigEndian.Uint32(msg[fixed+4 : fixed+8]),
	}
	return rr, rr.End, nil
}
