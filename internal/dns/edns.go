package dns

import (
	"encoding/binary"
	"fmt"
)

// EDNS (Extension Mechanisms for DNS) constants per RFC 6891.
const (
	DefaultUDPPayloadSize     = 512  // Traditional DNS UDP limit (RFC 1035)
	EDNSDefaultUDPPayloadSize = 1232 // Safe EDNS size avoiding fragmentation
	EDNSMaxUDPPayloadSize     = 4096 // Maximum practical EDNS UDP size
)

// EDNS option codes used by the balancer.
const (
	OptionCodeECS    uint16 = 8  // RFC 7871
	OptionCodeCookie uint16 = 10 // RFC 7873
)

const (
	ednsOptionHeaderLen = 4
	// optRRLen is root name + TYPE + CLASS + TTL + RDLENGTH.
	optRRLen = 1 + rrFixedLen
	doBit    = 1 << 15
)

// EDNS summarizes the OPT pseudo-record of a message.
//
// The OPT record uses a non-standard encoding:
//   - NAME: Must be root (0x00)
//   - TYPE: 41 (OPT)
//   - CLASS: Sender's UDP payload size (not a class!)
//   - TTL: Extended RCODE, version, and flags (packed into 32 bits)
//   - RDATA: Zero or more EDNS options
type EDNS struct {
	Present        bool
	UDPPayloadSize uint16
	DNSSECOk       bool
	// ECS is the raw ECS option data (nil when absent). It aliases the message.
	ECS []byte
	loc RRLoc
}

// ReadEDNS locates the OPT record in the additional section of msg. qEnd is
// the offset just past the question section.
func ReadEDNS(msg []byte, qEnd int) (EDNS, error) {
	var e EDNS
	err := WalkRecords(msg, qEnd, func(rr RRLoc) bool {
		if rr.Section != SectionAdditional || rr.Type != TypeOPT {
			return true
		}
		e.Present = true
		e.loc = rr
		e.UDPPayloadSize = rr.Class
		e.DNSSECOk = rr.TTL&doBit != 0
		if s, end, ok := findOption(msg[rr.RData:rr.End], OptionCodeECS); ok {
			e.ECS = msg[rr.RData+s+ednsOptionHeaderLen : rr.RData+end]
		}
		return false
	})
	if err != nil {
		return EDNS{}, err
	}
	return e, nil
}

// findOption returns the [start,end) range of the first option with the
// given code inside an OPT RDATA blob, header included.
func findOption(rdata []byte, code uint16) (int, int, bool) {
	for i := 0; i+ednsOptionHeaderLen <= len(rdata); {
		c := binary.BigEndian.Uint16(rdata[i : i+2])
		ln := int(binary.BigEndian.Uint16(rdata[i+2 : i+4]))
		end := i + ednsOptionHeaderLen + ln
		if end > len(rdata) {
			return 0, 0, false
		}
		if c == code {
			return i, end, true
		}
		i = end
	}
	return 0, 0, false
}

// appendOption encodes a single option (code, length, data).
func appendOption(b []byte, code uint16, data []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, code)
	b = binary.BigEndian.AppendUint16(b, uint16(len(data)))
	return append(b, data...)
}

// newOPT builds an OPT record carrying the given RDATA.
func newOPT(udpSize uint16, rdata []byte) []byte {
	b := make([]byte, 0, optRRLen+len(rdata))
	b = append(b, 0) // root owner
	b = binary.BigEndian.AppendUint16(b, uint16(TypeOPT))
	b = binary.BigEndian.AppendUint16(b, udpSize)
	b = binary.BigEndian.AppendUint32(b, 0)
	b = binary.BigEndian.AppendUint16(b, uint16(len(rdata)))
	return append(b, rdata...)
}

// SetClientSubnet makes the message carry cs as its ECS option.
//
// When the message has no OPT record one is appended, holding only the ECS
// option (ednsAdded and ecsAdded are both true). When it has an OPT record
// without ECS, the option is added to it (ecsAdded). An existing ECS option is
// only replaced when override is set; neither flag is reported in that case.
// On ErrNoCapacity the message is left unchanged.
func SetClientSubnet(v *View, qEnd int, cs ClientSubnet, override bool) (ednsAdded, ecsAdded bool, err error) {
	e, err := ReadEDNS(v.Bytes(), qEnd)
	if err != nil {
		return false, false, err
	}
	data := cs.Pack()

	if !e.Present {
		if v.ARCount() == 0xFFFF {
			return false, false, fmt.Errorf("%w: additional section full", ErrDNSError)
		}
		opt := newOPT(EDNSMaxUDPPayloadSize, appendOption(nil, OptionCodeECS, data))
		if err := v.Append(opt); err != nil {
			return false, false, err
		}
		v.SetARCount(v.ARCount() + 1)
		return true, true, nil
	}

	if e.ECS != nil && !override {
		return false, false, nil
	}

	msg := v.Bytes()
	rdlen := e.loc.RDLength()
	if e.ECS != nil {
		s, end, _ := findOption(msg[e.loc.RData:e.loc.End], OptionCodeECS)
		opt := appendOption(nil, OptionCodeECS, data)
		newRDLen := rdlen - (end - s) + len(opt)
		if newRDLen > 0xFFFF {
			return false, false, fmt.Errorf("%w: OPT RDATA too long", ErrDNSError)
		}
		if err := v.Splice(e.loc.RData+s, end-s, opt); err != nil {
			return false, false, err
		}
		binary.BigEndian.PutUint16(v.buf[e.loc.RDLengthOffset():], uint16(newRDLen))
		return false, false, nil
	}

	opt := appendOption(nil, OptionCodeECS, data)
	if rdlen+len(opt) > 0xFFFF {
		return false, false, fmt.Errorf("%w: OPT RDATA too long", ErrDNSError)
	}
	if err := v.Splice(e.loc.End, 0, opt); err != nil {
		return false, false, err
	}
	binary.BigEndian.PutUint16(v.buf[e.loc.RDLengthOffset():], uint16(rdlen+len(opt)))
	return false, true, nil
}

// RemoveECS deletes the ECS option from the OPT record, if any.
func RemoveECS(v *View, qEnd int) error {
	e, err := ReadEDNS(v.Bytes(), qEnd)
	if err != nil || e.ECS == nil {
		return err
	}
	s, end, _ := findOption(v.Bytes()[e.loc.RData:e.loc.End], OptionCodeECS)
	if err := v.Splice(e.loc.RData+s, end-s, nil); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(v.buf[e.loc.RDLengthOffset():], uint16(e.loc.RDLength()-(end-s)))
	return nil
}

// RemoveOPT deletes the OPT record, if any, and decrements ARCOUNT.
func RemoveOPT(v *View, qEnd int) error {
	e, err := ReadEDNS(v.Bytes(), qEnd)
	if err != nil || !e.Present {
		return err
	}
	if err := v.Splice(e.loc.Start, e.loc.End-e.loc.Start, nil); err != nil {
		return err
	}
	v.SetARCount(v.ARCount() - 1)
	return nil
}

// IsTruncated checks if a DNS message has the TC (Truncation) flag set.
func IsTruncated(msg []byte) bool {
	if len(msg) < 4 {
		return false
	}
	return binary.BigEndian.Uint16(msg[2:4])&TCFlag != 0
}
