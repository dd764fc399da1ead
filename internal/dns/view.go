package dns

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the length of the fixed message header.
const HeaderSize = 12

// View is a mutable accessor over a caller-owned buffer holding a single DNS
// message. The buffer's capacity bounds every growth operation; the occupied
// length tracks how much of it is the message. All writes go straight to the
// underlying array, the view never keeps its own copy.
type View struct {
	buf []byte // buf[:cap] of the caller's slice
	n   int
}

// NewView wraps buf, of which the first n bytes hold a DNS message. The
// remaining capacity of buf (up to cap(buf)) is available to Append and
// Splice.
func NewView(buf []byte, n int) (*View, error) {
	if n < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a DNS header", ErrMalformedPacket, n)
	}
	if n > cap(buf) {
		return nil, fmt.Errorf("%w: length %d exceeds buffer capacity %d", ErrMalformedPacket, n, cap(buf))
	}
	return &View{buf: buf[:cap(buf)], n: n}, nil
}

// Bytes returns the occupied part of the buffer. The slice aliases the view.
func (v *View) Bytes() []byte { return v.buf[:v.n] }

// Len returns the occupied length.
func (v *View) Len() int { return v.n }

// Cap returns the total capacity available to the message.
func (v *View) Cap() int { return len(v.buf) }

// Buffer returns the whole buffer up to its capacity. A caller that writes a
// new message into it declares the message length with SetLen.
func (v *View) Buffer() []byte { return v.buf }

// SetLen declares the first n bytes of the buffer to be the message.
func (v *View) SetLen(n int) error {
	if n < HeaderSize || n > len(v.buf) {
		return fmt.Errorf("%w: length %d outside [%d,%d]", ErrMalformedPacket, n, HeaderSize, len(v.buf))
	}
	v.n = n
	return nil
}

// Truncate shrinks the occupied length to n.
func (v *View) Truncate(n int) error {
	if n < HeaderSize || n > v.n {
		return fmt.Errorf("%w: cannot truncate %d byte message to %d", ErrDNSError, v.n, n)
	}
	v.n = n
	return nil
}

// ID returns the transaction identifier.
func (v *View) ID() uint16 { return binary.BigEndian.Uint16(v.buf[0:2]) }

// SetID overwrites the transaction identifier.
func (v *View) SetID(id uint16) { binary.BigEndian.PutUint16(v.buf[0:2], id) }

// Flags returns the raw 16-bit flags word.
func (v *View) Flags() uint16 { return binary.BigEndian.Uint16(v.buf[2:4]) }

// SetFlags overwrites the raw 16-bit flags word.
func (v *View) SetFlags(f uint16) { binary.BigEndian.PutUint16(v.buf[2:4], f) }

// IsResponse reports whether the QR bit is set.
func (v *View) IsResponse() bool { return v.Flags()&QRFlag != 0 }

// SetResponse sets or clears the QR bit.
func (v *View) SetResponse(on bool) { v.setFlag(QRFlag, on) }

// SetTruncated sets or clears the TC bit.
func (v *View) SetTruncated(on bool) { v.setFlag(TCFlag, on) }

// Opcode returns the 4-bit operation code.
func (v *View) Opcode() uint16 { return OpcodeFromFlags(v.Flags()) }

// RCode returns the response code.
func (v *View) RCode() RCode { return RCodeFromFlags(v.Flags()) }

// SetRCode replaces the response code bits.
func (v *View) SetRCode(rc RCode) {
	v.SetFlags(v.Flags()&^RCodeMask | uint16(rc)&RCodeMask)
}

func (v *View) setFlag(bit uint16, on bool) {
	if on {
		v.SetFlags(v.Flags() | bit)
		return
	}
	v.SetFlags(v.Flags() &^ bit)
}

// Section counts.
func (v *View) QDCount() uint16 { return binary.BigEndian.Uint16(v.buf[4:6]) }
func (v *View) ANCount() uint16 { return binary.BigEndian.Uint16(v.buf[6:8]) }
func (v *View) NSCount() uint16 { return binary.BigEndian.Uint16(v.buf[8:10]) }
func (v *View) ARCount() uint16 { return binary.BigEndian.Uint16(v.buf[10:12]) }

func (v *View) SetQDCount(c uint16) { binary.BigEndian.PutUint16(v.buf[4:6], c) }
func (v *View) SetANCount(c uint16) { binary.BigEndian.PutUint16(v.buf[6:8], c) }
func (v *View) SetNSCount(c uint16) { binary.BigEndian.PutUint16(v.buf[8:10], c) }
func (v *View) SetARCount(c uint16) { binary.BigEndian.PutUint16(v.buf[10:12], c) }

// Question decodes the first question. The returned name is lowercased and
// has no trailing dot. The int is the offset of the first byte following the
// question, which is where the answer section (or, for a plain query, the
// additional section) begins.
func (v *View) Question() (Question, int, error) {
	if v.QDCount() == 0 {
		return Question{}, 0, fmt.Errorf("%w: no question", ErrMalformedPacket)
	}
	q, off, err := readQuestion(v.buf[:v.n], HeaderSize)
	if err != nil {
		return Question{}, 0, fmt.Errorf("%w: %w", ErrMalformedPacket, err)
	}
	q.Name = NormalizeName(q.Name)
	return q, off, nil
}

// Append copies b after the occupied bytes. It fails with ErrNoCapacity,
// leaving the view untouched, when b does not fit.
func (v *View) Append(b []byte) error {
	if v.n+len(b) > len(v.buf) {
		return fmt.Errorf("%w: need %d bytes, %d available", ErrNoCapacity, len(b), len(v.buf)-v.n)
	}
	copy(v.buf[v.n:], b)
	v.n += len(b)
	return nil
}

// Splice replaces the del bytes starting at off with ins, moving the rest of
// the message. Offsets past off are invalidated.
func (v *View) Splice(off, del int, ins []byte) error {
	if off < HeaderSize || del < 0 || off+del > v.n {
		return fmt.Errorf("%w: splice [%d,%d) outside message of %d bytes", ErrDNSError, off, off+del, v.n)
	}
	newLen := v.n - del + len(ins)
	if newLen > len(v.buf) {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrNoCapacity, newLen, len(v.buf))
	}
	copy(v.buf[off+len(ins):newLen], v.buf[off+del:v.n])
	copy(v.buf[off:], ins)
	v.n = newLen
	return nil
}
