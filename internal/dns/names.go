package dns

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	maxNameLen     = 255
	maxPointerHops = 16
	pointerBits    = 0xC0
)

// Question is the single entry of a query's question section.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// NormalizeName lowercases name and strips one trailing dot, so "WWW.Example."
// and "www.example" compare equal.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// readQuestion decodes the question starting at off and returns it along with
// the offset of the byte after its class field.
func readQuestion(msg []byte, off int) (Question, int, error) {
	name, end, err := readName(msg, off)
	if err != nil {
		return Question{}, 0, err
	}
	if end+4 > len(msg) {
		return Question{}, 0, fmt.Errorf("%w: question ends after %d bytes", ErrDNSError, len(msg))
	}
	return Question{
		Name:  name,
		Type:  binary.BigEndian.Uint16(msg[end:]),
		Class: binary.BigEndian.Uint16(msg[end+2:]),
	}, end + 4, nil
}

// readName decodes the possibly compressed name at off. It returns the name
// without a trailing dot ("" for the root) and the offset just past the name
// as it appears at off, i.e. past the first compression pointer if any.
func readName(msg []byte, off int) (string, int, error) {
	var (
		sb   strings.Builder
		end  = -1
		hops int
	)
	for {
		if off >= len(msg) {
			return "", 0, fmt.Errorf("%w: name runs past end of message", ErrDNSError)
		}
		c := msg[off]
		switch c & pointerBits {
		case 0:
		case pointerBits:
			if off+1 >= len(msg) {
				return "", 0, fmt.Errorf("%w: truncated compression pointer", ErrDNSError)
			}
			if hops++; hops > maxPointerHops {
				return "", 0, fmt.Errorf("%w: compression pointer chain too long", ErrDNSError)
			}
			if end < 0 {
				end = off + 2
			}
			off = int(binary.BigEndian.Uint16(msg[off:]) &^ (pointerBits << 8))
			continue
		default:
			return "", 0, fmt.Errorf("%w: label type %#x not supported", ErrDNSError, c&pointerBits)
		}

		off++
		if c == 0 {
			break
		}
		label := msg[off:min(off+int(c), len(msg))]
		if len(label) < int(c) {
			return "", 0, fmt.Errorf("%w: label runs past end of message", ErrDNSError)
		}
		for _, b := range label {
			if b > 0x7F {
				return "", 0, fmt.Errorf("%w: non-ASCII byte in label", ErrDNSError)
			}
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.Write(label)
		if sb.Len() > maxNameLen {
			return "", 0, fmt.Errorf("%w: name longer than %d bytes", ErrDNSError, maxNameLen)
		}
		off += int(c)
	}
	if end < 0 {
		end = off
	}
	return sb.String(), end, nil
}

// SkipName returns the offset just past the wire-format name at off without
// decoding it. A compression pointer ends the name.
func SkipName(msg []byte, off int) (int, error) {
	for off < len(msg) {
		c := msg[off]
		switch {
		case c == 0:
			return off + 1, nil
		case c&pointerBits == pointerBits:
			if off+2 > len(msg) {
				return 0, fmt.Errorf("%w: truncated compression pointer", ErrDNSError)
			}
			return off + 2, nil
		case c&pointerBits != 0:
			return 0, fmt.Errorf("%w: label type %#x not supported", ErrDNSError, c&pointerBits)
		}
		off += 1 + int(c)
	}
	return 0, fmt.Errorf("%w: name runs past end of message", ErrDNSError)
}
