package dns

import "fmt"

// Record count limits for queries accepted from clients.
const (
	MaxRRPerSection = 100 // Maximum resource records per section
	MaxTotalRR      = 200 // Maximum total resource records
)

// ValidateQuery checks that v holds a standard query the balancer can
// dispatch: QR clear, opcode QUERY, exactly one question and bounded record
// counts. Errors wrap ErrMalformedPacket.
func ValidateQuery(v *View) error {
	if v.IsResponse() {
		return fmt.Errorf("%w: QR flag set (response packet received)", ErrMalformedPacket)
	}
	if op := v.Opcode(); op != OpcodeQuery {
		return fmt.Errorf("%w: unsupported opcode %d", ErrMalformedPacket, op)
	}
	if qd := v.QDCount(); qd != 1 {
		return fmt.Errorf("%w: unsupported question count %d", ErrMalformedPacket, qd)
	}
	an, ns, ar := int(v.ANCount()), int(v.NSCount()), int(v.ARCount())
	if max(an, ns, ar) > MaxRRPerSection {
		return fmt.Errorf("%w: too many resource records", ErrMalformedPacket)
	}
	if an+ns+ar > MaxTotalRR {
		return fmt.Errorf("%w: too many total resource records", ErrMalformedPacket)
	}
	return nil
}
