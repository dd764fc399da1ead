package dns

import "strconv"

// Bits of the 16-bit flags word in the message header (RFC 1035 4.1.1,
// RFC 4035 3.2 for AD and CD).
const (
	QRFlag     uint16 = 1 << 15
	OpcodeMask uint16 = 0xF << 11
	AAFlag     uint16 = 1 << 10
	TCFlag     uint16 = 1 << 9
	RDFlag     uint16 = 1 << 8
	RAFlag     uint16 = 1 << 7
	ADFlag     uint16 = 1 << 5
	CDFlag     uint16 = 1 << 4
	RCodeMask  uint16 = 0xF
)

// ClientFlags are the header bits chosen by the client that must survive the
// round trip through a backend or the cache unchanged.
const ClientFlags = RDFlag | CDFlag

// OpcodeQuery is the standard query opcode.
const OpcodeQuery uint16 = 0

// RecordType is a resource record TYPE. Only the values the balancer looks
// at are named here.
type RecordType uint16

const (
	TypeA    RecordType = 1
	TypeSOA  RecordType = 6
	TypeMX   RecordType = 15
	TypeTXT  RecordType = 16
	TypeAAAA RecordType = 28
	TypeOPT  RecordType = 41
	TypeANY  RecordType = 255
)

// RecordClass is a resource record CLASS.
type RecordClass uint16

const ClassIN RecordClass = 1

// RCode is the 4-bit response code carried in the header.
type RCode uint16

const (
	RCodeNoError RCode = iota
	RCodeFormErr
	RCodeServFail
	RCodeNXDomain
	RCodeNotImp
	RCodeRefused
)

var rcodeNames = [...]string{"NOERROR", "FORMERR", "SERVFAIL", "NXDOMAIN", "NOTIMP", "REFUSED"}

func (r RCode) String() string {
	if int(r) < len(rcodeNames) {
		return rcodeNames[r]
	}
	return "RCODE" + strconv.Itoa(int(r))
}

// RCodeFromFlags returns the response code held in a flags word.
func RCodeFromFlags(flags uint16) RCode { return RCode(flags & RCodeMask) }

// OpcodeFromFlags returns the opcode held in a flags word.
func OpcodeFromFlags(flags uint16) uint16 { return (flags & OpcodeMask) >> 11 }
