package dns

// ErrorResponse turns the query held by v into an empty response with the
// given rcode. Everything after the question section is dropped; the
// transaction ID, opcode and the RD and CD bits are preserved.
func ErrorResponse(v *View, qEnd int, rc RCode) error {
	if err := v.Truncate(qEnd); err != nil {
		return err
	}
	v.SetANCount(0)
	v.SetNSCount(0)
	v.SetARCount(0)
	flags := v.Flags()&(OpcodeMask|ClientFlags) | QRFlag
	v.SetFlags(flags)
	v.SetRCode(rc)
	return nil
}

// TruncatedResponse turns the query held by v into a TC=1 response with an
// empty answer, so the client retries over a stream transport.
func TruncatedResponse(v *View, qEnd int) error {
	if err := ErrorResponse(v, qEnd, RCodeNoError); err != nil {
		return err
	}
	v.SetTruncated(true)
	return nil
}

// RestoreClientFlags replaces the client-controlled flag bits (RD, CD) of the
// message with those from orig, and forces QR.
func RestoreClientFlags(v *View, orig uint16) {
	v.SetFlags(v.Flags()&^ClientFlags | orig&ClientFlags | QRFlag)
}
