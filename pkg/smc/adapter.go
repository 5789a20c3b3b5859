package smc

// InhibitPayload returns the bytes that assert or clear discharge inhibit for
// the given adapter register.
func InhibitPayload(r Register, inhibit bool) []byte {
	if !inhibit {
		return r.Encode(0x00)
	}

	if r.Key == AdapterKey2 {
		return r.Encode(0x08)
	}
	return r.Encode(0x01)
}

// IsInhibited decodes a value read from an adapter register.
func IsInhibited(b []byte) bool {
	return len(b) == 1 && b[0] != 0x0
}
