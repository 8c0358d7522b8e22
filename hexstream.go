package fpgaload

// DecoderState carries a high nibble across chunk boundaries.
type DecoderState struct {
	Nibble  byte
	Pending bool
}

// DecodeHex converts ASCII hex digits in chunk to bytes, pairing digits
// high nibble first and continuing from carry.
//
// Bytes below '0' (whitespace, CR/LF, most punctuation) are skipped. Any other
// non-hex byte decodes as 0; its offset in chunk is reported in malformed so
// the caller can decide whether to fail.
func DecodeHex(chunk []byte, carry DecoderState) (out []byte, next DecoderState, malformed []int) {
	out = make([]byte, 0, len(chunk)/2+1)
	next = carry
	for i, c := range chunk {
		if c < '0' {
			continue
		}
		v, ok := hexValue(c)
		if !ok {
			malformed = append(malformed, i)
		}
		if !next.Pending {
			next = DecoderState{Nibble: v, Pending: true}
			continue
		}
		out = append(out, next.Nibble<<4|v)
		next = DecoderState{}
	}
	return out, next, malformed
}

func hexValue(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// HexDecoder is the stateful form of DecodeHex used by an upload session.
type HexDecoder struct {
	state DecoderState
}

func (d *HexDecoder) Decode(chunk []byte) (out []byte, malformed []int) {
	out, d.state, malformed = DecodeHex(chunk, d.state)
	return out, malformed
}

// Pending reports the held high nibble, if any.
func (d *HexDecoder) Pending() (nibble byte, ok bool) {
	return d.state.Nibble, d.state.Pending
}

func (d *HexDecoder) Reset() {
	d.state = DecoderState{}
}
