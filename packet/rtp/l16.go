package rtp

// L16Payloader splits big-endian 16-bit PCM (RFC 3551 L16) into payloads
// that never cut a sample frame in half.
type L16Payloader struct {
	Channels int
}

func (p *L16Payloader) Payload(mtu uint16, payload []byte) [][]byte {
	frame := 2 * max(p.Channels, 1)
	size := int(mtu) / frame * frame
	if size == 0 || len(payload) == 0 {
		return nil
	}

	out := make([][]byte, 0, (len(payload)+size-1)/size)
	for len(payload) > 0 {
		n := min(size, len(payload))
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out
}
