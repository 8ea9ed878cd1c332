package moq

import "encoding/binary"

// SplitAnnexB splits an Annex B byte stream into NAL units, each returned
// with its start code.
func SplitAnnexB(data []byte) [][]byte {
	var starts []int
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			s := i
			if i > 0 && data[i-1] == 0 {
				s = i - 1
			}
			starts = append(starts, s)
			i += 2
		}
	}
	if len(starts) == 0 {
		return nil
	}
	nalus := make([][]byte, 0, len(starts))
	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		nalus = append(nalus, data[s:end])
	}
	return nalus
}

// AnnexBToAVC1 converts Annex B NALUs to AVC1 format (4-byte big-endian
// length prefixed).
func AnnexBToAVC1(nalus [][]byte) []byte {
	var total int
	for _, nalu := range nalus {
		total += 4 + len(stripStartCode(nalu))
	}

	out := make([]byte, 0, total)
	for _, nalu := range nalus {
		raw := stripStartCode(nalu)
		out = binary.BigEndian.AppendUint32(out, uint32(len(raw)))
		out = append(out, raw...)
	}
	return out
}

// stripStartCode removes a 3-byte or 4-byte Annex B start code prefix.
func stripStartCode(nalu []byte) []byte {
	if len(nalu) >= 4 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 0 && nalu[3] == 1 {
		return nalu[4:]
	}
	if len(nalu) >= 3 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 1 {
		return nalu[3:]
	}
	return nalu
}

// StripADTS removes the ADTS header from a complete ADTS frame, returning
// the raw AAC payload. Returns the input unchanged if it is not a valid
// ADTS frame.
func StripADTS(data []byte) []byte {
	if len(data) < 7 {
		return data
	}
	if data[0] != 0xFF || (data[1]&0xF0) != 0xF0 {
		return data
	}
	headerSize := 7
	if (data[1] & 0x01) == 0 {
		headerSize = 9
	}
	if len(data) <= headerSize {
		return data
	}
	return data[headerSize:]
}
