package codec

import "encoding/binary"

// Payload layout, fixed size headerSize + S:
//
//	[0]   kind (systematic | repair)
//	[1]   reserved
//	[2:4] width, symbols combined (repair only), uint16 LE
//	[4:8] symbol index (systematic) or coefficient seed (repair), uint32 LE
//	[8:]  S bytes of symbol data
const (
	kindSystematic byte = 0x00
	kindRepair     byte = 0x01

	headerSize = 8
)

func putHeader(out []byte, kind byte, width int, ref uint32) {
	out[0] = kind
	out[1] = 0
	binary.LittleEndian.PutUint16(out[2:4], uint16(width))
	binary.LittleEndian.PutUint32(out[4:8], ref)
}

// coefficients expands a seed into the repair coefficient vector over the
// first width symbols. Both sides derive the same vector, so only the seed
// travels on the wire. The vector is never all-zero.
func coefficients(seed uint32, width int, out []byte) {
	s := seed
	nonzero := false
	for i := 0; i < width; i++ {
		s ^= s << 13
		s ^= s >> 17
		s ^= s << 5
		out[i] = byte(s)
		if out[i] != 0 {
			nonzero = true
		}
	}
	if !nonzero {
		out[width-1] = 1
	}
}
