package column

import "encoding/binary"

// CompressionKind selects how a flushed chunk's bytes are laid out on disk
// (spec §4.D).
type CompressionKind uint8

const (
	Uncompressed CompressionKind = iota
	Constant
	Bitpacked
)

func (k CompressionKind) String() string {
	switch k {
	case Uncompressed:
		return "uncompressed"
	case Constant:
		return "constant"
	case Bitpacked:
		return "bitpacked"
	default:
		return "unknown"
	}
}

// Metadata is the persisted per-chunk descriptor spec §3 calls compression
// metadata: variant, bit-width, base, min/max, and null-count.
type Metadata struct {
	Kind CompressionKind

	// Constant holds the shared value's raw encoding, valid when Kind ==
	// Constant.
	Constant []byte

	// BitWidth and Base apply when Kind == Bitpacked: every stored value
	// is (raw_bits + Base), raw_bits taking BitWidth bits.
	BitWidth int
	Base     int64

	Min, Max []byte // raw encodings, meaningful for numeric scalar types
	HasMinMax bool
	NullCount int
}

// bitWidthFor returns ceil(log2(span+1)), the number of bits needed to
// represent every integer in [0, span] (spec §4.D choice rule). span is
// unsigned so a full 64-bit range (e.g. max-min spanning the entire int64
// domain) doesn't overflow the computation.
func bitWidthFor(span uint64) int {
	if span == 0 {
		return 0
	}
	bw := 0
	for v := span; v > 0; v >>= 1 {
		bw++
	}
	return bw
}

// packBits packs len(values) integers, each already reduced to an unsigned
// bw-bit field (value - base), into a tightly packed little-endian bit
// stream. This is spec §4.D's generic SingleValuePacker.
func packBits(values []uint64, bitWidth int) []byte {
	if bitWidth == 0 {
		return nil
	}
	totalBits := len(values) * bitWidth
	out := make([]byte, (totalBits+7)/8)
	bitPos := 0
	for _, v := range values {
		for b := 0; b < bitWidth; b++ {
			if v&(1<<uint(b)) != 0 {
				out[bitPos/8] |= 1 << uint(bitPos%8)
			}
			bitPos++
		}
	}
	return out
}

// unpackBits decodes the i-th bw-bit field from a SingleValuePacker stream.
func unpackBits(data []byte, i, bitWidth int) uint64 {
	if bitWidth == 0 {
		return 0
	}
	var v uint64
	bitPos := i * bitWidth
	for b := 0; b < bitWidth; b++ {
		byteIdx := bitPos / 8
		bitIdx := uint(bitPos % 8)
		if byteIdx < len(data) && data[byteIdx]&(1<<bitIdx) != 0 {
			v |= 1 << uint(b)
		}
		bitPos++
	}
	return v
}

func putInt64(width int, raw []byte, v int64) {
	switch width {
	case 1:
		raw[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(raw, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(raw, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(raw, uint64(v))
	}
}

func getInt64(width int, raw []byte) int64 {
	switch width {
	case 1:
		return int64(int8(raw[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(raw)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(raw)))
	case 8:
		return int64(binary.LittleEndian.Uint64(raw))
	}
	return 0
}

// asSigned projects a raw fixed-width slot into an int64 for min/max and
// bit-width computation. ok is false for types the bitpack/constant
// pipeline does not cover (float/double/int128/struct-null-only), which
// fall back to Uncompressed-or-Constant-by-byte-equality instead.
func asSigned(t Type, width int, raw []byte) (int64, bool) {
	switch t {
	case TInt8, TInt16, TInt32, TInt64:
		return getInt64(width, raw), true
	case TUint8:
		return int64(raw[0]), true
	case TUint16:
		return int64(binary.LittleEndian.Uint16(raw)), true
	case TUint32:
		return int64(binary.LittleEndian.Uint32(raw)), true
	case TUint64:
		u := binary.LittleEndian.Uint64(raw)
		if u > 1<<62 {
			return 0, false // keep arithmetic safely within int64 span math
		}
		return int64(u), true
	default:
		return 0, false
	}
}

func putSigned(t Type, width int, raw []byte, v int64) {
	switch t {
	case TUint8:
		raw[0] = byte(v)
	case TUint16:
		binary.LittleEndian.PutUint16(raw, uint16(v))
	case TUint32:
		binary.LittleEndian.PutUint32(raw, uint32(v))
	case TUint64:
		binary.LittleEndian.PutUint64(raw, uint64(v))
	default:
		putInt64(width, raw, v)
	}
}
