package column

import "github.com/korivak/graphcore/internal/vector"

// Type aliases the vector package's physical-type enum so a chunk's on-disk
// layout and its in-memory scan output always agree (spec §3).
type Type = vector.Type

const (
	TBit         = vector.TBit
	TInt8        = vector.TInt8
	TInt16       = vector.TInt16
	TInt32       = vector.TInt32
	TInt64       = vector.TInt64
	TInt128      = vector.TInt128
	TUint8       = vector.TUint8
	TUint16      = vector.TUint16
	TUint32      = vector.TUint32
	TUint64      = vector.TUint64
	TFloat       = vector.TFloat
	TDouble      = vector.TDouble
	TStringIndex = vector.TStringIndex
	TListEntry   = vector.TListEntry
	TStructEntry = vector.TStructEntry
	TInternalID  = vector.TInternalID
)

// byteWidth returns the fixed-width raw slot size for a column chunk's
// backing type, or 0 for types with no uniform raw representation
// (TStructEntry holds only a null mask plus named field chunks).
func byteWidth(t Type) int {
	switch t {
	case TBit:
		return 0 // stored in a dedicated Bitset, not the raw byte array
	case TInt8, TUint8:
		return 1
	case TInt16, TUint16:
		return 2
	case TInt32, TUint32, TFloat, TStringIndex:
		return 4
	case TInt64, TUint64, TDouble:
		return 8
	case TInt128:
		return 16
	case TInternalID:
		return 16 // TableID uint64 + Offset uint64
	case TListEntry:
		return 8 // Offset uint32 + Size uint32
	default:
		return 0
	}
}
