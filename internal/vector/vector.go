// Package vector implements the execution-time value vector and shared
// chunk state of spec §4.G: a bounded (<=2048-value) run-time column with a
// selection vector, flat/unflat cursor semantics, and per-vector overflow
// storage for out-of-line string bytes.
//
// The teacher's engine represents rows as map[string]any (Row, see
// internal/engine/exec.go in github.com/SimonWaldherr/tinySQL) rather than
// columnar vectors — tinySQL is a row-at-a-time tree-walking interpreter.
// Spec §9 explicitly calls out the virtual-operator/row-at-a-time shape as
// a pattern requiring re-architecture into vectorized, monomorphic hot
// paths, so this package keeps the teacher's preference for small
// concrete structs over interface{} (the same instinct that produced
// Row map[string]any) but stores one typed Go slice per physical type
// instead of one any-typed map per row.
package vector

import "github.com/korivak/graphcore/internal/corerr"

// Capacity is the maximum number of values any single vector may hold at
// once (spec §3: "bounded (≤ 2048)").
const Capacity = 2048

// Type identifies the physical representation a Vector carries. It mirrors
// the column-chunk physical_type enumeration of spec §3 so a chunk's scan
// output and a vector's storage always agree.
type Type uint8

const (
	TBit Type = iota
	TInt8
	TInt16
	TInt32
	TInt64
	TInt128
	TUint8
	TUint16
	TUint32
	TUint64
	TFloat
	TDouble
	TStringIndex // logical string/blob value; backed by out-of-line bytes
	TListEntry
	TStructEntry
	TInternalID
)

// ListEntry is the (offset, size) pair a LIST-typed vector slot stores,
// pointing into the vector's child data vector.
type ListEntry struct {
	Offset uint32
	Size   uint32
}

// InternalID is the (table, offset) pair that identifies a node or rel row
// at the storage layer.
type InternalID struct {
	TableID uint64
	Offset  uint64
}

// SelVector is the selection vector a ChunkState carries: either the
// implicit identity range [0, size) (Indices == nil, the common "flat
// scan" case) or an explicit, possibly reordered/filtered index list.
type SelVector struct {
	Indices []int // nil => identity range
}

// Get resolves logical position i (0 <= i < size) to the underlying slot
// index within a vector's backing arrays.
func (s SelVector) Get(i int) int {
	if s.Indices == nil {
		return i
	}
	return s.Indices[i]
}

// Identity returns the implicit range selection vector.
func Identity() SelVector { return SelVector{} }

// ChunkState is the DataChunkState of spec §4.G, shared by every Vector in
// one DataChunk. Flat state exposes exactly one tuple via CurrentIdx;
// unflat state exposes up to `size` tuples through Sel.
type ChunkState struct {
	Sel          SelVector
	IsFlat       bool
	CurrentIdx   int
	Size         int // selected_size: how many logical positions are live
	OriginalSize int // pre-selection size, needed for correct nested scans
}

// NewUnflat builds unflat state over `size` positions with the identity
// selection vector.
func NewUnflat(size int) *ChunkState {
	return &ChunkState{Sel: Identity(), IsFlat: false, Size: size, OriginalSize: size}
}

// NewFlat builds flat state parked at position pos.
func NewFlat(pos int) *ChunkState {
	return &ChunkState{Sel: Identity(), IsFlat: true, CurrentIdx: pos, Size: 1, OriginalSize: 1}
}

// Slice rebuilds the state with an explicit selection vector (e.g. after a
// filter), preserving OriginalSize.
func (s *ChunkState) Slice(indices []int) {
	s.Sel = SelVector{Indices: indices}
	s.Size = len(indices)
}

// Pos returns the slot to read/write for the current cursor: flat state
// always resolves CurrentIdx, unflat state must be given an explicit i.
func (s *ChunkState) Pos(i int) int {
	if s.IsFlat {
		return s.Sel.Get(s.CurrentIdx)
	}
	return s.Sel.Get(i)
}

// Overflow owns out-of-line string/blob bytes referenced by a vector's
// TStringIndex slots, so large values don't force fixed-width slots.
type Overflow struct {
	bufs [][]byte
}

func (o *Overflow) store(b []byte) int {
	cp := make([]byte, len(b))
	copy(cp, b)
	o.bufs = append(o.bufs, cp)
	return len(o.bufs) - 1
}

func (o *Overflow) load(ref int) []byte { return o.bufs[ref] }

// Vector is the ValueVector of spec §4.G. Exactly one of the typed slices
// below is populated, selected by Type; all are pre-sized to Capacity so
// the typed setters never reallocate mid-morsel.
type Vector struct {
	Type  Type
	State *ChunkState

	i8   []int8
	i16  []int16
	i32  []int32
	i64  []int64
	i128 [][16]byte
	u8   []uint8
	u16  []uint16
	u32  []uint32
	u64  []uint64
	f32  []float32
	f64  []float64
	bit  []bool

	strRef []int // index into overflow for TStringIndex slots
	ovf    *Overflow

	listEntries []ListEntry
	child       *Vector // element data vector for TListEntry

	fields map[string]*Vector // field vectors for TStructEntry

	ids []InternalID

	nulls    []bool
	nullable bool
}

// New allocates a Vector of the given type sharing state.
func New(t Type, state *ChunkState, nullable bool) *Vector {
	v := &Vector{Type: t, State: state, nullable: nullable, nulls: make([]bool, Capacity)}
	switch t {
	case TBit:
		v.bit = make([]bool, Capacity)
	case TInt8:
		v.i8 = make([]int8, Capacity)
	case TInt16:
		v.i16 = make([]int16, Capacity)
	case TInt32:
		v.i32 = make([]int32, Capacity)
	case TInt64:
		v.i64 = make([]int64, Capacity)
	case TInt128:
		v.i128 = make([][16]byte, Capacity)
	case TUint8:
		v.u8 = make([]uint8, Capacity)
	case TUint16:
		v.u16 = make([]uint16, Capacity)
	case TUint32:
		v.u32 = make([]uint32, Capacity)
	case TUint64:
		v.u64 = make([]uint64, Capacity)
	case TFloat:
		v.f32 = make([]float32, Capacity)
	case TDouble:
		v.f64 = make([]float64, Capacity)
	case TStringIndex:
		v.strRef = make([]int, Capacity)
		v.ovf = &Overflow{}
	case TListEntry:
		v.listEntries = make([]ListEntry, Capacity)
	case TStructEntry:
		v.fields = make(map[string]*Vector)
	case TInternalID:
		v.ids = make([]InternalID, Capacity)
	}
	return v
}

// NewList allocates a LIST vector with the given child element vector.
func NewList(state *ChunkState, child *Vector, nullable bool) *Vector {
	v := New(TListEntry, state, nullable)
	v.child = child
	return v
}

// SetField registers a child vector for a struct field.
func (v *Vector) SetField(name string, field *Vector) { v.fields[name] = field }

// Field returns a struct field's child vector.
func (v *Vector) Field(name string) *Vector { return v.fields[name] }

// ChildVector returns a LIST vector's element data vector.
func (v *Vector) ChildVector() *Vector { return v.child }

// ResizeDataVector grows the LIST child vector's logical size if needed;
// the child vector's own Capacity cap still applies per morsel.
func (v *Vector) ResizeDataVector(n int) {
	if v.child != nil && v.child.State != nil {
		v.child.State.Size = n
		v.child.State.OriginalSize = n
	}
}

// Nullable reports whether this vector tracks a null mask at all, letting
// generic operators build a matching output vector without inspecting
// private state.
func (v *Vector) Nullable() bool { return v.nullable }

func (v *Vector) SetNull(pos int, isNull bool) {
	v.nulls[pos] = isNull
}

func (v *Vector) IsNull(pos int) bool {
	if !v.nullable {
		return false
	}
	return v.nulls[pos]
}

// --- typed accessors -------------------------------------------------------

func (v *Vector) SetInt64(pos int, val int64)     { v.i64[pos] = val }
func (v *Vector) Int64(pos int) int64             { return v.i64[pos] }
func (v *Vector) SetInt32(pos int, val int32)     { v.i32[pos] = val }
func (v *Vector) Int32(pos int) int32             { return v.i32[pos] }
func (v *Vector) SetInt16(pos int, val int16)     { v.i16[pos] = val }
func (v *Vector) Int16(pos int) int16             { return v.i16[pos] }
func (v *Vector) SetInt8(pos int, val int8)       { v.i8[pos] = val }
func (v *Vector) Int8(pos int) int8               { return v.i8[pos] }
func (v *Vector) SetInt128(pos int, val [16]byte) { v.i128[pos] = val }
func (v *Vector) Int128(pos int) [16]byte         { return v.i128[pos] }
func (v *Vector) SetUint64(pos int, val uint64)   { v.u64[pos] = val }
func (v *Vector) Uint64(pos int) uint64           { return v.u64[pos] }
func (v *Vector) SetUint32(pos int, val uint32)   { v.u32[pos] = val }
func (v *Vector) Uint32(pos int) uint32           { return v.u32[pos] }
func (v *Vector) SetUint16(pos int, val uint16)   { v.u16[pos] = val }
func (v *Vector) Uint16(pos int) uint16           { return v.u16[pos] }
func (v *Vector) SetUint8(pos int, val uint8)     { v.u8[pos] = val }
func (v *Vector) Uint8(pos int) uint8             { return v.u8[pos] }
func (v *Vector) SetFloat32(pos int, val float32) { v.f32[pos] = val }
func (v *Vector) Float32(pos int) float32         { return v.f32[pos] }
func (v *Vector) SetFloat64(pos int, val float64) { v.f64[pos] = val }
func (v *Vector) Float64(pos int) float64         { return v.f64[pos] }
func (v *Vector) SetBit(pos int, val bool)        { v.bit[pos] = val }
func (v *Vector) Bit(pos int) bool                { return v.bit[pos] }
func (v *Vector) SetID(pos int, val InternalID)   { v.ids[pos] = val }
func (v *Vector) ID(pos int) InternalID           { return v.ids[pos] }

func (v *Vector) SetListEntry(pos int, e ListEntry) { v.listEntries[pos] = e }
func (v *Vector) ListEntryAt(pos int) ListEntry     { return v.listEntries[pos] }

// SetString stores s out-of-line in the vector's overflow buffer and
// records the reference at pos.
func (v *Vector) SetString(pos int, s string) {
	v.strRef[pos] = v.ovf.store([]byte(s))
}

// String returns the value previously stored at pos by SetString.
func (v *Vector) String(pos int) string {
	return string(v.ovf.load(v.strRef[pos]))
}

// SetBytes is the blob counterpart of SetString.
func (v *Vector) SetBytes(pos int, b []byte) {
	v.strRef[pos] = v.ovf.store(b)
}

// Bytes returns the raw bytes previously stored at pos by SetBytes.
func (v *Vector) Bytes(pos int) []byte {
	return v.ovf.load(v.strRef[pos])
}

// Reference copies one slot from src (at srcPos) into v (at dstPos),
// preserving null status. Used by operators that assemble an output
// vector from a probe-side vector without re-deriving values.
func (v *Vector) Reference(dstPos int, src *Vector, srcPos int) error {
	if v.Type != src.Type {
		return corerr.New(corerr.Internal, "vector.Reference: type mismatch %v vs %v", v.Type, src.Type)
	}
	if src.IsNull(srcPos) {
		v.SetNull(dstPos, true)
		return nil
	}
	v.SetNull(dstPos, false)
	switch v.Type {
	case TBit:
		v.SetBit(dstPos, src.Bit(srcPos))
	case TInt8:
		v.SetInt8(dstPos, src.Int8(srcPos))
	case TInt16:
		v.SetInt16(dstPos, src.Int16(srcPos))
	case TInt32:
		v.SetInt32(dstPos, src.Int32(srcPos))
	case TInt64:
		v.SetInt64(dstPos, src.Int64(srcPos))
	case TInt128:
		v.SetInt128(dstPos, src.Int128(srcPos))
	case TUint8:
		v.SetUint8(dstPos, src.Uint8(srcPos))
	case TUint16:
		v.SetUint16(dstPos, src.Uint16(srcPos))
	case TUint32:
		v.SetUint32(dstPos, src.Uint32(srcPos))
	case TUint64:
		v.SetUint64(dstPos, src.Uint64(srcPos))
	case TFloat:
		v.SetFloat32(dstPos, src.Float32(srcPos))
	case TDouble:
		v.SetFloat64(dstPos, src.Float64(srcPos))
	case TStringIndex:
		v.SetString(dstPos, src.String(srcPos))
	case TInternalID:
		v.SetID(dstPos, src.ID(srcPos))
	case TListEntry:
		v.SetListEntry(dstPos, src.ListEntryAt(srcPos))
	default:
		return corerr.New(corerr.Internal, "vector.Reference: unsupported type %v", v.Type)
	}
	return nil
}

// Chunk is a DataChunk: a fixed set of vectors sharing one ChunkState,
// representing one morsel's worth of columns flowing through the operator
// tree.
type Chunk struct {
	State   *ChunkState
	Vectors []*Vector
}

// NewChunk builds a Chunk from the given vectors, which must all already
// share the same State pointer (spec invariant, §4.G).
func NewChunk(state *ChunkState, vectors ...*Vector) *Chunk {
	return &Chunk{State: state, Vectors: vectors}
}

// Size reports the chunk's current selected_size.
func (c *Chunk) Size() int { return c.State.Size }
