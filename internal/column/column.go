// Package column implements the compressed column chunk of spec §4.D: a
// fixed-capacity run of values for one node/rel property, with a null mask
// and a per-chunk compression scheme (constant, bitpacked, or uncompressed)
// chosen from the data actually written before it is persisted.
//
// The in-memory layout mirrors the teacher's page-oriented encode/decode
// idiom (internal/storage/pager/page.go in github.com/SimonWaldherr/tinySQL
// encodes rows as little-endian fixed-width fields plus a checksum); this
// package applies the same binary.LittleEndian discipline one level down,
// to per-value slots instead of per-row records.
package column

import (
	"encoding/binary"
	"math"

	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/pagestore"
	"github.com/korivak/graphcore/internal/vector"
)

// PageAllocator decouples a Chunk's persistence from any concrete buffer
// pool / page file pairing, so the node-group store (spec §4.E) can supply
// an implementation backed by the real bufferpool+pagestore without this
// package importing either.
type PageAllocator interface {
	AllocatePage() (pagestore.PageIndex, error)
	WritePage(idx pagestore.PageIndex, payload []byte) error
	ReadPage(idx pagestore.PageIndex, dst []byte) error
	PageCapacity() int
}

// Metadata persisted for one flushed chunk: where its bytes live and how
// they're encoded, so Load can reconstruct it without rescanning data.
type ColumnChunkMetadata struct {
	Type        Type
	NumValues   int
	DataPages   []pagestore.PageIndex
	NullPages   []pagestore.PageIndex
	Compression Metadata

	DictDataPages   []pagestore.PageIndex
	DictDataLen     int // on-disk (possibly zstd-compressed) length of the dictionary payload
	DictOffsetPages []pagestore.PageIndex
	DictEntryCount  int

	ChildMeta *ColumnChunkMetadata

	FieldMeta  map[string]*ColumnChunkMetadata
	FieldOrder []string

	// DictCompressed and DictRawLen describe the zstd framing of
	// DictDataPages (spec §4.D dictionary chunk): once a string/blob
	// dictionary's concatenated entries spill past one page, flush runs
	// them through klauspost/compress/zstd before paging them out, the
	// way SnellerInc-sneller's ion/zion/zll compressor frames its block
	// payloads. Small dictionaries are stored raw to skip the codec's
	// fixed per-frame overhead.
	DictCompressed bool
	DictRawLen     int
}

// Chunk is the in-memory, mutable form of a column chunk: values accumulate
// here via Append/Write and are scanned back out via Scan, until Flush
// compresses and persists them.
type Chunk struct {
	Type     Type
	Nullable bool
	Capacity int
	PageSize int

	width int
	raw   []byte // Capacity*width bytes; only the first numValues*width are live

	bitData *Bitset // TBit only
	nulls   *Bitset // non-nil iff Nullable

	numValues int

	dict               *Dictionary // TStringIndex only
	dictDirty          bool        // true once Write() may have orphaned a dictionary entry

	child      *Chunk            // TListEntry only
	fields     map[string]*Chunk // TStructEntry only
	fieldOrder []string
}

// New allocates an empty scalar/string chunk of the given type.
func New(t Type, capacity, pageSize int, nullable bool) *Chunk {
	c := &Chunk{Type: t, Nullable: nullable, Capacity: capacity, PageSize: pageSize, width: byteWidth(t)}
	if t == TBit {
		c.bitData = NewBitset(capacity)
	} else {
		c.raw = make([]byte, capacity*c.width)
	}
	if nullable {
		c.nulls = NewBitset(capacity)
	}
	if t == TStringIndex {
		c.dict = NewDictionary(pageSize)
	}
	return c
}

// NewList allocates a LIST chunk backed by the given child element chunk.
func NewList(capacity, pageSize int, child *Chunk, nullable bool) *Chunk {
	c := New(TListEntry, capacity, pageSize, nullable)
	c.child = child
	return c
}

// NewStruct allocates a STRUCT chunk with no fields; use AddField to attach
// them before Append/Write are called.
func NewStruct(capacity, pageSize int, nullable bool) *Chunk {
	c := New(TStructEntry, capacity, pageSize, nullable)
	c.fields = make(map[string]*Chunk)
	return c
}

// AddField attaches a named field chunk to a STRUCT chunk, preserving
// insertion order for deterministic (de)serialization.
func (c *Chunk) AddField(name string, field *Chunk) {
	c.fields[name] = field
	c.fieldOrder = append(c.fieldOrder, name)
}

// Field returns a STRUCT chunk's named field chunk.
func (c *Chunk) Field(name string) *Chunk { return c.fields[name] }

// Child returns a LIST chunk's element chunk.
func (c *Chunk) Child() *Chunk { return c.child }

// NumValues reports how many logical slots have been written.
func (c *Chunk) NumValues() int { return c.numValues }

// Append writes v[vecPos] as the next slot, growing NumValues by one.
func (c *Chunk) Append(v *vector.Vector, vecPos int) error {
	if c.numValues >= c.Capacity {
		return corerr.New(corerr.InvalidInput, "column chunk at capacity (%d)", c.Capacity)
	}
	slot := c.numValues
	c.numValues++
	return c.writeSlot(slot, v, vecPos)
}

// Write overwrites an existing slot (0 <= slot < NumValues) — the update
// path. For string/blob chunks this may orphan a dictionary entry, so
// Finalize must run before the chunk is flushed.
func (c *Chunk) Write(slot int, v *vector.Vector, vecPos int) error {
	if slot < 0 || slot >= c.numValues {
		return corerr.New(corerr.InvalidInput, "column chunk write: slot %d out of range [0,%d)", slot, c.numValues)
	}
	if c.Type == TStringIndex {
		c.dictDirty = true
	}
	return c.writeSlot(slot, v, vecPos)
}

func (c *Chunk) writeSlot(slot int, v *vector.Vector, vecPos int) error {
	isNull := v.IsNull(vecPos)
	if isNull && !c.Nullable {
		return corerr.New(corerr.InvalidInput, "column chunk: null value written to non-nullable chunk")
	}
	if c.Nullable {
		c.nulls.Set(slot, isNull)
	}
	if isNull {
		return nil
	}
	switch c.Type {
	case TBit:
		c.bitData.Set(slot, v.Bit(vecPos))
	case TStringIndex:
		idx, err := c.dict.Intern([]byte(v.String(vecPos)))
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(c.raw[slot*4:], idx)
	case TListEntry:
		e := v.ListEntryAt(vecPos)
		binary.LittleEndian.PutUint32(c.raw[slot*8:], e.Offset)
		binary.LittleEndian.PutUint32(c.raw[slot*8+4:], e.Size)
	case TInternalID:
		id := v.ID(vecPos)
		binary.LittleEndian.PutUint64(c.raw[slot*16:], id.TableID)
		binary.LittleEndian.PutUint64(c.raw[slot*16+8:], id.Offset)
	case TInt128:
		b := v.Int128(vecPos)
		copy(c.raw[slot*16:slot*16+16], b[:])
	case TFloat:
		binary.LittleEndian.PutUint32(c.raw[slot*4:], math.Float32bits(v.Float32(vecPos)))
	case TDouble:
		binary.LittleEndian.PutUint64(c.raw[slot*8:], math.Float64bits(v.Float64(vecPos)))
	default:
		putSigned(c.Type, c.width, c.raw[slot*c.width:slot*c.width+c.width], signedOf(c.Type, v, vecPos))
	}
	return nil
}

func signedOf(t Type, v *vector.Vector, pos int) int64 {
	switch t {
	case TInt8:
		return int64(v.Int8(pos))
	case TInt16:
		return int64(v.Int16(pos))
	case TInt32:
		return int64(v.Int32(pos))
	case TInt64:
		return v.Int64(pos)
	case TUint8:
		return int64(v.Uint8(pos))
	case TUint16:
		return int64(v.Uint16(pos))
	case TUint32:
		return int64(v.Uint32(pos))
	case TUint64:
		return int64(v.Uint64(pos))
	default:
		return 0
	}
}

// Scan decodes slots [start, start+count) into dst, a vector of the same
// type, writing them at dst's slots 0 through count-1.
func (c *Chunk) Scan(start, count int, dst *vector.Vector) error {
	if dst.Type != c.Type {
		return corerr.New(corerr.Internal, "column chunk scan: type mismatch %v vs %v", dst.Type, c.Type)
	}
	if start < 0 || start+count > c.numValues {
		return corerr.New(corerr.InvalidInput, "column chunk scan: range [%d,%d) out of bounds [0,%d)", start, start+count, c.numValues)
	}
	for i := 0; i < count; i++ {
		slot := start + i
		if c.Nullable && c.nulls.Get(slot) {
			dst.SetNull(i, true)
			continue
		}
		dst.SetNull(i, false)
		switch c.Type {
		case TBit:
			dst.SetBit(i, c.bitData.Get(slot))
		case TStringIndex:
			idx := binary.LittleEndian.Uint32(c.raw[slot*4:])
			dst.SetString(i, string(c.dict.Entry(idx)))
		case TListEntry:
			off := binary.LittleEndian.Uint32(c.raw[slot*8:])
			sz := binary.LittleEndian.Uint32(c.raw[slot*8+4:])
			dst.SetListEntry(i, vector.ListEntry{Offset: off, Size: sz})
		case TInternalID:
			tbl := binary.LittleEndian.Uint64(c.raw[slot*16:])
			off := binary.LittleEndian.Uint64(c.raw[slot*16+8:])
			dst.SetID(i, vector.InternalID{TableID: tbl, Offset: off})
		case TInt128:
			var b [16]byte
			copy(b[:], c.raw[slot*16:slot*16+16])
			dst.SetInt128(i, b)
		case TFloat:
			dst.SetFloat32(i, math.Float32frombits(binary.LittleEndian.Uint32(c.raw[slot*4:])))
		case TDouble:
			dst.SetFloat64(i, math.Float64frombits(binary.LittleEndian.Uint64(c.raw[slot*8:])))
		default:
			setSignedOnVector(c.Type, dst, i, getInt64Sized(c.Type, c.width, c.raw[slot*c.width:slot*c.width+c.width]))
		}
	}
	return nil
}

func getInt64Sized(t Type, width int, raw []byte) int64 {
	v, ok := asSigned(t, width, raw)
	if !ok {
		return getInt64(width, raw)
	}
	return v
}

func setSignedOnVector(t Type, v *vector.Vector, pos int, val int64) {
	switch t {
	case TInt8:
		v.SetInt8(pos, int8(val))
	case TInt16:
		v.SetInt16(pos, int16(val))
	case TInt32:
		v.SetInt32(pos, int32(val))
	case TInt64:
		v.SetInt64(pos, val)
	case TUint8:
		v.SetUint8(pos, uint8(val))
	case TUint16:
		v.SetUint16(pos, uint16(val))
	case TUint32:
		v.SetUint32(pos, uint32(val))
	case TUint64:
		v.SetUint64(pos, uint64(val))
	}
}

// Finalize compacts the string dictionary after Write() calls may have
// orphaned entries, remapping every stored index. It is a no-op unless the
// chunk is a dirtied TStringIndex chunk.
func (c *Chunk) Finalize() error {
	if c.Type != TStringIndex || !c.dictDirty {
		return nil
	}
	used := make(map[uint32]bool)
	for slot := 0; slot < c.numValues; slot++ {
		if c.Nullable && c.nulls.Get(slot) {
			continue
		}
		used[binary.LittleEndian.Uint32(c.raw[slot*4:])] = true
	}
	remap := c.dict.Compact(used)
	for slot := 0; slot < c.numValues; slot++ {
		if c.Nullable && c.nulls.Get(slot) {
			continue
		}
		old := binary.LittleEndian.Uint32(c.raw[slot*4:])
		binary.LittleEndian.PutUint32(c.raw[slot*4:], remap[old])
	}
	c.dictDirty = false
	return nil
}
