package column

import (
	"encoding/binary"

	"github.com/klauspost/compress/zstd"

	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/pagestore"
)

// dictCompressThreshold gates zstd framing of a dictionary's concatenated
// entry bytes: dictionaries smaller than one page compress poorly relative
// to the codec's fixed frame overhead, so they are stored raw.
const dictCompressThreshold = 4096

var (
	dictEncoder *zstd.Encoder
	dictDecoder *zstd.Decoder
)

func init() {
	dictEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	dictDecoder, _ = zstd.NewReader(nil)
}

// writeBytesToPages splits data across as many pages as needed, zero-padding
// the final page, and returns the allocated page indexes in order.
func writeBytesToPages(alloc PageAllocator, data []byte) ([]pagestore.PageIndex, error) {
	pageCap := alloc.PageCapacity()
	if len(data) == 0 {
		return nil, nil
	}
	n := (len(data) + pageCap - 1) / pageCap
	pages := make([]pagestore.PageIndex, 0, n)
	buf := make([]byte, pageCap)
	for i := 0; i < n; i++ {
		for j := range buf {
			buf[j] = 0
		}
		start := i * pageCap
		end := start + pageCap
		if end > len(data) {
			end = len(data)
		}
		copy(buf, data[start:end])
		idx, err := alloc.AllocatePage()
		if err != nil {
			return nil, err
		}
		if err := alloc.WritePage(idx, buf); err != nil {
			return nil, err
		}
		pages = append(pages, idx)
	}
	return pages, nil
}

// readBytesFromPages is the inverse of writeBytesToPages, trimming the
// padded tail back down to totalLen.
func readBytesFromPages(alloc PageAllocator, pages []pagestore.PageIndex, totalLen int) ([]byte, error) {
	if totalLen == 0 {
		return nil, nil
	}
	pageCap := alloc.PageCapacity()
	out := make([]byte, 0, totalLen)
	buf := make([]byte, pageCap)
	for _, idx := range pages {
		if err := alloc.ReadPage(idx, buf); err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}
	if len(out) > totalLen {
		out = out[:totalLen]
	}
	return out, nil
}

// compressFixedWidth applies spec §4.D's choice rule to a raw array of
// numValues*width bytes and returns the bytes actually worth persisting
// plus the metadata describing how to decode them.
func compressFixedWidth(t Type, width int, raw []byte, numValues int, nulls *Bitset) ([]byte, Metadata) {
	if numValues == 0 {
		return nil, Metadata{Kind: Constant, Constant: make([]byte, width)}
	}

	var first []byte
	allEqual := true
	anyNonNull := false
	for i := 0; i < numValues; i++ {
		if nulls != nil && nulls.Get(i) {
			continue
		}
		anyNonNull = true
		slot := raw[i*width : i*width+width]
		if first == nil {
			first = append([]byte(nil), slot...)
			continue
		}
		if !bytesEqual(first, slot) {
			allEqual = false
			break
		}
	}
	if !anyNonNull {
		return nil, Metadata{Kind: Constant, Constant: make([]byte, width), NullCount: numValues}
	}
	if allEqual {
		return nil, Metadata{Kind: Constant, Constant: first}
	}

	if signedMin, signedMax, ok := signedRange(t, width, raw, numValues, nulls); ok {
		span := uint64(signedMax) - uint64(signedMin) // two's-complement subtraction, safe even at full range
		bw := bitWidthFor(span)
		if bw > 0 && bw < width*8 {
			values := make([]uint64, numValues)
			for i := 0; i < numValues; i++ {
				if nulls != nil && nulls.Get(i) {
					continue
				}
				v, _ := asSigned(t, width, raw[i*width:i*width+width])
				values[i] = uint64(v - signedMin)
			}
			payload := packBits(values, bw)
			minRaw := make([]byte, width)
			maxRaw := make([]byte, width)
			putSigned(t, width, minRaw, signedMin)
			putSigned(t, width, maxRaw, signedMax)
			return payload, Metadata{Kind: Bitpacked, BitWidth: bw, Base: signedMin, Min: minRaw, Max: maxRaw, HasMinMax: true}
		}
		minRaw := make([]byte, width)
		maxRaw := make([]byte, width)
		putSigned(t, width, minRaw, signedMin)
		putSigned(t, width, maxRaw, signedMax)
		return append([]byte(nil), raw[:numValues*width]...), Metadata{Kind: Uncompressed, Min: minRaw, Max: maxRaw, HasMinMax: true}
	}

	return append([]byte(nil), raw[:numValues*width]...), Metadata{Kind: Uncompressed}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func signedRange(t Type, width int, raw []byte, numValues int, nulls *Bitset) (min, max int64, ok bool) {
	started := false
	for i := 0; i < numValues; i++ {
		if nulls != nil && nulls.Get(i) {
			continue
		}
		v, good := asSigned(t, width, raw[i*width:i*width+width])
		if !good {
			return 0, 0, false
		}
		if !started {
			min, max, started = v, v, true
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, started
}

// decompressFixedWidth is compressFixedWidth's inverse: given the persisted
// payload and metadata, it reconstructs numValues*width raw bytes.
func decompressFixedWidth(t Type, width int, payload []byte, meta Metadata, numValues int) []byte {
	out := make([]byte, numValues*width)
	switch meta.Kind {
	case Constant:
		for i := 0; i < numValues; i++ {
			copy(out[i*width:i*width+width], meta.Constant)
		}
	case Bitpacked:
		for i := 0; i < numValues; i++ {
			field := unpackBits(payload, i, meta.BitWidth)
			putSigned(t, width, out[i*width:i*width+width], meta.Base+int64(field))
		}
	case Uncompressed:
		copy(out, payload)
	}
	return out
}

// Flush compresses the chunk's contents and persists them through alloc,
// returning metadata sufficient for Load to reconstruct it.
func (c *Chunk) Flush(alloc PageAllocator) (ColumnChunkMetadata, error) {
	if err := c.Finalize(); err != nil {
		return ColumnChunkMetadata{}, err
	}
	meta := ColumnChunkMetadata{Type: c.Type, NumValues: c.numValues}

	nullCount := 0
	if c.Nullable {
		nullCount = c.nulls.CountOnes(c.numValues)
	}
	if nullCount > 0 {
		pages, err := writeBytesToPages(alloc, c.nulls.Bytes())
		if err != nil {
			return ColumnChunkMetadata{}, err
		}
		meta.NullPages = pages
	}

	switch c.Type {
	case TStructEntry:
		meta.FieldOrder = append([]string(nil), c.fieldOrder...)
		meta.FieldMeta = make(map[string]*ColumnChunkMetadata, len(c.fields))
		for _, name := range c.fieldOrder {
			fm, err := c.fields[name].Flush(alloc)
			if err != nil {
				return ColumnChunkMetadata{}, err
			}
			fmCopy := fm
			meta.FieldMeta[name] = &fmCopy
		}
		return meta, nil

	case TListEntry:
		payload := append([]byte(nil), c.raw[:c.numValues*8]...)
		pages, err := writeBytesToPages(alloc, payload)
		if err != nil {
			return ColumnChunkMetadata{}, err
		}
		meta.DataPages = pages
		meta.Compression = Metadata{Kind: Uncompressed, NullCount: nullCount}
		if c.child != nil {
			cm, err := c.child.Flush(alloc)
			if err != nil {
				return ColumnChunkMetadata{}, err
			}
			meta.ChildMeta = &cm
		}
		return meta, nil

	case TBit:
		payload := c.bitData.Bytes()
		pages, err := writeBytesToPages(alloc, payload)
		if err != nil {
			return ColumnChunkMetadata{}, err
		}
		meta.DataPages = pages
		meta.Compression = Metadata{Kind: Uncompressed, NullCount: nullCount}
		return meta, nil

	case TStringIndex:
		payload, cmeta := compressFixedWidth(TUint32, 4, c.raw, c.numValues, c.nulls)
		pages, err := writeBytesToPages(alloc, payload)
		if err != nil {
			return ColumnChunkMetadata{}, err
		}
		meta.DataPages = pages
		cmeta.NullCount = nullCount
		meta.Compression = cmeta

		dictData, dictOffsets := c.dict.Serialize()
		meta.DictRawLen = len(dictData)
		if len(dictData) >= dictCompressThreshold {
			dictData = dictEncoder.EncodeAll(dictData, nil)
			meta.DictCompressed = true
		}
		meta.DictDataLen = len(dictData)
		dataPages, err := writeBytesToPages(alloc, dictData)
		if err != nil {
			return ColumnChunkMetadata{}, err
		}
		offsetBytes := make([]byte, len(dictOffsets)*4)
		for i, o := range dictOffsets {
			binary.LittleEndian.PutUint32(offsetBytes[i*4:], o)
		}
		offsetPages, err := writeBytesToPages(alloc, offsetBytes)
		if err != nil {
			return ColumnChunkMetadata{}, err
		}
		meta.DictDataPages = dataPages
		meta.DictOffsetPages = offsetPages
		meta.DictEntryCount = c.dict.Len()
		return meta, nil

	default:
		payload, cmeta := compressFixedWidth(c.Type, c.width, c.raw, c.numValues, c.nulls)
		pages, err := writeBytesToPages(alloc, payload)
		if err != nil {
			return ColumnChunkMetadata{}, err
		}
		meta.DataPages = pages
		cmeta.NullCount = nullCount
		meta.Compression = cmeta
		return meta, nil
	}
}

// Load reconstructs a Chunk from persisted metadata, fully decoding every
// value into memory (spec does not require lazy scan-from-disk for this
// component's read path — node-group scans operate on in-memory chunks).
func Load(alloc PageAllocator, capacity, pageSize int, nullable bool, meta ColumnChunkMetadata) (*Chunk, error) {
	c := &Chunk{Type: meta.Type, Nullable: nullable, Capacity: capacity, PageSize: pageSize, width: byteWidth(meta.Type), numValues: meta.NumValues}

	if nullable {
		if len(meta.NullPages) > 0 {
			raw, err := readBytesFromPages(alloc, meta.NullPages, (meta.NumValues+7)/8)
			if err != nil {
				return nil, err
			}
			c.nulls = BitsetFromBytes(raw, meta.NumValues)
		} else {
			c.nulls = NewBitset(capacity)
		}
	}

	switch meta.Type {
	case TStructEntry:
		c.fields = make(map[string]*Chunk)
		c.fieldOrder = append([]string(nil), meta.FieldOrder...)
		for _, name := range meta.FieldOrder {
			fm := meta.FieldMeta[name]
			field, err := Load(alloc, capacity, pageSize, true, *fm)
			if err != nil {
				return nil, err
			}
			c.fields[name] = field
		}
		return c, nil

	case TListEntry:
		raw, err := readBytesFromPages(alloc, meta.DataPages, meta.NumValues*8)
		if err != nil {
			return nil, err
		}
		c.raw = make([]byte, capacity*8)
		copy(c.raw, raw)
		if meta.ChildMeta != nil {
			child, err := Load(alloc, meta.ChildMeta.NumValues, pageSize, true, *meta.ChildMeta)
			if err != nil {
				return nil, err
			}
			c.child = child
		}
		return c, nil

	case TBit:
		raw, err := readBytesFromPages(alloc, meta.DataPages, (meta.NumValues+7)/8)
		if err != nil {
			return nil, err
		}
		c.bitData = BitsetFromBytes(raw, meta.NumValues)
		return c, nil

	case TStringIndex:
		payload, err := readBytesFromPages(alloc, meta.DataPages, payloadLen(meta.Compression, 4, meta.NumValues))
		if err != nil {
			return nil, err
		}
		c.raw = make([]byte, capacity*4)
		copy(c.raw, decompressFixedWidth(TUint32, 4, payload, meta.Compression, meta.NumValues))

		offsetBytes, err := readBytesFromPages(alloc, meta.DictOffsetPages, (meta.DictEntryCount+1)*4)
		if err != nil {
			return nil, err
		}
		offsets := make([]uint32, meta.DictEntryCount+1)
		for i := range offsets {
			offsets[i] = binary.LittleEndian.Uint32(offsetBytes[i*4:])
		}
		dictData, err := readBytesFromPages(alloc, meta.DictDataPages, meta.DictDataLen)
		if err != nil {
			return nil, err
		}
		if meta.DictCompressed {
			dictData, err = dictDecoder.DecodeAll(dictData, make([]byte, 0, offsets[len(offsets)-1]))
			if err != nil {
				return nil, corerr.Wrap(corerr.Internal, err, "column: zstd-decode dictionary")
			}
		}
		c.dict = DeserializeDictionary(pageSize, dictData, offsets)
		return c, nil

	default:
		width := byteWidth(meta.Type)
		payload, err := readBytesFromPages(alloc, meta.DataPages, payloadLen(meta.Compression, width, meta.NumValues))
		if err != nil {
			return nil, err
		}
		c.raw = make([]byte, capacity*width)
		copy(c.raw, decompressFixedWidth(meta.Type, width, payload, meta.Compression, meta.NumValues))
		return c, nil
	}
}

func payloadLen(m Metadata, width, numValues int) int {
	switch m.Kind {
	case Constant:
		return 0
	case Bitpacked:
		return (numValues*m.BitWidth + 7) / 8
	default:
		return numValues * width
	}
}

