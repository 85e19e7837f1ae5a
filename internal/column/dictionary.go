package column

import "github.com/korivak/graphcore/internal/corerr"

// defaultOverlargeLimit is the size bound on string/blob values that
// NewDictionary falls back to when it is given no page size; otherwise the
// page size itself is the bound. Intern rejects values at or above the bound
// (spec §4.D).
const defaultOverlargeLimit = 1 << 16 // refined to the real page size by NewDictionary

// Dictionary de-duplicates the variable-width values of a TStringIndex
// column: entries holds each distinct value once, offsets is the prefix-sum
// table spec §4.D describes, and index lets Intern find an existing entry
// by content without a linear scan.
type Dictionary struct {
	entries      [][]byte
	offsets      []uint32 // len(entries)+1 prefix sums into the conceptual concatenation
	index        map[string]uint32
	overlarge    int
}

// NewDictionary builds an empty dictionary that rejects values >= pageSize.
func NewDictionary(pageSize int) *Dictionary {
	limit := defaultOverlargeLimit
	if pageSize > 0 {
		limit = pageSize
	}
	return &Dictionary{
		offsets:   []uint32{0},
		index:     make(map[string]uint32),
		overlarge: limit,
	}
}

// Intern returns the dictionary index for b, adding a new entry only if an
// identical value isn't already present.
func (d *Dictionary) Intern(b []byte) (uint32, error) {
	if len(b) >= d.overlarge {
		return 0, corerr.New(corerr.InvalidInput, "dictionary: value of %d bytes meets or exceeds the page-size overlarge limit (%d)", len(b), d.overlarge)
	}
	if idx, ok := d.index[string(b)]; ok {
		return idx, nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	idx := uint32(len(d.entries))
	d.entries = append(d.entries, cp)
	d.offsets = append(d.offsets, d.offsets[len(d.offsets)-1]+uint32(len(cp)))
	d.index[string(cp)] = idx
	return idx, nil
}

// Entry returns the bytes stored at dictionary index idx.
func (d *Dictionary) Entry(idx uint32) []byte {
	return d.entries[idx]
}

// Len reports the number of distinct entries.
func (d *Dictionary) Len() int { return len(d.entries) }

// Compact rebuilds the dictionary keeping only entries whose index appears
// in used, remapping old index -> new index. Callers (Chunk.Finalize) must
// rewrite every stored index reference using the returned map before
// discarding the old dictionary (spec §4.D: dictionary chunks are rebuilt
// on finalize so overwritten values don't leak dead entries into storage).
func (d *Dictionary) Compact(used map[uint32]bool) (remap map[uint32]uint32) {
	remap = make(map[uint32]uint32, len(used))
	newEntries := make([][]byte, 0, len(used))
	newOffsets := []uint32{0}
	newIndex := make(map[string]uint32, len(used))
	for old := uint32(0); int(old) < len(d.entries); old++ {
		if !used[old] {
			continue
		}
		v := d.entries[old]
		newIdx := uint32(len(newEntries))
		newEntries = append(newEntries, v)
		newOffsets = append(newOffsets, newOffsets[len(newOffsets)-1]+uint32(len(v)))
		newIndex[string(v)] = newIdx
		remap[old] = newIdx
	}
	d.entries = newEntries
	d.offsets = newOffsets
	d.index = newIndex
	return remap
}

// Serialize flattens the dictionary to (concatenated bytes, offsets) for
// persistence; DeserializeDictionary is its inverse.
func (d *Dictionary) Serialize() (data []byte, offsets []uint32) {
	total := d.offsets[len(d.offsets)-1]
	data = make([]byte, 0, total)
	for _, e := range d.entries {
		data = append(data, e...)
	}
	offsets = make([]uint32, len(d.offsets))
	copy(offsets, d.offsets)
	return data, offsets
}

// DeserializeDictionary rebuilds a Dictionary from its serialized form.
func DeserializeDictionary(pageSize int, data []byte, offsets []uint32) *Dictionary {
	d := NewDictionary(pageSize)
	if len(offsets) == 0 {
		return d
	}
	d.offsets = append([]uint32{}, offsets...)
	for i := 0; i+1 < len(offsets); i++ {
		start, end := offsets[i], offsets[i+1]
		entry := append([]byte(nil), data[start:end]...)
		d.entries = append(d.entries, entry)
		d.index[string(entry)] = uint32(i)
	}
	return d
}
