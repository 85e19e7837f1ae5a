package nodegroup

import (
	"sync"

	"github.com/korivak/graphcore/internal/column"
	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/pkindex"
	"github.com/korivak/graphcore/internal/vector"
)

// Table owns every node-group backing one node table: it allocates a new
// group once the current one fills (spec §3: "Groups never shrink"; spec
// §8: "Column chunk at num_values == NODE_GROUP_SIZE refuses further append
// and the table allocates a new group"), holds one tombstone Bitset per
// group so deletes are visible without shrinking a group (spec §4.I point
// 3), and optionally enforces primary-key uniqueness through a pkindex.Index
// (spec §4.I point 4, §8 scenario 1).
//
// Table is the merge target spec §4.I describes: LocalNodeGroup buffers a
// transaction's uncommitted writes, and a commit walks that buffer through
// Table.Append/WriteRow/Delete to fold it into persistent node-group
// storage.
type Table struct {
	mu       sync.Mutex
	schema   Schema
	capacity int
	pageSize int

	groups  []*Group
	deleted []*column.Bitset

	pkCol int // index into schema.Columns, or -1 if the table has no PK
	pk    *pkindex.Index
}

// NewTable allocates an empty table. pkCol selects the primary-key column
// by index into schema.Columns, or pass -1 for tables with none.
func NewTable(schema Schema, capacity, pageSize, pkCol int) *Table {
	return &Table{
		schema:   schema,
		capacity: capacity,
		pageSize: pageSize,
		pkCol:    pkCol,
		pk:       pkindex.New(),
	}
}

// PrimaryKeyIndex exposes the table's persistent PK index, e.g. so a
// caller can Flush/reload it alongside the table's own checkpoint.
func (t *Table) PrimaryKeyIndex() *pkindex.Index { return t.pk }

// Schema reports the column layout every group of this table shares.
func (t *Table) Schema() Schema { return t.schema }

// Capacity reports the configured per-group row capacity.
func (t *Table) Capacity() int { return t.capacity }

// PageSize reports the page size each group's column chunks were built
// with.
func (t *Table) PageSize() int { return t.pageSize }

// PKColumn reports the schema index of the primary-key column, or -1 if
// the table has none.
func (t *Table) PKColumn() int { return t.pkCol }

// NumRows reports the total row count across every group, tombstoned rows
// included (tombstones live in a per-group bitset; groups never shrink).
func (t *Table) NumRows() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, g := range t.groups {
		n += g.NumRows()
	}
	return n
}

// groupOf resolves a global row offset to its (group index, in-group
// offset) pair.
func (t *Table) groupOf(global int) (int, int) {
	return global / t.capacity, global % t.capacity
}

// MorselEnd caps a scan morsel so it never crosses a node-group boundary
// (spec §4.H: "guarantees each morsel belongs to exactly one node-group so
// downstream sees homogeneous compression"). The exec.Scan operator
// consults this via the exec.MorselBounder optional interface.
func (t *Table) MorselEnd(pos int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	gIdx, _ := t.groupOf(pos)
	if gIdx >= len(t.groups) {
		return pos
	}
	base := gIdx * t.capacity
	return base + t.groups[gIdx].NumRows()
}

// Scan decodes global rows [start, start+count) into out. The caller must
// ensure the range does not cross a group boundary (see MorselEnd).
func (t *Table) Scan(start, count int, out *vector.Chunk) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if count == 0 {
		return nil
	}
	gIdx, localStart := t.groupOf(start)
	if gIdx >= len(t.groups) {
		return corerr.New(corerr.InvalidInput, "nodegroup.Table: scan start %d out of range", start)
	}
	return t.groups[gIdx].Scan(localStart, count, out)
}

// IsDeleted reports whether the row at global offset row is tombstoned.
func (t *Table) IsDeleted(row int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	gIdx, localIdx := t.groupOf(row)
	if gIdx >= len(t.groups) || t.deleted[gIdx] == nil {
		return false
	}
	return t.deleted[gIdx].Get(localIdx)
}

// keyFor extracts the canonical PK index key for one row of a vector,
// given the PK column's vector and position.
func keyFor(v *vector.Vector, pos int) (string, bool) {
	switch v.Type {
	case vector.TInt64:
		return pkindex.KeyInt64(v.Int64(pos)), true
	case vector.TStringIndex:
		return pkindex.KeyString(v.String(pos)), true
	default:
		return "", false
	}
}

// Append folds one morsel of newly committed rows into the table,
// allocating new groups as needed so a single chunk may span a group
// boundary, and rejects the whole morsel if any row's primary key already
// exists (spec §8 scenario 1). On success it returns the global row offset
// the first appended row landed at and upserts every PK encountered.
func (t *Table) Append(in *vector.Chunk) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pkCol >= 0 {
		pkVec := in.Vectors[t.pkCol]
		for i := 0; i < in.Size(); i++ {
			pos := in.State.Pos(i)
			key, ok := keyFor(pkVec, pos)
			if ok && t.pk.Contains(key) {
				return 0, corerr.New(corerr.InvalidInput, "nodegroup.Table: duplicate primary key %v", pkVec.String(pos))
			}
		}
	}

	first := -1
	remaining := in.Size()
	srcOff := 0
	for remaining > 0 {
		g, gIdx := t.currentGroupLocked()
		room := t.capacity - g.NumRows()
		n := remaining
		if n > room {
			n = room
		}
		slice := sliceRows(in, srcOff, n)
		localFirst, err := g.AppendChunk(slice)
		if err != nil {
			return 0, err
		}
		global := gIdx*t.capacity + localFirst
		if first < 0 {
			first = global
		}
		if t.pkCol >= 0 {
			pkVec := in.Vectors[t.pkCol]
			for i := 0; i < n; i++ {
				pos := in.State.Pos(srcOff + i)
				if key, ok := keyFor(pkVec, pos); ok {
					t.pk.Upsert(key, int64(global+i))
				}
			}
		}
		srcOff += n
		remaining -= n
	}
	return first, nil
}

// currentGroupLocked returns the last group with spare capacity,
// allocating a fresh one if none exists or the last is full. Callers must
// hold t.mu.
func (t *Table) currentGroupLocked() (*Group, int) {
	if len(t.groups) == 0 || t.groups[len(t.groups)-1].Full() {
		t.groups = append(t.groups, New(t.schema, t.capacity, t.pageSize))
		t.deleted = append(t.deleted, column.NewBitset(t.capacity))
		return t.groups[len(t.groups)-1], len(t.groups) - 1
	}
	return t.groups[len(t.groups)-1], len(t.groups) - 1
}

// WriteRow overwrites an already-committed row's columns with src's values
// (the update path, spec §4.I point 2). If the row carries the table's
// primary key column, the index is re-keyed to match.
func (t *Table) WriteRow(row int, src *vector.Chunk) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	gIdx, localIdx := t.groupOf(row)
	if gIdx >= len(t.groups) {
		return corerr.New(corerr.InvalidInput, "nodegroup.Table: write row %d out of range", row)
	}
	if err := t.groups[gIdx].WriteRow(localIdx, src); err != nil {
		return err
	}
	if t.pkCol >= 0 {
		pos := src.State.Pos(0)
		if key, ok := keyFor(src.Vectors[t.pkCol], pos); ok {
			t.pk.Upsert(key, int64(row))
		}
	}
	return nil
}

// Delete tombstones a committed row (spec §4.I point 3) and removes its
// primary-key index entry synchronously so a later insert may reuse the
// same key (spec §8: "insert, delete, insert again with the same PK").
func (t *Table) Delete(row int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	gIdx, localIdx := t.groupOf(row)
	if gIdx >= len(t.groups) {
		return corerr.New(corerr.InvalidInput, "nodegroup.Table: delete row %d out of range", row)
	}
	if t.pkCol >= 0 {
		out := vector.NewChunk(vector.NewFlat(0), vector.New(t.schema.Columns[t.pkCol].Type, vector.NewFlat(0), t.schema.Columns[t.pkCol].Nullable))
		if err := t.groups[gIdx].Column(t.schema.Columns[t.pkCol].Name).Scan(localIdx, 1, out.Vectors[0]); err == nil {
			if key, ok := keyFor(out.Vectors[0], 0); ok {
				t.pk.Delete(key)
			}
		}
	}
	t.deleted[gIdx].Set(localIdx, true)
	return nil
}

// NumGroups reports how many node-groups the table currently owns.
func (t *Table) NumGroups() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.groups)
}

// Checkpoint flushes every group through alloc, returning metadata and
// tombstone bitsets Load can reconstruct the table from (spec §4.E
// checkpoint; the Table layer adds the per-group tombstone bitset bytes
// that sit beside, not inside, column.ColumnChunkMetadata).
func (t *Table) Checkpoint(alloc column.PageAllocator) ([]GroupMetadata, [][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	metas := make([]GroupMetadata, len(t.groups))
	tombstones := make([][]byte, len(t.groups))
	for i, g := range t.groups {
		m, err := g.Checkpoint(alloc)
		if err != nil {
			return nil, nil, err
		}
		metas[i] = m
		tombstones[i] = append([]byte(nil), t.deleted[i].Bytes()...)
	}
	return metas, tombstones, nil
}

// LoadTable reconstructs a Table from persisted group metadata, tombstone
// bitmaps, and a reloaded primary-key index.
func LoadTable(alloc column.PageAllocator, schema Schema, capacity, pageSize, pkCol int, metas []GroupMetadata, tombstones [][]byte, pk *pkindex.Index) (*Table, error) {
	t := &Table{schema: schema, capacity: capacity, pageSize: pageSize, pkCol: pkCol, pk: pk}
	if t.pk == nil {
		t.pk = pkindex.New()
	}
	for i, m := range metas {
		g, err := Load(alloc, schema, capacity, pageSize, m)
		if err != nil {
			return nil, err
		}
		t.groups = append(t.groups, g)
		var bs *column.Bitset
		if i < len(tombstones) {
			bs = column.BitsetFromBytes(tombstones[i], capacity)
		} else {
			bs = column.NewBitset(capacity)
		}
		t.deleted = append(t.deleted, bs)
	}
	return t, nil
}

// sliceRows copies rows [off, off+n) of in into a fresh, tightly-packed
// chunk so a single inserted morsel can be split across a group boundary.
func sliceRows(in *vector.Chunk, off, n int) *vector.Chunk {
	st := vector.NewUnflat(n)
	vecs := make([]*vector.Vector, len(in.Vectors))
	for c, v := range in.Vectors {
		nv := vector.New(v.Type, st, v.Nullable())
		for i := 0; i < n; i++ {
			srcPos := in.State.Pos(off + i)
			_ = nv.Reference(i, v, srcPos)
		}
		vecs[c] = nv
	}
	return vector.NewChunk(st, vecs...)
}
