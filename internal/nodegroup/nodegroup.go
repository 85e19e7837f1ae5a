// Package nodegroup implements the column/node-group store of spec §4.E: a
// fixed-capacity, multi-column run of rows (one node-group) backed by
// compressed column chunks, plus the glue that lets a node-group flush
// itself through the real buffer pool and page file.
//
// Grounded on the teacher's catalog/table bookkeeping style
// (internal/storage/catalog.go in github.com/SimonWaldherr/tinySQL) for the
// schema/metadata shape, and on pager.go for the page-file plumbing a
// column.PageAllocator needs underneath.
package nodegroup

import (
	"github.com/korivak/graphcore/internal/bufferpool"
	"github.com/korivak/graphcore/internal/column"
	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/pagestore"
	"github.com/korivak/graphcore/internal/vector"
)

// NodeGroupSize is the default row capacity of one node-group (spec §3:
// NODE_GROUP_SIZE = 2^17): the column chunk refuses further appends past
// this many rows and Table allocates a new group.
const NodeGroupSize = 1 << 17

// ColumnDef names one column of a node-group's schema.
type ColumnDef struct {
	Name     string
	Type     vector.Type
	Nullable bool
}

// Schema is the ordered column list every node-group of a table shares.
type Schema struct {
	Columns []ColumnDef
}

func (s Schema) index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// GroupMetadata is the persisted descriptor for one flushed node-group:
// enough to reconstruct every column chunk via column.Load.
type GroupMetadata struct {
	NumRows int
	Columns map[string]column.ColumnChunkMetadata
}

// FileAllocator adapts a registered buffer-pool file into a
// column.PageAllocator. Flush/Load bypass the pool's pinned-frame cache and
// talk to the backing pagestore.File directly: node-group checkpoints are
// bulk, whole-page rewrites, not the random-access pattern the pool's clock
// cache is for, so routing them through pin/unpin would only add
// bookkeeping the write path doesn't need.
type FileAllocator struct {
	file *pagestore.File
}

// NewFileAllocator wraps f for use as a column.PageAllocator. pool and id
// are accepted so callers can later route through the cache once checkpoint
// writes need to interleave with live reads of the same pages; today the
// direct file path is sufficient and simpler to reason about.
func NewFileAllocator(pool *bufferpool.Pool, id bufferpool.FileID, f *pagestore.File) *FileAllocator {
	_ = pool
	_ = id
	return &FileAllocator{file: f}
}

func (a *FileAllocator) AllocatePage() (pagestore.PageIndex, error) { return a.file.AddPage() }
func (a *FileAllocator) WritePage(idx pagestore.PageIndex, payload []byte) error {
	return a.file.Write(idx, payload)
}
func (a *FileAllocator) ReadPage(idx pagestore.PageIndex, dst []byte) error {
	return a.file.Read(idx, dst)
}
func (a *FileAllocator) PageCapacity() int { return pagestore.Capacity(a.file.PageSize()) }

// Group is the in-memory form of one node-group: a fixed-capacity window of
// rows across every column of Schema.
type Group struct {
	schema   Schema
	capacity int
	pageSize int
	columns  []*column.Chunk
	numRows  int
}

// New allocates an empty node-group with room for capacity rows.
func New(schema Schema, capacity, pageSize int) *Group {
	g := &Group{schema: schema, capacity: capacity, pageSize: pageSize}
	g.columns = make([]*column.Chunk, len(schema.Columns))
	for i, cd := range schema.Columns {
		g.columns[i] = column.New(cd.Type, capacity, pageSize, cd.Nullable)
	}
	return g
}

// Load reconstructs a node-group from persisted metadata.
func Load(alloc column.PageAllocator, schema Schema, capacity, pageSize int, meta GroupMetadata) (*Group, error) {
	g := &Group{schema: schema, capacity: capacity, pageSize: pageSize, numRows: meta.NumRows}
	g.columns = make([]*column.Chunk, len(schema.Columns))
	for i, cd := range schema.Columns {
		cm, ok := meta.Columns[cd.Name]
		if !ok {
			return nil, corerr.New(corerr.Internal, "nodegroup: metadata missing column %q", cd.Name)
		}
		c, err := column.Load(alloc, capacity, pageSize, cd.Nullable, cm)
		if err != nil {
			return nil, err
		}
		g.columns[i] = c
	}
	return g, nil
}

// Schema returns the column layout this group was created with.
func (g *Group) Schema() Schema { return g.schema }

// NumRows reports how many rows have been appended.
func (g *Group) NumRows() int { return g.numRows }

// Full reports whether the group has no remaining row capacity.
func (g *Group) Full() bool { return g.numRows >= g.capacity }

// Column returns the chunk backing the named column, or nil if unknown.
func (g *Group) Column(name string) *column.Chunk {
	if i := g.schema.index(name); i >= 0 {
		return g.columns[i]
	}
	return nil
}

// AppendChunk appends one source vector morsel's worth of rows (chunk's
// columns, aligned by schema order) to the group, returning the row index
// the first appended row landed at.
func (g *Group) AppendChunk(in *vector.Chunk) (int, error) {
	n := in.Size()
	if g.numRows+n > g.capacity {
		return 0, corerr.New(corerr.InvalidInput, "nodegroup: append of %d rows would exceed capacity %d (currently %d)", n, g.capacity, g.numRows)
	}
	if len(in.Vectors) != len(g.columns) {
		return 0, corerr.New(corerr.Internal, "nodegroup: chunk has %d vectors, schema has %d columns", len(in.Vectors), len(g.columns))
	}
	first := g.numRows
	for i := 0; i < n; i++ {
		pos := in.State.Pos(i)
		for c, col := range g.columns {
			if err := col.Append(in.Vectors[c], pos); err != nil {
				return 0, err
			}
		}
	}
	g.numRows += n
	return first, nil
}

// WriteRow overwrites an existing row (the update path), sourcing each
// column's new value from src at src.State.Pos(0).
func (g *Group) WriteRow(row int, src *vector.Chunk) error {
	if row < 0 || row >= g.numRows {
		return corerr.New(corerr.InvalidInput, "nodegroup: write row %d out of range [0,%d)", row, g.numRows)
	}
	pos := src.State.Pos(0)
	for c, col := range g.columns {
		if err := col.Write(row, src.Vectors[c], pos); err != nil {
			return err
		}
	}
	return nil
}

// Scan decodes rows [start, start+count) into out, whose vectors must be
// laid out in schema column order.
func (g *Group) Scan(start, count int, out *vector.Chunk) error {
	if start < 0 || start+count > g.numRows {
		return corerr.New(corerr.InvalidInput, "nodegroup: scan range [%d,%d) out of bounds [0,%d)", start, start+count, g.numRows)
	}
	for c, col := range g.columns {
		if err := col.Scan(start, count, out.Vectors[c]); err != nil {
			return err
		}
	}
	out.State.Size = count
	out.State.OriginalSize = count
	return nil
}

// Flush compresses and persists every column, returning metadata Load can
// reconstruct the group from.
func (g *Group) Flush(alloc column.PageAllocator) (GroupMetadata, error) {
	meta := GroupMetadata{NumRows: g.numRows, Columns: make(map[string]column.ColumnChunkMetadata, len(g.columns))}
	for i, col := range g.columns {
		cm, err := col.Flush(alloc)
		if err != nil {
			return GroupMetadata{}, err
		}
		meta.Columns[g.schema.Columns[i].Name] = cm
	}
	return meta, nil
}

// Checkpoint persists the group's current state. Every checkpoint is an
// out-of-place rewrite (a fresh set of pages, the old ones freed by the
// caller once the new metadata is durably recorded): spec §4.E leaves
// in-place-vs-out-of-place as an implementation choice, and in-place reuse
// only pays off when a group's compression shape is unchanged release over
// release, which this store does not track. Out-of-place is always
// correct and crash-safe without extra bookkeeping, so that's what ships.
func (g *Group) Checkpoint(alloc column.PageAllocator) (GroupMetadata, error) {
	return g.Flush(alloc)
}
