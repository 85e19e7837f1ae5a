// Package localtable implements the per-transaction local write buffers of
// spec §4.I: uncommitted node-group inserts/updates/deletes and uncommitted
// relationship inserts/deletes, kept separate from committed storage until
// commit-time merge, plus the ignore_errors warning sink.
//
// Grounded on the teacher's MVCC per-transaction undo/overlay bookkeeping
// (internal/storage/mvcc.go in github.com/SimonWaldherr/tinySQL): same
// "buffer writes, apply at commit" shape, rebuilt here around node-groups
// and CSR lists instead of row-versioned SQL tables.
package localtable

import (
	"sync"

	"github.com/korivak/graphcore/internal/nodegroup"
	"github.com/korivak/graphcore/internal/vector"
)

// UncommittedMarker is the high bit a node's InternalID.Offset carries while
// only its local (not yet committed) row exists, so a scan can tell an
// uncommitted node id from a committed one without a side table (spec §9
// Open Question on LocalRelTable row-id sentinel semantics, resolved this
// way: committed offsets are dense small integers assigned by the
// node-group store, so the top bit of a uint64 offset is never reached by
// real data and is free to use as the uncommitted tag).
const UncommittedMarker = uint64(1) << 63

// UncommittedID tags a local row index as an uncommitted node identity.
func UncommittedID(tableID uint64, localRow int) vector.InternalID {
	return vector.InternalID{TableID: tableID, Offset: UncommittedMarker | uint64(localRow)}
}

// IsUncommitted reports whether id refers to a not-yet-committed local row.
func IsUncommitted(id vector.InternalID) bool { return id.Offset&UncommittedMarker != 0 }

// LocalRow extracts the local row index from an uncommitted id.
func LocalRow(id vector.InternalID) int { return int(id.Offset &^ UncommittedMarker) }

// LocalNodeGroup buffers one transaction's uncommitted writes against one
// node table: newly inserted rows (held in a scratch node-group), overlay
// values for updated committed rows, and a tombstone set for deleted
// committed rows.
type LocalNodeGroup struct {
	mu       sync.Mutex
	schema   nodegroup.Schema
	inserted *nodegroup.Group
	updates  map[int]*vector.Chunk
	deleted  map[int]bool
}

// NewLocalNodeGroup allocates an empty local buffer for one table.
func NewLocalNodeGroup(schema nodegroup.Schema, insertCapacity, pageSize int) *LocalNodeGroup {
	return &LocalNodeGroup{
		schema:   schema,
		inserted: nodegroup.New(schema, insertCapacity, pageSize),
		updates:  make(map[int]*vector.Chunk),
		deleted:  make(map[int]bool),
	}
}

// InsertChunk appends one morsel of new rows to the local insert buffer,
// returning the local row index the first new row landed at.
func (l *LocalNodeGroup) InsertChunk(in *vector.Chunk) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inserted.AppendChunk(in)
}

// UpdateRow overlays a new value for an already-committed row. src's
// current cursor position supplies the value; a private copy is kept so
// the caller's vector can be reused for the next row.
func (l *LocalNodeGroup) UpdateRow(committedRow int, src *vector.Chunk, pos int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates[committedRow] = snapshotRow(src, pos)
}

// DeleteRow tombstones an already-committed row.
func (l *LocalNodeGroup) DeleteRow(committedRow int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.updates, committedRow)
	l.deleted[committedRow] = true
}

// IsDeleted reports whether committedRow has been locally deleted.
func (l *LocalNodeGroup) IsDeleted(committedRow int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deleted[committedRow]
}

// Update returns the local overlay for committedRow, if any.
func (l *LocalNodeGroup) Update(committedRow int) (*vector.Chunk, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.updates[committedRow]
	return c, ok
}

// Inserted returns the scratch node-group holding locally inserted rows.
func (l *LocalNodeGroup) Inserted() *nodegroup.Group { return l.inserted }

// Deletions returns every committed row index deleted in this transaction.
func (l *LocalNodeGroup) Deletions() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, 0, len(l.deleted))
	for row := range l.deleted {
		out = append(out, row)
	}
	return out
}

// Updates returns every (committedRow, overlay) pair recorded so far.
func (l *LocalNodeGroup) Updates() map[int]*vector.Chunk {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int]*vector.Chunk, len(l.updates))
	for k, v := range l.updates {
		out[k] = v
	}
	return out
}

func snapshotRow(src *vector.Chunk, pos int) *vector.Chunk {
	st := vector.NewFlat(0)
	vecs := make([]*vector.Vector, len(src.Vectors))
	for i, v := range src.Vectors {
		nv := vector.New(v.Type, st, true)
		_ = nv.Reference(0, v, pos)
		vecs[i] = nv
	}
	return vector.NewChunk(st, vecs...)
}

// Edge is one pending relationship insert: the neighbor it points to plus
// a single-row snapshot of its property values (nil if the relationship
// table carries no properties). Its shape mirrors csr.PendingEdge so a
// commit-time merge can feed these straight into csr.Rebuild.
type Edge struct {
	Neighbor vector.InternalID
	Props    *vector.Chunk
}

// LocalRelTable buffers one transaction's uncommitted relationship writes
// against one relationship table, indexed both ways so a forward or
// backward traversal during the same transaction sees its own
// not-yet-committed edges (spec §4.F/I: fwd_index / bwd_index).
type LocalRelTable struct {
	mu         sync.Mutex
	fwdIndex   map[uint64][]Edge
	bwdIndex   map[uint64][]Edge
	deletedFwd map[uint64]map[uint64]bool
}

// NewLocalRelTable allocates an empty local relationship buffer.
func NewLocalRelTable() *LocalRelTable {
	return &LocalRelTable{
		fwdIndex:   make(map[uint64][]Edge),
		bwdIndex:   make(map[uint64][]Edge),
		deletedFwd: make(map[uint64]map[uint64]bool),
	}
}

// InsertEdge records a pending edge from src to dst with an optional
// property row snapshot.
func (t *LocalRelTable) InsertEdge(src, dst vector.InternalID, props *vector.Chunk) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fwdIndex[src.Offset] = append(t.fwdIndex[src.Offset], Edge{Neighbor: dst, Props: props})
	t.bwdIndex[dst.Offset] = append(t.bwdIndex[dst.Offset], Edge{Neighbor: src, Props: props})
}

// DeleteEdge tombstones a committed (src, dst) edge so a merged scan skips
// it even though the committed CSR list still carries the slot.
func (t *LocalRelTable) DeleteEdge(src, dst vector.InternalID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deletedFwd[src.Offset] == nil {
		t.deletedFwd[src.Offset] = make(map[uint64]bool)
	}
	t.deletedFwd[src.Offset][dst.Offset] = true
}

// IsEdgeDeleted reports whether (src, dst) was locally deleted.
func (t *LocalRelTable) IsEdgeDeleted(src, dst vector.InternalID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.deletedFwd[src.Offset]
	return ok && m[dst.Offset]
}

// ForwardOf returns src's pending outgoing edges.
func (t *LocalRelTable) ForwardOf(src vector.InternalID) []Edge {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Edge(nil), t.fwdIndex[src.Offset]...)
}

// BackwardOf returns dst's pending incoming edges.
func (t *LocalRelTable) BackwardOf(dst vector.InternalID) []Edge {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Edge(nil), t.bwdIndex[dst.Offset]...)
}

// PendingEdgesBySource returns every pending forward edge, keyed by
// source InternalID offset exactly as recorded by InsertEdge — a commit
// merge resolves those keys (which may carry the uncommitted-row marker
// for a node inserted earlier in the same transaction) before using them
// to index a committed node table's row space.
func (t *LocalRelTable) PendingEdgesBySource() map[uint64][]Edge {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint64][]Edge, len(t.fwdIndex))
	for k, v := range t.fwdIndex {
		out[k] = append([]Edge(nil), v...)
	}
	return out
}

// PendingEdgesByDest is PendingEdgesBySource's backward-direction twin.
func (t *LocalRelTable) PendingEdgesByDest() map[uint64][]Edge {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint64][]Edge, len(t.bwdIndex))
	for k, v := range t.bwdIndex {
		out[k] = append([]Edge(nil), v...)
	}
	return out
}

// DeletedEdges returns every locally tombstoned (src offset, dst offset)
// pair, both sides already-committed offsets (spec §4.F: delete resolves
// an existing (src,dst) pair, so there is no uncommitted-id case here the
// way there is for InsertEdge).
func (t *LocalRelTable) DeletedEdges() map[uint64]map[uint64]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint64]map[uint64]bool, len(t.deletedFwd))
	for src, dsts := range t.deletedFwd {
		cp := make(map[uint64]bool, len(dsts))
		for dst := range dsts {
			cp[dst] = true
		}
		out[src] = cp
	}
	return out
}

// WarningBuffer collects non-fatal row errors when a statement runs with
// ignore_errors semantics (spec §7), so the caller can surface them after
// the statement completes instead of aborting the transaction.
type WarningBuffer struct {
	mu       sync.Mutex
	warnings []string
}

// Add records one warning message.
func (w *WarningBuffer) Add(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.warnings = append(w.warnings, msg)
}

// All returns every warning recorded so far, in order.
func (w *WarningBuffer) All() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.warnings...)
}

// Len reports how many warnings have been recorded.
func (w *WarningBuffer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.warnings)
}
