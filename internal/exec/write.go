package exec

import (
	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/localtable"
	"github.com/korivak/graphcore/internal/pkindex"
	"github.com/korivak/graphcore/internal/vector"
)

// NodeInsert is the terminal write operator for CREATE (node): it pulls
// rows from its child and appends each morsel to a transaction's local
// node buffer, emitting one row per inserted node carrying the new
// uncommitted internal id in idCol (spec §4.I).
type NodeInsert struct {
	child   Operator
	buf     *localtable.LocalNodeGroup
	tableID uint64
	idCol   int

	pkCol        int // -1 disables the primary-key uniqueness check
	pk           *pkindex.Index
	ignoreErrors bool
	warnings     *localtable.WarningBuffer
	localSeen    map[string]bool
}

// NewNodeInsert builds an insert operator writing into buf, tagging each
// inserted row's id with tableID so callers can tell which table an
// uncommitted InternalID belongs to.
func NewNodeInsert(child Operator, buf *localtable.LocalNodeGroup, tableID uint64, idCol int) *NodeInsert {
	return &NodeInsert{child: child, buf: buf, tableID: tableID, idCol: idCol, pkCol: -1}
}

// WithPrimaryKey enables insert-time primary-key uniqueness checking
// (spec §4.H: "applying constraint checks (primary key uniqueness for
// node inserts...)", spec §8 scenario 1) against both already-committed
// keys (via pk) and keys inserted earlier in the same statement. When
// ignoreErrors is set (the `ignore_errors` batch-insert policy, spec §6),
// a duplicate row is skipped and recorded into warnings instead of
// aborting the whole morsel.
func (n *NodeInsert) WithPrimaryKey(pkCol int, pk *pkindex.Index, ignoreErrors bool, warnings *localtable.WarningBuffer) *NodeInsert {
	n.pkCol, n.pk, n.ignoreErrors, n.warnings = pkCol, pk, ignoreErrors, warnings
	return n
}

func (n *NodeInsert) Init(ctx *Context) error {
	n.localSeen = make(map[string]bool)
	return n.child.Init(ctx)
}

func (n *NodeInsert) Next(ctx *Context) (*vector.Chunk, error) {
	for {
		if err := ctx.checkCancelled(); err != nil {
			return nil, err
		}
		c, err := n.child.Next(ctx)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, nil
		}

		if n.pkCol >= 0 {
			c, err = n.rejectDuplicates(c)
			if err != nil {
				return nil, err
			}
			if c == nil {
				continue // every row in this morsel was a duplicate, skipped under ignore_errors
			}
		}

		firstLocalRow, err := n.buf.InsertChunk(c)
		if err != nil {
			return nil, err
		}
		out := cloneLike(c, c.Size())
		for i := 0; i < c.Size(); i++ {
			pos := c.State.Pos(i)
			for col, v := range c.Vectors {
				if col == n.idCol {
					continue
				}
				if err := out.Vectors[col].Reference(i, v, pos); err != nil {
					return nil, err
				}
			}
			out.Vectors[n.idCol].SetNull(i, false)
			out.Vectors[n.idCol].SetID(i, localtable.UncommittedID(n.tableID, firstLocalRow+i))
		}
		ctx.record("node_insert")
		return out, nil
	}
}

// rejectDuplicates filters c down to rows whose primary key is novel,
// either failing outright or skipping-and-warning per ignoreErrors. It
// returns (nil, nil) if every row was a duplicate.
func (n *NodeInsert) rejectDuplicates(c *vector.Chunk) (*vector.Chunk, error) {
	pkVec := c.Vectors[n.pkCol]
	keep := make([]int, 0, c.Size())
	for i := 0; i < c.Size(); i++ {
		pos := c.State.Pos(i)
		key, ok := insertPKKey(pkVec, pos)
		dup := ok && (n.localSeen[key] || n.pk.Contains(key))
		if dup {
			cerr := corerr.New(corerr.InvalidInput, "duplicate primary key %v", insertPKValue(pkVec, pos))
			if n.ignoreErrors {
				if n.warnings != nil {
					n.warnings.Add(cerr.Error())
				}
				continue
			}
			return nil, cerr
		}
		if ok {
			n.localSeen[key] = true
		}
		keep = append(keep, pos)
	}
	if len(keep) == 0 {
		return nil, nil
	}
	if len(keep) == c.Size() {
		return c, nil
	}
	out := cloneLike(c, len(keep))
	for i, pos := range keep {
		for col, v := range c.Vectors {
			if err := out.Vectors[col].Reference(i, v, pos); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func insertPKKey(v *vector.Vector, pos int) (string, bool) {
	switch v.Type {
	case vector.TInt64:
		return pkindex.KeyInt64(v.Int64(pos)), true
	case vector.TStringIndex:
		return pkindex.KeyString(v.String(pos)), true
	default:
		return "", false
	}
}

// insertPKValue renders a primary-key cell for error/warning messages.
func insertPKValue(v *vector.Vector, pos int) any {
	switch v.Type {
	case vector.TInt64:
		return v.Int64(pos)
	case vector.TStringIndex:
		return v.String(pos)
	default:
		return "?"
	}
}

// NodeUpdate overlays new column values onto already-committed rows
// (spec §4.I). idCol identifies the committed row via its InternalID;
// every other column in a child row becomes that row's overlay value.
type NodeUpdate struct {
	child Operator
	buf   *localtable.LocalNodeGroup
	idCol int
	cur   *vector.Chunk
	row   int
}

// NewNodeUpdate builds an update operator writing overlays into buf.
func NewNodeUpdate(child Operator, buf *localtable.LocalNodeGroup, idCol int) *NodeUpdate {
	return &NodeUpdate{child: child, buf: buf, idCol: idCol}
}

func (u *NodeUpdate) Init(ctx *Context) error {
	u.cur = nil
	u.row = 0
	return u.child.Init(ctx)
}

func (u *NodeUpdate) Next(ctx *Context) (*vector.Chunk, error) {
	for {
		if err := ctx.checkCancelled(); err != nil {
			return nil, err
		}
		if u.cur == nil {
			c, err := u.child.Next(ctx)
			if err != nil {
				return nil, err
			}
			if c == nil {
				return nil, nil
			}
			u.cur = c
			u.row = 0
		}
		if u.row >= u.cur.Size() {
			out := u.cur
			u.cur = nil
			ctx.record("node_update")
			return out, nil
		}
		pos := u.cur.State.Pos(u.row)
		idVec := u.cur.Vectors[u.idCol]
		if !idVec.IsNull(pos) && !localtable.IsUncommitted(idVec.ID(pos)) {
			u.buf.UpdateRow(int(idVec.ID(pos).Offset), u.cur, pos)
		}
		u.row++
	}
}

// NodeDelete tombstones committed rows whose id flows through idCol
// (spec §4.I); uncommitted (same-transaction) inserts are skipped since
// they were never durable in the first place.
type NodeDelete struct {
	child Operator
	buf   *localtable.LocalNodeGroup
	idCol int
}

// NewNodeDelete builds a delete operator marking rows tombstoned in buf.
func NewNodeDelete(child Operator, buf *localtable.LocalNodeGroup, idCol int) *NodeDelete {
	return &NodeDelete{child: child, buf: buf, idCol: idCol}
}

func (d *NodeDelete) Init(ctx *Context) error { return d.child.Init(ctx) }

func (d *NodeDelete) Next(ctx *Context) (*vector.Chunk, error) {
	if err := ctx.checkCancelled(); err != nil {
		return nil, err
	}
	c, err := d.child.Next(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	idVec := c.Vectors[d.idCol]
	for i := 0; i < c.Size(); i++ {
		pos := c.State.Pos(i)
		if idVec.IsNull(pos) {
			continue
		}
		id := idVec.ID(pos)
		if localtable.IsUncommitted(id) {
			continue
		}
		d.buf.DeleteRow(int(id.Offset))
	}
	ctx.record("node_delete")
	return c, nil
}

// RelInsert is the terminal write operator for CREATE (relationship): it
// pulls (src, dst) id pairs (plus optional property columns) from its
// child and records each as a pending edge in the transaction's local
// relationship buffer.
type RelInsert struct {
	child           Operator
	buf             *localtable.LocalRelTable
	srcCol, dstCol  int
	propCols        []int
}

// NewRelInsert builds a relationship-insert operator writing into buf.
func NewRelInsert(child Operator, buf *localtable.LocalRelTable, srcCol, dstCol int, propCols []int) *RelInsert {
	return &RelInsert{child: child, buf: buf, srcCol: srcCol, dstCol: dstCol, propCols: propCols}
}

func (r *RelInsert) Init(ctx *Context) error { return r.child.Init(ctx) }

func (r *RelInsert) Next(ctx *Context) (*vector.Chunk, error) {
	if err := ctx.checkCancelled(); err != nil {
		return nil, err
	}
	c, err := r.child.Next(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	for i := 0; i < c.Size(); i++ {
		pos := c.State.Pos(i)
		src := c.Vectors[r.srcCol].ID(pos)
		dst := c.Vectors[r.dstCol].ID(pos)
		var props *vector.Chunk
		if len(r.propCols) > 0 {
			props = snapshotCols(c, pos, r.propCols)
		}
		r.buf.InsertEdge(src, dst, props)
	}
	ctx.record("rel_insert")
	return c, nil
}

func snapshotCols(src *vector.Chunk, pos int, cols []int) *vector.Chunk {
	st := vector.NewFlat(0)
	vecs := make([]*vector.Vector, len(cols))
	for i, col := range cols {
		v := src.Vectors[col]
		nv := vector.New(v.Type, st, true)
		_ = nv.Reference(0, v, pos)
		vecs[i] = nv
	}
	return vector.NewChunk(st, vecs...)
}

// RelDelete tombstones committed (src, dst) edges in the local buffer.
type RelDelete struct {
	child          Operator
	buf            *localtable.LocalRelTable
	srcCol, dstCol int
}

// NewRelDelete builds a relationship-delete operator marking edges
// tombstoned in buf.
func NewRelDelete(child Operator, buf *localtable.LocalRelTable, srcCol, dstCol int) *RelDelete {
	return &RelDelete{child: child, buf: buf, srcCol: srcCol, dstCol: dstCol}
}

func (r *RelDelete) Init(ctx *Context) error { return r.child.Init(ctx) }

func (r *RelDelete) Next(ctx *Context) (*vector.Chunk, error) {
	if err := ctx.checkCancelled(); err != nil {
		return nil, err
	}
	c, err := r.child.Next(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	for i := 0; i < c.Size(); i++ {
		pos := c.State.Pos(i)
		src := c.Vectors[r.srcCol].ID(pos)
		dst := c.Vectors[r.dstCol].ID(pos)
		r.buf.DeleteEdge(src, dst)
	}
	ctx.record("rel_delete")
	return c, nil
}

// Collect drains an operator tree into a single in-memory result, the
// terminal stage a query's caller uses to materialize the final answer
// (spec §6, analogous to the teacher's Select returning a complete []Row
// rather than a cursor).
type Collect struct {
	child Operator
	rows  int
	types []vector.Type
}

// NewCollect wraps child as the root of a query's execution tree.
func NewCollect(child Operator) *Collect { return &Collect{child: child} }

func (c *Collect) Init(ctx *Context) error {
	c.rows = 0
	c.types = nil
	return c.child.Init(ctx)
}

// Run pulls every morsel from child and returns them concatenated.
func (c *Collect) Run(ctx *Context) ([]*vector.Chunk, error) {
	var out []*vector.Chunk
	for {
		chunk, err := c.child.Next(ctx)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			return out, nil
		}
		c.rows += chunk.Size()
		out = append(out, chunk)
	}
}

// RowCount reports how many rows Run has produced so far.
func (c *Collect) RowCount() int { return c.rows }
