package exec

import (
	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/csr"
	"github.com/korivak/graphcore/internal/vector"
)

// Extend is the one-hop graph traversal operator: for every row of its
// child's output, it looks up the source node's adjacency list in a CSR
// table and emits one output row per (input row, neighbor) pair, with the
// input row's columns broadcast across however many neighbors that node
// has (spec §4.F/H).
//
// A node whose degree exceeds vector.Capacity is paged across multiple
// Next calls via pendingStart/pendingCount rather than ever materializing
// more than one morsel's worth of neighbors at once.
//
// Extend reads only committed CSR storage. Relationships inserted or
// deleted earlier in the same write transaction are merged into committed
// storage at commit, not visible to Extend before then.
type Extend struct {
	child     Operator
	list      *csr.List
	srcCol    int
	batchSize int

	cur          *vector.Chunk
	curRow       int
	pendingStart int
	pendingCount int
	pendingSrc   int // index into cur for the row currently being paginated
}

// NewExtend builds an Extend operator pulling from child, treating
// srcCol as the column holding the node id to extend from.
func NewExtend(child Operator, list *csr.List, srcCol int) *Extend {
	return &Extend{child: child, list: list, srcCol: srcCol, batchSize: vector.Capacity}
}

func (e *Extend) Init(ctx *Context) error {
	e.cur = nil
	e.curRow = 0
	e.pendingCount = 0
	return e.child.Init(ctx)
}

func (e *Extend) Next(ctx *Context) (*vector.Chunk, error) {
	for {
		if err := ctx.checkCancelled(); err != nil {
			return nil, err
		}
		if e.pendingCount > 0 {
			out, err := e.emitPending(ctx)
			if err != nil {
				return nil, err
			}
			if out != nil {
				return out, nil
			}
			continue
		}
		if e.cur == nil {
			c, err := e.child.Next(ctx)
			if err != nil {
				return nil, err
			}
			if c == nil {
				return nil, nil
			}
			e.cur = c
			e.curRow = 0
		}
		if e.curRow >= e.cur.Size() {
			e.cur = nil
			continue
		}

		pos := e.cur.State.Pos(e.curRow)
		srcID := e.cur.Vectors[e.srcCol].ID(pos)
		node := int(srcID.Offset)
		e.pendingSrc = e.curRow
		e.curRow++

		deg := e.list.Degree(node)
		if deg == 0 {
			continue
		}
		e.pendingStart = 0
		e.pendingCount = deg
		out, err := e.emitPending(ctx)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
	}
}

func (e *Extend) emitPending(ctx *Context) (*vector.Chunk, error) {
	n := e.pendingCount
	if n > e.batchSize {
		n = e.batchSize
	}
	srcPos := e.cur.State.Pos(e.pendingSrc)
	srcID := e.cur.Vectors[e.srcCol].ID(srcPos)
	node := int(srcID.Offset)

	out := cloneLike(e.cur, n)
	neighborVec := vector.New(vector.TInternalID, out.State, false)
	if err := e.list.ScanNodeRange(node, e.pendingStart, n, neighborVec); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		for c, v := range e.cur.Vectors {
			if err := out.Vectors[c].Reference(i, v, srcPos); err != nil {
				return nil, err
			}
		}
	}
	// Overwrite the extended column with the actual neighbor id rather
	// than the broadcast source id.
	for i := 0; i < n; i++ {
		out.Vectors[e.srcCol].SetNull(i, false)
		if err := out.Vectors[e.srcCol].Reference(i, neighborVec, i); err != nil {
			return nil, corerr.Wrap(corerr.Internal, err, "extend: writing neighbor id")
		}
	}

	e.pendingStart += n
	e.pendingCount -= n
	ctx.record("extend")
	return out, nil
}
