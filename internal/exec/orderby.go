package exec

import (
	"sort"

	"github.com/korivak/graphcore/internal/vector"
)

// OrderSpec names one sort key: Col is the input column index, Desc
// reverses comparison order, NullsFirst controls where nulls sort.
type OrderSpec struct {
	Col        int
	Desc       bool
	NullsFirst bool
}

type sortRow struct {
	chunk *vector.Chunk
	pos   int
}

// OrderBy is a barrier operator: it fully materializes its child, sorts by
// the given keys, and optionally truncates to the first Limit rows (the
// top-k case), mirroring the teacher's ORDER BY ... LIMIT handling which
// also sorts the complete result set in memory before slicing
// (github.com/SimonWaldherr/tinySQL internal/engine/exec.go,
// processNonAggregateQuery's ORDER BY/LIMIT tail).
type OrderBy struct {
	child Operator
	keys  []OrderSpec
	limit int // 0 means unlimited

	rows    []sortRow
	colType []vector.Type
	sorted  bool
	emitPos int
}

// NewOrderBy builds a sort operator over child. limit <= 0 means no cap.
func NewOrderBy(child Operator, keys []OrderSpec, limit int) *OrderBy {
	return &OrderBy{child: child, keys: keys, limit: limit}
}

func (o *OrderBy) Init(ctx *Context) error {
	o.rows = nil
	o.colType = nil
	o.sorted = false
	o.emitPos = 0
	return o.child.Init(ctx)
}

func (o *OrderBy) materialize(ctx *Context) error {
	for {
		c, err := o.child.Next(ctx)
		if err != nil {
			return err
		}
		if c == nil {
			break
		}
		if o.colType == nil {
			for _, v := range c.Vectors {
				o.colType = append(o.colType, v.Type)
			}
		}
		for i := 0; i < c.Size(); i++ {
			o.rows = append(o.rows, sortRow{chunk: c, pos: c.State.Pos(i)})
		}
		ctx.record("orderby_materialize")
	}
	sort.SliceStable(o.rows, func(i, j int) bool {
		return o.less(o.rows[i], o.rows[j])
	})
	if o.limit > 0 && len(o.rows) > o.limit {
		o.rows = o.rows[:o.limit]
	}
	o.sorted = true
	return nil
}

func (o *OrderBy) less(a, b sortRow) bool {
	for _, k := range o.keys {
		va := a.chunk.Vectors[k.Col]
		vb := b.chunk.Vectors[k.Col]
		an, bn := va.IsNull(a.pos), vb.IsNull(b.pos)
		if an && bn {
			continue
		}
		if an || bn {
			if an {
				return k.NullsFirst
			}
			return !k.NullsFirst
		}
		cmp := compareValues(va, a.pos, vb, b.pos)
		if cmp == 0 {
			continue
		}
		if k.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func compareValues(va *vector.Vector, pa int, vb *vector.Vector, pb int) int {
	if va.Type == vector.TStringIndex {
		sa, sb := va.String(pa), vb.String(pb)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		default:
			return 0
		}
	}
	xa, xb := numericValue(va, pa), numericValue(vb, pb)
	switch {
	case xa < xb:
		return -1
	case xa > xb:
		return 1
	default:
		return 0
	}
}

func (o *OrderBy) Next(ctx *Context) (*vector.Chunk, error) {
	if err := ctx.checkCancelled(); err != nil {
		return nil, err
	}
	if !o.sorted {
		if err := o.materialize(ctx); err != nil {
			return nil, err
		}
	}
	if o.emitPos >= len(o.rows) {
		return nil, nil
	}
	n := len(o.rows) - o.emitPos
	if n > vector.Capacity {
		n = vector.Capacity
	}
	st := vector.NewUnflat(n)
	vecs := make([]*vector.Vector, len(o.colType))
	for c, t := range o.colType {
		nv := vector.New(t, st, true)
		for i := 0; i < n; i++ {
			r := o.rows[o.emitPos+i]
			if err := nv.Reference(i, r.chunk.Vectors[c], r.pos); err != nil {
				return nil, err
			}
		}
		vecs[c] = nv
	}
	o.emitPos += n
	ctx.record("orderby_emit")
	return vector.NewChunk(st, vecs...), nil
}
