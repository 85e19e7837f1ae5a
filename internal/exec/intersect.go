package exec

import (
	"sort"

	"github.com/korivak/graphcore/internal/csr"
	"github.com/korivak/graphcore/internal/vector"
)

// IntersectSide names one adjacency list participating in a multiway
// intersection and the source-node column it is keyed on.
type IntersectSide struct {
	List   *csr.List
	SrcCol int
}

// Intersect computes, for each row of its child, the set of neighbor ids
// common to every side's adjacency list — the multiway list intersection
// of spec §4.H, used for pattern-matching queries that bind the same
// variable on both ends of two or more relationships (e.g. mutual
// friends). The smallest side's decoded list drives the sweep, the same
// "smallest list first" rule spec §4.H calls out, implemented here with a
// sorted-merge over decoded id slices rather than the hash-table variant
// since CSR neighbor slots are not pre-sorted and id count per node is
// small relative to a full table scan.
type Intersect struct {
	child Operator
	sides []IntersectSide

	cur    *vector.Chunk
	curRow int
}

// NewIntersect builds an Intersect operator pulling probe rows from
// child and intersecting the adjacency lists named by sides.
func NewIntersect(child Operator, sides []IntersectSide) *Intersect {
	return &Intersect{child: child, sides: sides}
}

func (x *Intersect) Init(ctx *Context) error {
	x.cur = nil
	x.curRow = 0
	return x.child.Init(ctx)
}

func (x *Intersect) Next(ctx *Context) (*vector.Chunk, error) {
	for {
		if err := ctx.checkCancelled(); err != nil {
			return nil, err
		}
		if x.cur == nil {
			c, err := x.child.Next(ctx)
			if err != nil {
				return nil, err
			}
			if c == nil {
				return nil, nil
			}
			x.cur = c
			x.curRow = 0
		}
		if x.curRow >= x.cur.Size() {
			x.cur = nil
			continue
		}
		row := x.curRow
		x.curRow++
		pos := x.cur.State.Pos(row)

		common, err := x.intersectRow(pos)
		if err != nil {
			return nil, err
		}
		if len(common) == 0 {
			continue
		}
		out, err := x.emit(pos, common)
		if err != nil {
			return nil, err
		}
		ctx.record("intersect")
		return out, nil
	}
}

func (x *Intersect) intersectRow(pos int) ([]uint64, error) {
	lists := make([][]uint64, len(x.sides))
	for i, side := range x.sides {
		srcID := x.cur.Vectors[side.SrcCol].ID(pos)
		node := int(srcID.Offset)
		deg := side.List.Degree(node)
		dst := vector.New(vector.TInternalID, vector.NewUnflat(deg), false)
		if err := side.List.ScanNode(node, dst); err != nil {
			return nil, err
		}
		ids := make([]uint64, deg)
		for j := 0; j < deg; j++ {
			ids[j] = dst.ID(j).Offset
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		lists[i] = ids
	}
	sort.Slice(lists, func(a, b int) bool { return len(lists[a]) < len(lists[b]) })

	result := lists[0]
	for _, other := range lists[1:] {
		result = sortedIntersect(result, other)
		if len(result) == 0 {
			break
		}
	}
	return result, nil
}

func sortedIntersect(a, b []uint64) []uint64 {
	var out []uint64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func (x *Intersect) emit(probePos int, common []uint64) (*vector.Chunk, error) {
	n := len(common)
	if n > vector.Capacity {
		n = vector.Capacity
		common = common[:n]
	}
	out := cloneLike(x.cur, n)
	for i := 0; i < n; i++ {
		for c, v := range x.cur.Vectors {
			if err := out.Vectors[c].Reference(i, v, probePos); err != nil {
				return nil, err
			}
		}
	}
	commonCol := vector.New(vector.TInternalID, out.State, false)
	vecs := append(append([]*vector.Vector(nil), out.Vectors...), commonCol)
	for i := 0; i < n; i++ {
		commonCol.SetID(i, vector.InternalID{Offset: common[i]})
	}
	return vector.NewChunk(out.State, vecs...), nil
}
