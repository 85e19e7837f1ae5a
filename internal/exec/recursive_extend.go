package exec

import (
	"github.com/korivak/graphcore/internal/csr"
	"github.com/korivak/graphcore/internal/vector"
)

// RecursiveExtend is a supplemented operator (not named in spec §4.H, but
// present in the original kuzu implementation's recursive_extend/
// all_shortest_path_state state machine — frontier set, visited set, depth
// counter) performing bounded-depth BFS traversal from each child row's
// source node, reading each hop's neighbors with csr.List.ScanNode.
//
// One output row is emitted per node reached within [MinDepth, MaxDepth]
// hops, carrying the reached node's id and the hop count it was found at.
// Nodes are visited at most once per source (shortest-path semantics,
// matching the original's all_shortest_path_state rather than
// enumerating every walk).
type RecursiveExtend struct {
	child    Operator
	list     *csr.List
	srcCol   int
	minDepth int
	maxDepth int

	cur    *vector.Chunk
	curRow int
	queue  []pendingFrontier
}

type pendingFrontier struct {
	results []reached
	pos     int
}

type reached struct {
	node  uint64
	depth int
}

// NewRecursiveExtend builds a bounded-depth BFS operator over list,
// starting from srcCol, emitting nodes reached within [minDepth, maxDepth]
// hops (inclusive).
func NewRecursiveExtend(child Operator, list *csr.List, srcCol, minDepth, maxDepth int) *RecursiveExtend {
	return &RecursiveExtend{child: child, list: list, srcCol: srcCol, minDepth: minDepth, maxDepth: maxDepth}
}

func (r *RecursiveExtend) Init(ctx *Context) error {
	r.cur = nil
	r.curRow = 0
	r.queue = nil
	return r.child.Init(ctx)
}

func (r *RecursiveExtend) bfs(startNode int) []reached {
	visited := map[uint64]bool{uint64(startNode): true}
	frontier := []uint64{uint64(startNode)}
	var out []reached
	for depth := 1; depth <= r.maxDepth && len(frontier) > 0; depth++ {
		var next []uint64
		for _, node := range frontier {
			deg := r.list.Degree(int(node))
			if deg == 0 {
				continue
			}
			dst := vector.New(vector.TInternalID, vector.NewUnflat(deg), false)
			if err := r.list.ScanNode(int(node), dst); err != nil {
				continue
			}
			for i := 0; i < deg; i++ {
				nb := dst.ID(i).Offset
				if visited[nb] {
					continue
				}
				visited[nb] = true
				next = append(next, nb)
				if depth >= r.minDepth {
					out = append(out, reached{node: nb, depth: depth})
				}
			}
		}
		frontier = next
	}
	return out
}

func (r *RecursiveExtend) Next(ctx *Context) (*vector.Chunk, error) {
	for {
		if err := ctx.checkCancelled(); err != nil {
			return nil, err
		}
		if len(r.queue) > 0 {
			pf := &r.queue[len(r.queue)-1]
			if pf.pos < len(pf.results) {
				n := len(pf.results) - pf.pos
				if n > vector.Capacity {
					n = vector.Capacity
				}
				out, err := r.emit(pf.results[pf.pos : pf.pos+n])
				if err != nil {
					return nil, err
				}
				pf.pos += n
				ctx.record("recursive_extend")
				return out, nil
			}
			r.queue = r.queue[:len(r.queue)-1]
			continue
		}
		if r.cur == nil {
			c, err := r.child.Next(ctx)
			if err != nil {
				return nil, err
			}
			if c == nil {
				return nil, nil
			}
			r.cur = c
			r.curRow = 0
		}
		if r.curRow >= r.cur.Size() {
			r.cur = nil
			continue
		}
		pos := r.cur.State.Pos(r.curRow)
		r.curRow++
		srcID := r.cur.Vectors[r.srcCol].ID(pos)
		results := r.bfs(int(srcID.Offset))
		if len(results) == 0 {
			continue
		}
		r.queue = append(r.queue, pendingFrontier{results: results})
	}
}

func (r *RecursiveExtend) emit(batch []reached) (*vector.Chunk, error) {
	n := len(batch)
	st := vector.NewUnflat(n)
	nodeVec := vector.New(vector.TInternalID, st, false)
	depthVec := vector.New(vector.TInt64, st, false)
	for i, rc := range batch {
		nodeVec.SetID(i, vector.InternalID{Offset: rc.node})
		depthVec.SetInt64(i, int64(rc.depth))
	}
	return vector.NewChunk(st, nodeVec, depthVec), nil
}
