package exec

import (
	"github.com/korivak/graphcore/internal/vector"
)

// JoinKind selects how a HashJoin matches and emits rows (spec §4.H).
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinMark
	JoinCount
)

type joinKey [16]byte

func keyOf(v *vector.Vector, pos int) joinKey {
	var k joinKey
	id := v.ID(pos)
	copyUint64(k[0:8], id.TableID)
	copyUint64(k[8:16], id.Offset)
	return k
}

func copyUint64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * uint(i)))
	}
}

// HashJoin builds a hash table from its build-side child keyed by a single
// TInternalID column, then probes it one morsel at a time from its probe
// side, following the teacher's build-then-probe shape used for its own
// nested-loop joins (github.com/SimonWaldherr/tinySQL internal/engine) but
// generalized here to a real hash table keyed on internal row ids rather
// than a row-by-row predicate scan.
type HashJoin struct {
	build    Operator
	probe    Operator
	buildKey int
	probeKey int
	kind     JoinKind

	table       map[joinKey][]buildRow
	built       bool
	buildSchema *vector.Chunk
	cur         *vector.Chunk
	curRow      int

	// pendingMatches pages a probe row whose match count exceeds
	// vector.Capacity across successive Next calls, the same way Extend
	// pages a high-degree node's adjacency list.
	pendingMatches    []buildRow
	pendingProbeChunk *vector.Chunk
	pendingProbePos   int
}

type buildRow struct {
	chunk *vector.Chunk
	pos   int
}

// NewHashJoin wires build and probe children, matching on the TInternalID
// column at buildKey/probeKey respectively.
func NewHashJoin(build, probe Operator, buildKey, probeKey int, kind JoinKind) *HashJoin {
	return &HashJoin{build: build, probe: probe, buildKey: buildKey, probeKey: probeKey, kind: kind}
}

func (h *HashJoin) Init(ctx *Context) error {
	h.table = make(map[joinKey][]buildRow)
	h.built = false
	h.cur = nil
	h.curRow = 0
	if err := h.build.Init(ctx); err != nil {
		return err
	}
	return h.probe.Init(ctx)
}

func (h *HashJoin) buildTable(ctx *Context) error {
	for {
		c, err := h.build.Next(ctx)
		if err != nil {
			return err
		}
		if c == nil {
			break
		}
		if h.buildSchema == nil {
			h.buildSchema = c
		}
		for i := 0; i < c.Size(); i++ {
			pos := c.State.Pos(i)
			bv := c.Vectors[h.buildKey]
			if bv.IsNull(pos) {
				continue
			}
			k := keyOf(bv, pos)
			h.table[k] = append(h.table[k], buildRow{chunk: c, pos: pos})
		}
		ctx.record("hashjoin_build")
	}
	h.built = true
	return nil
}

func (h *HashJoin) Next(ctx *Context) (*vector.Chunk, error) {
	if err := ctx.checkCancelled(); err != nil {
		return nil, err
	}
	if !h.built {
		if err := h.buildTable(ctx); err != nil {
			return nil, err
		}
	}
	for {
		if err := ctx.checkCancelled(); err != nil {
			return nil, err
		}
		if len(h.pendingMatches) > 0 {
			return h.emitJoinedPage(h.pendingProbeChunk, h.pendingProbePos, h.pendingMatches)
		}
		if h.cur == nil {
			c, err := h.probe.Next(ctx)
			if err != nil {
				return nil, err
			}
			if c == nil {
				return nil, nil
			}
			h.cur = c
			h.curRow = 0
		}
		if h.curRow >= h.cur.Size() {
			h.cur = nil
			continue
		}

		probeRow := h.curRow
		h.curRow++
		pos := h.cur.State.Pos(probeRow)
		pv := h.cur.Vectors[h.probeKey]

		var matches []buildRow
		if !pv.IsNull(pos) {
			matches = h.table[keyOf(pv, pos)]
		}

		switch h.kind {
		case JoinMark:
			return h.emitMark(probeRow, len(matches) > 0)
		case JoinCount:
			return h.emitCount(probeRow, len(matches))
		case JoinLeft:
			if len(matches) == 0 {
				return h.emitJoinedPage(h.cur, pos, nil)
			}
			return h.emitJoinedPage(h.cur, pos, matches)
		default: // JoinInner
			if len(matches) == 0 {
				continue
			}
			return h.emitJoinedPage(h.cur, pos, matches)
		}
	}
}

// emitJoinedPage produces one vector.Capacity-bounded output chunk for
// probeChunk/probePos's matches (or a single all-null-build row for an
// unmatched LEFT probe row), combining probe columns followed by build
// columns. When matches exceeds vector.Capacity it emits the first page
// and stashes the remainder in h.pendingMatches so Next pages through the
// rest on subsequent calls instead of silently dropping the overflow, the
// same way Extend pages a high-degree node's adjacency list.
func (h *HashJoin) emitJoinedPage(probeChunk *vector.Chunk, probePos int, matches []buildRow) (*vector.Chunk, error) {
	n := len(matches)
	if n == 0 {
		n = 1
	}
	if n > vector.Capacity {
		n = vector.Capacity
		h.pendingMatches = matches[n:]
		h.pendingProbeChunk = probeChunk
		h.pendingProbePos = probePos
		matches = matches[:n]
	} else {
		h.pendingMatches = nil
		h.pendingProbeChunk = nil
	}
	st := vector.NewUnflat(n)
	vecs := make([]*vector.Vector, 0, len(probeChunk.Vectors))
	for _, v := range probeChunk.Vectors {
		nv := vector.New(v.Type, st, v.Nullable())
		for i := 0; i < n; i++ {
			if err := nv.Reference(i, v, probePos); err != nil {
				return nil, err
			}
		}
		vecs = append(vecs, nv)
	}
	if h.buildSchema != nil {
		for col, v := range h.buildSchema.Vectors {
			nv := vector.New(v.Type, st, true)
			for i := 0; i < n; i++ {
				if i < len(matches) {
					if err := nv.Reference(i, matches[i].chunk.Vectors[col], matches[i].pos); err != nil {
						return nil, err
					}
				} else {
					nv.SetNull(i, true)
				}
			}
			vecs = append(vecs, nv)
		}
	}
	return vector.NewChunk(st, vecs...), nil
}

func (h *HashJoin) emitMark(probeRow int, found bool) (*vector.Chunk, error) {
	probePos := h.cur.State.Pos(probeRow)
	st := vector.NewUnflat(1)
	vecs := make([]*vector.Vector, 0, len(h.cur.Vectors)+1)
	for _, v := range h.cur.Vectors {
		nv := vector.New(v.Type, st, v.Nullable())
		if err := nv.Reference(0, v, probePos); err != nil {
			return nil, err
		}
		vecs = append(vecs, nv)
	}
	mark := vector.New(vector.TBit, st, false)
	mark.SetBit(0, found)
	vecs = append(vecs, mark)
	return vector.NewChunk(st, vecs...), nil
}

func (h *HashJoin) emitCount(probeRow int, count int) (*vector.Chunk, error) {
	probePos := h.cur.State.Pos(probeRow)
	st := vector.NewUnflat(1)
	vecs := make([]*vector.Vector, 0, len(h.cur.Vectors)+1)
	for _, v := range h.cur.Vectors {
		nv := vector.New(v.Type, st, v.Nullable())
		if err := nv.Reference(0, v, probePos); err != nil {
			return nil, err
		}
		vecs = append(vecs, nv)
	}
	cv := vector.New(vector.TInt64, st, false)
	cv.SetInt64(0, int64(count))
	vecs = append(vecs, cv)
	return vector.NewChunk(st, vecs...), nil
}
