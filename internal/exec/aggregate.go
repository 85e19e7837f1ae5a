package exec

import (
	"math"

	"github.com/korivak/graphcore/internal/vector"
)

// AggFunc selects one aggregate computation, mirroring the set the teacher
// evaluates per-group in evalAggregateSumAvg/evalAggregateMinMax/
// evalAggregateCount (github.com/SimonWaldherr/tinySQL internal/engine/exec.go).
type AggFunc int

const (
	AggCount AggFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

// AggSpec names one output aggregate column.
type AggSpec struct {
	Func  AggFunc
	Col   int // input column index; ignored for AggCount(*)
	Star  bool
	Alias string
}

type groupAccum struct {
	count int64
	sum   float64
	min   float64
	max   float64
	seen  bool
}

// keyRow pins the first row a group was seen at so the key columns can be
// replayed into output via Vector.Reference regardless of type, rather than
// projecting every key type through a lossy numeric conversion.
type keyRow struct {
	chunk *vector.Chunk
	pos   int
}

// HashAggregate groups its child's rows by a set of key columns, computing
// each AggSpec per group. It is a barrier operator: it must consume the
// entire child before any group total is final, so Next materializes every
// group's chunk lazily and hands them out one Capacity-sized batch at a
// time.
type HashAggregate struct {
	child   Operator
	keyCols []int
	aggs    []AggSpec

	groups   map[string]keyRow
	accum    map[string][]*groupAccum
	order    []string
	keyTypes []vector.Type
	done     bool
	emitPos  int
}

// NewHashAggregate builds a grouping operator over child, grouping by
// keyCols and computing aggs per group.
func NewHashAggregate(child Operator, keyCols []int, aggs []AggSpec) *HashAggregate {
	return &HashAggregate{child: child, keyCols: keyCols, aggs: aggs}
}

func (h *HashAggregate) Init(ctx *Context) error {
	h.groups = make(map[string]keyRow)
	h.accum = make(map[string][]*groupAccum)
	h.order = nil
	h.keyTypes = nil
	h.done = false
	h.emitPos = 0
	return h.child.Init(ctx)
}

func groupKey(c *vector.Chunk, pos int, keyCols []int) string {
	buf := make([]byte, 0, 8*len(keyCols))
	for _, col := range keyCols {
		v := c.Vectors[col]
		if v.IsNull(pos) {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		buf = append(buf, keyBytes(v, pos)...)
		buf = append(buf, 0xff)
	}
	return string(buf)
}

func keyBytes(v *vector.Vector, pos int) []byte {
	b := make([]byte, 8)
	switch v.Type {
	case vector.TStringIndex:
		return []byte(v.String(pos))
	case vector.TInternalID:
		id := v.ID(pos)
		full := make([]byte, 16)
		copyUint64(full[0:8], id.TableID)
		copyUint64(full[8:16], id.Offset)
		return full
	case vector.TBit:
		if v.Bit(pos) {
			return []byte{1}
		}
		return []byte{0}
	case vector.TFloat:
		copyUint64(b, uint64(math.Float32bits(v.Float32(pos))))
	case vector.TDouble:
		copyUint64(b, math.Float64bits(v.Float64(pos)))
	default:
		copyUint64(b, uint64(int64(numericValue(v, pos))))
	}
	return b
}

func numericValue(v *vector.Vector, pos int) float64 {
	switch v.Type {
	case vector.TInt8:
		return float64(v.Int8(pos))
	case vector.TInt16:
		return float64(v.Int16(pos))
	case vector.TInt32:
		return float64(v.Int32(pos))
	case vector.TInt64:
		return float64(v.Int64(pos))
	case vector.TUint8:
		return float64(v.Uint8(pos))
	case vector.TUint16:
		return float64(v.Uint16(pos))
	case vector.TUint32:
		return float64(v.Uint32(pos))
	case vector.TUint64:
		return float64(v.Uint64(pos))
	case vector.TFloat:
		return float64(v.Float32(pos))
	case vector.TDouble:
		return v.Float64(pos)
	default:
		return 0
	}
}

func (h *HashAggregate) consume(ctx *Context) error {
	for {
		c, err := h.child.Next(ctx)
		if err != nil {
			return err
		}
		if c == nil {
			break
		}
		if h.keyTypes == nil {
			for _, col := range h.keyCols {
				h.keyTypes = append(h.keyTypes, c.Vectors[col].Type)
			}
		}
		for i := 0; i < c.Size(); i++ {
			pos := c.State.Pos(i)
			key := groupKey(c, pos, h.keyCols)
			accs, ok := h.accum[key]
			if !ok {
				accs = make([]*groupAccum, len(h.aggs))
				for j := range accs {
					accs[j] = &groupAccum{min: 0, max: 0}
				}
				h.accum[key] = accs
				h.order = append(h.order, key)
				h.groups[key] = keyRow{chunk: c, pos: pos}
			}
			for j, spec := range h.aggs {
				a := accs[j]
				if spec.Func == AggCount && spec.Star {
					a.count++
					continue
				}
				v := c.Vectors[spec.Col]
				if v.IsNull(pos) {
					continue
				}
				x := numericValue(v, pos)
				if !a.seen {
					a.seen = true
					a.min, a.max = x, x
				} else {
					if x < a.min {
						a.min = x
					}
					if x > a.max {
						a.max = x
					}
				}
				a.count++
				a.sum += x
			}
		}
		ctx.record("hashaggregate")
	}
	h.done = true
	return nil
}

func (h *HashAggregate) Next(ctx *Context) (*vector.Chunk, error) {
	if err := ctx.checkCancelled(); err != nil {
		return nil, err
	}
	if !h.done {
		if err := h.consume(ctx); err != nil {
			return nil, err
		}
	}
	if h.emitPos >= len(h.order) {
		return nil, nil
	}
	n := len(h.order) - h.emitPos
	if n > vector.Capacity {
		n = vector.Capacity
	}
	st := vector.NewUnflat(n)
	vecs := make([]*vector.Vector, 0, len(h.keyCols)+len(h.aggs))
	for j, t := range h.keyTypes {
		col := h.keyCols[j]
		nv := vector.New(t, st, true)
		for i := 0; i < n; i++ {
			key := h.order[h.emitPos+i]
			kr := h.groups[key]
			if err := nv.Reference(i, kr.chunk.Vectors[col], kr.pos); err != nil {
				return nil, err
			}
		}
		vecs = append(vecs, nv)
	}
	for j, spec := range h.aggs {
		outType := vector.TDouble
		if spec.Func == AggCount {
			outType = vector.TInt64
		}
		nv := vector.New(outType, st, false)
		for i := 0; i < n; i++ {
			key := h.order[h.emitPos+i]
			a := h.accum[key][j]
			switch spec.Func {
			case AggCount:
				nv.SetInt64(i, a.count)
			case AggSum:
				nv.SetFloat64(i, a.sum)
			case AggAvg:
				if a.count == 0 {
					nv.SetFloat64(i, 0)
				} else {
					nv.SetFloat64(i, a.sum/float64(a.count))
				}
			case AggMin:
				nv.SetFloat64(i, a.min)
			case AggMax:
				nv.SetFloat64(i, a.max)
			}
		}
		vecs = append(vecs, nv)
	}
	h.emitPos += n
	ctx.record("hashaggregate_emit")
	return vector.NewChunk(st, vecs...), nil
}
