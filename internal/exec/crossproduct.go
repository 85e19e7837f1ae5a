package exec

import "github.com/korivak/graphcore/internal/vector"

// CrossProduct emits every (left row, right row) combination. The right
// child is fully materialized on Init since it must be replayed once per
// left row; the left child is pulled lazily, one row at a time, following
// the same build-then-scan shape HashJoin uses for its own build side.
type CrossProduct struct {
	left  Operator
	right Operator

	rightChunks []*vector.Chunk
	leftCur     *vector.Chunk
	leftRow     int
	rightIdx    int
	rightRow    int
}

// NewCrossProduct wires left and right children.
func NewCrossProduct(left, right Operator) *CrossProduct {
	return &CrossProduct{left: left, right: right}
}

func (c *CrossProduct) Init(ctx *Context) error {
	c.leftCur = nil
	c.leftRow = 0
	c.rightIdx = 0
	c.rightRow = 0
	c.rightChunks = nil
	if err := c.left.Init(ctx); err != nil {
		return err
	}
	if err := c.right.Init(ctx); err != nil {
		return err
	}
	for {
		rc, err := c.right.Next(ctx)
		if err != nil {
			return err
		}
		if rc == nil {
			break
		}
		c.rightChunks = append(c.rightChunks, rc)
	}
	return nil
}

func (c *CrossProduct) Next(ctx *Context) (*vector.Chunk, error) {
	for {
		if err := ctx.checkCancelled(); err != nil {
			return nil, err
		}
		if len(c.rightChunks) == 0 {
			return nil, nil
		}
		if c.leftCur == nil {
			lc, err := c.left.Next(ctx)
			if err != nil {
				return nil, err
			}
			if lc == nil {
				return nil, nil
			}
			c.leftCur = lc
			c.leftRow = 0
			c.rightIdx = 0
			c.rightRow = 0
		}
		if c.leftRow >= c.leftCur.Size() {
			c.leftCur = nil
			continue
		}
		if c.rightIdx >= len(c.rightChunks) {
			c.leftRow++
			c.rightIdx = 0
			c.rightRow = 0
			continue
		}
		rc := c.rightChunks[c.rightIdx]
		if c.rightRow >= rc.Size() {
			c.rightIdx++
			c.rightRow = 0
			continue
		}

		out, err := c.emit(rc)
		if err != nil {
			return nil, err
		}
		c.rightRow++
		ctx.record("crossproduct")
		return out, nil
	}
}

func (c *CrossProduct) emit(rc *vector.Chunk) (*vector.Chunk, error) {
	leftPos := c.leftCur.State.Pos(c.leftRow)
	rightPos := rc.State.Pos(c.rightRow)
	st := vector.NewUnflat(1)
	vecs := make([]*vector.Vector, 0, len(c.leftCur.Vectors)+len(rc.Vectors))
	for _, v := range c.leftCur.Vectors {
		nv := vector.New(v.Type, st, v.Nullable())
		if err := nv.Reference(0, v, leftPos); err != nil {
			return nil, err
		}
		vecs = append(vecs, nv)
	}
	for _, v := range rc.Vectors {
		nv := vector.New(v.Type, st, v.Nullable())
		if err := nv.Reference(0, v, rightPos); err != nil {
			return nil, err
		}
		vecs = append(vecs, nv)
	}
	return vector.NewChunk(st, vecs...), nil
}
