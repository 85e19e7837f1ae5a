package exec

import "github.com/korivak/graphcore/internal/vector"

// Project is the column-selection/reorder operator spec §4.H's component
// overview lists ("scan, join, filter, project, ..."): it pulls a morsel
// from its child and re-emits only the columns named by cols, in that
// order, leaving row count and selection untouched.
type Project struct {
	child Operator
	cols  []int
}

// NewProject builds a Project operator emitting child's columns cols, in
// the given order (a column index may repeat or be dropped entirely).
func NewProject(child Operator, cols []int) *Project {
	return &Project{child: child, cols: cols}
}

func (p *Project) Init(ctx *Context) error { return p.child.Init(ctx) }

func (p *Project) Next(ctx *Context) (*vector.Chunk, error) {
	if err := ctx.checkCancelled(); err != nil {
		return nil, err
	}
	c, err := p.child.Next(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	vecs := make([]*vector.Vector, len(p.cols))
	for i, col := range p.cols {
		vecs[i] = c.Vectors[col]
	}
	ctx.record("project")
	return vector.NewChunk(c.State, vecs...), nil
}
