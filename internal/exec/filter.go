package exec

import "github.com/korivak/graphcore/internal/vector"

// Predicate decides whether the row at position pos of chunk c survives a
// Filter. Implementations read whichever columns they close over; they
// never mutate c.
type Predicate func(c *vector.Chunk, pos int) bool

// Filter is the selection-vector-aware predicate operator spec §4.H's
// component overview lists alongside scan/join/project
// ("scan, join, filter, project, hash-aggregate, ..."): it pulls a morsel
// from its child and re-emits only the rows Keep accepts, preserving
// whatever selection vector the child already applied.
type Filter struct {
	child Operator
	keep  Predicate
}

// NewFilter builds a Filter operator keeping only rows keep accepts.
func NewFilter(child Operator, keep Predicate) *Filter {
	return &Filter{child: child, keep: keep}
}

func (f *Filter) Init(ctx *Context) error { return f.child.Init(ctx) }

func (f *Filter) Next(ctx *Context) (*vector.Chunk, error) {
	for {
		if err := ctx.checkCancelled(); err != nil {
			return nil, err
		}
		c, err := f.child.Next(ctx)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, nil
		}
		survivors := make([]int, 0, c.Size())
		for i := 0; i < c.Size(); i++ {
			pos := c.State.Pos(i)
			if f.keep(c, pos) {
				survivors = append(survivors, pos)
			}
		}
		if len(survivors) == 0 {
			// Spec §8 boundary behavior: a vector at selected_size == 0
			// propagates through all operators without error; pull the
			// next morsel instead of surfacing an empty one.
			continue
		}
		out := cloneLike(c, len(survivors))
		out.State.OriginalSize = c.State.OriginalSize
		for i, pos := range survivors {
			for col, v := range c.Vectors {
				if err := out.Vectors[col].Reference(i, v, pos); err != nil {
					return nil, err
				}
			}
		}
		ctx.record("filter")
		return out, nil
	}
}
