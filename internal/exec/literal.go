package exec

import "github.com/korivak/graphcore/internal/vector"

// Literal is a leaf operator that replays a fixed sequence of chunks once,
// the shape a `VALUES (...)` clause's planner output takes before it flows
// into an insert operator (spec §4.H's "insert / update / delete" sink
// operators always sit atop some producer, even a literal one).
type Literal struct {
	chunks []*vector.Chunk
	pos    int
}

// NewLiteral wraps chunks for single-pass replay through an operator tree.
func NewLiteral(chunks ...*vector.Chunk) *Literal { return &Literal{chunks: chunks} }

func (l *Literal) Init(ctx *Context) error { l.pos = 0; return nil }

func (l *Literal) Next(ctx *Context) (*vector.Chunk, error) {
	if err := ctx.checkCancelled(); err != nil {
		return nil, err
	}
	if l.pos >= len(l.chunks) {
		return nil, nil
	}
	c := l.chunks[l.pos]
	l.pos++
	return c, nil
}
