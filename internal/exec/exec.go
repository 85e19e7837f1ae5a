// Package exec implements the vectorized, pull-based operator tree of spec
// §4.H: each operator exposes a uniform Next that returns one DataChunk-
// sized morsel (or nil at end of input), so a tree of operators executes
// via iterated pull calls from the root rather than a push/callback model.
//
// The teacher evaluates statements with a recursive tree-walking
// interpreter over one row at a time (internal/engine/exec.go, function
// evalExpr/execSelect in github.com/SimonWaldherr/tinySQL) — exactly the
// row-at-a-time, virtual-dispatch shape spec §9's Design Notes calls out
// for re-architecture. This package keeps the teacher's instinct for a
// small, explicit operator interface (no reflection, no generic visitor
// dispatch) but changes the unit of work from one row to one bounded
// vector.Chunk, and changes Next's signature from "call a callback per
// row" to "return the next morsel or nil".
package exec

import (
	"sync/atomic"

	"github.com/korivak/graphcore/internal/catalog"
	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/vector"
)

// Context threads the pieces an operator tree needs without ever reaching
// for a package-level global (spec §9 Design Notes): a cooperative
// cancellation flag and the operator-invocation metrics sink.
type Context struct {
	Cancelled *atomic.Bool
	Metrics   *catalog.OperatorMetrics
}

// checkCancelled is called at the top of every operator's Next.
func (c *Context) checkCancelled() error {
	if c.Cancelled != nil && c.Cancelled.Load() {
		return corerr.New(corerr.Interrupted, "query execution cancelled")
	}
	return nil
}

func (c *Context) record(op string) {
	if c.Metrics != nil {
		c.Metrics.Record(op)
	}
}

// Operator is one node of the execution tree. Init prepares (or resets)
// state; Next pulls the next morsel, returning (nil, nil) at exhaustion.
type Operator interface {
	Init(ctx *Context) error
	Next(ctx *Context) (*vector.Chunk, error)
}

// cloneLike builds a fresh, empty Chunk whose vectors mirror src's types,
// nullability, and (for LIST columns) child vector — the shape every
// operator needs when assembling its own output from an input chunk.
func cloneLike(src *vector.Chunk, size int) *vector.Chunk {
	st := vector.NewUnflat(size)
	vecs := make([]*vector.Vector, len(src.Vectors))
	for i, v := range src.Vectors {
		if v.Type == vector.TListEntry && v.ChildVector() != nil {
			child := v.ChildVector()
			childSt := vector.NewUnflat(0)
			newChild := vector.New(child.Type, childSt, child.Nullable())
			vecs[i] = vector.NewList(st, newChild, v.Nullable())
			continue
		}
		vecs[i] = vector.New(v.Type, st, v.Nullable())
	}
	return vector.NewChunk(st, vecs...)
}
