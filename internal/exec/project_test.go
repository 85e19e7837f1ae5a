package exec

import (
	"testing"

	"github.com/korivak/graphcore/internal/vector"
)

func twoColChunk(a, b []int64) *vector.Chunk {
	st := vector.NewUnflat(len(a))
	va := vector.New(vector.TInt64, st, false)
	vb := vector.New(vector.TInt64, st, false)
	for i := range a {
		va.SetInt64(i, a[i])
		vb.SetInt64(i, b[i])
	}
	return vector.NewChunk(st, va, vb)
}

func TestProjectReordersAndDropsColumns(t *testing.T) {
	child := newSliceOperator(twoColChunk([]int64{1, 2, 3}, []int64{10, 20, 30}))
	p := NewProject(child, []int{1, 0, 1})
	ctx := &Context{}
	if err := p.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	c, err := p.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if c == nil || len(c.Vectors) != 3 {
		t.Fatalf("expected 3 output vectors, got %v", c)
	}
	if c.Vectors[0].Int64(0) != 10 || c.Vectors[1].Int64(0) != 1 || c.Vectors[2].Int64(0) != 10 {
		t.Fatalf("unexpected projected values: %d %d %d", c.Vectors[0].Int64(0), c.Vectors[1].Int64(0), c.Vectors[2].Int64(0))
	}
	if c.Size() != 3 {
		t.Fatalf("expected row count preserved, got %d", c.Size())
	}
}
