package exec

import (
	"testing"

	"github.com/korivak/graphcore/internal/vector"
)

func idValueChunk(ids []uint64, vals []int64) *vector.Chunk {
	st := vector.NewUnflat(len(ids))
	idVec := vector.New(vector.TInternalID, st, false)
	valVec := vector.New(vector.TInt64, st, false)
	for i, id := range ids {
		idVec.SetID(i, vector.InternalID{TableID: 1, Offset: id})
		valVec.SetInt64(i, vals[i])
	}
	return vector.NewChunk(st, idVec, valVec)
}

func drainAll(t *testing.T, op Operator, ctx *Context) []*vector.Chunk {
	t.Helper()
	var out []*vector.Chunk
	for {
		c, err := op.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if c == nil {
			return out
		}
		out = append(out, c)
	}
}

func TestHashJoinInnerMatchesOnKey(t *testing.T) {
	build := newSliceOperator(idValueChunk([]uint64{1, 2, 3}, []int64{100, 200, 300}))
	probe := newSliceOperator(idValueChunk([]uint64{2, 3, 9}, []int64{1, 1, 1}))
	j := NewHashJoin(build, probe, 0, 0, JoinInner)
	ctx := &Context{}
	if err := j.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	chunks := drainAll(t, j, ctx)
	total := 0
	for _, c := range chunks {
		total += c.Size()
	}
	if total != 2 {
		t.Fatalf("expected 2 matched rows, got %d", total)
	}
}

func TestHashJoinLeftEmitsUnmatchedWithNullBuildSide(t *testing.T) {
	build := newSliceOperator(idValueChunk([]uint64{1}, []int64{100}))
	probe := newSliceOperator(idValueChunk([]uint64{1, 2}, []int64{1, 1}))
	j := NewHashJoin(build, probe, 0, 0, JoinLeft)
	ctx := &Context{}
	if err := j.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	chunks := drainAll(t, j, ctx)
	total := 0
	for _, c := range chunks {
		total += c.Size()
	}
	if total != 2 {
		t.Fatalf("expected 2 rows (1 matched + 1 unmatched), got %d", total)
	}
}

func TestHashJoinMarkReportsPresence(t *testing.T) {
	build := newSliceOperator(idValueChunk([]uint64{5}, []int64{1}))
	probe := newSliceOperator(idValueChunk([]uint64{5, 6}, []int64{1, 1}))
	j := NewHashJoin(build, probe, 0, 0, JoinMark)
	ctx := &Context{}
	if err := j.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	chunks := drainAll(t, j, ctx)
	if len(chunks) != 2 {
		t.Fatalf("expected one chunk per probe row, got %d", len(chunks))
	}
	markCol := len(chunks[0].Vectors) - 1
	if !chunks[0].Vectors[markCol].Bit(0) {
		t.Fatal("expected first probe row marked found")
	}
	if chunks[1].Vectors[markCol].Bit(0) {
		t.Fatal("expected second probe row marked not found")
	}
}

func TestHashJoinCountReturnsMatchCounts(t *testing.T) {
	build := newSliceOperator(idValueChunk([]uint64{7, 7}, []int64{1, 2}))
	probe := newSliceOperator(idValueChunk([]uint64{7}, []int64{1}))
	j := NewHashJoin(build, probe, 0, 0, JoinCount)
	ctx := &Context{}
	if err := j.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	chunks := drainAll(t, j, ctx)
	if len(chunks) != 1 {
		t.Fatalf("expected one output chunk, got %d", len(chunks))
	}
	countCol := len(chunks[0].Vectors) - 1
	if chunks[0].Vectors[countCol].Int64(0) != 2 {
		t.Fatalf("expected count 2, got %d", chunks[0].Vectors[countCol].Int64(0))
	}
}
