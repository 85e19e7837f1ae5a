package exec

import (
	"testing"

	"github.com/korivak/graphcore/internal/csr"
	"github.com/korivak/graphcore/internal/vector"
)

func buildList(t *testing.T, numNodes int, edges [][]uint64) *csr.List {
	t.Helper()
	perNode := make([][]vector.InternalID, numNodes)
	for n, nbs := range edges {
		for _, nb := range nbs {
			perNode[n] = append(perNode[n], vector.InternalID{Offset: nb})
		}
	}
	l := csr.New(numNodes, nil, 100, 4096)
	if err := l.Build(perNode); err != nil {
		t.Fatalf("build: %v", err)
	}
	return l
}

func TestIntersectFindsCommonNeighbors(t *testing.T) {
	friendsA := buildList(t, 1, [][]uint64{{10, 20, 30}})
	friendsB := buildList(t, 1, [][]uint64{{20, 30, 40}})

	child := newSliceOperator(idChunk(0))
	x := NewIntersect(child, []IntersectSide{
		{List: friendsA, SrcCol: 0},
		{List: friendsB, SrcCol: 0},
	})
	ctx := &Context{}
	if err := x.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	var got []uint64
	for {
		c, err := x.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if c == nil {
			break
		}
		last := len(c.Vectors) - 1
		for i := 0; i < c.Size(); i++ {
			got = append(got, c.Vectors[last].ID(c.State.Pos(i)).Offset)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 common neighbors (20,30), got %v", got)
	}
}

func TestIntersectEmptyWhenNoOverlap(t *testing.T) {
	a := buildList(t, 1, [][]uint64{{1, 2}})
	b := buildList(t, 1, [][]uint64{{3, 4}})
	child := newSliceOperator(idChunk(0))
	x := NewIntersect(child, []IntersectSide{{List: a, SrcCol: 0}, {List: b, SrcCol: 0}})
	ctx := &Context{}
	if err := x.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	c, err := x.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if c != nil {
		t.Fatal("expected no output for disjoint neighbor sets")
	}
}
