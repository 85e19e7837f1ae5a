package csr

import (
	"path/filepath"
	"testing"

	"github.com/korivak/graphcore/internal/column"
	"github.com/korivak/graphcore/internal/pagestore"
	"github.com/korivak/graphcore/internal/vector"
)

type fileAllocator struct{ f *pagestore.File }

func newAllocator(t *testing.T) *fileAllocator {
	t.Helper()
	f, err := pagestore.Open(filepath.Join(t.TempDir(), "csr.db"), 4096)
	if err != nil {
		t.Fatalf("open pagestore: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return &fileAllocator{f: f}
}

func (a *fileAllocator) AllocatePage() (pagestore.PageIndex, error) { return a.f.AddPage() }
func (a *fileAllocator) WritePage(idx pagestore.PageIndex, payload []byte) error {
	return a.f.Write(idx, payload)
}
func (a *fileAllocator) ReadPage(idx pagestore.PageIndex, dst []byte) error {
	return a.f.Read(idx, dst)
}
func (a *fileAllocator) PageCapacity() int { return pagestore.Capacity(a.f.PageSize()) }

func TestBuildAssignsContiguousOffsetsPerNode(t *testing.T) {
	l := New(3, nil, 10, 4096)
	edges := [][]vector.InternalID{
		{{TableID: 1, Offset: 10}, {TableID: 1, Offset: 11}},
		{},
		{{TableID: 1, Offset: 12}},
	}
	if err := l.Build(edges); err != nil {
		t.Fatalf("build: %v", err)
	}
	if l.Degree(0) != 2 || l.Degree(1) != 0 || l.Degree(2) != 1 {
		t.Fatalf("unexpected degrees: %d %d %d", l.Degree(0), l.Degree(1), l.Degree(2))
	}
	st := vector.NewUnflat(2)
	dst := vector.New(vector.TInternalID, st, false)
	if err := l.ScanNode(0, dst); err != nil {
		t.Fatalf("scan node 0: %v", err)
	}
	if dst.ID(0).Offset != 10 || dst.ID(1).Offset != 11 {
		t.Fatalf("unexpected neighbors for node 0: %+v %+v", dst.ID(0), dst.ID(1))
	}
}

func TestPropertyColumnAlignsWithNeighborSlots(t *testing.T) {
	l := New(2, []PropertyDef{{Name: "since", Type: column.TInt64, Nullable: false}}, 10, 4096)
	edges := [][]vector.InternalID{
		{{TableID: 1, Offset: 100}},
		{{TableID: 1, Offset: 200}, {TableID: 1, Offset: 201}},
	}
	if err := l.Build(edges); err != nil {
		t.Fatalf("build: %v", err)
	}
	since := l.Property("since")
	srcVec := vector.New(column.TInt64, vector.NewFlat(0), false)
	for _, v := range []int64{2020, 2021, 2022} {
		srcVec.SetInt64(0, v)
		if err := since.Append(srcVec, 0); err != nil {
			t.Fatalf("append property: %v", err)
		}
	}
	st := vector.NewUnflat(2)
	dst := vector.New(column.TInt64, st, false)
	start, end := l.Range(1)
	if err := since.Scan(start, end-start, dst); err != nil {
		t.Fatalf("scan property: %v", err)
	}
	if dst.Int64(0) != 2021 || dst.Int64(1) != 2022 {
		t.Fatalf("unexpected property values for node 1: %d %d", dst.Int64(0), dst.Int64(1))
	}
}

func TestFlushAndLoadRecoverListStructure(t *testing.T) {
	l := New(2, []PropertyDef{{Name: "weight", Type: column.TDouble, Nullable: false}}, 10, 4096)
	edges := [][]vector.InternalID{
		{{TableID: 2, Offset: 1}},
		{{TableID: 2, Offset: 2}, {TableID: 2, Offset: 3}},
	}
	if err := l.Build(edges); err != nil {
		t.Fatalf("build: %v", err)
	}
	weight := l.Property("weight")
	srcVec := vector.New(column.TDouble, vector.NewFlat(0), false)
	for _, v := range []float64{1.5, 2.5, 3.5} {
		srcVec.SetFloat64(0, v)
		if err := weight.Append(srcVec, 0); err != nil {
			t.Fatalf("append property: %v", err)
		}
	}

	alloc := newAllocator(t)
	meta, err := l.Flush(alloc)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}

	loaded, err := Load(alloc, 10, 4096, []PropertyDef{{Name: "weight", Type: column.TDouble, Nullable: false}}, meta)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Degree(0) != 1 || loaded.Degree(1) != 2 {
		t.Fatalf("unexpected degrees after reload: %d %d", loaded.Degree(0), loaded.Degree(1))
	}
	st := vector.NewUnflat(2)
	dst := vector.New(column.TDouble, st, false)
	start, end := loaded.Range(1)
	if err := loaded.Property("weight").Scan(start, end-start, dst); err != nil {
		t.Fatalf("scan reloaded property: %v", err)
	}
	if dst.Float64(0) != 2.5 || dst.Float64(1) != 3.5 {
		t.Fatalf("unexpected reloaded weights: %v %v", dst.Float64(0), dst.Float64(1))
	}
}

func TestRebuildFoldsPendingEdgesOntoCommittedList(t *testing.T) {
	old := New(2, nil, 10, 4096)
	if err := old.Build([][]vector.InternalID{
		{{TableID: 1, Offset: 100}},
		{},
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	pending := map[uint64][]PendingEdge{
		0: {{Neighbor: vector.InternalID{TableID: 1, Offset: 101}}},
		1: {{Neighbor: vector.InternalID{TableID: 1, Offset: 200}}},
	}
	merged, err := Rebuild(old, 2, nil, 10, 4096, pending, nil)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if merged.Degree(0) != 2 || merged.Degree(1) != 1 {
		t.Fatalf("unexpected degrees after rebuild: %d %d", merged.Degree(0), merged.Degree(1))
	}
	st := vector.NewUnflat(2)
	dst := vector.New(vector.TInternalID, st, false)
	if err := merged.ScanNode(0, dst); err != nil {
		t.Fatalf("scan node 0: %v", err)
	}
	if dst.ID(0).Offset != 100 || dst.ID(1).Offset != 101 {
		t.Fatalf("expected committed edge followed by pending edge, got %+v %+v", dst.ID(0), dst.ID(1))
	}
}

func TestRebuildSkipsDeletedCommittedEdges(t *testing.T) {
	old := New(1, nil, 10, 4096)
	if err := old.Build([][]vector.InternalID{
		{{TableID: 1, Offset: 10}, {TableID: 1, Offset: 11}, {TableID: 1, Offset: 12}},
	}); err != nil {
		t.Fatalf("build: %v", err)
	}
	isDeleted := func(node int, neighborOffset uint64) bool {
		return node == 0 && neighborOffset == 11
	}
	merged, err := Rebuild(old, 1, nil, 10, 4096, nil, isDeleted)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if merged.Degree(0) != 2 {
		t.Fatalf("expected 2 surviving edges, got %d", merged.Degree(0))
	}
	st := vector.NewUnflat(2)
	dst := vector.New(vector.TInternalID, st, false)
	if err := merged.ScanNode(0, dst); err != nil {
		t.Fatalf("scan node 0: %v", err)
	}
	if dst.ID(0).Offset != 10 || dst.ID(1).Offset != 12 {
		t.Fatalf("expected offsets 10 and 12 to survive, got %+v %+v", dst.ID(0), dst.ID(1))
	}
}

func TestMergeTableGrowsBothDirectionsAndAlignsProperties(t *testing.T) {
	props := []PropertyDef{{Name: "since", Type: column.TInt64, Nullable: false}}
	since := column.New(column.TInt64, 1, 4096, false)
	srcVec := vector.New(column.TInt64, vector.NewFlat(0), false)
	srcVec.SetInt64(0, 2020)
	if err := since.Append(srcVec, 0); err != nil {
		t.Fatalf("append committed property: %v", err)
	}
	old := &Table{
		Fwd: &List{numNodes: 1, offsets: []uint64{0, 1}, neighbors: func() *column.Chunk {
			c := column.New(vector.TInternalID, 1, 4096, false)
			idVec := vector.New(vector.TInternalID, vector.NewFlat(0), false)
			idVec.SetID(0, vector.InternalID{TableID: 2, Offset: 5})
			_ = c.Append(idVec, 0)
			return c
		}(), properties: map[string]*column.Chunk{"since": since}, propOrder: []string{"since"}, capEdges: 1, pageSize: 4096},
		Bwd: New(1, props, 1, 4096),
	}

	sinceVal := vector.New(column.TInt64, vector.NewFlat(0), false)
	sinceVal.SetInt64(0, 2024)
	pendingFwd := map[uint64][]PendingEdge{
		1: {{Neighbor: vector.InternalID{TableID: 2, Offset: 6}, Props: vector.NewChunk(vector.NewFlat(0), sinceVal)}},
	}

	merged, err := MergeTable(old, 2, 1, props, 4, 4096, pendingFwd, nil, nil, nil)
	if err != nil {
		t.Fatalf("merge table: %v", err)
	}
	if merged.Fwd.Degree(0) != 1 || merged.Fwd.Degree(1) != 1 {
		t.Fatalf("unexpected forward degrees: %d %d", merged.Fwd.Degree(0), merged.Fwd.Degree(1))
	}
	st := vector.NewUnflat(1)
	dst := vector.New(vector.TInternalID, st, false)
	if err := merged.Fwd.ScanNode(0, dst); err != nil {
		t.Fatalf("scan node 0: %v", err)
	}
	if dst.ID(0).Offset != 5 {
		t.Fatalf("expected node 0's committed edge preserved, got %+v", dst.ID(0))
	}
	sinceDst := vector.New(column.TInt64, vector.NewUnflat(1), false)
	start, _ := merged.Fwd.Range(0)
	if err := merged.Fwd.Property("since").Scan(start, 1, sinceDst); err != nil {
		t.Fatalf("scan since for node 0: %v", err)
	}
	if sinceDst.Int64(0) != 2020 {
		t.Fatalf("expected node 0's since to stay 2020, got %d", sinceDst.Int64(0))
	}
	if err := merged.Fwd.ScanNode(1, dst); err != nil {
		t.Fatalf("scan node 1: %v", err)
	}
	if dst.ID(0).Offset != 6 {
		t.Fatalf("expected node 1's new edge to offset 6, got %+v", dst.ID(0))
	}
	start1, _ := merged.Fwd.Range(1)
	if err := merged.Fwd.Property("since").Scan(start1, 1, sinceDst); err != nil {
		t.Fatalf("scan since for node 1: %v", err)
	}
	if sinceDst.Int64(0) != 2024 {
		t.Fatalf("expected node 1's since to be 2024, got %d", sinceDst.Int64(0))
	}
}
