package column

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/korivak/graphcore/internal/pagestore"
	"github.com/korivak/graphcore/internal/vector"
)

type fileAllocator struct {
	f *pagestore.File
}

func newFileAllocator(t *testing.T) *fileAllocator {
	t.Helper()
	f, err := pagestore.Open(filepath.Join(t.TempDir(), "chunks.db"), 4096)
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

func vecOf(t Type, n int, nullable bool) *vector.Vector {
	st := vector.NewUnflat(n)
	return vector.New(t, st, nullable)
}

func TestConstantDetectionForUniformInt64Column(t *testing.T) {
	c := New(TInt64, 10, 4096, false)
	src := vecOf(TInt64, 1, false)
	src.SetInt64(0, 7)
	for i := 0; i < 5; i++ {
		if err := c.Append(src, 0); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	alloc := newFileAllocator(t)
	meta, err := c.Flush(alloc)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if meta.Compression.Kind != Constant {
		t.Fatalf("expected constant compression, got %v", meta.Compression.Kind)
	}

	loaded, err := Load(alloc, 10, 4096, false, meta)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dst := vecOf(TInt64, 5, false)
	if err := loaded.Scan(0, 5, dst); err != nil {
		t.Fatalf("scan: %v", err)
	}
	for i := 0; i < 5; i++ {
		if dst.Int64(i) != 7 {
			t.Fatalf("pos %d: got %d want 7", i, dst.Int64(i))
		}
	}
}

func TestBitpackedCompressionRoundTrip(t *testing.T) {
	c := New(TInt64, 20, 4096, false)
	src := vecOf(TInt64, 1, false)
	values := []int64{100, 105, 110, 102, 130, 100, 130}
	for _, v := range values {
		src.SetInt64(0, v)
		if err := c.Append(src, 0); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	alloc := newFileAllocator(t)
	meta, err := c.Flush(alloc)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if meta.Compression.Kind != Bitpacked {
		t.Fatalf("expected bitpacked compression for narrow range, got %v", meta.Compression.Kind)
	}

	loaded, err := Load(alloc, 20, 4096, false, meta)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dst := vecOf(TInt64, len(values), false)
	if err := loaded.Scan(0, len(values), dst); err != nil {
		t.Fatalf("scan: %v", err)
	}
	for i, want := range values {
		if got := dst.Int64(i); got != want {
			t.Fatalf("pos %d: got %d want %d", i, got, want)
		}
	}
}

func TestUncompressedFallsBackForWideRange(t *testing.T) {
	c := New(TInt64, 4, 4096, false)
	src := vecOf(TInt64, 1, false)
	for _, v := range []int64{1, math.MinInt64, math.MaxInt64, 0} {
		src.SetInt64(0, v)
		if err := c.Append(src, 0); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	alloc := newFileAllocator(t)
	meta, err := c.Flush(alloc)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if meta.Compression.Kind != Uncompressed {
		t.Fatalf("expected uncompressed for full-width range, got %v", meta.Compression.Kind)
	}
}

func TestNullMaskSurvivesFlushAndLoad(t *testing.T) {
	c := New(TInt32, 5, 4096, true)
	src := vecOf(TInt32, 1, true)
	for i, v := range []int32{10, 0, 30, 0, 50} {
		if v == 0 && i != 4 {
			src.SetNull(0, true)
		} else {
			src.SetNull(0, false)
			src.SetInt32(0, v)
		}
		if err := c.Append(src, 0); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	alloc := newFileAllocator(t)
	meta, err := c.Flush(alloc)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	loaded, err := Load(alloc, 5, 4096, true, meta)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dst := vecOf(TInt32, 5, true)
	if err := loaded.Scan(0, 5, dst); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !dst.IsNull(1) || !dst.IsNull(3) {
		t.Fatal("expected positions 1 and 3 to remain null after round trip")
	}
	if dst.IsNull(0) || dst.Int32(0) != 10 {
		t.Fatalf("position 0 corrupted: null=%v val=%d", dst.IsNull(0), dst.Int32(0))
	}
	if dst.IsNull(4) || dst.Int32(4) != 50 {
		t.Fatalf("position 4 corrupted: null=%v val=%d", dst.IsNull(4), dst.Int32(4))
	}
}

func TestStringDictionaryDeduplicatesAndRoundTrips(t *testing.T) {
	c := New(TStringIndex, 10, 4096, false)
	src := vecOf(TStringIndex, 1, false)
	words := []string{"alice", "bob", "alice", "carol", "bob", "alice"}
	for _, w := range words {
		src.SetString(0, w)
		if err := c.Append(src, 0); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if c.dict.Len() != 3 {
		t.Fatalf("expected 3 distinct dictionary entries, got %d", c.dict.Len())
	}

	alloc := newFileAllocator(t)
	meta, err := c.Flush(alloc)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if meta.DictEntryCount != 3 {
		t.Fatalf("expected persisted dictionary to carry 3 entries, got %d", meta.DictEntryCount)
	}

	loaded, err := Load(alloc, 10, 4096, false, meta)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dst := vecOf(TStringIndex, len(words), false)
	if err := loaded.Scan(0, len(words), dst); err != nil {
		t.Fatalf("scan: %v", err)
	}
	for i, want := range words {
		if got := dst.String(i); got != want {
			t.Fatalf("pos %d: got %q want %q", i, got, want)
		}
	}
}

func TestDictionaryCompactsOrphanedEntriesOnFinalize(t *testing.T) {
	c := New(TStringIndex, 4, 4096, false)
	src := vecOf(TStringIndex, 1, false)
	for _, w := range []string{"one", "two", "three"} {
		src.SetString(0, w)
		if err := c.Append(src, 0); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	src.SetString(0, "four")
	if err := c.Write(1, src, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if c.dict.Len() != 3 {
		t.Fatalf("expected orphaned entry 'two' to be compacted away, got %d entries", c.dict.Len())
	}

	alloc := newFileAllocator(t)
	meta, err := c.Flush(alloc)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	loaded, err := Load(alloc, 4, 4096, false, meta)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dst := vecOf(TStringIndex, 3, false)
	if err := loaded.Scan(0, 3, dst); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if dst.String(0) != "one" || dst.String(1) != "four" || dst.String(2) != "three" {
		t.Fatalf("unexpected values after compaction: %q %q %q", dst.String(0), dst.String(1), dst.String(2))
	}
}

func TestOverlargeStringRejected(t *testing.T) {
	c := New(TStringIndex, 2, 64, false) // tiny page size to exercise the limit cheaply
	src := vecOf(TStringIndex, 1, false)
	big := make([]byte, 128)
	for i := range big {
		big[i] = 'x'
	}
	src.SetString(0, string(big))
	if err := c.Append(src, 0); err == nil {
		t.Fatal("expected overlarge string to be rejected")
	}
}

func TestListChunkPersistsOffsetsAndChildData(t *testing.T) {
	child := New(TInt64, 10, 4096, false)
	childSrc := vecOf(TInt64, 1, false)
	for _, v := range []int64{1, 2, 3, 4, 5} {
		childSrc.SetInt64(0, v)
		if err := child.Append(childSrc, 0); err != nil {
			t.Fatalf("child append: %v", err)
		}
	}

	list := NewList(4, 4096, child, false)
	listSrc := vecOf(TListEntry, 1, false)
	listSrc.SetListEntry(0, vector.ListEntry{Offset: 0, Size: 3})
	if err := list.Append(listSrc, 0); err != nil {
		t.Fatalf("list append: %v", err)
	}
	listSrc.SetListEntry(0, vector.ListEntry{Offset: 3, Size: 2})
	if err := list.Append(listSrc, 0); err != nil {
		t.Fatalf("list append: %v", err)
	}

	alloc := newFileAllocator(t)
	meta, err := list.Flush(alloc)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if meta.ChildMeta == nil {
		t.Fatal("expected list flush to persist child chunk metadata")
	}

	loaded, err := Load(alloc, 4, 4096, false, meta)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dst := vecOf(TListEntry, 2, false)
	if err := loaded.Scan(0, 2, dst); err != nil {
		t.Fatalf("scan: %v", err)
	}
	e0 := dst.ListEntryAt(0)
	if e0.Offset != 0 || e0.Size != 3 {
		t.Fatalf("unexpected entry 0: %+v", e0)
	}

	childDst := vecOf(TInt64, 5, false)
	if err := loaded.child.Scan(0, 5, childDst); err != nil {
		t.Fatalf("child scan: %v", err)
	}
	for i, want := range []int64{1, 2, 3, 4, 5} {
		if got := childDst.Int64(i); got != want {
			t.Fatalf("child pos %d: got %d want %d", i, got, want)
		}
	}
}

func TestStructChunkPersistsFieldsInOrder(t *testing.T) {
	s := NewStruct(4, 4096, false)
	age := New(TInt32, 4, 4096, false)
	name := New(TStringIndex, 4, 4096, false)
	s.AddField("age", age)
	s.AddField("name", name)

	ageSrc := vecOf(TInt32, 1, false)
	nameSrc := vecOf(TStringIndex, 1, false)
	ageSrc.SetInt32(0, 30)
	nameSrc.SetString(0, "dave")
	if err := age.Append(ageSrc, 0); err != nil {
		t.Fatalf("age append: %v", err)
	}
	if err := name.Append(nameSrc, 0); err != nil {
		t.Fatalf("name append: %v", err)
	}
	s.numValues = 1

	alloc := newFileAllocator(t)
	meta, err := s.Flush(alloc)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(meta.FieldOrder) != 2 || meta.FieldOrder[0] != "age" || meta.FieldOrder[1] != "name" {
		t.Fatalf("unexpected field order: %+v", meta.FieldOrder)
	}

	loaded, err := Load(alloc, 4, 4096, false, meta)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ageDst := vecOf(TInt32, 1, false)
	if err := loaded.fields["age"].Scan(0, 1, ageDst); err != nil {
		t.Fatalf("age scan: %v", err)
	}
	if ageDst.Int32(0) != 30 {
		t.Fatalf("age: got %d want 30", ageDst.Int32(0))
	}
}

func TestWriteOverwritesExistingSlot(t *testing.T) {
	c := New(TInt64, 4, 4096, false)
	src := vecOf(TInt64, 1, false)
	src.SetInt64(0, 1)
	if err := c.Append(src, 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	src.SetInt64(0, 999)
	if err := c.Write(0, src, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := vecOf(TInt64, 1, false)
	if err := c.Scan(0, 1, dst); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if dst.Int64(0) != 999 {
		t.Fatalf("expected overwritten value 999, got %d", dst.Int64(0))
	}
}
