package nodegroup

import "testing"

func TestTableDuplicatePrimaryKeyRejected(t *testing.T) {
	tbl := NewTable(testSchema(), 1000, 4096, 0)
	if _, err := tbl.Append(inputChunk([]int64{1}, []string{"Alice"})); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := tbl.Append(inputChunk([]int64{1}, []string{"Bob"})); err == nil {
		t.Fatalf("expected duplicate primary key to be rejected")
	}
	if n := tbl.NumRows(); n != 1 {
		t.Fatalf("expected 1 committed row, got %d", n)
	}
}

func TestTableSpansMultipleGroupsOnOverflow(t *testing.T) {
	tbl := NewTable(testSchema(), 4, 4096, 0)
	ids := []int64{1, 2, 3, 4, 5, 6}
	names := []string{"a", "b", "c", "d", "e", "f"}
	first, err := tbl.Append(inputChunk(ids, names))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first != 0 {
		t.Fatalf("expected first row at offset 0, got %d", first)
	}
	if tbl.NumGroups() != 2 {
		t.Fatalf("expected 2 groups for 6 rows at capacity 4, got %d", tbl.NumGroups())
	}
	if tbl.NumRows() != 6 {
		t.Fatalf("expected 6 total rows, got %d", tbl.NumRows())
	}
	if end := tbl.MorselEnd(0); end != 4 {
		t.Fatalf("expected first morsel bound at group capacity 4, got %d", end)
	}
}

func TestTableDeleteThenReinsertSamePrimaryKey(t *testing.T) {
	tbl := NewTable(testSchema(), 1000, 4096, 0)
	if _, err := tbl.Append(inputChunk([]int64{1}, []string{"Alice"})); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tbl.Delete(0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if tbl.PrimaryKeyIndex().Len() != 0 {
		t.Fatalf("expected PK index empty after delete")
	}
	if !tbl.IsDeleted(0) {
		t.Fatalf("expected row 0 tombstoned")
	}
	if _, err := tbl.Append(inputChunk([]int64{1}, []string{"Carol"})); err != nil {
		t.Fatalf("reinsert same PK after delete: %v", err)
	}
	if n := tbl.PrimaryKeyIndex().Len(); n != 1 {
		t.Fatalf("expected exactly 1 PK index entry, got %d", n)
	}
}
