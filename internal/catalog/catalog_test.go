package catalog

import (
	"path/filepath"
	"testing"

	"github.com/korivak/graphcore/internal/column"
	"github.com/korivak/graphcore/internal/nodegroup"
)

func TestRecordCheckpointAggregatesRowCountAndMinMax(t *testing.T) {
	c := New(nil)
	meta1 := nodegroup.GroupMetadata{NumRows: 3, Columns: map[string]column.ColumnChunkMetadata{
		"age": {Compression: column.Metadata{HasMinMax: true, Min: []byte{10}, Max: []byte{30}, NullCount: 1}},
	}}
	c.RecordCheckpoint("person", meta1, int64(meta1.NumRows))

	meta2 := nodegroup.GroupMetadata{NumRows: 2, Columns: map[string]column.ColumnChunkMetadata{
		"age": {Compression: column.Metadata{HasMinMax: true, Min: []byte{5}, Max: []byte{50}, NullCount: 0}},
	}}
	c.RecordCheckpoint("person", meta2, int64(meta2.NumRows))

	stats, ok := c.TableStats("person")
	if !ok {
		t.Fatal("expected table stats to exist")
	}
	if stats.RowCount != 5 {
		t.Fatalf("expected row count 5, got %d", stats.RowCount)
	}
	age := stats.Columns["age"]
	if age.Min[0] != 5 || age.Max[0] != 50 {
		t.Fatalf("expected merged min=5 max=50, got min=%v max=%v", age.Min, age.Max)
	}
	if age.NullCount != 1 {
		t.Fatalf("expected null count 1, got %d", age.NullCount)
	}
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	c := New(nil)
	meta := nodegroup.GroupMetadata{NumRows: 4, Columns: map[string]column.ColumnChunkMetadata{
		"id": {Compression: column.Metadata{HasMinMax: true, Min: []byte{1}, Max: []byte{4}}},
	}}
	c.RecordCheckpoint("node", meta, int64(meta.NumRows))

	path := filepath.Join(t.TempDir(), "catalog.gob")
	if err := c.Flush(path); err != nil {
		t.Fatalf("flush: %v", err)
	}

	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	stats, ok := loaded.TableStats("node")
	if !ok || stats.RowCount != 4 {
		t.Fatalf("expected reloaded row count 4, got %+v ok=%v", stats, ok)
	}
}

func TestLoadMissingFileReturnsEmptyCatalog(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.gob"), nil)
	if err != nil {
		t.Fatalf("expected no error for missing catalog file, got %v", err)
	}
	if _, ok := c.TableStats("anything"); ok {
		t.Fatal("expected empty catalog for missing file")
	}
}

func TestOperatorMetricsRecordsByKind(t *testing.T) {
	m := NewOperatorMetrics(nil)
	m.Record("scan")
	m.Record("scan")
	m.Record("hash_join")
	// No public getter beyond the prometheus collector itself; this test
	// mainly guards against Record panicking on an unregistered label.
}
