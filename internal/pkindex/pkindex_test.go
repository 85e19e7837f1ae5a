package pkindex

import (
	"path/filepath"
	"testing"
)

func TestInsertDeleteReinsertYieldsOneEntry(t *testing.T) {
	ix := New()
	k := KeyInt64(1)
	if ix.Contains(k) {
		t.Fatalf("fresh index should not contain key")
	}
	ix.Upsert(k, 0)
	if !ix.Contains(k) {
		t.Fatalf("expected key present after upsert")
	}
	ix.Delete(k)
	if ix.Contains(k) {
		t.Fatalf("expected key absent after delete")
	}
	ix.Upsert(k, 5)
	if n := ix.Len(); n != 1 {
		t.Fatalf("expected exactly one entry, got %d", n)
	}
	row, ok := ix.Lookup(k)
	if !ok || row != 5 {
		t.Fatalf("expected row 5, got %d ok=%v", row, ok)
	}
}

func TestFlushLoadRoundTrip(t *testing.T) {
	ix := New()
	ix.Upsert(KeyInt64(1), 0)
	ix.Upsert(KeyInt64(2), 1)
	ix.Upsert(KeyString("alice"), 2)

	path := filepath.Join(t.TempDir(), "person.idx")
	if err := ix.Flush(path); err != nil {
		t.Fatalf("flush: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", loaded.Len())
	}
	for _, key := range []string{KeyInt64(1), KeyInt64(2), KeyString("alice")} {
		if !loaded.Contains(key) {
			t.Fatalf("expected key %q after reload", key)
		}
	}
}

func TestLoadMissingFileReturnsEmptyIndex(t *testing.T) {
	ix, err := Load(filepath.Join(t.TempDir(), "does-not-exist.idx"))
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if ix.Len() != 0 {
		t.Fatalf("expected empty index")
	}
}
