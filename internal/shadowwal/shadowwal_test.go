package shadowwal

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/korivak/graphcore/internal/bufferpool"
	"github.com/korivak/graphcore/internal/pagestore"
)

const pageSize = 4096

func openTmpWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := Open(filepath.Join(t.TempDir(), "wal.gc"), pageSize)
	if err != nil {
		t.Fatalf("open WAL: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func newDataFile(t *testing.T) *pagestore.File {
	t.Helper()
	f, err := pagestore.Open(filepath.Join(t.TempDir(), "data.db"), pageSize)
	if err != nil {
		t.Fatalf("open data file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestGetOrCreateShadowIsIdempotent(t *testing.T) {
	w := openTmpWAL(t)
	data := newDataFile(t)
	idx, _ := data.AddPage()

	s1, err := w.GetOrCreateShadow(1, bufferpool.FileID(0), data, idx)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	s2, err := w.GetOrCreateShadow(1, bufferpool.FileID(0), data, idx)
	if err != nil {
		t.Fatalf("get or create again: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected the same shadow page index, got %d and %d", s1, s2)
	}
	if w.NumShadowPages() != 1 {
		t.Fatalf("expected exactly one shadow page, got %d", w.NumShadowPages())
	}
}

func TestReplayCopiesShadowOntoOriginalAndClearIsIdempotent(t *testing.T) {
	w := openTmpWAL(t)
	data := newDataFile(t)
	idx, _ := data.AddPage()

	original := bytes.Repeat([]byte{0x01}, pagestore.Capacity(pageSize))
	if err := data.Write(idx, original); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	shadowIdx, err := w.GetOrCreateShadow(7, bufferpool.FileID(2), data, idx)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	modified := bytes.Repeat([]byte{0x02}, pagestore.Capacity(pageSize))
	if err := w.WriteShadowPage(shadowIdx, modified); err != nil {
		t.Fatalf("write shadow page: %v", err)
	}
	if err := w.FlushAll(); err != nil {
		t.Fatalf("flush all: %v", err)
	}

	resolve := func(dbFileID uint32, fileIndex bufferpool.FileID) (*pagestore.File, bool) {
		if dbFileID == 7 && fileIndex == bufferpool.FileID(2) {
			return data, true
		}
		return nil, false
	}
	if err := w.Replay(resolve); err != nil {
		t.Fatalf("replay: %v", err)
	}

	got := make([]byte, pagestore.Capacity(pageSize))
	if err := data.Read(idx, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, modified) {
		t.Fatalf("expected original page to carry the shadow content after replay")
	}

	if err := w.ClearAll(); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if w.NumShadowPages() != 0 {
		t.Fatalf("expected zero shadow pages after clear")
	}
	// Idempotent: clearing an already-clear WAL must not error.
	if err := w.ClearAll(); err != nil {
		t.Fatalf("second clear all: %v", err)
	}
}

func TestRecoveryAfterReopenStillReplays(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.db")
	walPath := filepath.Join(dir, "wal.gc")

	data, err := pagestore.Open(dataPath, pageSize)
	if err != nil {
		t.Fatalf("open data: %v", err)
	}
	idx, _ := data.AddPage()
	if err := data.Write(idx, bytes.Repeat([]byte{0x00}, pagestore.Capacity(pageSize))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w, err := Open(walPath, pageSize)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	shadowIdx, err := w.GetOrCreateShadow(1, 0, data, idx)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	want := bytes.Repeat([]byte{0x42}, pagestore.Capacity(pageSize))
	if err := w.WriteShadowPage(shadowIdx, want); err != nil {
		t.Fatalf("write shadow: %v", err)
	}
	if err := w.FlushAll(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	// Simulate a crash: close without clearing.
	w.Close()
	data.Close()

	// Reopen both files as a fresh process would on startup.
	data2, err := pagestore.Open(dataPath, pageSize)
	if err != nil {
		t.Fatalf("reopen data: %v", err)
	}
	defer data2.Close()
	w2, err := Open(walPath, pageSize)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	defer w2.Close()

	if w2.NumShadowPages() != 1 {
		t.Fatalf("expected shadow WAL to recover its one pending page, got %d", w2.NumShadowPages())
	}
	resolve := func(dbFileID uint32, fileIndex bufferpool.FileID) (*pagestore.File, bool) {
		return data2, true
	}
	if err := w2.Replay(resolve); err != nil {
		t.Fatalf("replay after reopen: %v", err)
	}
	got := make([]byte, pagestore.Capacity(pageSize))
	if err := data2.Read(idx, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("recovery did not apply the shadow page")
	}
	if err := w2.ClearAll(); err != nil {
		t.Fatalf("clear all: %v", err)
	}
}
