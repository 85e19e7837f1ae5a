package pagestore

import (
	"bytes"
	"path/filepath"
	"testing"
)

func openTmp(t *testing.T, pageSize int) *File {
	t.Helper()
	dir := t.TempDir()
	f, err := Open(filepath.Join(dir, "data.db"), pageSize)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestAddPageReadWriteRoundTrip(t *testing.T) {
	pf := openTmp(t, 4096)
	idx, err := pf.AddPage()
	if err != nil {
		t.Fatalf("add page: %v", err)
	}
	payload := bytes.Repeat([]byte{0xAB}, Capacity(4096))
	if err := pf.Write(idx, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, Capacity(4096))
	if err := pf.Read(idx, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch")
	}
}

func TestFreePageReused(t *testing.T) {
	pf := openTmp(t, 4096)
	idx1, _ := pf.AddPage()
	idx2, _ := pf.AddPage()
	if idx2 != idx1+1 {
		t.Fatalf("expected sequential allocation")
	}
	if err := pf.Free(idx2); err != nil {
		t.Fatalf("free: %v", err)
	}
	if pf.NumPages() != uint32(idx1)+1 {
		t.Fatalf("freeing the tail page should truncate the file, got numPages=%d", pf.NumPages())
	}
	idx3, _ := pf.AddPage()
	if idx3 != idx2 {
		t.Fatalf("expected reuse of freed page index %d, got %d", idx2, idx3)
	}
}

func TestFreeNonTailPageDoesNotTruncate(t *testing.T) {
	pf := openTmp(t, 4096)
	idx1, _ := pf.AddPage()
	idx2, _ := pf.AddPage()
	_, _ = pf.AddPage()
	if err := pf.Free(idx1); err != nil {
		t.Fatalf("free: %v", err)
	}
	if pf.NumPages() != 3 {
		t.Fatalf("freeing a non-tail page must not shrink the file, got %d", pf.NumPages())
	}
	idx4, _ := pf.AddPage()
	if idx4 != idx1 {
		t.Fatalf("expected reuse of freed non-tail page, got %d want %d", idx4, idx1)
	}
	_ = idx2
}

func TestReadDetectsCorruption(t *testing.T) {
	pf := openTmp(t, 4096)
	idx, _ := pf.AddPage()
	payload := bytes.Repeat([]byte{0x11}, Capacity(4096))
	if err := pf.Write(idx, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Corrupt the page directly on disk, bypassing the File API.
	buf := make([]byte, 4096)
	off := int64(idx) * 4096
	if _, err := pf.f.ReadAt(buf, off); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	buf[HeaderSize+10] ^= 0xFF
	if _, err := pf.f.WriteAt(buf, off); err != nil {
		t.Fatalf("raw write: %v", err)
	}
	dst := make([]byte, Capacity(4096))
	if err := pf.Read(idx, dst); err == nil {
		t.Fatal("expected CRC mismatch error")
	}
}

func TestTruncateTo(t *testing.T) {
	pf := openTmp(t, 4096)
	for i := 0; i < 5; i++ {
		if _, err := pf.AddPage(); err != nil {
			t.Fatalf("add page %d: %v", i, err)
		}
	}
	if err := pf.TruncateTo(2); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if pf.NumPages() != 2 {
		t.Fatalf("expected 2 pages, got %d", pf.NumPages())
	}
}
