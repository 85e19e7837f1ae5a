// Package pagestore implements the fixed-page-size file abstraction that is
// the foundation of the storage core (spec §4.A). It is grounded on the
// teacher's pager page/freelist layout (github.com/SimonWaldherr/tinySQL
// internal/storage/pager/page.go, freelist.go): the same CRC32-Castagnoli
// per-page checksum and little-endian binary header idiom, generalized from
// tinySQL's B+Tree page types to the plain byte-run pages column chunks and
// CSR lists need.
package pagestore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"github.com/korivak/graphcore/internal/corerr"
)

// PageIndex identifies a page within one File. Index 0 is always valid;
// there is no reserved superblock page — callers that need one store it at
// index 0 themselves.
type PageIndex uint32

// HeaderSize is the size of the per-page header embedded at the start of
// every page: CRC32 (4 bytes, Castagnoli, computed over the rest of the
// page with this field zeroed) + PageIndex (4 bytes) + Reserved (8 bytes).
const HeaderSize = 16

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Capacity returns the usable payload size of a page of the given total size.
func Capacity(pageSize int) int { return pageSize - HeaderSize }

// File is an ordered sequence of fixed-size pages backing one logical file
// (spec's "data.<ext>", "metadata.<ext>", or an index file). It supports
// append, read, write and truncate, and tracks its own free-page set for
// reuse after deletion (spec §4.A).
type File struct {
	mu       sync.RWMutex // guards metadata: numPages, free set, truncation
	f        *os.File
	path     string
	pageSize int
	numPages uint32
	free     map[PageIndex]struct{}
}

// Open opens or creates a page file at path with the given fixed page size.
func Open(path string, pageSize int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, corerr.Wrap(corerr.IO, err, "open page file %q", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, corerr.Wrap(corerr.IO, err, "stat page file %q", path)
	}
	numPages := uint32(info.Size() / int64(pageSize))
	return &File{
		f:        f,
		path:     path,
		pageSize: pageSize,
		numPages: numPages,
		free:     make(map[PageIndex]struct{}),
	}, nil
}

// Close closes the underlying file descriptor.
func (pf *File) Close() error { return pf.f.Close() }

// PageSize returns the fixed page size of this file.
func (pf *File) PageSize() int { return pf.pageSize }

// NumPages returns the number of pages currently allocated in the file,
// including pages on the free set (they still occupy file extent).
func (pf *File) NumPages() uint32 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.numPages
}

// AddPage appends a zeroed page, reusing a freed page index first. Returns
// the index of the new page.
func (pf *File) AddPage() (PageIndex, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	if len(pf.free) > 0 {
		var idx PageIndex
		for idx = range pf.free {
			break
		}
		delete(pf.free, idx)
		if err := pf.writeLocked(idx, make([]byte, pf.pageSize)); err != nil {
			return 0, err
		}
		return idx, nil
	}

	idx := PageIndex(pf.numPages)
	pf.numPages++
	if err := pf.writeLocked(idx, make([]byte, pf.pageSize)); err != nil {
		pf.numPages--
		return 0, err
	}
	return idx, nil
}

// Read reads page idx's payload (header stripped and CRC-validated) into
// dst, which must have length Capacity(pageSize). Individual page reads are
// safe to call concurrently with other reads/writes on different pages;
// the OS file's positioned read provides per-page atomicity.
func (pf *File) Read(idx PageIndex, dst []byte) error {
	if len(dst) != Capacity(pf.pageSize) {
		return corerr.New(corerr.Internal, "pagestore: dst length %d != capacity %d", len(dst), Capacity(pf.pageSize))
	}
	buf := make([]byte, pf.pageSize)
	off := int64(idx) * int64(pf.pageSize)
	if _, err := pf.f.ReadAt(buf, off); err != nil {
		return corerr.Wrap(corerr.IO, err, "read page %d of %q", idx, pf.path)
	}
	stored := binary.LittleEndian.Uint32(buf[0:4])
	computed := computeCRC(buf)
	if stored != computed {
		return corerr.New(corerr.IO, "page %d of %q: CRC mismatch (stored=%08x computed=%08x)", idx, pf.path, stored, computed)
	}
	copy(dst, buf[HeaderSize:])
	return nil
}

// Write writes src (length Capacity(pageSize)) as the payload of page idx.
func (pf *File) Write(idx PageIndex, src []byte) error {
	if len(src) != Capacity(pf.pageSize) {
		return corerr.New(corerr.Internal, "pagestore: src length %d != capacity %d", len(src), Capacity(pf.pageSize))
	}
	buf := make([]byte, pf.pageSize)
	copy(buf[HeaderSize:], src)
	return pf.writeLocked(idx, buf)
}

// writeLocked writes a full page-sized buffer (buf[0:4] CRC is recomputed
// here) at idx. Callers may already hold pf.mu for metadata mutation; this
// helper itself only performs the positioned I/O, which is safe whether or
// not pf.mu is held by the caller.
func (pf *File) writeLocked(idx PageIndex, buf []byte) error {
	binary.LittleEndian.PutUint32(buf[4:8], uint32(idx))
	binary.LittleEndian.PutUint32(buf[0:4], 0)
	binary.LittleEndian.PutUint32(buf[0:4], computeCRC(buf))
	off := int64(idx) * int64(pf.pageSize)
	if _, err := pf.f.WriteAt(buf, off); err != nil {
		return corerr.Wrap(corerr.IO, err, "write page %d of %q", idx, pf.path)
	}
	return nil
}

func computeCRC(buf []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(buf[4:])
	return h.Sum32()
}

// Free returns page idx to the free set for reuse by a later AddPage. If the
// freed page is the last one and the free set extends contiguously to the
// tail, the file is truncated instead of leaving a hole (spec §4.A).
func (pf *File) Free(idx PageIndex) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.free[idx] = struct{}{}
	pf.compactTailLocked()
	return nil
}

// compactTailLocked truncates away a contiguous run of free pages at the
// tail of the file, shrinking numPages and the on-disk extent to match.
func (pf *File) compactTailLocked() {
	for pf.numPages > 0 {
		last := PageIndex(pf.numPages - 1)
		if _, ok := pf.free[last]; !ok {
			break
		}
		delete(pf.free, last)
		pf.numPages--
	}
	if err := pf.f.Truncate(int64(pf.numPages) * int64(pf.pageSize)); err != nil {
		// Best-effort: the free set stays authoritative even if the
		// underlying truncate syscall fails (e.g. on an unusual fs);
		// the next AddPage will just extend the file again first.
		_ = err
	}
}

// TruncateTo shrinks the file to exactly n pages, discarding any pages at
// or past index n from both the data extent and the free set.
func (pf *File) TruncateTo(n uint32) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if n > pf.numPages {
		return corerr.New(corerr.InvalidInput, "truncate_to(%d) exceeds current page count %d", n, pf.numPages)
	}
	for idx := range pf.free {
		if uint32(idx) >= n {
			delete(pf.free, idx)
		}
	}
	pf.numPages = n
	if err := pf.f.Truncate(int64(n) * int64(pf.pageSize)); err != nil {
		return corerr.Wrap(corerr.IO, err, "truncate %q to %d pages", pf.path, n)
	}
	return nil
}

// Sync fsyncs the underlying file.
func (pf *File) Sync() error {
	if err := pf.f.Sync(); err != nil {
		return corerr.Wrap(corerr.IO, err, "fsync %q", pf.path)
	}
	return nil
}

func (pf *File) String() string {
	return fmt.Sprintf("pagestore.File{path=%s pages=%d pageSize=%d}", pf.path, pf.NumPages(), pf.pageSize)
}
