// Package shadowwal implements the shadow-paging write-ahead log of spec
// §4.C: it records (file, original-page) -> shadow-page mappings, replays
// them on recovery, and truncates on checkpoint. It is grounded on the
// teacher's WALFile (github.com/SimonWaldherr/tinySQL
// internal/storage/pager/wal.go) for its file-header/CRC/fsync idiom — the
// same magic+version+CRC32 header and little-endian record marshal shape —
// generalized from tinySQL's physical page-image logging to the spec's
// shadow-page-record-and-replay contract (spec §6 external file format).
package shadowwal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/korivak/graphcore/internal/bufferpool"
	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/pagestore"
)

const (
	magic      = "GCWALSHD"
	version    = uint32(1)
	headerSize = 32 // magic(8) + version(4) + numShadowPages(4) + pageSize(4) + reserved(8) + crc(4)
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Record is the persisted shadow-page mapping (spec §6): which database
// file id, which backing file, and which original page this shadow page
// stands in for.
type Record struct {
	DBFileID          uint32
	FileIndex         bufferpool.FileID
	OriginalPageIndex pagestore.PageIndex
}

type key struct {
	dbFileID  uint32
	fileIndex bufferpool.FileID
	page      pagestore.PageIndex
}

// BackingFile resolves a (DBFileID, FileIndex) pair to the real page file a
// replay should write the shadow content onto.
type BackingFile func(dbFileID uint32, fileIndex bufferpool.FileID) (*pagestore.File, bool)

// WAL is the shadow file plus the in-memory map from (file, original page)
// to shadow page index. A single in-process handle serializes writes;
// readers of the map take the read lock (spec §5).
type WAL struct {
	mu             sync.RWMutex
	f              *os.File
	path           string
	pageSize       int
	numShadowPages uint32
	records        []Record
	index          map[key]pagestore.PageIndex
}

// Open opens or creates a shadow WAL file at path.
func Open(path string, pageSize int) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, corerr.Wrap(corerr.IO, err, "open shadow WAL %q", path)
	}
	w := &WAL{f: f, path: path, pageSize: pageSize, index: make(map[key]pagestore.PageIndex)}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, corerr.Wrap(corerr.IO, err, "stat shadow WAL %q", path)
	}
	if info.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		return w, nil
	}
	if err := w.loadHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if err := w.loadRecords(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *WAL) Close() error { return w.f.Close() }

func (w *WAL) writeHeader() error {
	hdr := make([]byte, headerSize)
	copy(hdr[0:8], magic)
	binary.LittleEndian.PutUint32(hdr[8:12], version)
	binary.LittleEndian.PutUint32(hdr[12:16], w.numShadowPages)
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(w.pageSize))
	c := crc32.Checksum(hdr[:headerSize-4], crcTable)
	binary.LittleEndian.PutUint32(hdr[headerSize-4:], c)
	if _, err := w.f.WriteAt(hdr, 0); err != nil {
		return corerr.Wrap(corerr.IO, err, "write shadow WAL header %q", w.path)
	}
	return nil
}

func (w *WAL) loadHeader() error {
	hdr := make([]byte, headerSize)
	if _, err := w.f.ReadAt(hdr, 0); err != nil {
		return corerr.Wrap(corerr.IO, err, "read shadow WAL header %q", w.path)
	}
	if string(hdr[0:8]) != magic {
		return corerr.New(corerr.IO, "shadow WAL %q: bad magic", w.path)
	}
	ver := binary.LittleEndian.Uint32(hdr[8:12])
	if ver != version {
		return corerr.New(corerr.IO, "shadow WAL %q: unsupported version %d", w.path, ver)
	}
	stored := binary.LittleEndian.Uint32(hdr[headerSize-4:])
	if crc32.Checksum(hdr[:headerSize-4], crcTable) != stored {
		return corerr.New(corerr.IO, "shadow WAL %q: header CRC mismatch", w.path)
	}
	w.numShadowPages = binary.LittleEndian.Uint32(hdr[12:16])
	w.pageSize = int(binary.LittleEndian.Uint32(hdr[16:20]))
	return nil
}

func (w *WAL) recordsOffset() int64 {
	return int64(headerSize) + int64(w.numShadowPages)*int64(w.pageSize)
}

func (w *WAL) loadRecords() error {
	off := w.recordsOffset()
	r := io.NewSectionReader(w.f, off, 1<<40)
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil // no records persisted yet
		}
		return corerr.Wrap(corerr.IO, err, "read shadow WAL record count %q", w.path)
	}
	count := binary.LittleEndian.Uint32(countBuf[:])
	recs := make([]Record, 0, count)
	for i := uint32(0); i < count; i++ {
		var rb [16]byte
		if _, err := io.ReadFull(r, rb[:]); err != nil {
			return corerr.Wrap(corerr.IO, err, "read shadow WAL record %d of %q", i, w.path)
		}
		rec := Record{
			DBFileID:          binary.LittleEndian.Uint32(rb[0:4]),
			FileIndex:         bufferpool.FileID(binary.LittleEndian.Uint32(rb[4:8])),
			OriginalPageIndex: pagestore.PageIndex(binary.LittleEndian.Uint32(rb[8:12])),
		}
		recs = append(recs, rec)
	}
	w.records = recs
	w.index = make(map[key]pagestore.PageIndex, len(recs))
	for i, rec := range recs {
		w.index[key{rec.DBFileID, rec.FileIndex, rec.OriginalPageIndex}] = pagestore.PageIndex(i)
	}
	return nil
}

// GetOrCreateShadow returns the shadow page index backing originalPage of
// (dbFileID, fileIndex). If no shadow exists yet, it allocates one, copies
// the original page's current content (if the original page exists), and
// records the mapping (spec §4.C).
func (w *WAL) GetOrCreateShadow(dbFileID uint32, fileIndex bufferpool.FileID, original *pagestore.File, originalPage pagestore.PageIndex) (pagestore.PageIndex, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	k := key{dbFileID, fileIndex, originalPage}
	if idx, ok := w.index[k]; ok {
		return idx, nil
	}

	shadowIdx := pagestore.PageIndex(w.numShadowPages)
	payload := make([]byte, pagestore.Capacity(w.pageSize))
	if original != nil && uint32(originalPage) < original.NumPages() {
		if err := original.Read(originalPage, payload); err != nil {
			return 0, err
		}
	}
	// Shadow pages are stored raw (no per-page CRC header, unlike
	// pagestore.File) since the shadow file's own header CRC plus the
	// record vector's replay target cover integrity at checkpoint time.
	off := int64(headerSize) + int64(shadowIdx)*int64(w.pageSize)
	if _, err := w.f.WriteAt(payload, off); err != nil {
		return 0, corerr.Wrap(corerr.IO, err, "write shadow page %d of %q", shadowIdx, w.path)
	}
	w.numShadowPages++
	w.records = append(w.records, Record{DBFileID: dbFileID, FileIndex: fileIndex, OriginalPageIndex: originalPage})
	w.index[k] = shadowIdx
	return shadowIdx, nil
}

// WriteShadowPage overwrites the content of an already-created shadow page.
func (w *WAL) WriteShadowPage(idx pagestore.PageIndex, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(payload) != pagestore.Capacity(w.pageSize) {
		return corerr.New(corerr.Internal, "shadowwal: payload length %d != capacity", len(payload))
	}
	off := int64(headerSize) + int64(idx)*int64(w.pageSize)
	if _, err := w.f.WriteAt(payload, off); err != nil {
		return corerr.Wrap(corerr.IO, err, "rewrite shadow page %d of %q", idx, w.path)
	}
	return nil
}

// ReadShadowPage reads the content of shadow page idx.
func (w *WAL) ReadShadowPage(idx pagestore.PageIndex, dst []byte) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	off := int64(headerSize) + int64(idx)*int64(w.pageSize)
	if _, err := w.f.ReadAt(dst, off); err != nil {
		return corerr.Wrap(corerr.IO, err, "read shadow page %d of %q", idx, w.path)
	}
	return nil
}

// Records returns a snapshot of the current shadow-page record vector.
func (w *WAL) Records() []Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Record, len(w.records))
	copy(out, w.records)
	return out
}

// FlushAll fsyncs the shadow file including its header (spec §4.C).
func (w *WAL) FlushAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writeRecordsLocked(); err != nil {
		return err
	}
	if err := w.writeHeader(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return corerr.Wrap(corerr.IO, err, "fsync shadow WAL %q", w.path)
	}
	return nil
}

func (w *WAL) writeRecordsLocked() error {
	buf := make([]byte, 4+16*len(w.records))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(w.records)))
	for i, rec := range w.records {
		off := 4 + i*16
		binary.LittleEndian.PutUint32(buf[off:off+4], rec.DBFileID)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(rec.FileIndex))
		binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(rec.OriginalPageIndex))
	}
	if _, err := w.f.WriteAt(buf, w.recordsOffset()); err != nil {
		return corerr.Wrap(corerr.IO, err, "write shadow WAL records %q", w.path)
	}
	return nil
}

// Replay copies every shadow page back onto its original position via
// resolve, then fsyncs every touched original file, per spec §4.C. It does
// NOT clear the map — call ClearAll separately once replay succeeds, so a
// crash between the two still leaves a replayable WAL on next startup.
func (w *WAL) Replay(resolve BackingFile) error {
	w.mu.RLock()
	records := make([]Record, len(w.records))
	copy(records, w.records)
	pageSize := w.pageSize
	w.mu.RUnlock()

	touched := make(map[*pagestore.File]struct{})
	payload := make([]byte, pagestore.Capacity(pageSize))
	for i, rec := range records {
		target, ok := resolve(rec.DBFileID, rec.FileIndex)
		if !ok {
			return corerr.New(corerr.Internal, "shadow WAL replay: no backing file for db=%d file=%d", rec.DBFileID, rec.FileIndex)
		}
		if err := w.ReadShadowPage(pagestore.PageIndex(i), payload); err != nil {
			return err
		}
		// Ensure the original file has the page allocated.
		for uint32(rec.OriginalPageIndex) >= target.NumPages() {
			if _, err := target.AddPage(); err != nil {
				return err
			}
		}
		if err := target.Write(rec.OriginalPageIndex, payload); err != nil {
			return err
		}
		touched[target] = struct{}{}
	}
	for f := range touched {
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll discards the map, empties the record vector, and truncates the
// shadow file back to just its header (spec §4.C). Idempotent: calling it
// twice in a row is a no-op the second time.
func (w *WAL) ClearAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = nil
	w.index = make(map[key]pagestore.PageIndex)
	w.numShadowPages = 0
	if err := w.f.Truncate(headerSize); err != nil {
		return corerr.Wrap(corerr.IO, err, "truncate shadow WAL %q", w.path)
	}
	if err := w.writeHeader(); err != nil {
		return err
	}
	return w.f.Sync()
}

// NumShadowPages reports how many shadow pages are currently recorded.
func (w *WAL) NumShadowPages() uint32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.numShadowPages
}

func (w *WAL) String() string {
	return fmt.Sprintf("shadowwal.WAL{path=%s numShadowPages=%d}", w.path, w.NumShadowPages())
}
