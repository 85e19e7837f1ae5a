// Package graphcore is the embedded property-graph storage and execution
// core: paged storage with a shadow-paging WAL, columnar node/rel tables,
// a vectorized pull-based operator runtime, and a transactional write path
// (spec §1). It re-exports the pieces a host needs from internal packages,
// following the teacher's pattern of exposing internal types as aliases at
// the package root (github.com/SimonWaldherr/tinySQL's tinysql.go).
//
// The query parser, binder, planner, and physical-plan mapper are explicit
// external collaborators (spec §1 Out of scope): a Database executes an
// already-built internal/exec operator tree, it does not parse query text.
package graphcore

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/korivak/graphcore/internal/bufferpool"
	"github.com/korivak/graphcore/internal/catalog"
	"github.com/korivak/graphcore/internal/config"
	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/csr"
	"github.com/korivak/graphcore/internal/logging"
	"github.com/korivak/graphcore/internal/nodegroup"
	"github.com/korivak/graphcore/internal/pagestore"
	"github.com/korivak/graphcore/internal/shadowwal"
	"github.com/korivak/graphcore/internal/txn"
)

// Options is the root configuration a host supplies when opening a
// Database (spec §6's buffer_pool_bytes / max_threads /
// checkpoint_wait_timeout_us / wal_size_threshold_bytes / ignore_errors).
type Options = config.Options

// File names within a Database's directory (spec §6 External Interfaces).
const (
	dataFileName     = "data.gcd"
	metadataFileName = "metadata.gcd"
	walFileName      = "wal.gcd"
	catalogFileName  = "catalog.bin"
)

const (
	dataFileID bufferpool.FileID = iota
	metadataFileID
)

// Database owns every physical resource one embedded graph database
// instance needs: the data and metadata page files, the shared buffer
// pool, the shadow WAL, the transaction manager, and the statistics
// catalog. None of these are package-level globals (spec §9 Design
// Notes) — a host constructs exactly one Database per directory and
// threads it explicitly.
type Database struct {
	id  uuid.UUID
	dir string
	opt Options

	log zerolog.Logger

	dataFile *pagestore.File
	metaFile *pagestore.File
	pool     *bufferpool.Pool
	wal      *shadowwal.WAL
	txns     *txn.Manager
	catalog  *catalog.Catalog

	tablesMu sync.Mutex
	tables   map[string]*nodegroup.Table

	relMu      sync.Mutex
	relTables  map[string]*csr.Table
	relSchemas map[string]relSchema
}

// relSchema is what Database remembers about a relationship table once a
// connection first registers it via RelTable: which node tables its edges
// run between, and its per-edge property layout, so a later commit's
// mergeLocalRelTable knows how to size and rebuild its csr.Table.
type relSchema struct {
	srcTable string
	dstTable string
	props    []csr.PropertyDef
}

// TableID derives the stable identifier a write operator tags an
// uncommitted row's InternalID with (spec §9's uncommitted-row sentinel
// Open Question, resolved via localtable.UncommittedMarker): the FNV-1a
// hash of the table's name, so the same name always yields the same id
// across a process restart without a separate persisted name registry.
// Callers building an insert operator tree against this Database must tag
// new rows with this id (not an arbitrary one) for a same-transaction
// "insert node, then insert an edge to it" commit to resolve correctly
// (see mergeTransaction's firstOffsetByTableID).
func (db *Database) TableID(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// ID returns this Database instance's identifier: a fresh random uuid.v4
// minted on every Open, tagging rows an as-yet-unimplemented multi-file
// layout would need to disambiguate (spec §5's db_file_id, carried by
// shadowwal.Record today as a placeholder for that future split), the way
// the teacher's storage layer stamps UUIDs onto rows in
// internal/storage/uuid_helpers.go.
func (db *Database) ID() uuid.UUID { return db.id }

// Open creates or reopens a Database rooted at dir, applying documented
// defaults (config.Default) for any zero-valued Options field.
func Open(dir string, opt Options) (*Database, error) {
	opt = opt.Normalize()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, corerr.Wrap(corerr.IO, err, "create database directory %q", dir)
	}

	root := logging.New(logging.Config{Level: logging.InfoLevel})
	log := logging.Component(root, "database")

	if err := os.MkdirAll(filepath.Join(dir, "index"), 0o755); err != nil {
		return nil, corerr.Wrap(corerr.IO, err, "create index directory")
	}

	dataFile, err := pagestore.Open(filepath.Join(dir, dataFileName), opt.PageSize)
	if err != nil {
		return nil, err
	}
	metaFile, err := pagestore.Open(filepath.Join(dir, metadataFileName), opt.PageSize)
	if err != nil {
		dataFile.Close()
		return nil, err
	}
	wal, err := shadowwal.Open(filepath.Join(dir, walFileName), opt.PageSize)
	if err != nil {
		dataFile.Close()
		metaFile.Close()
		return nil, err
	}

	pool := bufferpool.New(bufferpool.Config{PoolBytes: opt.BufferPoolBytes, PageSize: opt.PageSize})
	pool.RegisterFile(dataFileID, dataFile)
	pool.RegisterFile(metadataFileID, metaFile)

	opMetrics := catalog.NewOperatorMetrics(nil)
	cat, err := catalog.Load(filepath.Join(dir, catalogFileName), opMetrics)
	if err != nil {
		wal.Close()
		dataFile.Close()
		metaFile.Close()
		return nil, err
	}

	db := &Database{
		id:       uuid.New(),
		dir:      dir,
		opt:      opt,
		log:      log,
		dataFile: dataFile,
		metaFile: metaFile,
		pool:     pool,
		wal:      wal,
		catalog:    cat,
		tables:     make(map[string]*nodegroup.Table),
		relTables:  make(map[string]*csr.Table),
		relSchemas: make(map[string]relSchema),
	}

	alloc := nodegroup.NewFileAllocator(pool, dataFileID, dataFile)
	if err := db.loadTables(alloc); err != nil {
		wal.Close()
		dataFile.Close()
		metaFile.Close()
		return nil, err
	}
	if err := db.loadRelTables(alloc); err != nil {
		wal.Close()
		dataFile.Close()
		metaFile.Close()
		return nil, err
	}

	txnMetrics := txn.NewMetrics(nil)
	db.txns = txn.New(opt, db.checkpoint, db.walSizeBytes, txnMetrics)
	if err := db.txns.Start(); err != nil {
		wal.Close()
		dataFile.Close()
		metaFile.Close()
		return nil, err
	}
	return db, nil
}

// Close stops the background auto-checkpoint scheduler and releases every
// open file handle. Close does not itself checkpoint; call Checkpoint
// first if pending WAL contents should be durable in the data files.
func (db *Database) Close() error {
	db.txns.Stop()
	var firstErr error
	for _, f := range []interface{ Close() error }{db.wal, db.dataFile, db.metaFile} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Pool returns the shared clock-replacement buffer pool (spec §4.B),
// the handle node-group and CSR storage register page allocators against.
func (db *Database) Pool() *bufferpool.Pool { return db.pool }

// WAL returns the shadow-paging write-ahead log (spec §4.C).
func (db *Database) WAL() *shadowwal.WAL { return db.wal }

// Catalog returns the statistics catalog (spec §4.K).
func (db *Database) Catalog() *catalog.Catalog { return db.catalog }

// NodeTable returns the committed node-group table named name, allocating
// it against schema and pkCol (-1 for no primary key) the first time any
// connection touches that table. Later callers' schema/pkCol arguments are
// ignored once the table exists, matching how a table's definition is
// fixed at creation in spec §4.E.
func (db *Database) NodeTable(name string, schema nodegroup.Schema, pkCol int) *nodegroup.Table {
	db.tablesMu.Lock()
	defer db.tablesMu.Unlock()
	if t, ok := db.tables[name]; ok {
		return t
	}
	t := nodegroup.NewTable(schema, nodegroup.NodeGroupSize, db.opt.PageSize, pkCol)
	db.tables[name] = t
	return t
}

// Nodes returns the committed node table named name, or (nil, false) if no
// connection has touched it yet (an external scan/planner builds its
// physical Scan operator against this, e.g. using Table as an exec.Source
// via its exec.MorselBounder-compatible MorselEnd).
func (db *Database) Nodes(name string) (*nodegroup.Table, bool) {
	db.tablesMu.Lock()
	defer db.tablesMu.Unlock()
	t, ok := db.tables[name]
	return t, ok
}

// RelTable registers (if not already registered) the node tables and
// per-edge property layout a relationship table named name merges
// against, and returns its current committed csr.Table, or (nil, false)
// if no write transaction has committed any edges for it yet. Like
// NodeTable, only the first call's srcTable/dstTable/props take effect;
// a table's definition is fixed at creation (spec §4.E).
func (db *Database) RelTable(name, srcTable, dstTable string, props []csr.PropertyDef) (*csr.Table, bool) {
	db.relMu.Lock()
	defer db.relMu.Unlock()
	if db.relSchemas == nil {
		db.relSchemas = make(map[string]relSchema)
	}
	if _, ok := db.relSchemas[name]; !ok {
		db.relSchemas[name] = relSchema{srcTable: srcTable, dstTable: dstTable, props: props}
	}
	t, ok := db.relTables[name]
	return t, ok
}

// Rels returns the committed relationship table named name, or
// (nil, false) if it has never been registered or never committed any
// edges.
func (db *Database) Rels(name string) (*csr.Table, bool) {
	db.relMu.Lock()
	defer db.relMu.Unlock()
	t, ok := db.relTables[name]
	return t, ok
}

// Txns returns the transaction manager (spec §4.J).
func (db *Database) Txns() *txn.Manager { return db.txns }

// walSizeBytes is the txn.WALSizeFunc the manager polls to decide whether
// an automatic checkpoint is due.
func (db *Database) walSizeBytes() int64 {
	return int64(db.wal.NumShadowPages()) * int64(db.opt.PageSize)
}

// WALSizeBytes reports the shadow WAL's current size, for diagnostic
// tooling (cmd/graphcorectl) to surface without reaching into internals.
func (db *Database) WALSizeBytes() int64 { return db.walSizeBytes() }

// checkpoint is the txn.CheckpointFunc: replay the shadow WAL back into
// the data/metadata files, persist the catalog, then clear the WAL.
func (db *Database) checkpoint() error {
	if err := db.pool.Flush(); err != nil {
		return err
	}
	resolve := func(dbFileID uint32, fileIndex bufferpool.FileID) (*pagestore.File, bool) {
		switch fileIndex {
		case dataFileID:
			return db.dataFile, true
		case metadataFileID:
			return db.metaFile, true
		default:
			return nil, false
		}
	}
	if err := db.wal.Replay(resolve); err != nil {
		return err
	}
	alloc := nodegroup.NewFileAllocator(db.pool, dataFileID, db.dataFile)
	if err := db.checkpointTables(alloc); err != nil {
		return err
	}
	if err := db.checkpointRelTables(alloc); err != nil {
		return err
	}
	if err := db.catalog.Flush(filepath.Join(db.dir, catalogFileName)); err != nil {
		return err
	}
	if err := db.wal.ClearAll(); err != nil {
		return err
	}
	if err := db.dataFile.Sync(); err != nil {
		return err
	}
	return db.metaFile.Sync()
}

// Checkpoint forces an immediate checkpoint rather than waiting for the
// WAL-size threshold (spec §4.J).
func (db *Database) Checkpoint() error { return db.txns.Checkpoint() }

func (db *Database) String() string {
	return fmt.Sprintf("graphcore.Database{dir=%s}", db.dir)
}
