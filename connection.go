package graphcore

import (
	"context"
	"sync/atomic"

	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/csr"
	"github.com/korivak/graphcore/internal/exec"
	"github.com/korivak/graphcore/internal/localtable"
	"github.com/korivak/graphcore/internal/nodegroup"
	"github.com/korivak/graphcore/internal/txn"
	"github.com/korivak/graphcore/internal/vector"
)

var (
	errNoTransaction        = corerr.New(corerr.TransactionManager, "connection: no active transaction")
	errAlreadyInTransaction = corerr.New(corerr.TransactionManager, "connection: a transaction is already active")
)

// Connection is one session against a Database: it owns at most one
// in-flight transaction at a time and runs pre-built operator trees
// against it. Building that tree (parsing, binding, planning) is the
// external collaborator's job (spec §1 Out of scope) — Connection only
// executes it.
type Connection struct {
	db   *Database
	tx   *txn.Transaction
	auth AuthStub

	cancel *atomic.Bool
}

// NewConnection opens a session against db. A Connection is not safe for
// concurrent use by multiple goroutines; open one Connection per worker.
func (db *Database) NewConnection() *Connection {
	return &Connection{db: db, cancel: &atomic.Bool{}}
}

// AuthStub is the supplemented authentication seam (SPEC_FULL.md §6): a
// real deployment wires this to its own identity provider, the embedded
// core itself enforces no policy and always authenticates successfully.
type AuthStub struct {
	token string
}

// Authenticate records token and always succeeds. The embedded core has
// no user/role model of its own (spec §1's scope is storage and
// execution, not access control); a host embedding it is expected to
// enforce authorization before a query ever reaches a Connection.
func (c *Connection) Authenticate(token string) error {
	c.auth = AuthStub{token: token}
	return nil
}

// BeginReadOnly starts a read-only transaction. Read-only transactions
// never block behind a writer and may run concurrently with any number
// of other readers (spec §4.J).
func (c *Connection) BeginReadOnly() error {
	if c.tx != nil {
		return errAlreadyInTransaction
	}
	c.tx = c.db.txns.BeginRead()
	return nil
}

// BeginWrite starts the single writable transaction, blocking until any
// prior writer has committed or rolled back or ctx is cancelled.
func (c *Connection) BeginWrite(ctx context.Context) error {
	if c.tx != nil {
		return errAlreadyInTransaction
	}
	tx, err := c.db.txns.BeginWrite(ctx)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Commit merges the active write transaction's local buffers into
// committed node-group and CSR storage, then clears it. Read-only
// transactions commit as a no-op release.
func (c *Connection) Commit() error {
	if c.tx == nil {
		return errNoTransaction
	}
	tx := c.tx
	c.tx = nil
	if tx.Mode == txn.ReadOnly {
		c.db.txns.Rollback(tx)
		return nil
	}
	return c.db.txns.Commit(tx, c.db.mergeTransaction)
}

// Rollback discards the active transaction's local buffers without
// merging them into committed storage.
func (c *Connection) Rollback() error {
	if c.tx == nil {
		return errNoTransaction
	}
	tx := c.tx
	c.tx = nil
	c.db.txns.Rollback(tx)
	return nil
}

// Cancel requests cooperative cancellation of any operator tree
// currently executing on this Connection (spec §4.H: every operator's
// Next checks this flag before doing work).
func (c *Connection) Cancel() { c.cancel.Store(true) }

// Result is everything Execute produced: the materialized chunks, the
// total row count, and any ignore_errors warnings the active
// transaction's local buffers accumulated along the way.
type Result struct {
	Chunks   []*vector.Chunk
	RowCount int
	Warnings []string
}

// Execute runs root to exhaustion and returns every row it produced.
// root is expected to have been built against this Connection's active
// transaction's local buffers (via LocalNodes/LocalRels) and against
// the Database's committed storage — Connection executes a tree, it
// does not build one.
func (c *Connection) Execute(root exec.Operator) (*Result, error) {
	if c.tx == nil {
		return nil, errNoTransaction
	}
	c.cancel.Store(false)
	ctx := &exec.Context{Cancelled: c.cancel, Metrics: c.db.catalog.Metrics()}
	collector := exec.NewCollect(root)
	if err := collector.Init(ctx); err != nil {
		return nil, err
	}
	chunks, err := collector.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{
		Chunks:   chunks,
		RowCount: collector.RowCount(),
		Warnings: c.tx.Warnings().All(),
	}, nil
}

// LocalNodes returns the active write transaction's local insert/update/
// delete buffer for table, creating it against schema if this is the
// table's first touch this transaction. pkCol selects table's primary-key
// column by index into schema.Columns, or -1 if it has none; it only has
// an effect the first time any connection touches table, since a table's
// definition is fixed at creation.
func (c *Connection) LocalNodes(table string, schema nodegroup.Schema, pkCol int) (*localtable.LocalNodeGroup, error) {
	if c.tx == nil {
		return nil, errNoTransaction
	}
	c.db.NodeTable(table, schema, pkCol)
	return c.tx.LocalNodes(table, func() *localtable.LocalNodeGroup {
		return localtable.NewLocalNodeGroup(schema, vector.Capacity, c.db.opt.PageSize)
	}), nil
}

// LocalRels returns the active write transaction's local edge insert/
// delete buffer for table, registering table's schema with the database
// (its endpoint node-table names and per-edge property layout) the first
// time any connection touches it, mirroring LocalNodes. srcTable/dstTable
// select which node tables the relationship's forward/backward CSR
// directions are sized against at commit; props only have an effect the
// first time any connection touches table.
func (c *Connection) LocalRels(table, srcTable, dstTable string, props []csr.PropertyDef) (*localtable.LocalRelTable, error) {
	if c.tx == nil {
		return nil, errNoTransaction
	}
	c.db.RelTable(table, srcTable, dstTable, props)
	return c.tx.LocalRels(table), nil
}

// Warnings returns the active transaction's ignore_errors warning sink.
func (c *Connection) Warnings() (*localtable.WarningBuffer, error) {
	if c.tx == nil {
		return nil, errNoTransaction
	}
	return c.tx.Warnings(), nil
}

// mergeTransaction is the txn.CommitFunc run while the committing
// transaction still holds the writer slot: fold every touched table's
// local write buffer into committed node-group storage in the order spec
// §4.I prescribes (inserts, then updates, then deletes — PK index entries
// following each row they belong to), register every touched table with
// the catalog (spec §4.K) for future statistics lookups, then fold every
// touched relationship table's pending edges into committed CSR storage
// now that every node insert this transaction made has a committed
// offset to resolve against.
//
// A table only has somewhere to merge into once a connection has called
// NodeTable/RelTable against it (via Connection.LocalNodes/LocalRels); a
// local buffer for a table with no registered persistent store is a
// no-op merge target and its rows simply never became durable, which a
// host should not be able to trigger once LocalNodes/LocalRels always
// provision their table up front.
func (db *Database) mergeTransaction(tx *txn.Transaction) error {
	// firstOffsetByTableID resolves a same-transaction "insert node, then
	// insert an edge to it" sequence: mergeLocalNodeGroup appends a
	// table's entire local insert buffer as one contiguous run, so the
	// uncommitted local row index N a RelInsert captured earlier in this
	// transaction becomes committed offset firstOffsetByTableID[tableID]+N
	// (spec §9's LocalRelTable uncommitted-row-id Open Question; see
	// DESIGN.md's resolution).
	firstOffsetByTableID := make(map[uint64]int64)
	for name, buf := range tx.LocalNodeTables() {
		db.catalog.RegisterTable(name)
		db.tablesMu.Lock()
		t, ok := db.tables[name]
		db.tablesMu.Unlock()
		if !ok {
			continue
		}
		first, err := mergeLocalNodeGroup(t, buf)
		if err != nil {
			return corerr.Wrap(corerr.TransactionManager, err, "commit: merge table %q", name)
		}
		if first >= 0 {
			firstOffsetByTableID[db.TableID(name)] = int64(first)
		}
	}
	for name, buf := range tx.LocalRelTables() {
		db.catalog.RegisterTable(name)
		if err := db.mergeLocalRelTable(name, buf, firstOffsetByTableID); err != nil {
			return corerr.Wrap(corerr.TransactionManager, err, "commit: merge rel table %q", name)
		}
	}
	return nil
}

// mergeLocalNodeGroup applies one table's local buffer to its committed
// Table, in the step order spec §4.I lists: append inserted rows
// (allocating new groups as needed), overlay updates onto their committed
// rows, then tombstone deletes. Table.Append/WriteRow/Delete each keep the
// table's primary-key index current as they go (spec §4.I point 4). It
// returns the global row offset the first inserted row landed at, or -1
// if this transaction inserted no rows into t.
func mergeLocalNodeGroup(t *nodegroup.Table, buf *localtable.LocalNodeGroup) (int, error) {
	first := -1
	inserted := buf.Inserted()
	if n := inserted.NumRows(); n > 0 {
		// Inserted is itself a node-group; scanning it whole reproduces the
		// exact row shape Table.Append expects to fan out across groups.
		st := vector.NewUnflat(n)
		schemaCols := inserted.Schema().Columns
		vecs := make([]*vector.Vector, len(schemaCols))
		for i, col := range schemaCols {
			vecs[i] = vector.New(col.Type, st, col.Nullable)
		}
		out := vector.NewChunk(st, vecs...)
		if err := inserted.Scan(0, n, out); err != nil {
			return -1, err
		}
		f, err := t.Append(out)
		if err != nil {
			return -1, err
		}
		first = f
	}
	for row, overlay := range buf.Updates() {
		if err := t.WriteRow(row, overlay); err != nil {
			return -1, err
		}
	}
	for _, row := range buf.Deletions() {
		if err := t.Delete(row); err != nil {
			return -1, err
		}
	}
	return first, nil
}

// mergeLocalRelTable folds one relationship table's pending forward/
// backward edge inserts and deletions into a freshly rebuilt csr.Table
// (spec §4.F/I), sized to its endpoint node tables' current (post node
// merge) row counts. A rel table with no schema registered yet (no
// connection has called Database.RelTable) is a no-op, the same way an
// unregistered node table is in mergeTransaction.
func (db *Database) mergeLocalRelTable(name string, buf *localtable.LocalRelTable, firstOffsetByTableID map[uint64]int64) error {
	db.relMu.Lock()
	schema, ok := db.relSchemas[name]
	old := db.relTables[name]
	db.relMu.Unlock()
	if !ok {
		return nil
	}

	db.tablesMu.Lock()
	srcTbl, srcOK := db.tables[schema.srcTable]
	dstTbl, dstOK := db.tables[schema.dstTable]
	db.tablesMu.Unlock()
	if !srcOK || !dstOK {
		return nil
	}
	numSrc, numDst := srcTbl.NumRows(), dstTbl.NumRows()
	srcTableID, dstTableID := db.TableID(schema.srcTable), db.TableID(schema.dstTable)

	resolve := func(id vector.InternalID) vector.InternalID {
		if !localtable.IsUncommitted(id) {
			return id
		}
		if base, ok := firstOffsetByTableID[id.TableID]; ok {
			return vector.InternalID{TableID: id.TableID, Offset: uint64(base) + uint64(localtable.LocalRow(id))}
		}
		return id
	}
	resolveBucket := func(tableID, offset uint64) uint64 {
		return resolve(vector.InternalID{TableID: tableID, Offset: offset}).Offset
	}

	rawFwd := buf.PendingEdgesBySource()
	pendingFwd := make(map[uint64][]csr.PendingEdge, len(rawFwd))
	totalPending := 0
	for srcOffset, edges := range rawFwd {
		node := resolveBucket(srcTableID, srcOffset)
		out := make([]csr.PendingEdge, len(edges))
		for i, e := range edges {
			out[i] = csr.PendingEdge{Neighbor: resolve(e.Neighbor), Props: e.Props}
		}
		pendingFwd[node] = out
		totalPending += len(out)
	}
	rawBwd := buf.PendingEdgesByDest()
	pendingBwd := make(map[uint64][]csr.PendingEdge, len(rawBwd))
	for dstOffset, edges := range rawBwd {
		node := resolveBucket(dstTableID, dstOffset)
		out := make([]csr.PendingEdge, len(edges))
		for i, e := range edges {
			out[i] = csr.PendingEdge{Neighbor: resolve(e.Neighbor), Props: e.Props}
		}
		pendingBwd[node] = out
	}

	deleted := buf.DeletedEdges() // map[committed src offset]map[committed dst offset]bool
	isDeletedFwd := func(node int, neighborOffset uint64) bool {
		return deleted[uint64(node)][neighborOffset]
	}
	isDeletedBwd := func(node int, neighborOffset uint64) bool {
		return deleted[neighborOffset][uint64(node)]
	}

	oldTotal := 0
	if old != nil {
		oldTotal = old.Fwd.TotalEdges()
	}
	capEdges := oldTotal + totalPending

	merged, err := csr.MergeTable(old, numSrc, numDst, schema.props, capEdges, db.opt.PageSize,
		pendingFwd, pendingBwd, isDeletedFwd, isDeletedBwd)
	if err != nil {
		return err
	}

	db.relMu.Lock()
	db.relTables[name] = merged
	db.relMu.Unlock()
	return nil
}
