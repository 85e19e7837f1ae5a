package graphcore

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/korivak/graphcore/internal/column"
	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/csr"
	"github.com/korivak/graphcore/internal/nodegroup"
	"github.com/korivak/graphcore/internal/pkindex"
)

const tablesFileName = "tables.bin"

// tableEntry is one node table's persisted registration: enough to rebuild
// its nodegroup.Table via LoadTable, mirroring how Catalog.Flush persists
// its own small bookkeeping struct as gob rather than paged columns.
type tableEntry struct {
	Name       string
	Schema     nodegroup.Schema
	Capacity   int
	PageSize   int
	PKCol      int
	Metas      []nodegroup.GroupMetadata
	Tombstones [][]byte
}

type tablesPersisted struct {
	Tables []tableEntry
}

const relTablesFileName = "rel_tables.bin"

// relEntry is one relationship table's persisted registration: its
// endpoint node-table names and property layout (so RelTable's schema
// survives a reopen) plus both directions' flushed csr.Metadata.
type relEntry struct {
	Name     string
	SrcTable string
	DstTable string
	Props    []csr.PropertyDef
	Fwd      csr.Metadata
	Bwd      csr.Metadata
}

type relTablesPersisted struct {
	Tables []relEntry
}

// indexPath is where a table's primary-key index is persisted (spec §6's
// index/<table>.<ext> layout).
func (db *Database) indexPath(table string) string {
	return filepath.Join(db.dir, "index", table+".idx")
}

// checkpointTables flushes every node table registered with this Database
// through alloc, persists each table's primary-key index alongside it, and
// writes the table registry itself so Open can reconstruct every table on
// reload (spec §4.E checkpoint, spec §4.I point 4 durability).
func (db *Database) checkpointTables(alloc column.PageAllocator) error {
	db.tablesMu.Lock()
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	db.tablesMu.Unlock()

	var p tablesPersisted
	for _, name := range names {
		db.tablesMu.Lock()
		t := db.tables[name]
		db.tablesMu.Unlock()

		metas, tombstones, err := t.Checkpoint(alloc)
		if err != nil {
			return err
		}
		if err := t.PrimaryKeyIndex().Flush(db.indexPath(name)); err != nil {
			return err
		}
		p.Tables = append(p.Tables, tableEntry{
			Name:       name,
			Schema:     t.Schema(),
			Capacity:   t.Capacity(),
			PageSize:   t.PageSize(),
			PKCol:      t.PKColumn(),
			Metas:      metas,
			Tombstones: tombstones,
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return corerr.Wrap(corerr.Internal, err, "tables: encode registry")
	}
	if err := os.WriteFile(filepath.Join(db.dir, tablesFileName), buf.Bytes(), 0o600); err != nil {
		return corerr.Wrap(corerr.IO, err, "tables: write registry")
	}
	return nil
}

// loadTables reconstructs every table recorded in the registry file written
// by checkpointTables. A missing registry file means no checkpoint has ever
// run (a brand-new directory), which is not an error.
func (db *Database) loadTables(alloc column.PageAllocator) error {
	data, err := os.ReadFile(filepath.Join(db.dir, tablesFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return corerr.Wrap(corerr.IO, err, "tables: read registry")
	}
	var p tablesPersisted
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return corerr.Wrap(corerr.Internal, err, "tables: decode registry")
	}
	for _, e := range p.Tables {
		pk, err := pkindex.Load(db.indexPath(e.Name))
		if err != nil {
			return err
		}
		t, err := nodegroup.LoadTable(alloc, e.Schema, e.Capacity, e.PageSize, e.PKCol, e.Metas, e.Tombstones, pk)
		if err != nil {
			return err
		}
		db.tables[e.Name] = t
	}
	return nil
}

// checkpointRelTables flushes every relationship table registered with
// this Database through alloc and writes the registry loadRelTables
// reconstructs them from (spec §4.F checkpoint).
func (db *Database) checkpointRelTables(alloc column.PageAllocator) error {
	db.relMu.Lock()
	names := make([]string, 0, len(db.relTables))
	for name := range db.relTables {
		names = append(names, name)
	}
	db.relMu.Unlock()

	var p relTablesPersisted
	for _, name := range names {
		db.relMu.Lock()
		t := db.relTables[name]
		schema := db.relSchemas[name]
		db.relMu.Unlock()

		fwdMeta, err := t.Fwd.Flush(alloc)
		if err != nil {
			return err
		}
		bwdMeta, err := t.Bwd.Flush(alloc)
		if err != nil {
			return err
		}
		p.Tables = append(p.Tables, relEntry{
			Name:     name,
			SrcTable: schema.srcTable,
			DstTable: schema.dstTable,
			Props:    schema.props,
			Fwd:      fwdMeta,
			Bwd:      bwdMeta,
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return corerr.Wrap(corerr.Internal, err, "rel tables: encode registry")
	}
	if err := os.WriteFile(filepath.Join(db.dir, relTablesFileName), buf.Bytes(), 0o600); err != nil {
		return corerr.Wrap(corerr.IO, err, "rel tables: write registry")
	}
	return nil
}

// loadRelTables reconstructs every relationship table recorded in the
// registry file written by checkpointRelTables. A missing registry file
// means no checkpoint with committed edges has ever run, which is not an
// error.
func (db *Database) loadRelTables(alloc column.PageAllocator) error {
	data, err := os.ReadFile(filepath.Join(db.dir, relTablesFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return corerr.Wrap(corerr.IO, err, "rel tables: read registry")
	}
	var p relTablesPersisted
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return corerr.Wrap(corerr.Internal, err, "rel tables: decode registry")
	}
	for _, e := range p.Tables {
		fwd, err := csr.Load(alloc, e.Fwd.Neighbors.NumValues, db.opt.PageSize, e.Props, e.Fwd)
		if err != nil {
			return err
		}
		bwd, err := csr.Load(alloc, e.Bwd.Neighbors.NumValues, db.opt.PageSize, e.Props, e.Bwd)
		if err != nil {
			return err
		}
		db.relTables[e.Name] = &csr.Table{Fwd: fwd, Bwd: bwd}
		db.relSchemas[e.Name] = relSchema{srcTable: e.SrcTable, dstTable: e.DstTable, props: e.Props}
	}
	return nil
}
