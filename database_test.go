package graphcore

import (
	"context"
	"testing"

	"github.com/korivak/graphcore/internal/exec"
	"github.com/korivak/graphcore/internal/nodegroup"
	"github.com/korivak/graphcore/internal/vector"
)

func personSchema() nodegroup.Schema {
	return nodegroup.Schema{Columns: []nodegroup.ColumnDef{
		{Name: "id", Type: vector.TInternalID, Nullable: true},
		{Name: "pk", Type: vector.TInt64, Nullable: false},
		{Name: "name", Type: vector.TStringIndex, Nullable: false},
	}}
}

func insertRows(pks []int64, names []string) *vector.Chunk {
	st := vector.NewUnflat(len(pks))
	idv := vector.New(vector.TInternalID, st, true)
	pkv := vector.New(vector.TInt64, st, false)
	namev := vector.New(vector.TStringIndex, st, false)
	for i := range pks {
		idv.SetNull(i, true)
		pkv.SetInt64(i, pks[i])
		namev.SetString(i, names[i])
	}
	return vector.NewChunk(st, idv, pkv, namev)
}

func TestCommitMergesInsertsIntoPersistentTable(t *testing.T) {
	db, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	conn := db.NewConnection()
	if err := conn.BeginWrite(context.Background()); err != nil {
		t.Fatalf("begin write: %v", err)
	}
	buf, err := conn.LocalNodes("person", personSchema(), 1)
	if err != nil {
		t.Fatalf("local nodes: %v", err)
	}
	ins := exec.NewNodeInsert(exec.NewLiteral(insertRows([]int64{1, 2}, []string{"Alice", "Bob"})), buf, 1, 0).
		WithPrimaryKey(1, db.NodeTable("person", personSchema(), 1).PrimaryKeyIndex(), false, nil)
	if _, err := conn.Execute(ins); err != nil {
		t.Fatalf("execute insert: %v", err)
	}
	if err := conn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tbl, ok := db.Nodes("person")
	if !ok {
		t.Fatalf("expected person table to exist after commit")
	}
	if n := tbl.NumRows(); n != 2 {
		t.Fatalf("expected 2 committed rows, got %d", n)
	}
	if tbl.PrimaryKeyIndex().Len() != 2 {
		t.Fatalf("expected 2 PK index entries, got %d", tbl.PrimaryKeyIndex().Len())
	}
}

func TestCommitRejectsDuplicatePrimaryKeyAgainstCommittedRows(t *testing.T) {
	db, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	conn := db.NewConnection()
	if err := conn.BeginWrite(context.Background()); err != nil {
		t.Fatalf("begin write: %v", err)
	}
	buf, err := conn.LocalNodes("person", personSchema(), 1)
	if err != nil {
		t.Fatalf("local nodes: %v", err)
	}
	pk := db.NodeTable("person", personSchema(), 1).PrimaryKeyIndex()
	ins := exec.NewNodeInsert(exec.NewLiteral(insertRows([]int64{1}, []string{"Alice"})), buf, 1, 0).WithPrimaryKey(1, pk, false, nil)
	if _, err := conn.Execute(ins); err != nil {
		t.Fatalf("execute insert: %v", err)
	}
	if err := conn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	conn2 := db.NewConnection()
	if err := conn2.BeginWrite(context.Background()); err != nil {
		t.Fatalf("begin write: %v", err)
	}
	buf2, err := conn2.LocalNodes("person", personSchema(), 1)
	if err != nil {
		t.Fatalf("local nodes: %v", err)
	}
	ins2 := exec.NewNodeInsert(exec.NewLiteral(insertRows([]int64{1}, []string{"Bob"})), buf2, 1, 0).WithPrimaryKey(1, pk, false, nil)
	if _, err := conn2.Execute(ins2); err == nil {
		t.Fatalf("expected duplicate primary key insert to fail")
	}
	conn2.Rollback()

	tbl, _ := db.Nodes("person")
	if n := tbl.NumRows(); n != 1 {
		t.Fatalf("expected still exactly 1 committed row, got %d", n)
	}
}

func edgeChunk(src, dst vector.InternalID) *vector.Chunk {
	st := vector.NewUnflat(1)
	srcVec := vector.New(vector.TInternalID, st, false)
	dstVec := vector.New(vector.TInternalID, st, false)
	srcVec.SetID(0, src)
	dstVec.SetID(0, dst)
	return vector.NewChunk(st, srcVec, dstVec)
}

// insertPeopleAndEdge commits a single transaction that inserts Alice and
// Bob and, within the same transaction, a "knows" edge from Alice to Bob —
// exercising the uncommitted-row-id resolution a RelInsert referencing a
// node inserted earlier in the same transaction depends on.
func insertPeopleAndEdge(t *testing.T, db *Database) {
	t.Helper()
	conn := db.NewConnection()
	if err := conn.BeginWrite(context.Background()); err != nil {
		t.Fatalf("begin write: %v", err)
	}
	personTableID := db.TableID("person")
	buf, err := conn.LocalNodes("person", personSchema(), 1)
	if err != nil {
		t.Fatalf("local nodes: %v", err)
	}
	pk := db.NodeTable("person", personSchema(), 1).PrimaryKeyIndex()
	ins := exec.NewNodeInsert(exec.NewLiteral(insertRows([]int64{1, 2}, []string{"Alice", "Bob"})), buf, personTableID, 0).
		WithPrimaryKey(1, pk, false, nil)
	inserted, err := conn.Execute(ins)
	if err != nil {
		t.Fatalf("execute node insert: %v", err)
	}
	if inserted.RowCount != 2 {
		t.Fatalf("expected 2 inserted nodes, got %d", inserted.RowCount)
	}
	rows := inserted.Chunks[0]
	aliceID := rows.Vectors[0].ID(rows.State.Pos(0))
	bobID := rows.Vectors[0].ID(rows.State.Pos(1))

	relBuf, err := conn.LocalRels("knows", "person", "person", nil)
	if err != nil {
		t.Fatalf("local rels: %v", err)
	}
	relIns := exec.NewRelInsert(exec.NewLiteral(edgeChunk(aliceID, bobID)), relBuf, 0, 1, nil)
	if _, err := conn.Execute(relIns); err != nil {
		t.Fatalf("execute rel insert: %v", err)
	}
	if err := conn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestCommitMergesSameTransactionNodeAndEdgeIntoCSR(t *testing.T) {
	db, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	insertPeopleAndEdge(t, db)

	rel, ok := db.Rels("knows")
	if !ok {
		t.Fatalf("expected knows relationship table to exist after commit")
	}
	if rel.Fwd.Degree(0) != 1 {
		t.Fatalf("expected Alice (row 0) to have 1 outgoing edge, got %d", rel.Fwd.Degree(0))
	}
	st := vector.NewUnflat(1)
	dst := vector.New(vector.TInternalID, st, false)
	if err := rel.Fwd.ScanNode(0, dst); err != nil {
		t.Fatalf("scan forward edges: %v", err)
	}
	if dst.ID(0).Offset != 1 {
		t.Fatalf("expected Alice's edge to point at Bob's committed offset 1, got %d", dst.ID(0).Offset)
	}
	if rel.Bwd.Degree(1) != 1 {
		t.Fatalf("expected Bob (row 1) to have 1 incoming edge, got %d", rel.Bwd.Degree(1))
	}
}

func TestCommitAppliesRelDeleteAgainstCommittedCSR(t *testing.T) {
	db, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	insertPeopleAndEdge(t, db)

	alice := vector.InternalID{TableID: db.TableID("person"), Offset: 0}
	bob := vector.InternalID{TableID: db.TableID("person"), Offset: 1}

	conn := db.NewConnection()
	if err := conn.BeginWrite(context.Background()); err != nil {
		t.Fatalf("begin write: %v", err)
	}
	relBuf, err := conn.LocalRels("knows", "person", "person", nil)
	if err != nil {
		t.Fatalf("local rels: %v", err)
	}
	del := exec.NewRelDelete(exec.NewLiteral(edgeChunk(alice, bob)), relBuf, 0, 1)
	if _, err := conn.Execute(del); err != nil {
		t.Fatalf("execute rel delete: %v", err)
	}
	if err := conn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rel, ok := db.Rels("knows")
	if !ok {
		t.Fatalf("expected knows relationship table to still exist after delete")
	}
	if rel.Fwd.Degree(0) != 0 {
		t.Fatalf("expected Alice's edge to knows to be gone, got degree %d", rel.Fwd.Degree(0))
	}
	if rel.Bwd.Degree(1) != 0 {
		t.Fatalf("expected Bob's incoming edge to be gone, got degree %d", rel.Bwd.Degree(1))
	}
}
