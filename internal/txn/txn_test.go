package txn

import (
	"context"
	"testing"
	"time"

	"github.com/korivak/graphcore/internal/config"
)

func testManager() *Manager {
	cfg := config.Default().Normalize()
	cfg.CheckpointWaitTimeout = 50 * time.Millisecond
	return New(cfg, nil, nil, nil)
}

func TestSingleWriterExclusion(t *testing.T) {
	m := testManager()
	w1, err := m.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("begin write 1: %v", err)
	}
	if !m.WriterHeld() {
		t.Fatal("expected writer slot held")
	}

	_, err = m.BeginWrite(context.Background())
	if err == nil {
		t.Fatal("expected second writer to time out while the slot is held")
	}

	if err := m.Commit(w1, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if m.WriterHeld() {
		t.Fatal("expected writer slot released after commit")
	}
}

func TestReadersDoNotBlockOnWriter(t *testing.T) {
	m := testManager()
	w, err := m.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	r := m.BeginRead()
	if m.ActiveReaderCount() != 1 {
		t.Fatalf("expected 1 active reader, got %d", m.ActiveReaderCount())
	}
	if err := m.Commit(r, nil); err != nil {
		t.Fatalf("commit reader: %v", err)
	}
	if err := m.Commit(w, nil); err != nil {
		t.Fatalf("commit writer: %v", err)
	}
}

func TestCommitRunsMergeOnlyForWriteTransactions(t *testing.T) {
	m := testManager()
	w, _ := m.BeginWrite(context.Background())
	merged := false
	if err := m.Commit(w, func(tx *Transaction) error {
		merged = true
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !merged {
		t.Fatal("expected merge callback to run for a write transaction")
	}

	r := m.BeginRead()
	calledForRead := false
	if err := m.Commit(r, func(tx *Transaction) error {
		calledForRead = true
		return nil
	}); err != nil {
		t.Fatalf("commit read: %v", err)
	}
	if calledForRead {
		t.Fatal("merge callback must not run for a read-only transaction")
	}
}

func TestRollbackReleasesWriterWithoutMerging(t *testing.T) {
	m := testManager()
	w, _ := m.BeginWrite(context.Background())
	merged := false
	m.Rollback(w)
	if merged {
		t.Fatal("rollback must never invoke a merge")
	}
	if m.WriterHeld() {
		t.Fatal("expected writer slot released after rollback")
	}
}

func TestCommitTwiceFails(t *testing.T) {
	m := testManager()
	w, _ := m.BeginWrite(context.Background())
	if err := m.Commit(w, nil); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := m.Commit(w, nil); err == nil {
		t.Fatal("expected second commit on the same transaction to fail")
	}
}

func TestCheckpointInvokesConfiguredFunc(t *testing.T) {
	called := false
	cfg := config.Default().Normalize()
	m := New(cfg, func() error { called = true; return nil }, func() int64 { return 0 }, nil)
	if err := m.Checkpoint(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !called {
		t.Fatal("expected checkpoint function to be invoked")
	}
}
