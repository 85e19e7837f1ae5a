// Package txn implements the transaction manager of spec §4.J: single
// active writer at a time, any number of concurrent readers, a commit path
// that merges a transaction's local buffers into committed storage, and a
// background checkpoint trigger once the shadow WAL grows past a size
// threshold.
//
// Grounded on the teacher's scheduler (internal/storage/scheduler.go in
// github.com/SimonWaldherr/tinySQL), which already wires robfig/cron for
// background job execution against the database; this package reuses that
// same library for the one recurring background job a storage engine
// actually needs on its own: polling the WAL size and checkpointing when
// it crosses the configured threshold.
package txn

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/korivak/graphcore/internal/config"
	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/localtable"
)

// Mode distinguishes a read-only transaction from the single writer.
type Mode uint8

const (
	ReadOnly Mode = iota
	Write
)

// ID identifies one transaction for the lifetime of a Manager.
type ID uint64

// Transaction is a handle a caller holds for the duration of one logical
// unit of work. Write transactions own a per-table set of local buffers
// (spec §4.I) that Manager.Commit merges into committed storage.
type Transaction struct {
	ID      ID
	Mode    Mode
	manager *Manager

	mu         sync.Mutex
	localNodes map[string]*localtable.LocalNodeGroup
	localRels  map[string]*localtable.LocalRelTable
	warnings   localtable.WarningBuffer
	done       bool
}

// LocalNodes returns (creating if absent) the transaction's local buffer
// for the named node table.
func (t *Transaction) LocalNodes(table string, newBuf func() *localtable.LocalNodeGroup) *localtable.LocalNodeGroup {
	t.mu.Lock()
	defer t.mu.Unlock()
	if lg, ok := t.localNodes[table]; ok {
		return lg
	}
	lg := newBuf()
	t.localNodes[table] = lg
	return lg
}

// LocalRels returns (creating if absent) the transaction's local buffer for
// the named relationship table.
func (t *Transaction) LocalRels(table string) *localtable.LocalRelTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	if lr, ok := t.localRels[table]; ok {
		return lr
	}
	lr := localtable.NewLocalRelTable()
	t.localRels[table] = lr
	return lr
}

// Warnings returns the transaction's ignore_errors warning sink.
func (t *Transaction) Warnings() *localtable.WarningBuffer { return &t.warnings }

// LocalNodeTables and LocalRelTables let a commit merge callback enumerate
// every table this transaction touched.
func (t *Transaction) LocalNodeTables() map[string]*localtable.LocalNodeGroup {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*localtable.LocalNodeGroup, len(t.localNodes))
	for k, v := range t.localNodes {
		out[k] = v
	}
	return out
}

func (t *Transaction) LocalRelTables() map[string]*localtable.LocalRelTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*localtable.LocalRelTable, len(t.localRels))
	for k, v := range t.localRels {
		out[k] = v
	}
	return out
}

// Metrics are the prometheus counters/gauges a Manager exposes (spec §9
// Design Notes: observability is ambient, not optional, even though the
// distilled spec's scope excludes a metrics subsystem).
type Metrics struct {
	Commits      prometheus.Counter
	Rollbacks    prometheus.Counter
	Checkpoints  prometheus.Counter
	ActiveReaders prometheus.Gauge
	WriterActive prometheus.Gauge
}

// NewMetrics registers a fresh set of collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commits:       prometheus.NewCounter(prometheus.CounterOpts{Name: "graphcore_txn_commits_total", Help: "Total committed transactions."}),
		Rollbacks:     prometheus.NewCounter(prometheus.CounterOpts{Name: "graphcore_txn_rollbacks_total", Help: "Total rolled-back transactions."}),
		Checkpoints:   prometheus.NewCounter(prometheus.CounterOpts{Name: "graphcore_checkpoints_total", Help: "Total completed checkpoints."}),
		ActiveReaders: prometheus.NewGauge(prometheus.GaugeOpts{Name: "graphcore_active_readers", Help: "Currently open read-only transactions."}),
		WriterActive:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "graphcore_writer_active", Help: "1 if a write transaction currently holds the writer slot."}),
	}
	if reg != nil {
		reg.MustRegister(m.Commits, m.Rollbacks, m.Checkpoints, m.ActiveReaders, m.WriterActive)
	}
	return m
}

// CheckpointFunc performs the actual shadow-WAL checkpoint: flush shadow
// pages, fsync, replay onto originals, fsync originals, clear the shadow
// WAL (spec §4.C's five-step atomicity contract).
type CheckpointFunc func() error

// WALSizeFunc reports the shadow WAL's current size in bytes, polled by
// the background checkpoint trigger.
type WALSizeFunc func() int64

// Manager is the single-writer transaction coordinator shared by every
// Connection of a Database. Never a package-level singleton: an embedder
// constructs exactly one Manager per open database and threads it through
// its execution context explicitly (spec §9 Design Notes).
type Manager struct {
	mu           sync.Mutex
	nextID       ID
	writerActive bool
	writerFreed  chan struct{}
	readers      map[ID]*Transaction

	checkpoint CheckpointFunc
	walSize    WALSizeFunc
	threshold  int64
	waitTime   time.Duration

	cronJob *cron.Cron
	metrics *Metrics
}

// New constructs a Manager. checkpoint and walSize may be nil if the
// embedder wants manual-only checkpointing (Checkpoint can still be called
// directly); the background trigger is simply not started in that case.
func New(cfg config.Options, checkpoint CheckpointFunc, walSize WALSizeFunc, metrics *Metrics) *Manager {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Manager{
		writerFreed: make(chan struct{}, 1),
		readers:     make(map[ID]*Transaction),
		checkpoint:  checkpoint,
		walSize:     walSize,
		threshold:   cfg.WALSizeThresholdBytes,
		waitTime:    cfg.CheckpointWaitTimeout,
		metrics:     metrics,
	}
}

// Start launches the background WAL-size-threshold checkpoint trigger. A
// no-op if the Manager was built without a checkpoint/walSize pair.
func (m *Manager) Start() error {
	if m.checkpoint == nil || m.walSize == nil {
		return nil
	}
	m.cronJob = cron.New()
	_, err := m.cronJob.AddFunc("@every 5s", func() {
		if m.walSize() >= m.threshold {
			_ = m.Checkpoint()
		}
	})
	if err != nil {
		return corerr.Wrap(corerr.Internal, err, "txn: scheduling auto-checkpoint")
	}
	m.cronJob.Start()
	return nil
}

// Stop halts the background checkpoint trigger.
func (m *Manager) Stop() {
	if m.cronJob != nil {
		ctx := m.cronJob.Stop()
		<-ctx.Done()
	}
}

// BeginRead opens a new read-only transaction. Readers never block on the
// writer and vice versa (spec §4.J: any number of concurrent readers).
func (m *Manager) BeginRead() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	tx := &Transaction{ID: m.nextID, Mode: ReadOnly, manager: m, localNodes: map[string]*localtable.LocalNodeGroup{}, localRels: map[string]*localtable.LocalRelTable{}}
	m.readers[tx.ID] = tx
	m.metrics.ActiveReaders.Inc()
	return tx
}

// BeginWrite blocks until the single writer slot is free or ctx is
// canceled, whichever happens first, honoring cfg.CheckpointWaitTimeout as
// the default wait budget when ctx carries no deadline of its own.
func (m *Manager) BeginWrite(ctx context.Context) (*Transaction, error) {
	deadlineCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && m.waitTime > 0 {
		deadlineCtx, cancel = context.WithTimeout(ctx, m.waitTime)
		defer cancel()
	}
	for {
		m.mu.Lock()
		if !m.writerActive {
			m.writerActive = true
			m.nextID++
			tx := &Transaction{ID: m.nextID, Mode: Write, manager: m, localNodes: map[string]*localtable.LocalNodeGroup{}, localRels: map[string]*localtable.LocalRelTable{}}
			m.mu.Unlock()
			m.metrics.WriterActive.Set(1)
			return tx, nil
		}
		m.mu.Unlock()
		select {
		case <-m.writerFreed:
			continue
		case <-deadlineCtx.Done():
			return nil, corerr.New(corerr.Interrupted, "txn: timed out waiting for the write slot")
		}
	}
}

// CommitFunc merges a committed write transaction's local buffers into
// committed storage. Supplied by the embedder (the top-level Database),
// which alone knows the table set a transaction may have touched.
type CommitFunc func(tx *Transaction) error

// Commit finalizes tx: runs merge (write transactions only), releases the
// writer slot, and records the commit metric. A read-only tx just closes.
func (m *Manager) Commit(tx *Transaction, merge CommitFunc) error {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return corerr.New(corerr.TransactionManager, "txn %d already finalized", tx.ID)
	}
	tx.done = true
	tx.mu.Unlock()

	if tx.Mode == Write {
		if merge != nil {
			if err := merge(tx); err != nil {
				m.releaseWriter()
				return err
			}
		}
		m.releaseWriter()
	} else {
		m.mu.Lock()
		delete(m.readers, tx.ID)
		m.mu.Unlock()
		m.metrics.ActiveReaders.Dec()
	}
	m.metrics.Commits.Inc()
	return nil
}

// Rollback discards tx's local buffers (by simply dropping the reference —
// nothing was ever merged into committed storage) and releases the writer
// slot if held.
func (m *Manager) Rollback(tx *Transaction) {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return
	}
	tx.done = true
	tx.mu.Unlock()

	if tx.Mode == Write {
		m.releaseWriter()
	} else {
		m.mu.Lock()
		delete(m.readers, tx.ID)
		m.mu.Unlock()
		m.metrics.ActiveReaders.Dec()
	}
	m.metrics.Rollbacks.Inc()
}

func (m *Manager) releaseWriter() {
	m.mu.Lock()
	m.writerActive = false
	m.mu.Unlock()
	m.metrics.WriterActive.Set(0)
	select {
	case m.writerFreed <- struct{}{}:
	default:
	}
}

// Checkpoint runs the embedder's checkpoint function directly, outside the
// background trigger (e.g. on explicit API request or clean shutdown).
func (m *Manager) Checkpoint() error {
	if m.checkpoint == nil {
		return nil
	}
	if err := m.checkpoint(); err != nil {
		return err
	}
	m.metrics.Checkpoints.Inc()
	return nil
}

// ActiveReaderCount reports the number of open read-only transactions.
func (m *Manager) ActiveReaderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.readers)
}

// WriterHeld reports whether the single writer slot is currently taken.
func (m *Manager) WriterHeld() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writerActive
}
