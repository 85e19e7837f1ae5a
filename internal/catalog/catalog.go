// Package catalog implements the statistics catalog of spec §4.K: per-table
// row counts and per-column min/max/null-count stats, updated as
// node-groups and CSR lists are checkpointed, and consulted by the planner
// supplied outside this repo's scope for cardinality estimation.
//
// Grounded on the teacher's CatalogManager (internal/storage/catalog.go in
// github.com/SimonWaldherr/tinySQL): same registry-of-metadata shape and
// mutex discipline, generalized from SQL table/column/view/job bookkeeping
// to per-table row counts and per-column value-range statistics.
package catalog

import (
	"bytes"
	"encoding/gob"
	"os"
	"sync"

	"github.com/korivak/graphcore/internal/column"
	"github.com/korivak/graphcore/internal/corerr"
	"github.com/korivak/graphcore/internal/nodegroup"
	"github.com/prometheus/client_golang/prometheus"
)

// ColumnStats summarizes one column's observed value range, aggregated
// across every node-group checkpointed so far.
type ColumnStats struct {
	NullCount int
	HasMinMax bool
	Min, Max  []byte
}

func (s *ColumnStats) merge(meta column.ColumnChunkMetadata) {
	s.NullCount += meta.Compression.NullCount
	if !meta.Compression.HasMinMax {
		return
	}
	if !s.HasMinMax {
		s.HasMinMax = true
		s.Min = append([]byte(nil), meta.Compression.Min...)
		s.Max = append([]byte(nil), meta.Compression.Max...)
		return
	}
	if bytes.Compare(meta.Compression.Min, s.Min) < 0 {
		s.Min = append([]byte(nil), meta.Compression.Min...)
	}
	if bytes.Compare(meta.Compression.Max, s.Max) > 0 {
		s.Max = append([]byte(nil), meta.Compression.Max...)
	}
}

// TableStats is one table's aggregate statistics.
type TableStats struct {
	RowCount int64
	Columns  map[string]ColumnStats
}

// Catalog is the statistics registry shared (explicitly, not as a
// singleton) across a Database's connections.
type Catalog struct {
	mu      sync.RWMutex
	tables  map[string]*TableStats
	metrics *OperatorMetrics
}

// New allocates an empty catalog.
func New(metrics *OperatorMetrics) *Catalog {
	if metrics == nil {
		metrics = NewOperatorMetrics(nil)
	}
	return &Catalog{tables: make(map[string]*TableStats), metrics: metrics}
}

// Metrics returns the catalog's operator-invocation counters.
func (c *Catalog) Metrics() *OperatorMetrics { return c.metrics }

// RegisterTable ensures a table has a (possibly empty) stats entry.
func (c *Catalog) RegisterTable(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[table]; !ok {
		c.tables[table] = &TableStats{Columns: make(map[string]ColumnStats)}
	}
}

// RecordCheckpoint folds one node-group's freshly flushed metadata into
// table's running statistics. delta distinguishes a brand-new group
// (delta=NumRows) from a group re-checkpointed after in-place updates
// (delta=0, since RowCount already reflects those rows).
func (c *Catalog) RecordCheckpoint(table string, meta nodegroup.GroupMetadata, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.tables[table]
	if !ok {
		ts = &TableStats{Columns: make(map[string]ColumnStats)}
		c.tables[table] = ts
	}
	ts.RowCount += delta
	for name, cm := range meta.Columns {
		s := ts.Columns[name]
		s.merge(cm)
		ts.Columns[name] = s
	}
}

// TableStats returns a snapshot of table's statistics.
func (c *Catalog) TableStats(table string) (TableStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.tables[table]
	if !ok {
		return TableStats{}, false
	}
	cp := TableStats{RowCount: ts.RowCount, Columns: make(map[string]ColumnStats, len(ts.Columns))}
	for k, v := range ts.Columns {
		cp.Columns[k] = v
	}
	return cp, true
}

// ColumnStats returns a snapshot of one column's statistics.
func (c *Catalog) ColumnStats(table, col string) (ColumnStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.tables[table]
	if !ok {
		return ColumnStats{}, false
	}
	s, ok := ts.Columns[col]
	return s, ok
}

type persisted struct {
	Tables map[string]*TableStats
}

// Flush serializes the catalog to path. Catalog state is small bookkeeping
// metadata rather than bulk column data, so it is persisted as a single
// gob-encoded file instead of going through the paged column-chunk
// pipeline the rest of storage uses — the simpler path is adequate here
// and avoids forcing page-sized alignment onto a handful of stats structs.
func (c *Catalog) Flush(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(persisted{Tables: c.tables}); err != nil {
		return corerr.Wrap(corerr.Internal, err, "catalog: encode")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return corerr.Wrap(corerr.IO, err, "catalog: write %s", path)
	}
	return nil
}

// Load reconstructs a catalog previously written by Flush. A missing file
// is not an error: it means no checkpoint has happened yet.
func Load(path string, metrics *OperatorMetrics) (*Catalog, error) {
	c := New(metrics)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, corerr.Wrap(corerr.IO, err, "catalog: read %s", path)
	}
	var p persisted
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return nil, corerr.Wrap(corerr.Internal, err, "catalog: decode %s", path)
	}
	if p.Tables != nil {
		c.tables = p.Tables
	}
	return c, nil
}

// OperatorMetrics counts operator invocations by kind, a supplemented
// observability feature (spec §9 ambient-stack expectation) exercising
// the same prometheus client the transaction manager uses for its own
// counters.
type OperatorMetrics struct {
	invocations *prometheus.CounterVec
}

// NewOperatorMetrics registers a fresh counter vector against reg.
func NewOperatorMetrics(reg prometheus.Registerer) *OperatorMetrics {
	m := &OperatorMetrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphcore_operator_invocations_total",
			Help: "Operator tree node executions by operator kind.",
		}, []string{"operator"}),
	}
	if reg != nil {
		reg.MustRegister(m.invocations)
	}
	return m
}

// Record increments the counter for the given operator kind.
func (m *OperatorMetrics) Record(operator string) {
	m.invocations.WithLabelValues(operator).Inc()
}
