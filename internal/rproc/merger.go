package rproc

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/qserv/qserv-go/internal/qerr"
	"github.com/qserv/qserv-go/pkg/qlog"
	"github.com/qserv/qserv-go/pkg/qmetrics"
)

// execer is the subset of *mariadb.Pool the merger needs. Defined locally
// so tests can supply a fake without standing up a real MariaDB instance.
type execer interface {
	Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error)
}

type dedupKey struct {
	Q       ids.QueryID
	U       ids.UberJobID
	J       ids.JobID
	Chunk   ids.ChunkID
	Attempt int
	Fragment int
}

type resultTable struct {
	name    string
	columns []string
}

type pendingBatch struct {
	rows  [][]string
	bytes int64
}

// Merger owns the per-query result tables and the in-memory insert batch
// accumulated between flushes.
type Merger struct {
	db            execer
	maxBatchBytes int64

	mu      sync.Mutex
	tables  map[ids.QueryID]*resultTable
	pending map[ids.QueryID]*pendingBatch
	seen    map[dedupKey]bool
}

// NewMerger builds a Merger that flushes a query's pending batch once it
// reaches maxBatchBytes (or on end-of-stream, regardless of size).
func NewMerger(db execer, maxBatchBytes int64) *Merger {
	return &Merger{
		db:            db,
		maxBatchBytes: maxBatchBytes,
		tables:        make(map[ids.QueryID]*resultTable),
		pending:       make(map[ids.QueryID]*pendingBatch),
		seen:          make(map[dedupKey]bool),
	}
}

// MergeFrame applies one framed fragment: it verifies the dedup key,
// creates the result table on the query's first-ever frame, and appends the
// frame's rows to the query's pending batch, flushing if the batch has
// grown past the byte threshold or this is the stream's last fragment. A
// repeat delivery of the same (query, uber-job, job, chunk, attempt,
// fragment) is silently discarded — that duplicate was already merged.
func (m *Merger) MergeFrame(ctx context.Context, f *proto.Frame) error {
	msg := f.Msg
	key := dedupKey{
		Q:       ids.QueryID(msg.QueryID),
		U:       ids.UberJobID(msg.UberJobID),
		J:       ids.JobID(msg.JobId),
		Chunk:   ids.ChunkID(msg.Chunk),
		Attempt: msg.Attempt,
		Fragment: msg.FragmentIndex,
	}

	m.mu.Lock()
	if m.seen[key] {
		m.mu.Unlock()
		qlog.WithComponent("rproc").Warn().
			Int64("query", msg.QueryID).Int64("uberJob", msg.UberJobID).
			Int64("job", msg.JobId).Int("attempt", msg.Attempt).
			Msg("discarding duplicate frame delivery")
		return nil
	}
	m.seen[key] = true

	q := ids.QueryID(msg.QueryID)
	table, ok := m.tables[q]
	m.mu.Unlock()

	if !ok {
		if len(msg.Columns) == 0 {
			return fmt.Errorf("rproc: query %d: first frame carries no schema", q)
		}
		var err error
		table, err = m.createResultTable(ctx, q, msg.Columns)
		if err != nil {
			qmetrics.MergeErrorsTotal.WithLabelValues(qerr.ClassFraming.String()).Inc()
			return err
		}
		m.mu.Lock()
		m.tables[q] = table
		m.mu.Unlock()
	}

	rows := splitRows(f.Content)
	if len(rows) > 0 {
		m.mu.Lock()
		batch := m.pending[q]
		if batch == nil {
			batch = &pendingBatch{}
			m.pending[q] = batch
		}
		batch.rows = append(batch.rows, rows...)
		batch.bytes += int64(len(f.Content))
		m.mu.Unlock()
	}

	if shouldFlush := msg.LastFragment || m.batchBytes(q) >= m.maxBatchBytes; shouldFlush {
		if err := m.flush(ctx, q, table); err != nil {
			qmetrics.MergeErrorsTotal.WithLabelValues(qerr.ClassFraming.String()).Inc()
			return err
		}
	}
	return nil
}

func (m *Merger) batchBytes(q ids.QueryID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.pending[q]; b != nil {
		return b.bytes
	}
	return 0
}

// createResultTable issues a CREATE TABLE IF NOT EXISTS for query q's
// result, naming every column TEXT: rows arrive already stringified by the
// worker's row encoding (internal/wbase), so the merger stores them as-is
// rather than re-inferring MariaDB column types.
func (m *Merger) createResultTable(ctx context.Context, q ids.QueryID, columns []string) (*resultTable, error) {
	name := fmt.Sprintf("qr_%d", q)
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = fmt.Sprintf("`%s` TEXT", sanitizeIdent(c))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (%s)", name, strings.Join(defs, ", "))
	if _, err := m.db.Exec(ctx, stmt); err != nil {
		return nil, fmt.Errorf("rproc: create result table for query %d: %w", q, err)
	}
	return &resultTable{name: name, columns: columns}, nil
}

// flush issues one batched multi-row INSERT for every row accumulated for
// q since the last flush, then resets the pending batch.
func (m *Merger) flush(ctx context.Context, q ids.QueryID, table *resultTable) error {
	m.mu.Lock()
	batch := m.pending[q]
	delete(m.pending, q)
	m.mu.Unlock()
	if batch == nil || len(batch.rows) == 0 {
		return nil
	}

	placeholders := make([]string, len(batch.rows))
	args := make([]any, 0, len(batch.rows)*len(table.columns))
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(table.columns)), ",") + ")"
	for i, row := range batch.rows {
		placeholders[i] = rowPlaceholder
		for j := range table.columns {
			if j < len(row) {
				args = append(args, row[j])
			} else {
				args = append(args, nil)
			}
		}
	}
	stmt := fmt.Sprintf("INSERT INTO `%s` VALUES %s", table.name, strings.Join(placeholders, ","))
	if _, err := m.db.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("rproc: insert batch for query %d: %w", q, err)
	}
	qmetrics.ResultRowsMergedTotal.Add(float64(len(batch.rows)))
	return nil
}

// ResultTable returns the name of query q's result table, if one has been
// created yet.
func (m *Merger) ResultTable(q ids.QueryID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[q]
	if !ok {
		return "", false
	}
	return t.name, true
}

// splitRows parses content encoded by internal/wbase's tab-separated,
// newline-terminated row format into a slice of field slices.
func splitRows(content []byte) [][]string {
	lines := bytes.Split(bytes.TrimRight(content, "\n"), []byte("\n"))
	out := make([][]string, 0, len(lines))
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		fields := strings.Split(string(line), "\t")
		out = append(out, fields)
	}
	return out
}

func sanitizeIdent(s string) string {
	return strings.ReplaceAll(s, "`", "")
}
