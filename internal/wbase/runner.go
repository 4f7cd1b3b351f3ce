package wbase

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/qserv/qserv-go/internal/chunkname"
	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/mariadb"
	"github.com/qserv/qserv-go/internal/memman"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/qserv/qserv-go/internal/qerr"
	"github.com/qserv/qserv-go/internal/wsched"
	"github.com/qserv/qserv-go/pkg/qlog"
	"github.com/qserv/qserv-go/pkg/qmetrics"
)

// Config bounds one Runner's behavior, sourced from pkg/config.Transmit
// and pkg/config.Results.
type Config struct {
	ResultDir       string
	MaxRowsPerFrame int
	MaxResultBytes  int64 // used only when the task's own MaxResultBytes is 0
}

// Runner is C6: it executes dispatched tasks to completion, one at a time
// per goroutine, writing framed result files. A BlendScheduler's dispatch
// loop calls Run for every task it hands out.
type Runner struct {
	cfg    Config
	pool   *mariadb.Pool
	memMgr *memman.Manager
}

// NewRunner builds a Runner over a MariaDB pool and memory manager.
func NewRunner(cfg Config, pool *mariadb.Pool, memMgr *memman.Manager) *Runner {
	return &Runner{cfg: cfg, pool: pool, memMgr: memMgr}
}

// Run executes t to completion: it locks t's memory handle strictly
// (blocking until the chunk's tables are resident), runs the substituted
// statement, and frames result rows to disk. The caller (a
// *wsched.ScanScheduler) is responsible for CommandFinish once Run
// returns, so task accounting stays in the scheduler instead of here.
func (r *Runner) Run(ctx context.Context, t *wsched.Task) error {
	t.MarkExecuting()
	defer t.MarkFinished()

	if h := t.MemHandle(); h != 0 {
		if res, err := r.memMgr.Lock(h, true); err != nil || res == memman.LockFailed {
			return qerr.New(qerr.ClassMemory, "lock_failed", true, err)
		}
	}

	stmt := chunkname.Substitute(t.Template, t.Chunk, t.SubChunk)

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return qerr.New(qerr.ClassTransient, "acquire_conn", true, err)
	}
	t.SetMariaThreadID(conn.ThreadID())
	t.SetKillFunc(func() {
		killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.pool.Kill(killCtx, conn.ThreadID()); err != nil {
			qlog.WithComponent("wbase").Error().Err(err).Msg("kill query on cancel")
		}
	})
	defer conn.Release()

	rows, err := conn.Query(ctx, stmt)
	if err != nil {
		if t.Cancelled() {
			return qerr.New(qerr.ClassCancelled, "cancelled", false, qerr.ErrCancelled)
		}
		if isMissingTableError(err) {
			return qerr.New(qerr.ClassWorkerLocal, "missing_table", true, err)
		}
		return qerr.New(qerr.ClassWorkerLocal, "query_failed", false, err)
	}
	defer rows.Close()

	t.MarkReading()
	path, rowCount, byteCount, err := r.writeResultFile(t, rows)
	if err != nil {
		return err
	}
	qmetrics.ResultRowsMergedTotal.Add(float64(rowCount))
	qlog.WithQuery(int64(t.Query)).Info().
		Int64("job", int64(t.Job)).
		Str("path", path).
		Int64("rows", rowCount).
		Int64("bytes", byteCount).
		Msg("task result written")
	return nil
}

// writeResultFile streams rows into one or more length-prefixed,
// checksummed frames (internal/proto), splitting into a new frame every
// MaxRowsPerFrame rows so a downstream merger (C11) can start consuming
// before the whole result set is buffered.
func (r *Runner) writeResultFile(t *wsched.Task, rows *sql.Rows) (path string, rowCount, byteCount int64, err error) {
	path = filepath.Join(r.cfg.ResultDir, ids.QU(t.Query, t.UberJob), fmt.Sprintf("job-%d-attempt-%d.rfile", t.Job, t.Attempt))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, 0, fmt.Errorf("wbase: create result dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", 0, 0, fmt.Errorf("wbase: create result file: %w", err)
	}
	defer f.Close()

	maxResultBytes := r.cfg.MaxResultBytes
	if t.MaxResultBytes > 0 {
		maxResultBytes = t.MaxResultBytes
	}

	cols, err := rows.Columns()
	if err != nil {
		return "", 0, 0, fmt.Errorf("wbase: read columns: %w", err)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	var batch []byte
	batchRows := 0
	fragment := 0
	flush := func(last bool) error {
		if batchRows == 0 && !last {
			return nil
		}
		msg := proto.NewResultMessage(int64(t.Query), int64(t.UberJob), int64(t.Job), int64(t.Chunk), t.Attempt, fragment, time.Now())
		msg.RowCount = int64(batchRows)
		msg.LastFragment = last
		if fragment == 0 {
			msg.Columns = cols
		}
		if err := proto.WriteFrame(f, proto.NewFrame(msg, batch)); err != nil {
			return fmt.Errorf("wbase: write frame: %w", err)
		}
		byteCount += int64(len(batch))
		fragment++
		batch = nil
		batchRows = 0
		return nil
	}

	for rows.Next() {
		if ctxCancelled := t.Cancelled(); ctxCancelled {
			return "", 0, 0, qerr.New(qerr.ClassCancelled, "cancelled", false, qerr.ErrCancelled)
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", 0, 0, fmt.Errorf("wbase: scan row: %w", err)
		}
		line := encodeRow(vals)
		if int64(len(line)) > maxResultBytes && maxResultBytes > 0 {
			return "", 0, 0, qerr.New(qerr.ClassWorkerLocal, "row_too_large", false, qerr.ErrRowTooLarge)
		}
		if maxResultBytes > 0 && int64(len(batch)+len(line)) > maxResultBytes {
			if err := flush(false); err != nil {
				return "", 0, 0, err
			}
		}
		batch = append(batch, line...)
		batchRows++
		rowCount++
		t.AddBytesWritten(int64(len(line)))
		if r.cfg.MaxRowsPerFrame > 0 && batchRows >= r.cfg.MaxRowsPerFrame {
			if err := flush(false); err != nil {
				return "", 0, 0, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return "", 0, 0, fmt.Errorf("wbase: row iteration: %w", err)
	}
	if err := flush(true); err != nil {
		return "", 0, 0, err
	}
	return path, rowCount, byteCount, nil
}

// encodeRow renders one row as a tab-separated line; a real deployment
// would match MariaDB's binary row format, but the framing/checksum
// contract C11 relies on is encoding-agnostic.
func encodeRow(vals []any) []byte {
	out := make([]byte, 0, 64)
	for i, v := range vals {
		if i > 0 {
			out = append(out, '\t')
		}
		out = append(out, fmt.Sprintf("%v", v)...)
	}
	out = append(out, '\n')
	return out
}

func isMissingTableError(err error) bool {
	if err == nil {
		return false
	}
	// MariaDB error 1146: "Table '...' doesn't exist".
	return containsAny(err.Error(), "1146", "doesn't exist")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(sub) <= len(s) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
