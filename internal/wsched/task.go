package wsched

import (
	"sync"
	"time"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/memman"
	"github.com/qserv/qserv-go/pkg/qlog"
)

// State is a Task's position in its lifecycle (spec.md §3).
type State int

const (
	Created State = iota
	Queued
	Started
	Executing
	Reading
	Finished
	Cancelled
	Booted
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Queued:
		return "QUEUED"
	case Started:
		return "STARTED"
	case Executing:
		return "EXECUTING"
	case Reading:
		return "READING"
	case Finished:
		return "FINISHED"
	case Cancelled:
		return "CANCELLED"
	case Booted:
		return "BOOTED"
	default:
		return "UNKNOWN"
	}
}

// TableRef is a (db, table) pair a task references.
type TableRef struct {
	DB    string
	Table string
}

// ScanTable is a scan-table descriptor (spec.md §3): a table a task reads
// sequentially, with its slowness class and whether it should be resident.
type ScanTable struct {
	DB           string
	Table        string
	ScanRating   int // 1..4: fast, medium, slow, snail
	LockInMemory bool
}

// Task is the worker-side scheduling unit. Fields above the mu are
// immutable after creation; fields below are mutable and guarded by mu.
//
// Task.scheduler is a back-pointer to the owning ScanScheduler. Go's
// garbage collector reclaims reference cycles, so — unlike the C++ source
// this is ported from, which needed a weak_ptr here to avoid a leak — a
// plain pointer is both correct and idiomatic (see DESIGN.md, "ownership
// patterns").
type Task struct {
	Query          ids.QueryID
	Job            ids.JobID
	UberJob        ids.UberJobID
	Attempt        int
	Chunk          ids.ChunkID
	SubChunk       ids.SubChunkID
	FragmentIndex  int
	TemplateID     int
	Template       string // unsubstituted SQL text; CHUNK_TAG/SUBCHUNK_TAG still present
	SubChunkIDs    []ids.SubChunkID
	Tables         []TableRef
	ScanTables     []ScanTable
	Interactive    bool
	MaxResultBytes int64
	CzarID         ids.CzarID
	WorkerSeq      int64 // per-worker monotonic sequence, ordering only

	CreatedAt  time.Time
	QueuedAt   time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	mu            sync.Mutex
	state         State
	memHandle     memman.Handle
	mariaThreadID int64
	bytesWritten  int64
	booted        bool
	cancelled     bool
	scheduler     *ScanScheduler
	killFn        func() // wired by wbase to KILL the MariaDB statement
}

// NewTask constructs a task in the CREATED state.
func NewTask(q ids.QueryID, j ids.JobID, u ids.UberJobID, chunk ids.ChunkID, sub ids.SubChunkID) *Task {
	return &Task{
		Query:     q,
		Job:       j,
		UberJob:   u,
		Chunk:     chunk,
		SubChunk:  sub,
		Attempt:   1,
		CreatedAt: time.Now(),
		state:     Created,
	}
}

// SlowestRating returns the slowest scan rating among the task's scan
// tables (spec.md §3: "a task inherits the slowest rating among its
// referenced tables"). Returns 0 if the task has no scan tables.
func (t *Task) SlowestRating() int {
	max := 0
	for _, st := range t.ScanTables {
		if st.ScanRating > max {
			max = st.ScanRating
		}
	}
	return max
}

// SlowestTable returns the table the task inherited SlowestRating from —
// the basis for §4.5's per-chunk-per-table share computation. Zero value if
// the task has no scan tables.
func (t *Task) SlowestTable() TableRef {
	var best ScanTable
	for _, st := range t.ScanTables {
		if st.ScanRating > best.ScanRating {
			best = st
		}
	}
	return TableRef{DB: best.DB, Table: best.Table}
}

// RunMinutes reports how long the task has been executing. Zero if it
// hasn't started yet.
func (t *Task) RunMinutes() float64 {
	t.mu.Lock()
	started := t.StartedAt
	t.mu.Unlock()
	if started.IsZero() {
		return 0
	}
	return time.Since(started).Minutes()
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// SetMemHandle records the memory-manager handle granted for this task.
// Per spec.md §8 invariant 3, this must be set before the task transitions
// to Executing.
func (t *Task) SetMemHandle(h memman.Handle) {
	t.mu.Lock()
	t.memHandle = h
	t.mu.Unlock()
}

func (t *Task) MemHandle() memman.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.memHandle
}

// MarkExecuting transitions CREATED/QUEUED/STARTED -> EXECUTING. Panics in
// development builds would be appropriate if memHandle were unset, but
// qserv-go logs and proceeds, consistent with "never swallow silently"
// (spec.md §7) — the invariant is instead verified by tests.
func (t *Task) MarkExecuting() {
	t.mu.Lock()
	if t.memHandle == 0 {
		qlog.WithComponent("wsched").Warn().Int64("query", int64(t.Query)).Int64("job", int64(t.Job)).
			Msg("task executing without a memory handle")
	}
	t.StartedAt = time.Now()
	t.state = Executing
	t.mu.Unlock()
}

// MarkReading transitions EXECUTING -> READING (result rows are being
// fetched and framed to disk).
func (t *Task) MarkReading() {
	t.setState(Reading)
}

// MarkFinished transitions to FINISHED exactly once; later calls are
// no-ops, satisfying spec.md §8 invariant "a task reaches FINISHED exactly
// once".
func (t *Task) MarkFinished() {
	t.mu.Lock()
	if t.state == Finished {
		t.mu.Unlock()
		return
	}
	t.state = Finished
	t.FinishedAt = time.Now()
	t.mu.Unlock()
}

// AddBytesWritten accumulates the result-file byte count as frames are
// written.
func (t *Task) AddBytesWritten(n int64) {
	t.mu.Lock()
	t.bytesWritten += n
	t.mu.Unlock()
}

func (t *Task) BytesWritten() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytesWritten
}

// SetMariaThreadID records the MariaDB connection thread id executing this
// task, so Cancel can issue KILL QUERY.
func (t *Task) SetMariaThreadID(id int64) {
	t.mu.Lock()
	t.mariaThreadID = id
	t.mu.Unlock()
}

// SetKillFunc wires the function Cancel invokes to interrupt the running
// MariaDB statement (set by internal/wbase when the runner acquires a
// connection).
func (t *Task) SetKillFunc(fn func()) {
	t.mu.Lock()
	t.killFn = fn
	t.mu.Unlock()
}

// Boot marks the task BOOTED. Idempotent: once booted, the scheduler no
// longer counts it against the lane's active set, but it continues
// running to completion (spec.md §4.5). A task that has already FINISHED
// cannot be booted.
func (t *Task) Boot() (didBoot bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.booted || t.state == Finished || t.state == Cancelled {
		return false
	}
	t.booted = true
	t.state = Booted
	return true
}

func (t *Task) IsBooted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.booted
}

// Cancel is idempotent: it marks the task cancelled, forwards to the
// running statement's kill function if one is wired, and detaches it from
// its scheduler. Calling it N times has the same effect as calling it
// once (spec.md §8 "round-trip/idempotence").
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	kill := t.killFn
	sched := t.scheduler
	wasFinished := t.state == Finished
	if !wasFinished {
		t.state = Cancelled
	}
	t.mu.Unlock()

	if kill != nil {
		kill()
	}
	if sched != nil {
		sched.RemoveTask(t, true)
	}
}

func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *Task) setScheduler(s *ScanScheduler) {
	t.mu.Lock()
	t.scheduler = s
	t.mu.Unlock()
}
