package qdisp

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/qserv/qserv-go/internal/qdisp/assemble"
	"github.com/qserv/qserv-go/internal/qerr"
	"github.com/qserv/qserv-go/internal/qmeta"
	"github.com/qserv/qserv-go/internal/qstatus"
	"github.com/qserv/qserv-go/pkg/qlog"
)

// Dispatcher sends one assembled uber-job payload to its worker. Kept as
// an interface so Executive's state-machine logic can be tested without a
// live HTTP round trip to a worker, matching the small-local-interface
// testing pattern used throughout this module (internal/rproc's execer,
// internal/qstatus's Actions).
type Dispatcher interface {
	PostUberJob(ctx context.Context, worker ids.WorkerID, msg *proto.UberJobMsg) (*proto.UberJobAck, error)
}

// FileFetcher opens a worker-hosted result file URL for streaming read.
type FileFetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Merger is the subset of internal/rproc.Merger the file-collect command
// needs: merging one framed result message.
type Merger interface {
	MergeFrame(ctx context.Context, f *proto.Frame) error
}

// Executive is C10: the czar-side driver for every in-flight user query.
// One process runs exactly one Executive (spec.md §9 "global mutable
// state... explicit, non-distributed singleton").
type Executive struct {
	czarID    string
	czarEpoch ids.Epoch
	chunkMap  *qmeta.ChunkMap
	dispatch  Dispatcher
	fetch     FileFetcher
	merger    Merger
	status    *qstatus.CzarSide

	collectSem chan struct{}

	mu            sync.Mutex
	queries       map[ids.QueryID]*UserQuery
	nextUberJobID int64
}

// NewExecutive builds an Executive. collectPoolSize bounds the number of
// concurrent file-collect reads, kept distinct from the dispatch pool per
// spec.md §4.9.
func NewExecutive(czarID string, czarEpoch ids.Epoch, chunkMap *qmeta.ChunkMap, dispatch Dispatcher, fetch FileFetcher, merger Merger, status *qstatus.CzarSide, collectPoolSize int) *Executive {
	if collectPoolSize < 1 {
		collectPoolSize = 1
	}
	return &Executive{
		czarID:     czarID,
		czarEpoch:  czarEpoch,
		chunkMap:   chunkMap,
		dispatch:   dispatch,
		fetch:      fetch,
		merger:     merger,
		status:     status,
		collectSem: make(chan struct{}, collectPoolSize),
		queries:    make(map[ids.QueryID]*UserQuery),
	}
}

func (e *Executive) nextUberJob() ids.UberJobID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextUberJobID++
	return ids.UberJobID(e.nextUberJobID)
}

// NewQuery registers a freshly-parsed user query's sub-queries and returns
// its UserQuery record. Callers still need to call Dispatch to send its
// first round of uber-jobs.
func (e *Executive) NewQuery(id ids.QueryID, limitN int64, maxAttempts int, subqueries []assemble.SubQuery) *UserQuery {
	q := NewUserQuery(id, e.czarID, e.czarEpoch, limitN, maxAttempts, subqueries)
	e.mu.Lock()
	e.queries[id] = q
	e.mu.Unlock()
	if e.status != nil {
		e.status.MarkLive(id)
	}
	return q
}

// Query returns a registered query by id.
func (e *Executive) Query(id ids.QueryID) (*UserQuery, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queries[id]
	return q, ok
}

// ActiveQueryCount reports how many queries the executive currently
// tracks, for the czar's own liveness status report.
func (e *Executive) ActiveQueryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

// Dispatch implements assignJobsToUberJobs (spec.md §4.9 step 1): gather
// every PENDING job, partition by worker via C8/C9, and POST each
// resulting uber-job. An uber-job whose POST fails is immediately
// unassigned (its jobs return to PENDING) rather than left SENT.
func (e *Executive) Dispatch(ctx context.Context, q *UserQuery) error {
	if q.Cancelled() {
		return nil
	}
	pending := q.PendingJobs()
	if len(pending) == 0 {
		return nil
	}

	round := e.chunkMap.NewRound()
	uberJobs, unassignable, err := assemble.Assemble(q.ID, e.czarID, e.czarEpoch, pending, round, e.nextUberJob, false, 0)
	if err != nil {
		return fmt.Errorf("qdisp: assemble query %d: %w", q.ID, err)
	}
	if len(unassignable) > 0 {
		qlog.WithComponent("qdisp").Warn().Int64("query", int64(q.ID)).Int("jobs", len(unassignable)).
			Msg("no candidate worker for chunk, leaving jobs pending")
	}

	for _, uj := range uberJobs {
		qdUJ := &UberJob{ID: uj.ID, Worker: uj.Worker, JobIDs: uj.JobIDs, State: UberJobAssembled}
		q.AssignUberJob(qdUJ)
		if _, err := e.dispatch.PostUberJob(ctx, uj.Worker, uj.Msg); err != nil {
			qlog.WithComponent("qdisp").Warn().Err(err).Int64("query", int64(q.ID)).Int64("uberJob", int64(uj.ID)).
				Msg("post uber-job failed, unassigning")
			q.MarkUberJobFailed(uj.ID)
			if failed := q.UnassignJobs(uj.JobIDs); failed {
				e.failQuery(q)
			}
		}
	}
	return nil
}

// HandleQueryJobReady processes a worker's queryjob-ready callback: the
// uber-job's result file is ready to stream. The file-collect itself runs
// on a goroutine bounded by the collect pool, per spec.md §4.9.
func (e *Executive) HandleQueryJobReady(ctx context.Context, q *UserQuery, u ids.UberJobID, fileURL string) {
	if err := q.MarkResponseDataReady(u); err != nil {
		qlog.WithComponent("qdisp").Warn().Err(err).Msg("queryjob-ready for unknown uber-job")
		return
	}
	e.collectSem <- struct{}{}
	go func() {
		defer func() { <-e.collectSem }()
		e.collectFile(ctx, q, u, fileURL)
	}()
}

// collectFile is the file-collect command (spec.md §4.9): open the URL,
// stream frames into C11, and transition the uber-job to DONE or FAILED
// based on the outcome.
func (e *Executive) collectFile(ctx context.Context, q *UserQuery, u ids.UberJobID, fileURL string) {
	rc, err := e.fetch.Fetch(ctx, fileURL)
	if err != nil {
		e.failUberJob(q, u, err)
		return
	}
	defer rc.Close()

	var rowCount int64
	for {
		if q.Cancelled() {
			return
		}
		frame, err := proto.ReadFrame(rc)
		if err == io.EOF {
			break
		}
		if err != nil {
			e.failUberJob(q, u, fmt.Errorf("read result frame: %w", err))
			return
		}
		if q.LimitRowComplete() {
			q.AddDataIgnored(frame.Msg.RowCount)
			if frame.Msg.LastFragment {
				break
			}
			continue
		}
		if err := e.merger.MergeFrame(ctx, frame); err != nil {
			e.failUberJob(q, u, fmt.Errorf("merge result frame: %w", err))
			return
		}
		rowCount += frame.Msg.RowCount
		if frame.Msg.LastFragment {
			break
		}
	}

	if q.MarkUberJobDone(u, rowCount) {
		e.squashOutstanding(q)
	}
}

func (e *Executive) failUberJob(q *UserQuery, u ids.UberJobID, cause error) {
	qlog.WithComponent("qdisp").Warn().Err(cause).Int64("query", int64(q.ID)).Int64("uberJob", int64(u)).
		Msg("file-collect failed")
	jobIDs := q.MarkUberJobFailed(u)
	if !qerr.Reassignable(cause) {
		e.failQuery(q)
		return
	}
	if failed := q.UnassignJobs(jobIDs); failed {
		e.failQuery(q)
	}
}

// HandleQueryJobError processes a worker's queryjob-error callback.
func (e *Executive) HandleQueryJobError(q *UserQuery, u ids.UberJobID, cause error) {
	jobIDs := q.MarkUberJobFailed(u)
	if !qerr.Reassignable(cause) {
		e.failQuery(q)
		return
	}
	if failed := q.UnassignJobs(jobIDs); failed {
		e.failQuery(q)
	}
}

func (e *Executive) failQuery(q *UserQuery) {
	e.Squash(q)
}

// EvictWorker reassigns every outstanding uber-job dispatched to w across
// every tracked query, the czar-side half of C14's eviction: the worker is
// gone, so its in-flight jobs go back to PENDING for the next Dispatch
// round to hand to a different candidate (spec.md §4.15).
func (e *Executive) EvictWorker(w ids.WorkerID) {
	e.mu.Lock()
	queries := make([]*UserQuery, 0, len(e.queries))
	for _, q := range e.queries {
		queries = append(queries, q)
	}
	e.mu.Unlock()

	for _, q := range queries {
		for _, uj := range q.OutstandingUberJobs() {
			if uj.Worker != w {
				continue
			}
			e.failUberJob(q, uj.ID, qerr.ErrWorkerRestarted)
		}
	}
}

// squashOutstanding cancels every uber-job not yet DONE/FAILED without
// failing the whole query: the LIMIT-complete short-circuit (spec.md
// §4.9) wants the remaining in-flight work stopped, not reported as an
// error.
func (e *Executive) squashOutstanding(q *UserQuery) {
	outstanding := q.OutstandingUberJobs()
	q.Squash()
	if e.status != nil {
		for _, uj := range outstanding {
			e.status.MarkUberJobDead(q.ID, uj.ID)
		}
		e.status.MarkDone(q.ID, false)
	}
}

// Squash implements the full cancellation path (spec.md §5
// "Cancellation semantics"): marks the query cancelled, broadcasts
// cancellation for every outstanding uber-job via C12 (next status round),
// and marks all non-DONE jobs FAILED. Rows already merged into the query's
// result table are left in place; Squash does not remove them. The
// file-collect executor drains naturally: collectFile checks Cancelled()
// before each frame and returns early.
func (e *Executive) Squash(q *UserQuery) {
	outstanding := q.OutstandingUberJobs()
	q.Squash()
	if e.status != nil {
		for _, uj := range outstanding {
			e.status.MarkUberJobDead(q.ID, uj.ID)
		}
		e.status.MarkDone(q.ID, false)
	}
	e.mu.Lock()
	delete(e.queries, q.ID)
	e.mu.Unlock()
}
