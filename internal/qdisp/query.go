package qdisp

import (
	"fmt"
	"sync"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/qdisp/assemble"
)

// UserQuery is the per-query aggregate record spec.md §3/§4.9 describes:
// every job and uber-job belonging to one user query, plus the query-level
// counters the dispatch loop and LIMIT short-circuit consult. All mutation
// goes through its mutex, per spec.md §9's "per-query state on the czar is
// mutable only via the Executive's mutex" design note.
type UserQuery struct {
	ID          ids.QueryID
	CzarID      string
	CzarEpoch   ids.Epoch
	LimitN      int64 // 0 means "no LIMIT"
	MaxAttempts int

	mu                sync.Mutex
	jobs              map[ids.JobID]*JobQuery
	uberJobs          map[ids.UberJobID]*UberJob
	resultRows        int64
	limitRowComplete  bool
	dataIgnoredCount  int64
	cancelled         bool
	flagFailedUberJob bool
	failed            bool
	errMsgs           []string
}

// NewUserQuery builds a query with every subquery's job in the PENDING
// state, ready for the dispatch loop's first assignJobsToUberJobs pass.
func NewUserQuery(id ids.QueryID, czarID string, czarEpoch ids.Epoch, limitN int64, maxAttempts int, subqueries []assemble.SubQuery) *UserQuery {
	q := &UserQuery{
		ID:          id,
		CzarID:      czarID,
		CzarEpoch:   czarEpoch,
		LimitN:      limitN,
		MaxAttempts: maxAttempts,
		jobs:        make(map[ids.JobID]*JobQuery, len(subqueries)),
		uberJobs:    make(map[ids.UberJobID]*UberJob),
	}
	for _, sq := range subqueries {
		q.jobs[sq.JobID] = &JobQuery{
			ID:          sq.JobID,
			Chunk:       sq.Chunk,
			SubChunkIDs: sq.SubChunkIDs,
			Template:    sq.Template,
			Tables:      sq.Tables,
			Attempt:     sq.Attempt,
			State:       JobPending,
		}
	}
	return q
}

// PendingJobs returns the subquery descriptors for every job currently
// PENDING, the input assignJobsToUberJobs passes to C9.
func (q *UserQuery) PendingJobs() []assemble.SubQuery {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []assemble.SubQuery
	for _, j := range q.jobs {
		if j.State == JobPending {
			out = append(out, j.subQuery())
		}
	}
	return out
}

// AssignUberJob transitions every job named in uj to ASSIGNED and records
// uj itself in the SENT state.
func (q *UserQuery) AssignUberJob(uj *UberJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	uj.State = UberJobSent
	q.uberJobs[uj.ID] = uj
	for _, jid := range uj.JobIDs {
		if j, ok := q.jobs[jid]; ok {
			j.State = JobAssigned
			j.UberJob = uj.ID
		}
	}
}

// MarkResponseDataReady transitions an uber-job after the worker's
// queryjob-ready callback arrives, and its member jobs to RESPONSE_READY.
func (q *UserQuery) MarkResponseDataReady(u ids.UberJobID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	uj, ok := q.uberJobs[u]
	if !ok {
		return fmt.Errorf("qdisp: unknown uber-job %d", u)
	}
	uj.State = UberJobResponseDataReady
	for _, jid := range uj.JobIDs {
		if j, ok := q.jobs[jid]; ok {
			j.State = JobResponseReady
		}
	}
	return nil
}

// MarkUberJobDone completes an uber-job after its result file has been
// fully merged: its jobs move to COMPLETE and rowCount is added to the
// query's running total. Returns whether the LIMIT, if any, is now
// satisfied.
func (q *UserQuery) MarkUberJobDone(u ids.UberJobID, rowCount int64) (limitComplete bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	uj, ok := q.uberJobs[u]
	if !ok {
		return q.limitRowComplete
	}
	uj.State = UberJobDone
	for _, jid := range uj.JobIDs {
		if j, ok := q.jobs[jid]; ok {
			j.State = JobComplete
		}
	}
	q.resultRows += rowCount
	if q.LimitN > 0 && q.resultRows >= q.LimitN {
		q.limitRowComplete = true
	}
	return q.limitRowComplete
}

// MarkUberJobFailed marks uj FAILED and returns the job ids it carried, so
// the caller can decide whether to reassign them (spec.md §4.9 recovery).
func (q *UserQuery) MarkUberJobFailed(u ids.UberJobID) []ids.JobID {
	q.mu.Lock()
	defer q.mu.Unlock()
	uj, ok := q.uberJobs[u]
	if !ok {
		return nil
	}
	uj.State = UberJobFailed
	jobIDs := make([]ids.JobID, len(uj.JobIDs))
	copy(jobIDs, uj.JobIDs)
	return jobIDs
}

// UnassignJobs implements _unassignJobs(U): each named job's attempt count
// is incremented; a job exceeding MaxAttempts fails the whole query, else
// it returns to PENDING for the next dispatch round. Returns true if the
// query failed as a result.
func (q *UserQuery) UnassignJobs(jobIDs []ids.JobID) (queryFailed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, jid := range jobIDs {
		j, ok := q.jobs[jid]
		if !ok {
			continue
		}
		j.Attempt++
		if j.Attempt > q.MaxAttempts {
			j.State = JobFailed
			q.failed = true
			q.errMsgs = append(q.errMsgs, fmt.Sprintf("job %d exceeded max attempts (%d)", jid, q.MaxAttempts))
			continue
		}
		j.State = JobPending
		j.UberJob = 0
	}
	q.flagFailedUberJob = true
	return q.failed
}

// ConsumeFlagFailedUberJob reports and clears the flag that tells the
// dispatch loop to re-run assignJobsToUberJobs immediately rather than
// waiting for the next regular round.
func (q *UserQuery) ConsumeFlagFailedUberJob() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	v := q.flagFailedUberJob
	q.flagFailedUberJob = false
	return v
}

// LimitRowComplete reports whether the query's LIMIT has been satisfied.
func (q *UserQuery) LimitRowComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limitRowComplete
}

// Cancelled reports whether Squash has been called.
func (q *UserQuery) Cancelled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled
}

// Failed reports whether any job in the query exceeded MaxAttempts.
func (q *UserQuery) Failed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failed
}

// ResultRows returns the running row count merged so far.
func (q *UserQuery) ResultRows() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resultRows
}

// AddDataIgnored accumulates rows discarded after LIMIT-complete squash cut
// a result file off mid-stream.
func (q *UserQuery) AddDataIgnored(n int64) {
	q.mu.Lock()
	q.dataIgnoredCount += n
	q.mu.Unlock()
}

// OutstandingUberJobs returns every uber-job not yet in a terminal state
// (DONE or FAILED), the set Squash and the LIMIT short-circuit must cancel.
func (q *UserQuery) OutstandingUberJobs() []*UberJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*UberJob
	for _, uj := range q.uberJobs {
		if uj.State != UberJobDone && uj.State != UberJobFailed {
			out = append(out, uj)
		}
	}
	return out
}

// Squash marks the query cancelled and every non-COMPLETE job FAILED,
// per spec.md §4.9. It does not itself broadcast cancellation or drain the
// file-collect executor — that is Executive.Squash's job, since those are
// cross-cutting effects outside the aggregate record.
func (q *UserQuery) Squash() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = true
	for _, j := range q.jobs {
		if j.State != JobComplete {
			j.State = JobFailed
		}
	}
	for _, uj := range q.uberJobs {
		if uj.State != UberJobDone {
			uj.State = UberJobFailed
		}
	}
}

// IsDone reports whether every job has reached a terminal state.
func (q *UserQuery) IsDone() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.State != JobComplete && j.State != JobFailed {
			return false
		}
	}
	return true
}
