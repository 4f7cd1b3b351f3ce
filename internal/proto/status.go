package proto

import "github.com/qserv/qserv-go/internal/ids"

// DeadUberJobGroup names the uber-jobs of one query the czar has given up
// on: the worker must evict each (qid, one of ujids) pair from its
// scheduler queues and delete its partial result file.
type DeadUberJobGroup struct {
	QID   ids.QueryID     `json:"qid"`
	UJIDs []ids.UberJobID `json:"ujids"`
}

// WorkerStatusMsg is the bidirectional liveness/GC message of C12,
// POSTed periodically by the czar to each worker and returned with the
// worker's own view appended. Field names follow
// original_source/src/http/WorkerQueryStatusData.cc.
type WorkerStatusMsg struct {
	CzarID    string    `json:"czarId"`
	CzarEpoch ids.Epoch `json:"czarEpoch"`

	// QueryIDs the czar still considers live; used by the worker to infer
	// which of its own tracked queries the czar has forgotten.
	LiveQueryIDs []ids.QueryID `json:"liveQueryIds"`

	// Result-file retention directives, keyed by query id.
	QIDDoneKeepFiles   []ids.QueryID `json:"qiddonekeepfiles,omitempty"`
	QIDDoneDeleteFiles []ids.QueryID `json:"qiddonedeletefiles,omitempty"`

	// Uber-jobs the czar has given up on; the worker should cancel and
	// discard them if still running.
	QIDDeadUberJobs []DeadUberJobGroup `json:"qiddeaduberjobs,omitempty"`

	// Set when the czar itself restarted since the worker last heard from
	// it; CzarRestartCancelQID then names the highest query id from the
	// prior epoch that is now void.
	CzarRestart          bool        `json:"czarrestart,omitempty"`
	CzarRestartCancelQID ids.QueryID `json:"czarrestartcancelqid,omitempty"`
}

// WorkerStatusReply is the worker's response: its own liveness epoch, the
// set of query ids it is still tracking (so the czar can detect queries
// the worker knows about that the czar itself has already forgotten —
// supplemented behavior, SPEC_FULL.md §4 "reconcileForgotten"), and echoes
// of the directives it actually acted on, so the czar can retire them from
// its own pending maps.
type WorkerStatusReply struct {
	WorkerID        ids.WorkerID  `json:"workerId"`
	WorkerEpoch     ids.Epoch     `json:"workerEpoch"`
	TrackedQIDs     []ids.QueryID `json:"trackedQueryIds"`
	WorkerRestarted bool          `json:"workerRestarted"`

	AckedDoneKeepFiles   []ids.QueryID      `json:"ackedDoneKeepFiles,omitempty"`
	AckedDoneDeleteFiles []ids.QueryID      `json:"ackedDoneDeleteFiles,omitempty"`
	AckedDeadUberJobs    []DeadUberJobGroup `json:"ackedDeadUberJobs,omitempty"`

	// FlaggedForCancellation names queries wsched's §4.5 booting governor
	// has flagged: already demoted to the snail lane and still accumulating
	// booted tasks past its per-query budget. The czar decides whether to
	// act on the flag.
	FlaggedForCancellation []ids.QueryID `json:"flaggedForCancellation,omitempty"`
}
