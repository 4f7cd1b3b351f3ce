package qstatus

import (
	"sync"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/qserv/qserv-go/pkg/qlog"
)

// Actions is the worker-side effect surface qstatus drives: cancelling a
// query's in-flight tasks, deleting its result files, and evicting one
// uber-job. Kept as an interface so WorkerSide's protocol logic can be unit
// tested without a real scheduler or filesystem.
type Actions interface {
	CancelQuery(q ids.QueryID)
	DeleteResultFiles(q ids.QueryID) error
	EvictUberJob(q ids.QueryID, u ids.UberJobID) error
}

// WorkerSide tracks one worker's view of the czar-query-status protocol:
// which queries it still has state for, and the last czar identity/epoch it
// heard from (to detect a czar restart per spec.md §4.13).
type WorkerSide struct {
	mu      sync.Mutex
	id      ids.WorkerID
	epoch   ids.Epoch
	actions Actions

	haveSeenCzar  bool
	lastCzarID    string
	lastCzarEpoch ids.Epoch

	tracked     map[ids.QueryID]bool
	justStarted bool

	flaggedForCancellation map[ids.QueryID]bool
}

// NewWorkerSide builds worker-side protocol state. Pass haveSeenCzar=false
// (with lastCzarID/lastCzarEpoch ignored) on a worker's first-ever start;
// pass the persisted last-seen czar identity (internal/qstore) otherwise,
// so a worker that restarts mid-query can still detect a czar epoch change
// relative to before its own crash.
func NewWorkerSide(id ids.WorkerID, epoch ids.Epoch, haveSeenCzar bool, lastCzarID string, lastCzarEpoch ids.Epoch, actions Actions) *WorkerSide {
	return &WorkerSide{
		id:            id,
		epoch:         epoch,
		actions:       actions,
		haveSeenCzar:  haveSeenCzar,
		lastCzarID:    lastCzarID,
		lastCzarEpoch: lastCzarEpoch,
		tracked:       make(map[ids.QueryID]bool),
		justStarted:   true,

		flaggedForCancellation: make(map[ids.QueryID]bool),
	}
}

// FlagForCancellation records that wsched's booting governor wants q
// cancelled (spec.md §4.5 step 4, a query demoted to the snail lane that
// keeps accumulating booted tasks past its budget). Surfaced to the czar
// on the next status round and cleared once sent.
func (w *WorkerSide) FlagForCancellation(q ids.QueryID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flaggedForCancellation[q] = true
}

// Track records that the worker now has state (tasks and/or result files)
// for q.
func (w *WorkerSide) Track(q ids.QueryID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tracked[q] = true
}

// HandleMessage applies one round's czar directives and returns the reply
// to POST back.
func (w *WorkerSide) HandleMessage(msg *proto.WorkerStatusMsg) *proto.WorkerStatusReply {
	w.mu.Lock()
	defer w.mu.Unlock()

	restarted := msg.CzarRestart ||
		(w.haveSeenCzar && (msg.CzarID != w.lastCzarID || msg.CzarEpoch != w.lastCzarEpoch))
	if restarted {
		w.handleCzarRestartLocked(msg.CzarRestartCancelQID)
	}
	w.lastCzarID, w.lastCzarEpoch, w.haveSeenCzar = msg.CzarID, msg.CzarEpoch, true

	var ackedKeep, ackedDelete []ids.QueryID
	for _, q := range msg.QIDDoneKeepFiles {
		if w.tracked[q] {
			delete(w.tracked, q)
			ackedKeep = append(ackedKeep, q)
		}
	}
	for _, q := range msg.QIDDoneDeleteFiles {
		if !w.tracked[q] {
			continue
		}
		if err := w.actions.DeleteResultFiles(q); err != nil {
			qlog.WithComponent("qstatus").Warn().Err(err).Int64("query", int64(q)).
				Msg("delete result files on done-delete directive")
			continue
		}
		delete(w.tracked, q)
		ackedDelete = append(ackedDelete, q)
	}

	var ackedDead []proto.DeadUberJobGroup
	for _, g := range msg.QIDDeadUberJobs {
		var evicted []ids.UberJobID
		for _, u := range g.UJIDs {
			if err := w.actions.EvictUberJob(g.QID, u); err != nil {
				qlog.WithComponent("qstatus").Warn().Err(err).
					Int64("query", int64(g.QID)).Int64("uberJob", int64(u)).
					Msg("evict dead uber-job")
				continue
			}
			evicted = append(evicted, u)
		}
		if len(evicted) > 0 {
			ackedDead = append(ackedDead, proto.DeadUberJobGroup{QID: g.QID, UJIDs: evicted})
		}
	}

	var flagged []ids.QueryID
	for q := range w.flaggedForCancellation {
		flagged = append(flagged, q)
	}
	w.flaggedForCancellation = make(map[ids.QueryID]bool)

	reply := &proto.WorkerStatusReply{
		WorkerID:               w.id,
		WorkerEpoch:            w.epoch,
		WorkerRestarted:        w.justStarted,
		AckedDoneKeepFiles:     ackedKeep,
		AckedDoneDeleteFiles:   ackedDelete,
		AckedDeadUberJobs:      ackedDead,
		FlaggedForCancellation: flagged,
	}
	for q := range w.tracked {
		reply.TrackedQIDs = append(reply.TrackedQIDs, q)
	}
	w.justStarted = false
	return reply
}

// handleCzarRestartLocked cancels and discards every tracked query at or
// below cancelQID: per spec.md §4.13, those queries belong to the czar's
// prior epoch and are void.
func (w *WorkerSide) handleCzarRestartLocked(cancelQID ids.QueryID) {
	for q := range w.tracked {
		if cancelQID == 0 || q > cancelQID {
			continue
		}
		w.actions.CancelQuery(q)
		if err := w.actions.DeleteResultFiles(q); err != nil {
			qlog.WithComponent("qstatus").Warn().Err(err).Int64("query", int64(q)).
				Msg("delete result files on czar-restart cancellation")
		}
		delete(w.tracked, q)
	}
}
