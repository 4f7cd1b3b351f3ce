package qstatus

import (
	"sync"
	"time"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/qserv/qserv-go/pkg/qlog"
)

// CzarSide accumulates the directives one czar process sends every worker
// each round and retires them once a worker acknowledges having acted on
// them, per spec.md §4.13. A stray entry no worker ever acknowledges is
// dropped after maxLifetime so a single unreachable worker can't leak
// memory forever.
type CzarSide struct {
	mu          sync.Mutex
	czarID      string
	epoch       ids.Epoch
	maxLifetime time.Duration

	live         map[ids.QueryID]bool
	doneKeep     map[ids.QueryID]time.Time
	doneDelete   map[ids.QueryID]time.Time
	deadUberJobs map[ids.QueryID]map[ids.UberJobID]time.Time

	restartCancelQID ids.QueryID
	announceRestart  bool
}

// NewCzarSide starts tracking for one czar identity/epoch. If this process
// itself just restarted, pass the highest query id known from the prior
// epoch as restartCancelQID (0 on a query-free first-ever start) so the
// first status round tells every worker to drop anything ≤ that id.
func NewCzarSide(czarID string, epoch ids.Epoch, maxLifetime time.Duration, restartCancelQID ids.QueryID) *CzarSide {
	return &CzarSide{
		czarID:           czarID,
		epoch:            epoch,
		maxLifetime:      maxLifetime,
		live:             make(map[ids.QueryID]bool),
		doneKeep:         make(map[ids.QueryID]time.Time),
		doneDelete:       make(map[ids.QueryID]time.Time),
		deadUberJobs:     make(map[ids.QueryID]map[ids.UberJobID]time.Time),
		restartCancelQID: restartCancelQID,
		announceRestart:  restartCancelQID > 0,
	}
}

// MarkLive records q as still in flight.
func (c *CzarSide) MarkLive(q ids.QueryID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[q] = true
}

// MarkDone stops reporting q as live and schedules the keep/delete
// directive for the next rounds until a worker acknowledges it. keepFiles
// should be true only for a retry-eligible finalization (Open Question #3,
// SPEC_FULL.md §5.3); any ordinary completion or cancellation passes false.
func (c *CzarSide) MarkDone(q ids.QueryID, keepFiles bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.live, q)
	if keepFiles {
		c.doneKeep[q] = time.Now()
	} else {
		c.doneDelete[q] = time.Now()
	}
}

// MarkUberJobDead schedules (q, u) for eviction on the worker side.
func (c *CzarSide) MarkUberJobDead(q ids.QueryID, u ids.UberJobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deadUberJobs[q] == nil {
		c.deadUberJobs[q] = make(map[ids.UberJobID]time.Time)
	}
	c.deadUberJobs[q][u] = time.Now()
}

// BuildMessage assembles this round's outbound payload, dropping any
// directive older than maxLifetime that no worker has ever acknowledged.
func (c *CzarSide) BuildMessage() *proto.WorkerStatusMsg {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.expireLocked(now)

	msg := &proto.WorkerStatusMsg{
		CzarID:    c.czarID,
		CzarEpoch: c.epoch,
	}
	for q := range c.live {
		msg.LiveQueryIDs = append(msg.LiveQueryIDs, q)
	}
	for q := range c.doneKeep {
		msg.QIDDoneKeepFiles = append(msg.QIDDoneKeepFiles, q)
	}
	for q := range c.doneDelete {
		msg.QIDDoneDeleteFiles = append(msg.QIDDoneDeleteFiles, q)
	}
	for q, ujs := range c.deadUberJobs {
		group := proto.DeadUberJobGroup{QID: q}
		for u := range ujs {
			group.UJIDs = append(group.UJIDs, u)
		}
		msg.QIDDeadUberJobs = append(msg.QIDDeadUberJobs, group)
	}
	if c.announceRestart {
		msg.CzarRestart = true
		msg.CzarRestartCancelQID = c.restartCancelQID
		c.announceRestart = false
	}
	return msg
}

func (c *CzarSide) expireLocked(now time.Time) {
	for q, t := range c.doneKeep {
		if now.Sub(t) > c.maxLifetime {
			delete(c.doneKeep, q)
		}
	}
	for q, t := range c.doneDelete {
		if now.Sub(t) > c.maxLifetime {
			delete(c.doneDelete, q)
		}
	}
	for q, ujs := range c.deadUberJobs {
		for u, t := range ujs {
			if now.Sub(t) > c.maxLifetime {
				delete(ujs, u)
			}
		}
		if len(ujs) == 0 {
			delete(c.deadUberJobs, q)
		}
	}
}

// ApplyReply retires every directive reply says the worker acted on, runs
// reconcileForgotten (any query the worker still tracks that this czar no
// longer considers live is immediately queued for deletion, since the czar
// has already forgotten it), and returns the queries the worker's booting
// governor flagged for cancellation (spec.md §4.5 step 4) for the caller to
// act on.
func (c *CzarSide) ApplyReply(reply *proto.WorkerStatusReply) []ids.QueryID {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, q := range reply.AckedDoneKeepFiles {
		delete(c.doneKeep, q)
	}
	for _, q := range reply.AckedDoneDeleteFiles {
		delete(c.doneDelete, q)
	}
	for _, g := range reply.AckedDeadUberJobs {
		ujs := c.deadUberJobs[g.QID]
		for _, u := range g.UJIDs {
			delete(ujs, u)
		}
		if len(ujs) == 0 {
			delete(c.deadUberJobs, g.QID)
		}
	}

	for _, q := range reply.TrackedQIDs {
		if c.live[q] {
			continue
		}
		if _, pending := c.doneDelete[q]; pending {
			continue
		}
		if _, pending := c.doneKeep[q]; pending {
			continue
		}
		qlog.WithComponent("qstatus").Warn().
			Int64("query", int64(q)).Str("worker", string(reply.WorkerID)).
			Msg("reconcileForgotten: worker tracks a query the czar no longer knows about")
		c.doneDelete[q] = time.Now()
	}

	return reply.FlaggedForCancellation
}
