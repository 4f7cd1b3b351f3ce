package health

import (
	"context"
	"sync"
	"time"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/pkg/qlog"
	"github.com/qserv/qserv-go/pkg/qmetrics"
)

// workerCounters is one worker's pair of independent silence counters
// (spec.md §4.15): the replication service and the query service are
// probed and timed out separately, because one can go silent while the
// other still answers.
type workerCounters struct {
	replicationNoResponseSec int
	queryNoResponseSec       int
}

// ProbeTargets names the two addresses a worker is probed at.
type ProbeTargets struct {
	QueryURL        string // e.g. http://worker:port/status/results
	ReplicationAddr string // e.g. worker:mgmt_port
}

// Monitor is C14: per-worker dual noResponseSeconds counters, stepped by
// responseTimeoutSec on each silent probe and zeroed on each response. A
// worker whose both counters exceed evictTimeoutSec is nominated for
// eviction, but never more than one per round — multiple silent workers
// point at a cluster-wide problem, not a single bad host (spec.md §4.15,
// supplemented per original_source/core/modules/replica/
// HealthMonitorThread.cc with a warning logged in that case instead of an
// eviction, see SPEC_FULL.md §4).
type Monitor struct {
	responseTimeoutSec int
	evictTimeoutSec    int

	mu       sync.Mutex
	counters map[ids.WorkerID]*workerCounters
}

// NewMonitor builds a Monitor. responseTimeoutSec is added to a counter on
// each silent probe; evictTimeoutSec is the threshold both counters must
// clear before a worker is eviction-eligible.
func NewMonitor(responseTimeoutSec, evictTimeoutSec int) *Monitor {
	return &Monitor{
		responseTimeoutSec: responseTimeoutSec,
		evictTimeoutSec:    evictTimeoutSec,
		counters:           make(map[ids.WorkerID]*workerCounters),
	}
}

func (m *Monitor) counterFor(w ids.WorkerID) *workerCounters {
	c, ok := m.counters[w]
	if !ok {
		c = &workerCounters{}
		m.counters[w] = c
	}
	return c
}

// RecordReplicationResult applies one replication-service probe outcome.
func (m *Monitor) RecordReplicationResult(w ids.WorkerID, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counterFor(w)
	if healthy {
		c.replicationNoResponseSec = 0
	} else {
		c.replicationNoResponseSec += m.responseTimeoutSec
	}
}

// RecordQueryResult applies one query-service probe outcome.
func (m *Monitor) RecordQueryResult(w ids.WorkerID, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counterFor(w)
	if healthy {
		c.queryNoResponseSec = 0
	} else {
		c.queryNoResponseSec += m.responseTimeoutSec
	}
}

// ProbeOnce runs one round of both probes for worker w against targets and
// records their outcomes.
func (m *Monitor) ProbeOnce(ctx context.Context, w ids.WorkerID, targets ProbeTargets) {
	queryHealthy := NewHTTPChecker(targets.QueryURL).Check(ctx).Healthy
	m.RecordQueryResult(w, queryHealthy)

	replHealthy := NewTCPChecker(targets.ReplicationAddr).Check(ctx).Healthy
	m.RecordReplicationResult(w, replHealthy)
}

// silentWorkers returns every worker whose both counters exceed
// evictTimeoutSec, in an unspecified order.
func (m *Monitor) silentWorkers() []ids.WorkerID {
	var out []ids.WorkerID
	for w, c := range m.counters {
		if c.replicationNoResponseSec > m.evictTimeoutSec && c.queryNoResponseSec > m.evictTimeoutSec {
			out = append(out, w)
		}
	}
	return out
}

// NominateForEviction implements spec.md §4.15's "at most one eviction per
// round" rule: exactly one silent worker nominates for eviction; if more
// than one worker is silent this round, none are nominated and a warning
// is logged instead, since simultaneous silence across workers usually
// means a network partition or czar-side problem, not a bad worker.
func (m *Monitor) NominateForEviction() (ids.WorkerID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	silent := m.silentWorkers()
	switch len(silent) {
	case 0:
		return "", false
	case 1:
		qmetrics.WorkersEvictedTotal.Inc()
		return silent[0], true
	default:
		qlog.WithComponent("health").Warn().Int("silentWorkers", len(silent)).
			Msg("cluster health degraded: multiple workers silent, refusing to evict any")
		return "", false
	}
}

// Run polls every worker in targets at interval until ctx is done, calling
// onEvict at most once per round when NominateForEviction finds exactly
// one silent worker.
func (m *Monitor) Run(ctx context.Context, targets map[ids.WorkerID]ProbeTargets, interval time.Duration, onEvict func(ids.WorkerID)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for w, t := range targets {
				m.ProbeOnce(ctx, w, t)
			}
			if w, ok := m.NominateForEviction(); ok {
				onEvict(w)
			}
		}
	}
}
