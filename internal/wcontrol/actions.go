package wcontrol

import "github.com/qserv/qserv-go/internal/ids"

// serverActions adapts Server to qstatus.Actions: cancelling a query walks
// every task the server ever dispatched for it, and file deletion/eviction
// delegates to the same gc.Collector that tracks those directories.
type serverActions struct {
	s *Server
}

func (a *serverActions) CancelQuery(q ids.QueryID) {
	a.s.mu.Lock()
	uq, ok := a.s.queries[q]
	delete(a.s.queries, q)
	a.s.mu.Unlock()
	if !ok {
		return
	}
	for _, t := range uq.tasks {
		t.Cancel()
	}
}

func (a *serverActions) DeleteResultFiles(q ids.QueryID) error {
	return a.s.collector.CollectQuery(q)
}

func (a *serverActions) EvictUberJob(q ids.QueryID, u ids.UberJobID) error {
	return a.s.collector.EvictUberJob(q, u)
}
