package qmeta

import (
	"fmt"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/qerr"
)

// DispatchRound tracks per-worker outstanding load for the lifetime of a
// single dispatch round (one pass assigning every chunk of a query to a
// worker). A fresh round should be started per spec.md §4.7 ("per dispatch
// round"): load does not persist across rounds, but the chunk map's
// round-robin rotation does.
type DispatchRound struct {
	cm   *ChunkMap
	load map[ids.WorkerID]int64
}

// NewRound starts a dispatch round against cm.
func (cm *ChunkMap) NewRound() *DispatchRound {
	return &DispatchRound{cm: cm, load: make(map[ids.WorkerID]int64)}
}

// SelectWorker picks the worker to serve chunk for this round: candidates
// are rotated round-robin (so repeated calls across rounds don't always
// favor the same worker first), then the least-loaded candidate so far
// this round wins ties going to the rotation order.
func (r *DispatchRound) SelectWorker(chunk ids.ChunkID) (ids.WorkerID, error) {
	cands := r.cm.Candidates(chunk)
	if len(cands) == 0 {
		return "", fmt.Errorf("qmeta: chunk %d: %w", chunk, qerr.ErrChunkUnavailable)
	}
	rotated := r.cm.rotate(chunk, cands)
	best := rotated[0]
	for _, c := range rotated[1:] {
		if r.load[c.Worker] < r.load[best.Worker] {
			best = c
		}
	}
	r.load[best.Worker] += best.Size
	return best.Worker, nil
}

// Load returns the outstanding load assigned to w so far this round.
func (r *DispatchRound) Load(w ids.WorkerID) int64 {
	return r.load[w]
}
