package qmeta

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/qerr"
)

// Candidate is one worker able to serve a chunk, with the replica's size
// in bytes (used to bias dispatch-round load balancing).
type Candidate struct {
	Worker ids.WorkerID
	Size   int64
}

// Document is the JSON shape the replication control plane publishes:
// workerId -> databaseName -> tableName -> [[chunkId, size], ...].
type Document map[string]map[string]map[string][][2]int64

// ChunkMap is the czar's in-memory view of chunk placement, rebuilt whenever
// the replication control plane publishes a new Document.
type ChunkMap struct {
	mu        sync.RWMutex
	candidate map[ids.ChunkID][]Candidate
	byWorker  map[ids.WorkerID][]ids.ChunkID
	rr        map[ids.ChunkID]int
}

// LoadDocument reads the replication control plane's chunk-placement
// document from a JSON file at path (spec.md §4.7's workerId -> db ->
// table -> [[chunkId, size]] shape).
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("qmeta: read chunk map %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("qmeta: parse chunk map %s: %w", path, err)
	}
	return doc, nil
}

// Build derives chunkId->candidates and workerId->chunks from doc. A chunk
// referenced by more than one worker in doc accumulates one Candidate per
// worker.
func Build(doc Document) *ChunkMap {
	cm := &ChunkMap{
		candidate: make(map[ids.ChunkID][]Candidate),
		byWorker:  make(map[ids.WorkerID][]ids.ChunkID),
		rr:        make(map[ids.ChunkID]int),
	}
	for workerID, dbs := range doc {
		w := ids.WorkerID(workerID)
		seen := make(map[ids.ChunkID]bool)
		for _, tables := range dbs {
			for _, entries := range tables {
				for _, e := range entries {
					chunk, size := ids.ChunkID(e[0]), e[1]
					cm.candidate[chunk] = append(cm.candidate[chunk], Candidate{Worker: w, Size: size})
					if !seen[chunk] {
						cm.byWorker[w] = append(cm.byWorker[w], chunk)
						seen[chunk] = true
					}
				}
			}
		}
	}
	for chunk := range cm.candidate {
		sort.Slice(cm.candidate[chunk], func(i, j int) bool {
			return cm.candidate[chunk][i].Worker < cm.candidate[chunk][j].Worker
		})
	}
	return cm
}

// Candidates returns the known candidate workers for chunk, sorted by
// worker id for deterministic iteration order.
func (cm *ChunkMap) Candidates(chunk ids.ChunkID) []Candidate {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]Candidate, len(cm.candidate[chunk]))
	copy(out, cm.candidate[chunk])
	return out
}

// Chunks returns every chunk id worker w is a candidate for.
func (cm *ChunkMap) Chunks(w ids.WorkerID) []ids.ChunkID {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]ids.ChunkID, len(cm.byWorker[w]))
	copy(out, cm.byWorker[w])
	return out
}

// Verify checks that every chunk has at least one candidate worker and
// that every worker referenced by the map is present in roster.
func (cm *ChunkMap) Verify(roster map[ids.WorkerID]bool) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for chunk, cands := range cm.candidate {
		if len(cands) == 0 {
			return fmt.Errorf("qmeta: chunk %d: %w", chunk, qerr.ErrChunkUnavailable)
		}
		for _, c := range cands {
			if !roster[c.Worker] {
				return fmt.Errorf("qmeta: chunk %d references unknown worker %q", chunk, c.Worker)
			}
		}
	}
	return nil
}

// rotate returns cands starting from the next round-robin offset for
// chunk, advancing that offset so the next call (the next dispatch round)
// starts one candidate further along.
func (cm *ChunkMap) rotate(chunk ids.ChunkID, cands []Candidate) []Candidate {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	idx := cm.rr[chunk] % len(cands)
	cm.rr[chunk] = idx + 1
	out := make([]Candidate, 0, len(cands))
	out = append(out, cands[idx:]...)
	out = append(out, cands[:idx]...)
	return out
}
