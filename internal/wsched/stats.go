package wsched

import (
	"sync"

	"github.com/qserv/qserv-go/internal/ids"
)

// tableChunkStat is the "scheduler accounting per chunk per table" record
// spec.md §3 describes: a rolling average of task-completion minutes, plus
// completed/booted counts.
type tableChunkStat struct {
	avgMinutes float64
	completed  int
	booted     int
}

// completionStats tracks tableChunkStat records across every (table, chunk)
// pair a lane has seen a task finish for. Shared by every lane in a blend,
// since §4.5's denominator sums over all chunks of a table regardless of
// which lane happened to run them. Grounded on
// original_source/core/modules/wsched/ChunkDisk's per-table scan-time
// bookkeeping.
type completionStats struct {
	mu      sync.Mutex
	byTable map[string]map[ids.ChunkID]*tableChunkStat
}

func newCompletionStats() *completionStats {
	return &completionStats{byTable: make(map[string]map[ids.ChunkID]*tableChunkStat)}
}

func tableKey(t TableRef) string { return t.DB + "." + t.Table }

func (c *completionStats) entryLocked(table TableRef, chunk ids.ChunkID) *tableChunkStat {
	key := tableKey(table)
	chunks, ok := c.byTable[key]
	if !ok {
		chunks = make(map[ids.ChunkID]*tableChunkStat)
		c.byTable[key] = chunks
	}
	e, ok := chunks[chunk]
	if !ok {
		e = &tableChunkStat{}
		chunks[chunk] = e
	}
	return e
}

// RecordCompletion folds one task's run time into its table/chunk's rolling
// average completion minutes (spec.md §3), using the standard incremental
// mean update so no decay constant needs inventing.
func (c *completionStats) RecordCompletion(table TableRef, chunk ids.ChunkID, runMinutes float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(table, chunk)
	e.completed++
	e.avgMinutes += (runMinutes - e.avgMinutes) / float64(e.completed)
}

// RecordBoot increments a table/chunk's booted-task count.
func (c *completionStats) RecordBoot(table TableRef, chunk ids.ChunkID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(table, chunk).booted++
}

// Share computes percent = avgCompletion(table, chunk) / Σ avgCompletion(table, ·)
// — the chunk's expected fraction of a lane's total scan time for table —
// and reports whether the chunk has at least requiredTasksCompleted
// samples (spec.md §4.5). A table/chunk qserv-go has no completed samples
// for at all is reported invalid.
func (c *completionStats) Share(table TableRef, chunk ids.ChunkID, requiredTasksCompleted int) (percent float64, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chunks, ok := c.byTable[tableKey(table)]
	if !ok {
		return 0, false
	}
	target, ok := chunks[chunk]
	if !ok || target.completed < requiredTasksCompleted {
		return 0, false
	}
	var total float64
	for _, e := range chunks {
		total += e.avgMinutes
	}
	if total <= 0 {
		return 0, false
	}
	return target.avgMinutes / total, true
}
