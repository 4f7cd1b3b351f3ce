// Package ids defines the identifier types shared by the czar and the
// worker: query id, job id, uber-job id, czar id and restart epoch.
package ids

import "fmt"

// QueryID is globally unique per user query and monotonically increasing.
type QueryID int64

// JobID is unique within a QueryID: one per chunk sub-query.
type JobID int64

// UberJobID is unique within a QueryID: one per worker-bound batch.
type UberJobID int64

// ChunkID identifies a spatial partition of a table.
type ChunkID int64

// SubChunkID refines a ChunkID. -1 means "no sub-chunk".
type SubChunkID int64

// NoSubChunk is the sentinel meaning "task does not descend to sub-chunks".
const NoSubChunk SubChunkID = -1

// DummyChunkID is the sentinel chunk required to be present on every worker.
const DummyChunkID ChunkID = 1234567890

// WorkerID names a worker host within the cluster.
type WorkerID string

// CzarID is a stable per-czar identifier (name + numeric id).
type CzarID struct {
	Name string
	Num  int64
}

func (c CzarID) String() string {
	return fmt.Sprintf("%s-%d", c.Name, c.Num)
}

// Epoch is a restart epoch: a node's startup timestamp in unix nanoseconds.
// Two observations of the same node/czar id with different Epoch values mean
// the node restarted between them.
type Epoch int64

// QJ formats the (query, job) pair the way qserv-go logs it everywhere:
// queryId and jobId always printed together.
func QJ(q QueryID, j JobID) string {
	return fmt.Sprintf("Q=%d J=%d", q, j)
}

// QU formats the (query, uber-job) pair.
func QU(q QueryID, u UberJobID) string {
	return fmt.Sprintf("Q=%d U=%d", q, u)
}
