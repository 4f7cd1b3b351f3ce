package qdisp

import (
	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/qdisp/assemble"
)

// JobState is a JobQuery's position in the CREATED -> ... -> terminal
// lifecycle spec.md §4.9 describes.
type JobState int

const (
	JobCreated JobState = iota
	JobPending
	JobAssigned
	JobResponseReady
	JobComplete
	JobRetry
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobCreated:
		return "CREATED"
	case JobPending:
		return "PENDING"
	case JobAssigned:
		return "ASSIGNED"
	case JobResponseReady:
		return "RESPONSE_READY"
	case JobComplete:
		return "COMPLETE"
	case JobRetry:
		return "RETRY"
	case JobFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// JobQuery is one chunk-level sub-query within a user query's execution.
type JobQuery struct {
	ID          ids.JobID
	Chunk       ids.ChunkID
	SubChunkIDs []ids.SubChunkID
	Template    string
	Tables      []assemble.TableRef
	Attempt     int

	State   JobState
	UberJob ids.UberJobID // valid once State >= JobAssigned
}

func (j *JobQuery) subQuery() assemble.SubQuery {
	return assemble.SubQuery{
		JobID:       j.ID,
		Chunk:       j.Chunk,
		SubChunkIDs: j.SubChunkIDs,
		Template:    j.Template,
		Tables:      j.Tables,
		Attempt:     j.Attempt,
	}
}
