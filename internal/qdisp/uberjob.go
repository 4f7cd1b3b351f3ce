package qdisp

import "github.com/qserv/qserv-go/internal/ids"

// UberJobState is an UberJob's position in its ASSEMBLED -> ... -> terminal
// lifecycle (spec.md §4.9).
type UberJobState int

const (
	UberJobAssembled UberJobState = iota
	UberJobSent
	UberJobAck
	UberJobResponseDataReady
	UberJobDone
	UberJobFailed
)

func (s UberJobState) String() string {
	switch s {
	case UberJobAssembled:
		return "ASSEMBLED"
	case UberJobSent:
		return "SENT"
	case UberJobAck:
		return "ACK"
	case UberJobResponseDataReady:
		return "RESPONSE_DATA_READY"
	case UberJobDone:
		return "DONE"
	case UberJobFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// UberJob is one worker-bound batch of jobs dispatched together.
type UberJob struct {
	ID     ids.UberJobID
	Worker ids.WorkerID
	JobIDs []ids.JobID
	State  UberJobState
}
