package proto

import (
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// ResultMessage is a result-file frame header: everything a reader needs
// to verify and interpret the row-batch content that follows it on the
// wire. It embeds a real protobuf well-known-type timestamp
// (timestamppb.Timestamp, as the teacher's manager↔worker heartbeats do)
// rather than a bare int64, so every frame header carries its creation
// time in the same wire shape the rest of the stack uses for timestamps.
// The header itself is JSON-encoded (not protobuf-generated) because C12
// and C9's dispatch payloads are already JSON per spec.md §6, and a second
// serialization format for just this one struct would buy nothing.
type ResultMessage struct {
	QueryID       int64                  `json:"queryId"`
	UberJobID     int64                  `json:"uberJobId"`
	JobId         int64                  `json:"jobId"`
	Chunk         int64                  `json:"chunk"`
	Attempt       int                    `json:"attempt"`
	FragmentIndex int                    `json:"fragmentIndex"`
	RowCount      int64                  `json:"rowCount"`
	ContentLength int64                  `json:"contentLength"`
	CreatedAt     *timestamppb.Timestamp `json:"createdAt"`
	LastFragment  bool                   `json:"lastFragment"`
	// Columns carries the result-table schema; set on the first fragment
	// (FragmentIndex 0) of every job's result file and empty on later
	// fragments. The merger reads it only from the first frame it merges
	// for a query.
	Columns []string `json:"columns,omitempty"`
}

// NewResultMessage stamps a ResultMessage with the given creation time.
func NewResultMessage(queryID, uberJobID, jobID, chunk int64, attempt, fragmentIndex int, createdAt time.Time) *ResultMessage {
	return &ResultMessage{
		QueryID:       queryID,
		UberJobID:     uberJobID,
		JobId:         jobID,
		Chunk:         chunk,
		Attempt:       attempt,
		FragmentIndex: fragmentIndex,
		CreatedAt:     timestamppb.New(createdAt),
	}
}
