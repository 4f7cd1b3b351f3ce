// Package proto defines the wire message types exchanged between czar and
// worker: the uber-job dispatch payload (C9/C10 -> C7), the worker-query
// status protocol message (C12), and the result-file frame format C6/C11
// read and write. Grounded on original_source/src/qdisp/UberJob.cc,
// src/protojson/UberJobMsg.cc, and src/http/WorkerQueryStatusData.cc for
// field names and shapes; encoded as plain Go structs with JSON tags
// (encoding/json is this module's JSON codec for control messages, and
// github.com/goccy/go-json is swapped in at the (de)serialization call
// sites in internal/wcontrol/internal/qdisp for the hot paths, per
// SPEC_FULL.md §3.2 — the wire shape defined here is unaffected by which
// encoder reads it, since goccy/go-json is struct-tag compatible).
package proto

import "github.com/qserv/qserv-go/internal/ids"

// TemplateEntry is one deduplicated query template referenced by index
// from JobSpec.TemplateIdx, avoiding repeating large SQL strings across
// jobs that share a template (spec.md §6 "UberJob payload").
type TemplateEntry struct {
	Template string `json:"template"`
}

// TableEntry is one deduplicated (db, table) scan-table reference.
type TableEntry struct {
	DB         string `json:"db"`
	Table      string `json:"table"`
	ScanRating int    `json:"scanRating"`
}

// JobSpec is one chunk/sub-chunk task within an uber-job, referencing its
// template and tables by index into the uber-job's shared tables.
type JobSpec struct {
	JobID         ids.JobID        `json:"jobId"`
	Chunk         ids.ChunkID      `json:"chunk"`
	SubChunkIDs   []ids.SubChunkID `json:"subChunkIds,omitempty"`
	TemplateIdx   int              `json:"templateIdx"`
	TableIdx      []int            `json:"tableIdx"`
	FragmentIndex int              `json:"fragmentIndex"`
	Attempt       int              `json:"attempt"`
}

// UberJobMsg is the payload POSTed to a worker's /queryjob endpoint.
type UberJobMsg struct {
	QueryID        ids.QueryID     `json:"queryId"`
	UberJobID      ids.UberJobID   `json:"uberJobId"`
	CzarID         string          `json:"czarId"`
	CzarEpoch      ids.Epoch       `json:"czarEpoch"`
	WorkerID       ids.WorkerID    `json:"workerId"`
	Interactive    bool            `json:"interactive"`
	MaxResultBytes int64           `json:"maxResultBytes"`
	Templates      []TemplateEntry `json:"templates"`
	Tables         []TableEntry    `json:"tables"`
	Jobs           []JobSpec       `json:"jobs"`
}

// UberJobAck is the synchronous response to a /queryjob POST.
type UberJobAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// QueryJobReady is the payload a worker POSTs to the czar's
// /queryjob-ready endpoint once an uber-job's result file is ready to
// stream (spec.md §6).
type QueryJobReady struct {
	WorkerID    ids.WorkerID  `json:"workerid"`
	Czar        string        `json:"czar"`
	CzarEpoch   ids.Epoch     `json:"czarid"`
	QueryID     ids.QueryID   `json:"queryid"`
	UberJobID   ids.UberJobID `json:"uberjobid"`
	FileURL     string        `json:"fileUrl"`
	RowCount    int64         `json:"rowCount"`
	FileSize    int64         `json:"fileSize"`
	HeaderCount int64         `json:"headerCount"`
}

// QueryJobError is the payload a worker POSTs to the czar's
// /queryjob-error endpoint when an uber-job fails worker-side (spec.md
// §6).
type QueryJobError struct {
	WorkerID  ids.WorkerID  `json:"workerid"`
	Czar      string        `json:"czar"`
	CzarEpoch ids.Epoch     `json:"czarid"`
	QueryID   ids.QueryID   `json:"queryid"`
	UberJobID ids.UberJobID `json:"uberjobid"`
	ErrorCode string        `json:"errorCode"`
	ErrorMsg  string        `json:"errorMsg"`
}

// JobResult describes one job's terminal outcome within an uber-job, as
// reported by /queryjob-status or the final collect.
type JobResult struct {
	JobID       ids.JobID `json:"jobId"`
	Success     bool      `json:"success"`
	ErrorClass  string    `json:"errorClass,omitempty"`
	ErrorMsg    string    `json:"errorMsg,omitempty"`
	Retryable   bool      `json:"retryable,omitempty"`
	ResultPath  string    `json:"resultPath,omitempty"`
	RowCount    int64     `json:"rowCount"`
	ByteCount   int64     `json:"byteCount"`
}

// UberJobStatus is the response body for /queryjob-status.
type UberJobStatus struct {
	UberJobID ids.UberJobID `json:"uberJobId"`
	Complete  bool          `json:"complete"`
	Results   []JobResult   `json:"results,omitempty"`
}
