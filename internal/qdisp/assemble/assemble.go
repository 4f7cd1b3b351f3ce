// Package assemble implements C9: turning a set of per-chunk sub-query
// descriptors into one uber-job payload per worker, per spec.md §4.8.
// Grounded on original_source/src/qdisp/UberJob.cc and
// src/protojson/UberJobMsg.cc for the deduplicated template/table-table
// shape; kept free of any internal/qdisp import so the executive can
// import this package without a cycle.
package assemble

import (
	"sort"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/qserv/qserv-go/internal/qmeta"
)

// TableRef names one scan table a sub-query reads, with its per-contributor
// scan rating.
type TableRef struct {
	DB         string
	Table      string
	ScanRating int
}

// SubQuery is one chunk-level fragment of a user query, the input unit C9
// partitions across workers.
type SubQuery struct {
	JobID       ids.JobID
	Chunk       ids.ChunkID
	SubChunkIDs []ids.SubChunkID
	Template    string
	Tables      []TableRef
	Attempt     int
}

// UberJob is one partition's worth of sub-queries, already bound to a
// worker and serialized to the wire payload.
type UberJob struct {
	ID     ids.UberJobID
	Worker ids.WorkerID
	JobIDs []ids.JobID
	Msg    *proto.UberJobMsg
}

// NextID mints successive ids.UberJobID values; the executive supplies its
// own (typically backed by an atomic counter) so uber-job ids stay unique
// across the czar's lifetime.
type NextID func() ids.UberJobID

// Assemble groups subqueries by the worker C8's dispatch round selects for
// each one, then builds one deduplicated uber-job per worker partition.
// Subqueries whose chunk has no available worker are reported in the
// returned unassignable slice rather than failing the whole call, so the
// caller can return just those jobs to PENDING (spec.md §4.9 recovery).
func Assemble(q ids.QueryID, czarID string, czarEpoch ids.Epoch, subqueries []SubQuery, round *qmeta.DispatchRound, nextID NextID, interactive bool, maxResultBytes int64) (jobs []*UberJob, unassignable []ids.JobID, err error) {
	byWorker := make(map[ids.WorkerID][]SubQuery)
	var order []ids.WorkerID
	for _, sq := range subqueries {
		worker, werr := round.SelectWorker(sq.Chunk)
		if werr != nil {
			unassignable = append(unassignable, sq.JobID)
			continue
		}
		if _, ok := byWorker[worker]; !ok {
			order = append(order, worker)
		}
		byWorker[worker] = append(byWorker[worker], sq)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	for _, worker := range order {
		uj := buildUberJob(q, czarID, czarEpoch, worker, byWorker[worker], nextID(), interactive, maxResultBytes)
		jobs = append(jobs, uj)
	}
	return jobs, unassignable, nil
}

func buildUberJob(q ids.QueryID, czarID string, czarEpoch ids.Epoch, worker ids.WorkerID, subqueries []SubQuery, uberJobID ids.UberJobID, interactive bool, maxResultBytes int64) *UberJob {
	templateIdx := make(map[string]int)
	var templates []proto.TemplateEntry
	type tableKey struct{ db, table string }
	tableIdx := make(map[tableKey]int)
	var tables []proto.TableEntry
	var jobSpecs []proto.JobSpec
	var jobIDs []ids.JobID

	for _, sq := range subqueries {
		ti, ok := templateIdx[sq.Template]
		if !ok {
			ti = len(templates)
			templateIdx[sq.Template] = ti
			templates = append(templates, proto.TemplateEntry{Template: sq.Template})
		}

		idxs := make([]int, 0, len(sq.Tables))
		for _, tr := range sq.Tables {
			k := tableKey{tr.DB, tr.Table}
			idx, ok := tableIdx[k]
			if !ok {
				idx = len(tables)
				tableIdx[k] = idx
				tables = append(tables, proto.TableEntry{DB: tr.DB, Table: tr.Table, ScanRating: tr.ScanRating})
			} else if tr.ScanRating > tables[idx].ScanRating {
				// record per-entry scan rating = max of all contributors (spec.md §4.8).
				tables[idx].ScanRating = tr.ScanRating
			}
			idxs = append(idxs, idx)
		}

		jobSpecs = append(jobSpecs, proto.JobSpec{
			JobID:       sq.JobID,
			Chunk:       sq.Chunk,
			SubChunkIDs: sq.SubChunkIDs,
			TemplateIdx: ti,
			TableIdx:    idxs,
			Attempt:     sq.Attempt,
		})
		jobIDs = append(jobIDs, sq.JobID)
	}

	return &UberJob{
		ID:     uberJobID,
		Worker: worker,
		JobIDs: jobIDs,
		Msg: &proto.UberJobMsg{
			QueryID:        q,
			UberJobID:      uberJobID,
			CzarID:         czarID,
			CzarEpoch:      czarEpoch,
			WorkerID:       worker,
			Interactive:    interactive,
			MaxResultBytes: maxResultBytes,
			Templates:      templates,
			Tables:         tables,
			Jobs:           jobSpecs,
		},
	}
}
