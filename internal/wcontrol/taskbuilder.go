package wcontrol

import (
	"fmt"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/qserv/qserv-go/internal/wsched"
)

// BuildTasks turns one uber-job payload into the set of scheduler tasks it
// describes, per spec.md §4.12: each job resolves its template and table
// indices, then fans out into one task per sub-chunk id (or a single
// subchunk-less task when the job carries none).
//
// Simplification: JobSpec carries one TemplateIdx per job rather than a
// list, so "for each sub-chunk id, for each template" (spec.md §4.12 step
// 3) collapses to one task per sub-chunk — matching the common case of one
// scan query per dispatched job; a job needing several co-scheduled
// statements is modeled upstream as several JobSpecs sharing the same
// chunk/sub-chunk list instead.
func BuildTasks(msg *proto.UberJobMsg) ([]*wsched.Task, error) {
	var tasks []*wsched.Task
	for _, job := range msg.Jobs {
		if job.TemplateIdx < 0 || job.TemplateIdx >= len(msg.Templates) {
			return nil, fmt.Errorf("wcontrol: job %d: template index %d out of range", job.JobID, job.TemplateIdx)
		}
		template := msg.Templates[job.TemplateIdx].Template

		tables := make([]wsched.TableRef, 0, len(job.TableIdx))
		scanTables := make([]wsched.ScanTable, 0, len(job.TableIdx))
		for _, idx := range job.TableIdx {
			if idx < 0 || idx >= len(msg.Tables) {
				return nil, fmt.Errorf("wcontrol: job %d: table index %d out of range", job.JobID, idx)
			}
			te := msg.Tables[idx]
			tables = append(tables, wsched.TableRef{DB: te.DB, Table: te.Table})
			scanTables = append(scanTables, wsched.ScanTable{DB: te.DB, Table: te.Table, ScanRating: te.ScanRating})
		}

		subchunks := job.SubChunkIDs
		if len(subchunks) == 0 {
			subchunks = []ids.SubChunkID{ids.NoSubChunk}
		}
		for _, s := range subchunks {
			t := wsched.NewTask(msg.QueryID, job.JobID, msg.UberJobID, job.Chunk, s)
			t.Attempt = job.Attempt
			t.FragmentIndex = job.FragmentIndex
			t.TemplateID = job.TemplateIdx
			t.Template = template
			t.SubChunkIDs = job.SubChunkIDs
			t.Tables = tables
			t.ScanTables = scanTables
			t.Interactive = msg.Interactive
			t.MaxResultBytes = msg.MaxResultBytes
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}
