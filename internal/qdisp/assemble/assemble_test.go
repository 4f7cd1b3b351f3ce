package assemble

import (
	"testing"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/qmeta"
	"github.com/stretchr/testify/require"
)

func sampleMap() *qmeta.ChunkMap {
	doc := qmeta.Document{
		"worker-a": {"LSST": {"Object": [][2]int64{{1, 100}, {2, 100}}}},
		"worker-b": {"LSST": {"Object": [][2]int64{{3, 100}}}},
	}
	return qmeta.Build(doc)
}

func TestAssemblePartitionsByWorkerAndDedups(t *testing.T) {
	cm := sampleMap()
	round := cm.NewRound()
	nextID := idGen()

	subqueries := []SubQuery{
		{JobID: 1, Chunk: 1, Template: "SELECT * FROM %%CHUNK%%", Tables: []TableRef{{DB: "LSST", Table: "Object", ScanRating: 1}}},
		{JobID: 2, Chunk: 1, Template: "SELECT * FROM %%CHUNK%%", Tables: []TableRef{{DB: "LSST", Table: "Object", ScanRating: 3}}},
		{JobID: 3, Chunk: 2, Template: "SELECT COUNT(*) FROM %%CHUNK%%", Tables: []TableRef{{DB: "LSST", Table: "Object", ScanRating: 1}}},
		{JobID: 4, Chunk: 3, Template: "SELECT * FROM %%CHUNK%%", Tables: []TableRef{{DB: "LSST", Table: "Object", ScanRating: 1}}},
	}

	ujs, unassignable, err := Assemble(42, "czar-a", 7, subqueries, round, nextID, false, 0)
	require.NoError(t, err)
	require.Empty(t, unassignable)
	require.Len(t, ujs, 2)

	var wa, wb *UberJob
	for _, uj := range ujs {
		switch uj.Worker {
		case "worker-a":
			wa = uj
		case "worker-b":
			wb = uj
		}
	}
	require.NotNil(t, wa)
	require.NotNil(t, wb)

	// worker-a serves chunks 1 and 2: two distinct templates, one deduped table
	// entry whose scan rating is the max across contributing jobs (1 and 2 -> 3).
	require.Len(t, wa.Msg.Templates, 2)
	require.Len(t, wa.Msg.Tables, 1)
	require.Equal(t, 3, wa.Msg.Tables[0].ScanRating)
	require.Len(t, wa.Msg.Jobs, 3)

	require.Len(t, wb.Msg.Jobs, 1)
	require.Equal(t, ids.QueryID(42), wb.Msg.QueryID)
	require.Equal(t, "czar-a", wb.Msg.CzarID)
}

func TestAssembleReportsUnassignableChunk(t *testing.T) {
	cm := sampleMap()
	round := cm.NewRound()
	nextID := idGen()

	subqueries := []SubQuery{
		{JobID: 1, Chunk: 99, Template: "SELECT 1", Tables: nil},
	}

	ujs, unassignable, err := Assemble(1, "czar-a", 1, subqueries, round, nextID, false, 0)
	require.NoError(t, err)
	require.Empty(t, ujs)
	require.Equal(t, []ids.JobID{1}, unassignable)
}

func idGen() NextID {
	var n int64
	return func() ids.UberJobID {
		n++
		return ids.UberJobID(n)
	}
}
