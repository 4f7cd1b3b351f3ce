package qmeta

import (
	"errors"
	"testing"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/qerr"
	"github.com/stretchr/testify/require"
)

func sampleDoc() Document {
	return Document{
		"worker-a": {
			"db1": {
				"obj_1": {{1, 100}, {2, 50}},
			},
		},
		"worker-b": {
			"db1": {
				"obj_1": {{1, 90}, {3, 10}},
			},
		},
	}
}

func TestBuildDerivesCandidatesAndInverse(t *testing.T) {
	cm := Build(sampleDoc())

	cands := cm.Candidates(1)
	require.Len(t, cands, 2)
	workers := map[ids.WorkerID]bool{}
	for _, c := range cands {
		workers[c.Worker] = true
	}
	require.True(t, workers["worker-a"])
	require.True(t, workers["worker-b"])

	require.ElementsMatch(t, []ids.ChunkID{1, 2}, cm.Chunks("worker-a"))
	require.ElementsMatch(t, []ids.ChunkID{1, 3}, cm.Chunks("worker-b"))
}

func TestVerifyDetectsUnknownWorker(t *testing.T) {
	cm := Build(sampleDoc())
	err := cm.Verify(map[ids.WorkerID]bool{"worker-a": true})
	require.Error(t, err)
}

func TestVerifyDetectsChunkUnavailable(t *testing.T) {
	cm := Build(Document{})
	cm.candidate[ids.ChunkID(9)] = nil
	err := cm.Verify(map[ids.WorkerID]bool{})
	require.True(t, errors.Is(err, qerr.ErrChunkUnavailable))
}

func TestVerifyPassesWithFullRoster(t *testing.T) {
	cm := Build(sampleDoc())
	roster := map[ids.WorkerID]bool{"worker-a": true, "worker-b": true}
	require.NoError(t, cm.Verify(roster))
}

func TestSelectWorkerFailsOnUnknownChunk(t *testing.T) {
	cm := Build(sampleDoc())
	round := cm.NewRound()
	_, err := round.SelectWorker(ids.ChunkID(404))
	require.True(t, errors.Is(err, qerr.ErrChunkUnavailable))
}

func TestSelectWorkerBiasesTowardLeastLoaded(t *testing.T) {
	doc := Document{
		"worker-a": {"db1": {"t": {{1, 1000}, {2, 1000}}}},
		"worker-b": {"db1": {"t": {{1, 1000}, {2, 1000}}}},
	}
	cm := Build(doc)
	round := cm.NewRound()

	w1, err := round.SelectWorker(1)
	require.NoError(t, err)
	w2, err := round.SelectWorker(2)
	require.NoError(t, err)
	require.NotEqual(t, w1, w2, "second chunk should go to the worker with less outstanding load")
}

func TestSelectWorkerRotatesAcrossRounds(t *testing.T) {
	doc := Document{
		"worker-a": {"db1": {"t": {{1, 100}}}},
		"worker-b": {"db1": {"t": {{1, 100}}}},
	}
	cm := Build(doc)

	first, err := cm.NewRound().SelectWorker(1)
	require.NoError(t, err)
	second, err := cm.NewRound().SelectWorker(1)
	require.NoError(t, err)
	require.NotEqual(t, first, second, "equal-load candidates should rotate across independent rounds")
}
