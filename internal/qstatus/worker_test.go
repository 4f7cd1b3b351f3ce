package qstatus

import (
	"testing"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/stretchr/testify/require"
)

type fakeActions struct {
	cancelled []ids.QueryID
	deleted   []ids.QueryID
	evicted   []ids.UberJobID
}

func (f *fakeActions) CancelQuery(q ids.QueryID) { f.cancelled = append(f.cancelled, q) }
func (f *fakeActions) DeleteResultFiles(q ids.QueryID) error {
	f.deleted = append(f.deleted, q)
	return nil
}
func (f *fakeActions) EvictUberJob(q ids.QueryID, u ids.UberJobID) error {
	f.evicted = append(f.evicted, u)
	return nil
}

func TestHandleMessageFirstReplyMarksWorkerRestarted(t *testing.T) {
	actions := &fakeActions{}
	w := NewWorkerSide("worker-1", ids.Epoch(1), false, "", 0, actions)

	reply := w.HandleMessage(&proto.WorkerStatusMsg{CzarID: "czar-a", CzarEpoch: 1})
	require.True(t, reply.WorkerRestarted)

	reply2 := w.HandleMessage(&proto.WorkerStatusMsg{CzarID: "czar-a", CzarEpoch: 1})
	require.False(t, reply2.WorkerRestarted)
}

func TestHandleMessageDetectsCzarRestartAndCancelsOldQueries(t *testing.T) {
	actions := &fakeActions{}
	w := NewWorkerSide("worker-1", ids.Epoch(1), true, "czar-a", ids.Epoch(1), actions)
	w.Track(100)
	w.Track(600)

	msg := &proto.WorkerStatusMsg{
		CzarID:               "czar-a",
		CzarEpoch:            2,
		CzarRestart:          true,
		CzarRestartCancelQID: 500,
	}
	reply := w.HandleMessage(msg)

	require.Contains(t, actions.cancelled, ids.QueryID(100))
	require.Contains(t, actions.deleted, ids.QueryID(100))
	require.NotContains(t, actions.cancelled, ids.QueryID(600))
	require.NotContains(t, reply.TrackedQIDs, ids.QueryID(100))
	require.Contains(t, reply.TrackedQIDs, ids.QueryID(600))
}

func TestHandleMessageAppliesDoneAndDeadDirectives(t *testing.T) {
	actions := &fakeActions{}
	w := NewWorkerSide("worker-1", ids.Epoch(1), false, "", 0, actions)
	w.Track(10)
	w.Track(20)

	msg := &proto.WorkerStatusMsg{
		CzarID:             "czar-a",
		CzarEpoch:          1,
		QIDDoneKeepFiles:   []ids.QueryID{10},
		QIDDoneDeleteFiles: []ids.QueryID{20},
		QIDDeadUberJobs:    []proto.DeadUberJobGroup{{QID: 20, UJIDs: []ids.UberJobID{200}}},
	}
	reply := w.HandleMessage(msg)

	require.Contains(t, reply.AckedDoneKeepFiles, ids.QueryID(10))
	require.Contains(t, reply.AckedDoneDeleteFiles, ids.QueryID(20))
	require.Len(t, reply.AckedDeadUberJobs, 1)
	require.Contains(t, actions.deleted, ids.QueryID(20))
	require.Empty(t, reply.TrackedQIDs)
}

func TestFlagForCancellationSurfacesOnceThenClears(t *testing.T) {
	actions := &fakeActions{}
	w := NewWorkerSide("worker-1", ids.Epoch(1), false, "", 0, actions)
	w.FlagForCancellation(42)

	reply := w.HandleMessage(&proto.WorkerStatusMsg{CzarID: "czar-a", CzarEpoch: 1})
	require.Contains(t, reply.FlaggedForCancellation, ids.QueryID(42))

	reply2 := w.HandleMessage(&proto.WorkerStatusMsg{CzarID: "czar-a", CzarEpoch: 1})
	require.Empty(t, reply2.FlaggedForCancellation)
}
