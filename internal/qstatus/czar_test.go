package qstatus

import (
	"testing"
	"time"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/stretchr/testify/require"
)

func TestBuildMessageReflectsLiveAndDone(t *testing.T) {
	c := NewCzarSide("czar-a", ids.Epoch(1), time.Hour, 0)
	c.MarkLive(1)
	c.MarkDone(2, false)
	c.MarkUberJobDead(3, 30)

	msg := c.BuildMessage()
	require.Equal(t, "czar-a", msg.CzarID)
	require.Contains(t, msg.LiveQueryIDs, ids.QueryID(1))
	require.Contains(t, msg.QIDDoneDeleteFiles, ids.QueryID(2))
	require.Len(t, msg.QIDDeadUberJobs, 1)
	require.Equal(t, ids.QueryID(3), msg.QIDDeadUberJobs[0].QID)
	require.Contains(t, msg.QIDDeadUberJobs[0].UJIDs, ids.UberJobID(30))
	require.False(t, msg.CzarRestart)
}

func TestBuildMessageAnnouncesRestartOnce(t *testing.T) {
	c := NewCzarSide("czar-a", ids.Epoch(2), time.Hour, ids.QueryID(500))

	msg := c.BuildMessage()
	require.True(t, msg.CzarRestart)
	require.Equal(t, ids.QueryID(500), msg.CzarRestartCancelQID)

	msg2 := c.BuildMessage()
	require.False(t, msg2.CzarRestart)
}

func TestApplyReplyRetiresAckedDirectives(t *testing.T) {
	c := NewCzarSide("czar-a", ids.Epoch(1), time.Hour, 0)
	c.MarkDone(7, true)
	c.MarkUberJobDead(8, 80)

	c.ApplyReply(&proto.WorkerStatusReply{
		AckedDoneKeepFiles: []ids.QueryID{7},
		AckedDeadUberJobs:  []proto.DeadUberJobGroup{{QID: 8, UJIDs: []ids.UberJobID{80}}},
	})

	msg := c.BuildMessage()
	require.NotContains(t, msg.QIDDoneKeepFiles, ids.QueryID(7))
	require.Empty(t, msg.QIDDeadUberJobs)
}

func TestApplyReplyReconcilesForgottenQuery(t *testing.T) {
	c := NewCzarSide("czar-a", ids.Epoch(1), time.Hour, 0)
	// czar never marked query 99 live or done: it has simply forgotten it.
	c.ApplyReply(&proto.WorkerStatusReply{TrackedQIDs: []ids.QueryID{99}})

	msg := c.BuildMessage()
	require.Contains(t, msg.QIDDoneDeleteFiles, ids.QueryID(99))
}

func TestApplyReplyReturnsFlaggedForCancellation(t *testing.T) {
	c := NewCzarSide("czar-a", ids.Epoch(1), time.Hour, 0)

	flagged := c.ApplyReply(&proto.WorkerStatusReply{FlaggedForCancellation: []ids.QueryID{42}})
	require.Equal(t, []ids.QueryID{42}, flagged)

	flagged2 := c.ApplyReply(&proto.WorkerStatusReply{})
	require.Empty(t, flagged2)
}

func TestBuildMessageExpiresStaleDirectives(t *testing.T) {
	c := NewCzarSide("czar-a", ids.Epoch(1), time.Millisecond, 0)
	c.MarkDone(5, false)
	time.Sleep(5 * time.Millisecond)

	msg := c.BuildMessage()
	require.NotContains(t, msg.QIDDoneDeleteFiles, ids.QueryID(5))
}
