package qdisp

import (
	"testing"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/qdisp/assemble"
	"github.com/stretchr/testify/require"
)

func sampleSubqueries() []assemble.SubQuery {
	return []assemble.SubQuery{
		{JobID: 1, Chunk: 1, Template: "SELECT 1"},
		{JobID: 2, Chunk: 2, Template: "SELECT 1"},
	}
}

func TestNewUserQueryStartsAllJobsPending(t *testing.T) {
	q := NewUserQuery(1, "czar-a", 1, 0, 3, sampleSubqueries())
	pending := q.PendingJobs()
	require.Len(t, pending, 2)
}

func TestAssignUberJobTransitionsJobs(t *testing.T) {
	q := NewUserQuery(1, "czar-a", 1, 0, 3, sampleSubqueries())
	uj := &UberJob{ID: 10, Worker: "worker-a", JobIDs: []ids.JobID{1, 2}}
	q.AssignUberJob(uj)

	require.Empty(t, q.PendingJobs())
	require.Equal(t, UberJobSent, uj.State)
}

func TestMarkUberJobDoneAccumulatesRowsBelowLimit(t *testing.T) {
	q := NewUserQuery(1, "czar-a", 1, 5, 3, sampleSubqueries())
	uj := &UberJob{ID: 10, Worker: "worker-a", JobIDs: []ids.JobID{1, 2}}
	q.AssignUberJob(uj)

	require.False(t, q.MarkUberJobDone(10, 3))
	require.EqualValues(t, 3, q.ResultRows())
}

func TestMarkUberJobDoneSatisfiesLimitOnce(t *testing.T) {
	q := NewUserQuery(1, "czar-a", 1, 3, 3, sampleSubqueries())
	uj := &UberJob{ID: 10, Worker: "worker-a", JobIDs: []ids.JobID{1, 2}}
	q.AssignUberJob(uj)

	complete := q.MarkUberJobDone(10, 5)
	require.True(t, complete)
	require.EqualValues(t, 5, q.ResultRows())
}

func TestUnassignJobsReturnsToPendingUntilMaxAttempts(t *testing.T) {
	q := NewUserQuery(1, "czar-a", 1, 0, 2, sampleSubqueries())
	uj := &UberJob{ID: 10, Worker: "worker-a", JobIDs: []ids.JobID{1, 2}}
	q.AssignUberJob(uj)

	failed := q.UnassignJobs([]ids.JobID{1, 2})
	require.False(t, failed)
	require.Len(t, q.PendingJobs(), 2)
	require.True(t, q.ConsumeFlagFailedUberJob())
	require.False(t, q.ConsumeFlagFailedUberJob())
}

func TestUnassignJobsFailsQueryAfterMaxAttempts(t *testing.T) {
	q := NewUserQuery(1, "czar-a", 1, 0, 1, sampleSubqueries())
	uj := &UberJob{ID: 10, Worker: "worker-a", JobIDs: []ids.JobID{1, 2}}
	q.AssignUberJob(uj)

	failed := q.UnassignJobs([]ids.JobID{1, 2})
	require.True(t, failed)
	require.True(t, q.Failed())
}

func TestSquashMarksEverythingTerminal(t *testing.T) {
	q := NewUserQuery(1, "czar-a", 1, 0, 3, sampleSubqueries())
	uj := &UberJob{ID: 10, Worker: "worker-a", JobIDs: []ids.JobID{1, 2}}
	q.AssignUberJob(uj)

	q.Squash()
	require.True(t, q.Cancelled())
	require.True(t, q.IsDone())
}
