package health

import (
	"testing"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/stretchr/testify/require"
)

func TestRecordResultsStepAndResetCounters(t *testing.T) {
	m := NewMonitor(5, 20)
	m.RecordQueryResult("worker-a", false)
	m.RecordQueryResult("worker-a", false)
	require.Equal(t, 10, m.counterFor("worker-a").queryNoResponseSec)

	m.RecordQueryResult("worker-a", true)
	require.Equal(t, 0, m.counterFor("worker-a").queryNoResponseSec)
}

func TestNominateForEvictionRequiresBothServicesSilent(t *testing.T) {
	m := NewMonitor(10, 15)
	m.RecordQueryResult("worker-a", false)
	m.RecordQueryResult("worker-a", false)
	w, ok := m.NominateForEviction()
	require.False(t, ok)
	require.Empty(t, w)

	m.RecordReplicationResult("worker-a", false)
	m.RecordReplicationResult("worker-a", false)
	w, ok = m.NominateForEviction()
	require.True(t, ok)
	require.Equal(t, ids.WorkerID("worker-a"), w)
}

func TestNominateForEvictionRefusesWhenMultipleWorkersSilent(t *testing.T) {
	m := NewMonitor(10, 15)
	for _, w := range []ids.WorkerID{"worker-a", "worker-b"} {
		m.RecordQueryResult(w, false)
		m.RecordQueryResult(w, false)
		m.RecordReplicationResult(w, false)
		m.RecordReplicationResult(w, false)
	}

	_, ok := m.NominateForEviction()
	require.False(t, ok)
}
