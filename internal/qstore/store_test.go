package qstore

import (
	"testing"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/stretchr/testify/require"
)

func TestWorkerEpochRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, found, err := s.WorkerEpoch("worker-1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.RecordWorkerEpoch("worker-1", ids.Epoch(100)))
	epoch, found, err := s.WorkerEpoch("worker-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ids.Epoch(100), epoch)

	require.NoError(t, s.RecordWorkerEpoch("worker-1", ids.Epoch(200)))
	epoch, found, err = s.WorkerEpoch("worker-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ids.Epoch(200), epoch)
}

func TestCzarEpochRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, _, found, err := s.LastCzarEpoch()
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.RecordCzarEpoch("czar-a", ids.Epoch(42)))
	czarID, epoch, found, err := s.LastCzarEpoch()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "czar-a", czarID)
	require.Equal(t, ids.Epoch(42), epoch)
}

func TestGCWatermarkRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	q, err := s.GCWatermark()
	require.NoError(t, err)
	require.Equal(t, ids.QueryID(0), q)

	require.NoError(t, s.RecordGCWatermark(ids.QueryID(77)))
	q, err = s.GCWatermark()
	require.NoError(t, err)
	require.Equal(t, ids.QueryID(77), q)
}

func TestOpenReopenPersists(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s1.RecordWorkerEpoch("worker-9", ids.Epoch(5)))
	require.NoError(t, s1.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()
	epoch, found, err := s2.WorkerEpoch("worker-9")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ids.Epoch(5), epoch)
}
