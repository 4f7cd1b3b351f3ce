package wsched

import (
	"testing"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/memman"
	"github.com/stretchr/testify/require"
)

func newTestLane(name string, maxThreads int) *ScanScheduler {
	mm := memman.New(1000, nil)
	return NewScanScheduler(LaneConfig{Name: name, MaxThreads: maxThreads, MaxActiveChunks: 4}, mm, tablesFuncAllNoLock)
}

func TestScanSchedulerRespectsMaxThreads(t *testing.T) {
	s := newTestLane("fast", 1)
	a := NewTask(1, 1, 1, 10, ids.NoSubChunk)
	b := NewTask(1, 2, 1, 11, ids.NoSubChunk)
	s.QueueTask(a)
	s.QueueTask(b)

	got := s.GetCmd(false)
	require.Same(t, a, got)
	// second task can't dispatch: lane is at its thread budget.
	require.Nil(t, s.GetCmd(false))

	s.CommandFinish(got)
	got2 := s.GetCmd(false)
	require.Same(t, b, got2)
}

func TestScanSchedulerCommandFinishUnblocksWaiter(t *testing.T) {
	s := newTestLane("fast", 1)
	a := NewTask(1, 1, 1, 10, ids.NoSubChunk)
	s.QueueTask(a)
	got := s.GetCmd(false)
	require.NotNil(t, got)

	done := make(chan *Task, 1)
	b := NewTask(1, 2, 1, 11, ids.NoSubChunk)
	s.QueueTask(b)
	go func() { done <- s.GetCmd(true) }()

	s.CommandFinish(got)
	waited := <-done
	require.Same(t, b, waited)
}

func TestScanSchedulerSetEffectiveMaxThreads(t *testing.T) {
	s := newTestLane("fast", 1)
	s.SetEffectiveMaxThreads(0)
	a := NewTask(1, 1, 1, 10, ids.NoSubChunk)
	s.QueueTask(a)
	require.Nil(t, s.GetCmd(false))
	s.SetEffectiveMaxThreads(1)
	require.NotNil(t, s.GetCmd(false))
}

func TestScanSchedulerRemoveTaskBeforeDispatch(t *testing.T) {
	s := newTestLane("fast", 2)
	a := NewTask(1, 1, 1, 10, ids.NoSubChunk)
	s.QueueTask(a)
	require.True(t, s.RemoveTask(a, false))
	require.Nil(t, s.GetCmd(false))
}
