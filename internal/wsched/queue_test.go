package wsched

import (
	"testing"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/memman"
	"github.com/stretchr/testify/require"
)

func tablesFuncAllNoLock(chunk ids.ChunkID, tasks []*Task) []memman.TableRef {
	return []memman.TableRef{{DB: "d", Table: "t", Intent: memman.NoLock}}
}

func TestQueueDispatchesFIFOWithinChunk(t *testing.T) {
	mm := memman.New(1000, nil)
	q := NewQueue(mm, tablesFuncAllNoLock)

	t1 := NewTask(1, 1, 1, 10, ids.NoSubChunk)
	t2 := NewTask(1, 2, 1, 10, ids.NoSubChunk)
	q.QueueTask(t1)
	q.QueueTask(t2)

	require.True(t, q.Ready(false))
	got1 := q.GetTask(false)
	require.Same(t, t1, got1)
	got2 := q.GetTask(false)
	require.Same(t, t2, got2)
	require.Nil(t, q.GetTask(false))
}

func TestQueueOneChunkActiveAtATime(t *testing.T) {
	mm := memman.New(1000, nil)
	q := NewQueue(mm, tablesFuncAllNoLock)

	a := NewTask(1, 1, 1, 10, ids.NoSubChunk)
	b := NewTask(1, 2, 1, 20, ids.NoSubChunk)
	q.QueueTask(a)
	q.QueueTask(b)

	got := q.GetTask(false)
	require.Same(t, a, got)
	// chunk 10 is now exhausted; chunk 20 becomes active on next GetTask.
	got2 := q.GetTask(false)
	require.Same(t, b, got2)
}

func TestQueueHandoffOnChunkExhaustion(t *testing.T) {
	mm := memman.New(1000, func(string, string) int64 { return 10 })
	tablesFunc := func(chunk ids.ChunkID, tasks []*Task) []memman.TableRef {
		return []memman.TableRef{{DB: "d", Table: "t", Intent: memman.Required, SizeByte: 10}}
	}
	q := NewQueue(mm, tablesFunc)
	task := NewTask(1, 1, 1, 10, ids.NoSubChunk)
	q.QueueTask(task)

	require.Equal(t, memman.Handle(0), q.TakeHandoff())
	got := q.GetTask(true)
	require.Same(t, task, got)
	h := q.TakeHandoff()
	require.NotEqual(t, memman.Handle(0), h)
}

func TestQueueRemoveTaskBeforeDispatch(t *testing.T) {
	mm := memman.New(1000, nil)
	q := NewQueue(mm, tablesFuncAllNoLock)
	task := NewTask(1, 1, 1, 10, ids.NoSubChunk)
	q.QueueTask(task)
	require.True(t, q.RemoveTask(task))
	require.True(t, q.Empty())
}

func TestQueueEmptyAndSize(t *testing.T) {
	mm := memman.New(1000, nil)
	q := NewQueue(mm, tablesFuncAllNoLock)
	require.True(t, q.Empty())
	q.QueueTask(NewTask(1, 1, 1, 10, ids.NoSubChunk))
	require.Equal(t, 1, q.GetSize())
	require.False(t, q.Empty())
}
