package qdisp

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/qserv/qserv-go/internal/qerr"
	"github.com/qserv/qserv-go/internal/qmeta"
	"github.com/qserv/qserv-go/internal/qstatus"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	posts []ids.UberJobID
	fail  bool
}

func (d *fakeDispatcher) PostUberJob(ctx context.Context, worker ids.WorkerID, msg *proto.UberJobMsg) (*proto.UberJobAck, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, qerr.New(qerr.ClassTransient, "post_failed", true, nil)
	}
	d.posts = append(d.posts, msg.UberJobID)
	return &proto.UberJobAck{Accepted: true}, nil
}

type fakeFetcher struct {
	frames []*proto.Frame
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	var buf bytes.Buffer
	for _, fr := range f.frames {
		if err := proto.WriteFrame(&buf, fr); err != nil {
			return nil, err
		}
	}
	return io.NopCloser(&buf), nil
}

type fakeMerger struct {
	mu      sync.Mutex
	merged  []int64
	failAll bool
}

func (m *fakeMerger) MergeFrame(ctx context.Context, f *proto.Frame) error {
	if m.failAll {
		return qerr.ErrFrameHashMismatch
	}
	m.mu.Lock()
	m.merged = append(m.merged, f.Msg.JobId)
	m.mu.Unlock()
	return nil
}

func sampleChunkMap() *qmeta.ChunkMap {
	return qmeta.Build(qmeta.Document{
		"worker-a": {"LSST": {"Object": [][2]int64{{1, 10}, {2, 10}}}},
	})
}

func TestDispatchAssignsAndPostsUberJobs(t *testing.T) {
	cm := sampleChunkMap()
	dispatcher := &fakeDispatcher{}
	status := qstatus.NewCzarSide("czar-a", 1, time.Hour, 0)
	e := NewExecutive("czar-a", 1, cm, dispatcher, &fakeFetcher{}, &fakeMerger{}, status, 1)

	q := e.NewQuery(1, 0, 3, sampleSubqueries())
	require.NoError(t, e.Dispatch(context.Background(), q))

	require.Empty(t, q.PendingJobs())
	require.Len(t, dispatcher.posts, 1)
}

func TestDispatchUnassignsOnPostFailure(t *testing.T) {
	cm := sampleChunkMap()
	dispatcher := &fakeDispatcher{fail: true}
	status := qstatus.NewCzarSide("czar-a", 1, time.Hour, 0)
	e := NewExecutive("czar-a", 1, cm, dispatcher, &fakeFetcher{}, &fakeMerger{}, status, 1)

	q := e.NewQuery(1, 0, 3, sampleSubqueries())
	require.NoError(t, e.Dispatch(context.Background(), q))

	require.Len(t, q.PendingJobs(), 2)
	require.True(t, q.ConsumeFlagFailedUberJob())
}

func TestHandleQueryJobReadyMergesFramesAndCompletesUberJob(t *testing.T) {
	cm := sampleChunkMap()
	dispatcher := &fakeDispatcher{}
	merger := &fakeMerger{}
	status := qstatus.NewCzarSide("czar-a", 1, time.Hour, 0)
	e := NewExecutive("czar-a", 1, cm, dispatcher, nil, merger, status, 1)

	q := e.NewQuery(1, 0, 3, sampleSubqueries())
	require.NoError(t, e.Dispatch(context.Background(), q))

	var ujID ids.UberJobID
	for _, uj := range q.OutstandingUberJobs() {
		ujID = uj.ID
	}

	frame := proto.NewFrame(proto.NewResultMessage(1, int64(ujID), 1, 1, 1, 0, time.Unix(0, 0)), []byte("row1"))
	frame.Msg.LastFragment = true
	frame.Msg.RowCount = 1
	e.fetch = &fakeFetcher{frames: []*proto.Frame{frame}}

	e.HandleQueryJobReady(context.Background(), q, ujID, "http://worker-a/result/1")
	waitUntil(t, func() bool { return q.IsDone() })

	require.EqualValues(t, 1, q.ResultRows())
	require.Len(t, merger.merged, 1)
}

func TestHandleQueryJobReadyLimitCompleteSquashesOutstanding(t *testing.T) {
	cm := sampleChunkMap()
	dispatcher := &fakeDispatcher{}
	merger := &fakeMerger{}
	status := qstatus.NewCzarSide("czar-a", 1, time.Hour, 0)
	e := NewExecutive("czar-a", 1, cm, dispatcher, nil, merger, status, 1)

	q := e.NewQuery(1, 1, 3, sampleSubqueries())
	require.NoError(t, e.Dispatch(context.Background(), q))

	var ujID ids.UberJobID
	for _, uj := range q.OutstandingUberJobs() {
		ujID = uj.ID
	}

	frame := proto.NewFrame(proto.NewResultMessage(1, int64(ujID), 1, 1, 1, 0, time.Unix(0, 0)), []byte("row1"))
	frame.Msg.LastFragment = true
	frame.Msg.RowCount = 5
	e.fetch = &fakeFetcher{frames: []*proto.Frame{frame}}

	e.HandleQueryJobReady(context.Background(), q, ujID, "http://worker-a/result/1")
	waitUntil(t, func() bool { return q.Cancelled() })

	require.True(t, q.LimitRowComplete())
}

func TestSquashDropsQueryFromExecutive(t *testing.T) {
	cm := sampleChunkMap()
	dispatcher := &fakeDispatcher{}
	status := qstatus.NewCzarSide("czar-a", 1, time.Hour, 0)
	e := NewExecutive("czar-a", 1, cm, dispatcher, &fakeFetcher{}, &fakeMerger{}, status, 1)

	q := e.NewQuery(1, 0, 3, sampleSubqueries())
	e.Squash(q)

	_, ok := e.Query(1)
	require.False(t, ok)
	require.True(t, q.Cancelled())
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
