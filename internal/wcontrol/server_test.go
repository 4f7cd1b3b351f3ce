package wcontrol

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/memman"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/qserv/qserv-go/internal/wbase/gc"
	"github.com/qserv/qserv-go/internal/wsched"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	memMgr := memman.New(1<<30, func(db, table string) int64 { return 0 })
	lane := wsched.NewScanScheduler(wsched.LaneConfig{Name: "fast", MaxThreads: 4}, memMgr, func(ids.ChunkID, []*wsched.Task) []memman.TableRef { return nil })
	blend := wsched.NewBlendScheduler([]*wsched.ScanScheduler{lane}, wsched.BootConfig{RequiredTasksCompleted: 1, MaxConcurrentBootedTasks: 2, MaxTasksBootedPerUserQuery: 3})
	collector := gc.New(dir)

	s := NewServer(blend, nil, collector, dir, ids.WorkerID("worker-1"), ids.Epoch(1), false, "", 0)
	return s, dir
}

func TestHandleQueryJobBuildsAndQueuesTasks(t *testing.T) {
	s, _ := newTestServer(t)

	msg := proto.UberJobMsg{
		QueryID:   1,
		UberJobID: 10,
		Templates: []proto.TemplateEntry{{Template: "SELECT * FROM %%CHUNK%%"}},
		Tables:    []proto.TableEntry{{DB: "db", Table: "Object", ScanRating: 1}},
		Jobs: []proto.JobSpec{
			{JobID: 100, Chunk: 5, TableIdx: []int{0}, Attempt: 1},
		},
	}
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/queryjob", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleQueryJob(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp queryJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)

	s.mu.Lock()
	uq, ok := s.queries[1]
	s.mu.Unlock()
	require.True(t, ok)
	require.Len(t, uq.tasks, 1)
}

func TestHandleQueryJobRejectsBadTemplateIndex(t *testing.T) {
	s, _ := newTestServer(t)

	msg := proto.UberJobMsg{
		QueryID:   1,
		UberJobID: 10,
		Templates: []proto.TemplateEntry{},
		Jobs:      []proto.JobSpec{{JobID: 100, Chunk: 5, TemplateIdx: 0}},
	}
	body, _ := json.Marshal(msg)
	req := httptest.NewRequest(http.MethodPost, "/queryjob", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleQueryJob(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryJobCancelCancelsMatchingTasks(t *testing.T) {
	s, _ := newTestServer(t)
	t1 := wsched.NewTask(1, 100, 10, 5, ids.NoSubChunk)
	t2 := wsched.NewTask(1, 101, 11, 6, ids.NoSubChunk)
	s.queries[1] = &userQuery{tasks: []*wsched.Task{t1, t2}}

	body, _ := json.Marshal(cancelRequest{QID: 1, UJID: uberJobPtr(10)})
	req := httptest.NewRequest(http.MethodPost, "/queryjob-cancel", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleQueryJobCancel(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, t1.Cancelled())
	require.False(t, t2.Cancelled())
}

func uberJobPtr(u ids.UberJobID) *ids.UberJobID { return &u }

func TestHandleQueryJobStatusDelegatesToWorkerSide(t *testing.T) {
	s, _ := newTestServer(t)
	s.status.Track(42)

	msg := proto.WorkerStatusMsg{CzarID: "czar-a", CzarEpoch: 1}
	body, _ := json.Marshal(msg)
	req := httptest.NewRequest(http.MethodPost, "/queryjob-status", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleQueryJobStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var reply proto.WorkerStatusReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.Contains(t, reply.TrackedQIDs, ids.QueryID(42))
}

func TestHandleResultRejectsPathTraversal(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/result/../../etc/passwd", nil)
	rec := httptest.NewRecorder()
	s.handleResult(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleResultServesExistingFile(t *testing.T) {
	s, dir := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "q1_u1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q1_u1", "frame-0"), []byte("hello"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/result/q1_u1/frame-0", nil)
	rec := httptest.NewRecorder()
	s.handleResult(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
}

func TestHandleStatusResultsReportsFileCounts(t *testing.T) {
	s, dir := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "q1_u1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q1_u1", "frame-0"), []byte("hello"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/status/results", nil)
	rec := httptest.NewRecorder()
	s.handleStatusResults(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.NumResultFiles)
	require.EqualValues(t, 5, resp.SizeResultFilesBytes)
	require.Equal(t, dir, resp.Folder)
}

func TestServerActionsCancelQueryRemovesFromRegistry(t *testing.T) {
	s, _ := newTestServer(t)
	t1 := wsched.NewTask(1, 100, 10, 5, ids.NoSubChunk)
	s.queries[1] = &userQuery{tasks: []*wsched.Task{t1}}

	a := &serverActions{s: s}
	a.CancelQuery(1)

	require.True(t, t1.Cancelled())
	s.mu.Lock()
	_, ok := s.queries[1]
	s.mu.Unlock()
	require.False(t, ok)
}
