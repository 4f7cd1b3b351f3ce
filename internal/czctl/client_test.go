package czctl

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/stretchr/testify/require"
)

func addressBookFor(srv *httptest.Server) AddressBook {
	return func(w ids.WorkerID) (string, bool) {
		if w != "worker-1" {
			return "", false
		}
		return srv.URL, true
	}
}

func TestPostUberJobSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/queryjob", func(w http.ResponseWriter, r *http.Request) {
		var msg proto.UberJobMsg
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		require.EqualValues(t, 7, msg.UberJobID)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewWorkerClient(addressBookFor(srv), time.Second)
	ack, err := c.PostUberJob(context.Background(), "worker-1", &proto.UberJobMsg{UberJobID: 7})
	require.NoError(t, err)
	require.True(t, ack.Accepted)
}

func TestPostUberJobRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/queryjob", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "errortype": "missing_table", "note": "no such table"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewWorkerClient(addressBookFor(srv), time.Second)
	_, err := c.PostUberJob(context.Background(), "worker-1", &proto.UberJobMsg{UberJobID: 1})
	require.Error(t, err)
}

func TestPostUberJobUnknownWorker(t *testing.T) {
	c := NewWorkerClient(func(ids.WorkerID) (string, bool) { return "", false }, time.Second)
	_, err := c.PostUberJob(context.Background(), "worker-9", &proto.UberJobMsg{})
	require.Error(t, err)
}

func TestFetchStreamsBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/result/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("framebytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewWorkerClient(addressBookFor(srv), time.Second)
	rc, err := c.Fetch(context.Background(), srv.URL+"/result/1")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "framebytes", string(data))
}

func TestFetchNon200(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/result/1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewWorkerClient(addressBookFor(srv), time.Second)
	_, err := c.Fetch(context.Background(), srv.URL+"/result/1")
	require.Error(t, err)
}

func TestPostStatusRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/queryjob-status", func(w http.ResponseWriter, r *http.Request) {
		var msg proto.WorkerStatusMsg
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		require.Equal(t, "czar-a", msg.CzarID)
		_ = json.NewEncoder(w).Encode(proto.WorkerStatusReply{WorkerID: "worker-1", WorkerEpoch: 42})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewWorkerClient(addressBookFor(srv), time.Second)
	reply, err := c.PostStatus(context.Background(), "worker-1", &proto.WorkerStatusMsg{CzarID: "czar-a"})
	require.NoError(t, err)
	require.EqualValues(t, 42, reply.WorkerEpoch)
}

func TestCancelPostsExpectedBody(t *testing.T) {
	var gotQID ids.QueryID
	mux := http.NewServeMux()
	mux.HandleFunc("/queryjob-cancel", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			QID ids.QueryID `json:"qid"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotQID = body.QID
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewWorkerClient(addressBookFor(srv), time.Second)
	require.NoError(t, c.Cancel(context.Background(), "worker-1", 5, nil))
	require.EqualValues(t, 5, gotQID)
}
