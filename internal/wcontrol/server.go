package wcontrol

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/qserv/qserv-go/internal/qstatus"
	"github.com/qserv/qserv-go/internal/wbase"
	"github.com/qserv/qserv-go/internal/wbase/gc"
	"github.com/qserv/qserv-go/internal/wsched"
	"github.com/qserv/qserv-go/pkg/qlog"
)

// userQuery is the "user-query aggregate record" spec.md §3 describes: the
// worker-side bookkeeping that lets /queryjob-cancel find every task
// belonging to a query or uber-job.
type userQuery struct {
	tasks []*wsched.Task
}

// Server implements C7, the worker's status & command HTTP endpoint: it
// turns uber-job payloads into scheduler tasks, serves result files, and
// bridges the C12 liveness protocol and cancellation into the scheduler and
// GC layers. Grounded on cuemby-warren/pkg/api/health.go's
// http.ServeMux-plus-JSON-handler shape.
type Server struct {
	mux *http.ServeMux

	blend     *wsched.BlendScheduler
	runner    *wbase.Runner
	collector *gc.Collector
	status    *qstatus.WorkerSide
	resultDir string

	mu      sync.Mutex
	queries map[ids.QueryID]*userQuery
}

// NewServer wires C7's endpoints. resultDir must match the directory
// internal/wbase writes result files under. id/epoch/haveSeenCzar/
// lastCzarID/lastCzarEpoch seed the C12 worker-side protocol state (see
// qstatus.NewWorkerSide) from internal/qstore's persisted record.
func NewServer(blend *wsched.BlendScheduler, runner *wbase.Runner, collector *gc.Collector, resultDir string, id ids.WorkerID, epoch ids.Epoch, haveSeenCzar bool, lastCzarID string, lastCzarEpoch ids.Epoch) *Server {
	s := &Server{
		blend:     blend,
		runner:    runner,
		collector: collector,
		resultDir: resultDir,
		queries:   make(map[ids.QueryID]*userQuery),
	}
	s.status = qstatus.NewWorkerSide(id, epoch, haveSeenCzar, lastCzarID, lastCzarEpoch, &serverActions{s: s})
	mux := http.NewServeMux()
	mux.HandleFunc("/queryjob", s.handleQueryJob)
	mux.HandleFunc("/queryjob-status", s.handleQueryJobStatus)
	mux.HandleFunc("/queryjob-cancel", s.handleQueryJobCancel)
	mux.HandleFunc("/result/", s.handleResult)
	mux.HandleFunc("/status/results", s.handleStatusResults)
	s.mux = mux
	return s
}

// ServeHTTP lets Server be used directly as an http.Handler, e.g. with
// http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// FlagForCancellation forwards wsched's §4.5 step-4 cancellation flag into
// the C12 worker-side status protocol, to be surfaced to the czar on the
// worker's next status round.
func (s *Server) FlagForCancellation(q ids.QueryID) {
	s.status.FlagForCancellation(q)
}

// queryJobResponse is the body shape spec.md §6 defines for /queryjob.
type queryJobResponse struct {
	Success   bool   `json:"success"`
	ErrorType string `json:"errortype,omitempty"`
	Note      string `json:"note,omitempty"`
}

func (s *Server) handleQueryJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg proto.UberJobMsg
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, queryJobResponse{Success: false, ErrorType: "bad_request", Note: err.Error()})
		return
	}

	tasks, err := BuildTasks(&msg)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, queryJobResponse{Success: false, ErrorType: "bad_payload", Note: err.Error()})
		return
	}

	s.mu.Lock()
	uq, ok := s.queries[msg.QueryID]
	if !ok {
		uq = &userQuery{}
		s.queries[msg.QueryID] = uq
	}
	uq.tasks = append(uq.tasks, tasks...)
	s.mu.Unlock()

	s.collector.Track(msg.QueryID, msg.UberJobID)
	s.status.Track(msg.QueryID)
	for _, t := range tasks {
		s.blend.QueueTask(t)
	}

	qlog.WithComponent("wcontrol").Info().
		Int64("query", int64(msg.QueryID)).Int64("uberJob", int64(msg.UberJobID)).
		Int("tasks", len(tasks)).Msg("queryjob accepted")
	writeJSON(w, http.StatusOK, queryJobResponse{Success: true})
}

func (s *Server) handleQueryJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg proto.WorkerStatusMsg
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply := s.status.HandleMessage(&msg)
	writeJSON(w, http.StatusOK, reply)
}

type cancelRequest struct {
	QID  ids.QueryID    `json:"qid"`
	UJID *ids.UberJobID `json:"ujid,omitempty"`
}

type cancelResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleQueryJobCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	uq, ok := s.queries[req.QID]
	s.mu.Unlock()
	if ok {
		for _, t := range uq.tasks {
			if req.UJID != nil && t.UberJob != *req.UJID {
				continue
			}
			t.Cancel()
		}
	}
	writeJSON(w, http.StatusOK, cancelResponse{Success: true})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rel := strings.TrimPrefix(r.URL.Path, "/result/")
	clean := filepath.Clean(rel)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	path := filepath.Join(s.resultDir, clean)
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}

// statusResultsResponse is the body shape spec.md §6 defines for
// /status/results.
type statusResultsResponse struct {
	Protocol             string `json:"protocol"`
	Folder               string `json:"folder"`
	CapacityBytes        uint64 `json:"capacity_bytes"`
	FreeBytes            uint64 `json:"free_bytes"`
	NumResultFiles       int    `json:"num_result_files"`
	SizeResultFilesBytes int64  `json:"size_result_files_bytes"`
}

func (s *Server) handleStatusResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResultsResponse{Protocol: "HTTP", Folder: s.resultDir}

	var statfs syscall.Statfs_t
	if err := syscall.Statfs(s.resultDir, &statfs); err == nil {
		resp.CapacityBytes = uint64(statfs.Blocks) * uint64(statfs.Bsize)
		resp.FreeBytes = uint64(statfs.Bavail) * uint64(statfs.Bsize)
	}

	_ = filepath.Walk(s.resultDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		resp.NumResultFiles++
		resp.SizeResultFilesBytes += info.Size()
		return nil
	})

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewHTTPServer builds an http.Server bound to addr; the caller drives
// ListenAndServe and Shutdown, matching cuemby-warren's health server's
// explicit timeout-configured http.Server rather than the bare
// http.ListenAndServe.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
