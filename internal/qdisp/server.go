package qdisp

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/qserv/qserv-go/internal/proto"
	"github.com/qserv/qserv-go/internal/qerr"
	"github.com/qserv/qserv-go/pkg/qlog"
)

// Server is the czar's half of the callback path spec.md §6 describes:
// a worker POSTs /queryjob-ready or /queryjob-error once an uber-job
// finishes, and this handler feeds that
// straight into the owning Executive. Grounded on internal/wcontrol's
// http.ServeMux-plus-JSON-handler shape, the czar-side mirror of C7's
// endpoint set.
type Server struct {
	mux  *http.ServeMux
	exec *Executive
}

// NewServer wires the czar's callback endpoints over exec.
func NewServer(exec *Executive) *Server {
	s := &Server{exec: exec}
	mux := http.NewServeMux()
	mux.HandleFunc("/queryjob-ready", s.handleReady)
	mux.HandleFunc("/queryjob-error", s.handleError)
	mux.HandleFunc("/status", s.handleStatus)
	s.mux = mux
	return s
}

// statusBody is the response to GET /status, the czar's liveness report
// for the status CLI subcommand.
type statusBody struct {
	ActiveQueries int `json:"activeQueries"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusBody{ActiveQueries: s.exec.ActiveQueryCount()})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg proto.QueryJobReady
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	q, ok := s.exec.Query(msg.QueryID)
	if !ok {
		qlog.WithComponent("qdisp").Warn().Int64("query", int64(msg.QueryID)).
			Msg("queryjob-ready for unknown query")
		writeAck(w)
		return
	}
	s.exec.HandleQueryJobReady(r.Context(), q, msg.UberJobID, msg.FileURL)
	writeAck(w)
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg proto.QueryJobError
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	q, ok := s.exec.Query(msg.QueryID)
	if !ok {
		qlog.WithComponent("qdisp").Warn().Int64("query", int64(msg.QueryID)).
			Msg("queryjob-error for unknown query")
		writeAck(w)
		return
	}
	s.exec.HandleQueryJobError(q, msg.UberJobID, errorFromWire(msg.ErrorCode, msg.ErrorMsg))
	writeAck(w)
}

// errorFromWire reconstructs a classified error from the code a worker
// reported over /queryjob-error. Worker-local codes this czar doesn't
// recognize are treated as non-reassignable worker-local errors, matching
// the conservative default a reassignable sentinel would otherwise skip.
func errorFromWire(code, msg string) error {
	switch code {
	case qerr.ErrMissingTable.Code:
		return qerr.New(qerr.ClassWorkerLocal, code, true, errors.New(msg))
	case qerr.ErrSyntax.Code:
		return qerr.New(qerr.ClassWorkerLocal, code, false, errors.New(msg))
	case qerr.ErrRowTooLarge.Code:
		return qerr.New(qerr.ClassWorkerLocal, code, false, errors.New(msg))
	case qerr.ErrFrameHashMismatch.Code:
		return qerr.New(qerr.ClassFraming, code, true, errors.New(msg))
	case qerr.ErrMemoryExhausted.Code:
		return qerr.New(qerr.ClassMemory, code, false, errors.New(msg))
	default:
		return qerr.New(qerr.ClassWorkerLocal, code, false, errors.New(msg))
	}
}

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(proto.UberJobAck{Accepted: true})
}

// NewHTTPServer builds a timeout-configured http.Server, matching
// internal/wcontrol.Server.NewHTTPServer's shape.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
