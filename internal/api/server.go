// Package api exposes the memory engine over a small JSON HTTP surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/index"
	"github.com/engramdev/engram/internal/logstore"
	"github.com/engramdev/engram/internal/pipeline"
	"github.com/engramdev/engram/internal/snapshot"
	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

// Server serves the engine's HTTP API: record append, query, validation,
// snapshot management, and operational endpoints.
type Server struct {
	store   *logstore.Store
	index   *index.Index
	snaps   *snapshot.Manager
	pipe    *pipeline.Pipeline
	cfg     *config.Config
	logger  *slog.Logger
	httpSrv *http.Server
}

func NewServer(store *logstore.Store, ix *index.Index, snaps *snapshot.Manager,
	pipe *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  store,
		index:  ix,
		snaps:  snaps,
		pipe:   pipe,
		cfg:    cfg,
		logger: logger.With("component", "api"),
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table. It is exported so tests can drive the
// mux without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/records", s.handleAppendRecord)
	mux.HandleFunc("GET /v1/validate", s.handleValidate)
	mux.HandleFunc("GET /v1/search", s.handleLogSearch)
	mux.HandleFunc("POST /v1/query", s.handleQuery)
	mux.HandleFunc("GET /v1/principles/{id}", s.handleGetPrinciple)
	mux.HandleFunc("POST /v1/extract", s.handleExtract)
	mux.HandleFunc("POST /v1/snapshots/{tag}", s.handleSnapshot)
	mux.HandleFunc("POST /v1/snapshots/{tag}/restore", s.handleRestore)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/integrity", s.handleIntegrity)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type appendRequest struct {
	File    string        `json:"file"`
	Section string        `json:"section"`
	Fields  []types.Field `json:"fields"`
}

func (s *Server) handleAppendRecord(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, engerr.NewValidationError("api.records", "", "malformed request body").WithCause(err))
		return
	}
	if req.File == "" {
		s.writeError(w, engerr.NewValidationError("api.records", "", "file is required"))
		return
	}
	line, err := s.store.Append(req.File, types.Record{Section: req.Section, Fields: req.Fields})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"file": req.File, "line": line})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	if file == "" {
		s.writeError(w, engerr.NewValidationError("api.validate", "", "file query parameter is required"))
		return
	}
	mismatches, err := s.store.Validate(file)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"file":       file,
		"clean":      len(mismatches) == 0,
		"mismatches": mismatches,
	})
}

func (s *Server) handleLogSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	file, term := q.Get("file"), q.Get("term")
	if file == "" || term == "" {
		s.writeError(w, engerr.NewValidationError("api.search", "", "file and term query parameters are required"))
		return
	}
	matches, err := s.store.Search(file, term)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"file": file, "matches": matches})
}

type queryRequest struct {
	Query            string `json:"query"`
	IncludeReasoning bool   `json:"include_reasoning"`
	Iterations       int    `json:"iterations"`
	Limit            int    `json:"limit"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, engerr.NewValidationError("api.query", "", "malformed request body").WithCause(err))
		return
	}
	if req.Query == "" {
		s.writeError(w, engerr.NewValidationError("api.query", "", "query is required"))
		return
	}
	res, err := s.index.Search(r.Context(), req.Query, index.SearchOptions{
		IncludeReasoning:    req.IncludeReasoning,
		ReasoningIterations: req.Iterations,
		Limit:               req.Limit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetPrinciple(w http.ResponseWriter, r *http.Request) {
	p, err := s.index.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"principle": p,
		"outgoing":  s.index.Outgoing(p.ID),
		"incoming":  s.index.Incoming(p.ID),
	})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.pipe == nil {
		s.writeError(w, engerr.NewValidationError("api.extract", "", "pipeline not running"))
		return
	}
	if err := s.pipe.TriggerExtraction(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "completed"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	path, err := s.snaps.Snapshot(r.Context(), s.index, r.PathValue("tag"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"path": path})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if err := s.snaps.Restore(r.Context(), s.index, r.PathValue("tag")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "restored",
		"stats":  s.index.Stats(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{"index": s.index.Stats()}
	if s.pipe != nil {
		stats["pipeline"] = map[string]any{
			"pending_records":   s.pipe.PendingRecords(),
			"extraction_passes": s.pipe.Passes(),
		}
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, _ *http.Request) {
	violations := s.index.CheckIntegrity()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"clean":      len(violations) == 0,
		"violations": violations,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}
	var merr *engerr.MemoryError
	if errors.As(err, &merr) {
		status = merr.HTTPStatusCode()
		body["type"] = merr.Type
		body["retryable"] = merr.Retryable
	}
	s.writeJSON(w, status, body)
}
