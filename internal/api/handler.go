package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/usecase"
)

// BoundaryEvaluator runs a boundary evaluation and waits for the outcome
type BoundaryEvaluator interface {
	Evaluate(ctx context.Context, reason usecase.TriggerReason) (*usecase.BoundaryResult, error)
}

// Server provides the HTTP API used by dosectl and the MCP server
type Server struct {
	orchestrator *usecase.SessionOrchestrator
	exporter     *usecase.Exporter
	queue        *usecase.RetryQueue // nil when remote mirroring is off
	boundary     BoundaryEvaluator   // nil evaluates inline

	server *http.Server
	port   int
}

// NewServer creates a new API server
func NewServer(
	orchestrator *usecase.SessionOrchestrator,
	exporter *usecase.Exporter,
	queue *usecase.RetryQueue,
	boundary BoundaryEvaluator,
	port int,
) *Server {
	return &Server{
		orchestrator: orchestrator,
		exporter:     exporter,
		queue:        queue,
		boundary:     boundary,
		port:         port,
	}
}

// Handler builds the request router
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Read-only views
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionItem)
	mux.HandleFunc("/api/export", s.handleExportAll)

	// Session actions
	mux.HandleFunc("/api/session/start", s.handleStart)
	mux.HandleFunc("/api/dose", s.handleDose)
	mux.HandleFunc("/api/skip", s.handleSkip)
	mux.HandleFunc("/api/snooze", s.handleSnooze)
	mux.HandleFunc("/api/undo", s.handleUndo)
	mux.HandleFunc("/api/complete", s.handleComplete)
	mux.HandleFunc("/api/abort", s.handleAbort)
	mux.HandleFunc("/api/adjunct", s.handleAdjunct)

	// Boundary triggers
	mux.HandleFunc("/api/evaluate", s.handleEvaluate)
	mux.HandleFunc("/api/lifecycle/", s.handleLifecycle)

	// Retry queue
	mux.HandleFunc("/api/sync/failed", s.handleSyncFailed)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("[API] Starting HTTP server on port %d\n", s.port)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetPort returns the server port
func (s *Server) GetPort() int {
	return s.port
}

// ============ Read Handlers ============

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.orchestrator.Status())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 30
	if val := r.URL.Query().Get("limit"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	sessions, err := s.orchestrator.Sessions(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleSessionItem(w http.ResponseWriter, r *http.Request) {
	// Parse path: /api/sessions/{id}[/diagnostics|/export]
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(path, "/")
	sessionID := parts[0]
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetSession(w, r, sessionID)
	case action == "" && r.Method == http.MethodDelete:
		s.handleDeleteSession(w, r, sessionID)
	case action == "diagnostics" && r.Method == http.MethodGet:
		s.handleDiagnostics(w, r, sessionID)
	case action == "export" && r.Method == http.MethodGet:
		s.handleExportSession(w, r, sessionID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.orchestrator.Session(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	adjuncts, err := s.orchestrator.Adjuncts(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"session": session, "adjuncts": adjuncts})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.orchestrator.DeleteSession(r.Context(), sessionID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request, sessionID string) {
	events, err := s.orchestrator.Diagnostics(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	var buf bytes.Buffer
	if err := s.exporter.ExportSession(r.Context(), sessionID, &buf); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeZip(w, "nightdose-"+sessionID+".zip", buf.Bytes())
}

func (s *Server) handleExportAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var buf bytes.Buffer
	if err := s.exporter.ExportAll(r.Context(), &buf); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeZip(w, "nightdose-export.zip", buf.Bytes())
}

// ============ Action Handlers ============

// DoseRequest is the body of POST /api/dose
type DoseRequest struct {
	At         *time.Time `json:"at,omitempty"`
	AllowLate  bool       `json:"allow_late"`
	AllowExtra bool       `json:"allow_extra"`
	SessionID  string     `json:"session_id,omitempty"`
	TimeZone   string     `json:"time_zone,omitempty"`
}

// ReasonRequest is the body of skip and abort
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// AdjunctRequest is the body of POST /api/adjunct
type AdjunctRequest struct {
	Kind string     `json:"kind"`
	At   *time.Time `json:"at,omitempty"`
	Note string     `json:"note,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID, err := s.orchestrator.EnsureActiveSession(r.Context(), time.Time{}, usecase.ReasonUserAction)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"session_id": sessionID})
}

func (s *Server) handleDose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DoseRequest
	if !s.decode(w, r, &req) {
		return
	}

	doseReq := usecase.TakeDoseRequest{
		AllowLate:  req.AllowLate,
		AllowExtra: req.AllowExtra,
		SessionID:  req.SessionID,
		TimeZone:   req.TimeZone,
	}
	if req.At != nil {
		doseReq.At = *req.At
	}

	result, err := s.orchestrator.TakeDose(r.Context(), doseReq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ReasonRequest
	if !s.decode(w, r, &req) {
		return
	}
	session, err := s.orchestrator.SkipDose2(r.Context(), req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.orchestrator.Snooze(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.orchestrator.UndoLast(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	session, err := s.orchestrator.CompleteSession(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ReasonRequest
	if !s.decode(w, r, &req) {
		return
	}
	session, err := s.orchestrator.AbortSession(r.Context(), req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (s *Server) handleAdjunct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req AdjunctRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Kind == "" {
		http.Error(w, "kind is required", http.StatusBadRequest)
		return
	}

	var at time.Time
	if req.At != nil {
		at = *req.At
	}
	event, err := s.orchestrator.LogAdjunct(r.Context(), req.Kind, at, req.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"event": event})
}

// ============ Boundary Handlers ============

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.evaluate(w, r, usecase.ReasonManual)
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/api/lifecycle/") {
	case "resume":
		s.evaluate(w, r, usecase.ReasonAppResume)
	case "notification":
		s.evaluate(w, r, usecase.ReasonNotification)
	default:
		http.Error(w, "unknown lifecycle event", http.StatusNotFound)
	}
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request, reason usecase.TriggerReason) {
	var result *usecase.BoundaryResult
	var err error
	if s.boundary != nil {
		result, err = s.boundary.Evaluate(r.Context(), reason)
	} else {
		result, err = s.orchestrator.EvaluateSessionBoundaries(r.Context(), reason)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// ============ Sync Handlers ============

func (s *Server) handleSyncFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.queue == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false, "tasks": []*domain.SyncTask{}})
		return
	}
	tasks, err := s.queue.FailedTasks(r.Context(), 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": true, "tasks": tasks})
}

// ============ Helpers ============

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error            string  `json:"error"`
	Reason           string  `json:"reason,omitempty"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	RemainingCount   int     `json:"remaining_count"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		fmt.Printf("[API] Error: %v\n", err)
	}
	s.writeJSON(w, status, body)
}

func (s *Server) writeZip(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func errorResponse(err error) (int, ErrorResponse) {
	body := ErrorResponse{Error: err.Error()}

	if rej, ok := domain.AsRejected(err); ok {
		body.Reason = string(rej.Reason)
		body.RemainingSeconds = rej.Remaining.Seconds()
		body.RemainingCount = rej.RemainingCount
		if rej.Reason == domain.RejectSessionNotFound {
			return http.StatusNotFound, body
		}
		return http.StatusConflict, body
	}

	var inv *domain.InvariantError
	if errors.As(err, &inv) {
		body.Reason = "invariant_violation"
		return http.StatusInternalServerError, body
	}
	if usecase.IsStorageError(err) {
		body.Reason = "storage_unavailable"
		return http.StatusServiceUnavailable, body
	}
	return http.StatusInternalServerError, body
}
