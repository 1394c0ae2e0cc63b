package api

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nightdose/nightdose/internal/biz"
	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/usecase"
	"github.com/nightdose/nightdose/internal/data"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T) (*Server, *testClock) {
	t.Helper()
	repos, err := data.NewRepositories(filepath.Join(t.TempDir(), "api.db"), "", data.DefaultStoragePolicy())
	if err != nil {
		t.Fatalf("NewRepositories failed: %v", err)
	}
	t.Cleanup(func() { repos.Close() })

	clock := &testClock{now: time.Date(2025, 9, 14, 23, 0, 0, 0, time.UTC)}
	uc := biz.NewUsecases(biz.Repos{
		Session:    repos.Session,
		Diagnostic: repos.Diagnostic,
		Adjunct:    repos.Adjunct,
		Outbox:     repos.Outbox,
	}, biz.Options{
		Window:  domain.DefaultDoseWindowConfig(),
		Night:   domain.DefaultSessionConfig(),
		Backoff: domain.DefaultBackoffConfig(),
		Clock:   clock,
	})
	return NewServer(uc.Orchestrator, uc.Exporter, uc.Sync, nil, 0), clock
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse error response: %v", err)
	}
	return resp
}

func TestDoseFlow(t *testing.T) {
	server, clock := newTestServer(t)
	h := server.Handler()

	w := do(t, h, http.MethodPost, "/api/dose", DoseRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for Dose 1, got %d: %s", w.Code, w.Body.String())
	}
	var first usecase.DoseResult
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("Failed to parse dose result: %v", err)
	}
	if !first.Created || first.Event.Index != 1 {
		t.Errorf("Expected created session with Dose 1, got %+v", first.Event)
	}

	// Dose 2 before the window opens
	clock.Advance(time.Hour)
	w = do(t, h, http.MethodPost, "/api/dose", DoseRequest{})
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for early Dose 2, got %d", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Reason != string(domain.RejectWindowNotOpen) {
		t.Errorf("Expected window_not_open, got %s", resp.Reason)
	}
	if resp.RemainingSeconds != (90 * time.Minute).Seconds() {
		t.Errorf("Expected 5400s remaining, got %v", resp.RemainingSeconds)
	}

	clock.Advance(2 * time.Hour)
	w = do(t, h, http.MethodGet, "/api/status", nil)
	var status usecase.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to parse status: %v", err)
	}
	if status.Window.Phase != domain.PhaseActive {
		t.Errorf("Expected active phase, got %s", status.Window.Phase)
	}

	w = do(t, h, http.MethodPost, "/api/dose", DoseRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for Dose 2, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPost, "/api/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for complete, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/api/sessions/"+first.Session.ID+"/diagnostics", nil)
	var diag struct {
		Events []*domain.DiagnosticEvent `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &diag); err != nil {
		t.Fatalf("Failed to parse diagnostics: %v", err)
	}
	for i, e := range diag.Events {
		if e.Seq != int64(i+1) {
			t.Errorf("Expected seq %d, got %d", i+1, e.Seq)
		}
	}
	if len(diag.Events) < 4 {
		t.Errorf("Expected at least 4 events, got %d", len(diag.Events))
	}
}

func TestRejections(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		reason domain.RejectReason
	}{
		{"snooze without session", http.MethodPost, "/api/snooze", nil, http.StatusConflict, domain.RejectNoActiveSession},
		{"undo with nothing armed", http.MethodPost, "/api/undo", nil, http.StatusConflict, domain.RejectNothingToUndo},
		{"unknown adjunct", http.MethodPost, "/api/adjunct", AdjunctRequest{Kind: "yoga"}, http.StatusConflict, domain.RejectUnknownEventKind},
		{"unknown session", http.MethodGet, "/api/sessions/missing", nil, http.StatusNotFound, domain.RejectSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if resp := decodeError(t, w); resp.Reason != string(tt.reason) {
				t.Errorf("Expected reason %s, got %s", tt.reason, resp.Reason)
			}
		})
	}
}

func TestRejectionsAlwaysCarryFigures(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	if w := do(t, h, http.MethodPost, "/api/dose", DoseRequest{}); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for Dose 1, got %d: %s", w.Code, w.Body.String())
	}
	for i := 0; i < 3; i++ {
		if w := do(t, h, http.MethodPost, "/api/snooze", nil); w.Code != http.StatusOK {
			t.Fatalf("Snooze %d: expected 200, got %d: %s", i+1, w.Code, w.Body.String())
		}
	}

	w := do(t, h, http.MethodPost, "/api/snooze", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 at the snooze limit, got %d", w.Code)
	}
	assertFigures(t, w, string(domain.RejectSnoozeLimitReached))

	if w := do(t, h, http.MethodPost, "/api/undo", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected undo of the last snooze, got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodPost, "/api/undo", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 with nothing to undo, got %d", w.Code)
	}
	assertFigures(t, w, string(domain.RejectNothingToUndo))
}

func assertFigures(t *testing.T, w *httptest.ResponseRecorder, reason string) {
	t.Helper()
	var raw map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("Failed to parse error response: %v", err)
	}
	if raw["reason"] != reason {
		t.Errorf("Expected reason %s, got %v", reason, raw["reason"])
	}
	for _, key := range []string{"remaining_seconds", "remaining_count"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("%s: missing %s in %s", reason, key, w.Body.String())
		}
	}
}

func TestAdjunctRateLimit(t *testing.T) {
	server, clock := newTestServer(t)
	h := server.Handler()

	if w := do(t, h, http.MethodPost, "/api/adjunct", AdjunctRequest{Kind: "water"}); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	clock.Advance(10 * time.Second)

	w := do(t, h, http.MethodPost, "/api/adjunct", AdjunctRequest{Kind: "water"})
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.RemainingSeconds != 50 {
		t.Errorf("Expected 50s remaining, got %v", resp.RemainingSeconds)
	}
}

func TestExportSession(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	w := do(t, h, http.MethodPost, "/api/dose", DoseRequest{})
	var result usecase.DoseResult
	json.Unmarshal(w.Body.Bytes(), &result)

	w = do(t, h, http.MethodGet, "/api/sessions/"+result.Session.ID+"/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Expected application/zip, got %s", ct)
	}

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("Failed to open zip: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["metadata.json"] || !names["events.jsonl"] {
		t.Errorf("Unexpected zip entries: %v", names)
	}
}

func TestLifecycleAndEvaluate(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	w := do(t, h, http.MethodPost, "/api/lifecycle/resume", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var result usecase.BoundaryResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Closed {
		t.Error("Expected no session to close")
	}

	// Observation triggers never create a session
	w = do(t, h, http.MethodGet, "/api/status", nil)
	var status usecase.Status
	json.Unmarshal(w.Body.Bytes(), &status)
	if status.Session != nil {
		t.Error("Expected no session after a resume trigger")
	}

	if w := do(t, h, http.MethodPost, "/api/lifecycle/bogus", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown lifecycle event, got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/evaluate", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestSyncFailed_Disabled(t *testing.T) {
	server, _ := newTestServer(t)
	w := do(t, server.Handler(), http.MethodGet, "/api/sync/failed", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["enabled"] != false {
		t.Errorf("Expected sync disabled, got %v", resp["enabled"])
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"rejected", domain.Reject(domain.RejectSnoozeLimitReached, 0, 0, "no snoozes"), http.StatusConflict, "snooze_limit_reached"},
		{"invariant", domain.Invariant("dose_order", "bad"), http.StatusInternalServerError, "invariant_violation"},
		{"storage", &domain.StorageError{Op: "put", Attempts: 3, Err: errors.New("disk full")}, http.StatusServiceUnavailable, "storage_unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := errorResponse(tt.err)
			if status != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, status)
			}
			if body.Reason != tt.reason {
				t.Errorf("Expected reason %q, got %q", tt.reason, body.Reason)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)
	w := do(t, server.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("Unexpected health response %d %q", w.Code, w.Body.String())
	}
}
