package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nightdose/nightdose/internal/api"
	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/usecase"
)

// Client is the HTTP client for the nightdose daemon API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the daemon
type APIError struct {
	StatusCode int
	Body       api.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Reason != "" {
		return fmt.Sprintf("%s (%s)", e.Body.Error, e.Body.Reason)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body.Error)
}

// Rejected reports whether the daemon refused the action as a user-recoverable rejection
func (e *APIError) Rejected() bool {
	return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusNotFound
}

// ============ Reads ============

// Status gets the current session and window
func (c *Client) Status(ctx context.Context) (*usecase.Status, error) {
	var status usecase.Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Sessions lists recent sessions
func (c *Client) Sessions(ctx context.Context, limit int) ([]*domain.Session, error) {
	var result struct {
		Sessions []*domain.Session `json:"sessions"`
	}
	path := "/api/sessions?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// SessionDetail is a session with its adjunct events
type SessionDetail struct {
	Session  *domain.Session        `json:"session"`
	Adjuncts []*domain.AdjunctEvent `json:"adjuncts"`
}

// Session gets one session
func (c *Client) Session(ctx context.Context, sessionID string) (*SessionDetail, error) {
	var detail SessionDetail
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Diagnostics gets a session's diagnostic trail
func (c *Client) Diagnostics(ctx context.Context, sessionID string) ([]*domain.DiagnosticEvent, error) {
	var result struct {
		Events []*domain.DiagnosticEvent `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID)+"/diagnostics", nil, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// Export downloads a session's diagnostic bundle; an empty ID exports everything
func (c *Client) Export(ctx context.Context, sessionID string, w io.Writer) error {
	path := "/api/export"
	if sessionID != "" {
		path = "/api/sessions/" + url.PathEscape(sessionID) + "/export"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP GET failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}
	return nil
}

// FailedSync lists permanently failed sync tasks
func (c *Client) FailedSync(ctx context.Context) ([]*domain.SyncTask, bool, error) {
	var result struct {
		Enabled bool               `json:"enabled"`
		Tasks   []*domain.SyncTask `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sync/failed", nil, &result); err != nil {
		return nil, false, err
	}
	return result.Tasks, result.Enabled, nil
}

// ============ Actions ============

// StartSession opens a session without recording a dose
func (c *Client) StartSession(ctx context.Context) (string, error) {
	var result struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/session/start", nil, &result); err != nil {
		return "", err
	}
	return result.SessionID, nil
}

// TakeDose records the next dose
func (c *Client) TakeDose(ctx context.Context, req api.DoseRequest) (*usecase.DoseResult, error) {
	var result usecase.DoseResult
	if err := c.do(ctx, http.MethodPost, "/api/dose", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Snooze pushes the Dose 2 target back one step
func (c *Client) Snooze(ctx context.Context) (*usecase.SnoozeResult, error) {
	var result usecase.SnoozeResult
	if err := c.do(ctx, http.MethodPost, "/api/snooze", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Skip closes the session as skipped
func (c *Client) Skip(ctx context.Context, reason string) (*domain.Session, error) {
	return c.closeSession(ctx, "/api/skip", reason)
}

// Complete closes the session as completed
func (c *Client) Complete(ctx context.Context) (*domain.Session, error) {
	return c.closeSession(ctx, "/api/complete", "")
}

// Abort closes the session as aborted
func (c *Client) Abort(ctx context.Context, reason string) (*domain.Session, error) {
	return c.closeSession(ctx, "/api/abort", reason)
}

func (c *Client) closeSession(ctx context.Context, path, reason string) (*domain.Session, error) {
	var result struct {
		Session *domain.Session `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, path, api.ReasonRequest{Reason: reason}, &result); err != nil {
		return nil, err
	}
	return result.Session, nil
}

// Undo reverts the most recent dose or snooze
func (c *Client) Undo(ctx context.Context) (*usecase.UndoResult, error) {
	var result usecase.UndoResult
	if err := c.do(ctx, http.MethodPost, "/api/undo", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// LogAdjunct records a contextual night event
func (c *Client) LogAdjunct(ctx context.Context, kind, note string) (*domain.AdjunctEvent, error) {
	var result struct {
		Event *domain.AdjunctEvent `json:"event"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/adjunct", api.AdjunctRequest{Kind: kind, Note: note}, &result); err != nil {
		return nil, err
	}
	return result.Event, nil
}

// DeleteSession removes a closed session
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// Evaluate asks the daemon to close a session whose cutoff passed
func (c *Client) Evaluate(ctx context.Context) (*usecase.BoundaryResult, error) {
	var result usecase.BoundaryResult
	if err := c.do(ctx, http.MethodPost, "/api/evaluate", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ============ HTTP Helpers ============

func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(data, &apiErr.Body); err != nil || apiErr.Body.Error == "" {
		apiErr.Body = api.ErrorResponse{Error: string(bytes.TrimSpace(data))}
	}
	return apiErr
}
