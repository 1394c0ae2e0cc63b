package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nightdose/nightdose/internal/api"
	"github.com/nightdose/nightdose/internal/biz/domain"
)

// Server exposes the dose actions as MCP tools backed by the daemon API
type Server struct {
	server *sdk.Server
	client *Client
}

// NewServer creates the MCP server and registers its tools
func NewServer(client *Client, version string) *Server {
	s := &Server{
		server: sdk.NewServer(&sdk.Implementation{
			Name:    "nightdose",
			Version: version,
		}, nil),
		client: client,
	}
	s.registerTools()
	return s
}

// Run serves the tools over stdio until the client disconnects
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "dose_status",
		Description: "Get the current night session, the Dose 2 window phase, time remaining and whether an undo is available.",
	}, s.handleStatus)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "dose_take",
		Description: "Record the next dose. The first call of a night records Dose 1 and opens the session. Dose 2 is only accepted inside the window unless allow_late is set.",
	}, s.handleTakeDose)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "dose_snooze",
		Description: "Push the Dose 2 reminder back by one snooze step. Limited per night and refused near the window close.",
	}, s.handleSnooze)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "dose_skip",
		Description: "Skip Dose 2 and close tonight's session.",
	}, s.handleSkip)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "dose_undo",
		Description: "Undo the most recent dose or snooze. Only available for a few seconds after the action.",
	}, s.handleUndo)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "dose_complete",
		Description: "Close tonight's session after Dose 2 was taken.",
	}, s.handleComplete)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "dose_log_event",
		Description: "Log a night event: bathroom, water, snack, lights_out, wake_final, wake_temp, anxiety, pain, noise, temperature or note.",
	}, s.handleLogEvent)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "dose_history",
		Description: "List recent night sessions, newest first.",
	}, s.handleHistory)
}

// ActionOutput is the common result of an action tool
type ActionOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	// Populated on refusal so the agent can tell the user when to retry
	Reason           string  `json:"reason,omitempty"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	RemainingCount   int     `json:"remaining_count"`
}

// actionResult turns a rejection into a structured refusal; other errors fail the tool call
func actionResult(message string, err error) (*sdk.CallToolResult, ActionOutput, error) {
	if err == nil {
		return nil, ActionOutput{Success: true, Message: message}, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Rejected() {
		return nil, ActionOutput{
			Success:          false,
			Message:          apiErr.Body.Error,
			Reason:           apiErr.Body.Reason,
			RemainingSeconds: apiErr.Body.RemainingSeconds,
			RemainingCount:   apiErr.Body.RemainingCount,
		}, nil
	}
	return nil, ActionOutput{}, err
}

// StatusInput is empty - no input needed
type StatusInput struct{}

// StatusOutput describes tonight's session
type StatusOutput struct {
	SessionID        string   `json:"session_id,omitempty"`
	Phase            string   `json:"phase"`
	Dose1At          string   `json:"dose1_at,omitempty"`
	Doses            int      `json:"doses"`
	WindowOpensAt    string   `json:"window_opens_at,omitempty"`
	WindowClosesAt   string   `json:"window_closes_at,omitempty"`
	TargetAt         string   `json:"target_at,omitempty"`
	MinutesUntilOpen float64  `json:"minutes_until_open,omitempty"`
	MinutesToClose   float64  `json:"minutes_to_close,omitempty"`
	SnoozesLeft      int      `json:"snoozes_left"`
	UndoAvailable    string   `json:"undo_available,omitempty"`
	AutoCloseAt      string   `json:"auto_close_at,omitempty"`
	Notes            []string `json:"notes,omitempty"`
}

func (s *Server) handleStatus(ctx context.Context, req *sdk.CallToolRequest, input StatusInput) (*sdk.CallToolResult, StatusOutput, error) {
	status, err := s.client.Status(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}

	out := StatusOutput{
		Phase:       string(status.Window.Phase),
		SnoozesLeft: status.Window.SnoozesLeft,
	}
	if sess := status.Session; sess != nil {
		out.SessionID = sess.ID
		out.Doses = len(sess.DoseEvents)
		if sess.Dose1At != nil {
			out.Dose1At = formatTime(*sess.Dose1At)
		}
	} else {
		out.Notes = append(out.Notes, "No session tonight yet; taking Dose 1 starts one.")
	}
	if status.Window.OpensAt != nil {
		out.WindowOpensAt = formatTime(*status.Window.OpensAt)
	}
	if status.Window.ClosesAt != nil {
		out.WindowClosesAt = formatTime(*status.Window.ClosesAt)
	}
	if status.Window.TargetAt != nil {
		out.TargetAt = formatTime(*status.Window.TargetAt)
	}
	out.MinutesUntilOpen = status.Window.UntilOpen.Minutes()
	out.MinutesToClose = status.Window.UntilClose.Minutes()
	if status.Cutoff != nil {
		out.AutoCloseAt = formatTime(*status.Cutoff)
	}
	if status.Undo != nil {
		out.UndoAvailable = fmt.Sprintf("%s (%.0fs left)", status.Undo.Action, status.Undo.Remaining.Seconds())
	}
	return nil, out, nil
}

// TakeDoseInput is the input for dose_take
type TakeDoseInput struct {
	AllowLate  bool   `json:"allow_late,omitempty" jsonschema:"Accept Dose 2 after the window closed. Only set when the user explicitly confirms a late dose."`
	AllowExtra bool   `json:"allow_extra,omitempty" jsonschema:"Accept a dose after Dose 2. Only set when the user explicitly confirms an extra dose."`
	TimeZone   string `json:"time_zone,omitempty" jsonschema:"IANA time zone for a newly created session, e.g. America/Chicago"`
}

func (s *Server) handleTakeDose(ctx context.Context, req *sdk.CallToolRequest, input TakeDoseInput) (*sdk.CallToolResult, ActionOutput, error) {
	result, err := s.client.TakeDose(ctx, api.DoseRequest{
		AllowLate:  input.AllowLate,
		AllowExtra: input.AllowExtra,
		TimeZone:   input.TimeZone,
	})
	if err != nil {
		return actionResult("", err)
	}
	return actionResult(describeDose(result.Event), nil)
}

func describeDose(e domain.DoseEvent) string {
	at := formatTime(e.TakenAt)
	switch {
	case e.Index == 1:
		return "Dose 1 recorded at " + at
	case e.IsExtra:
		return fmt.Sprintf("Extra dose #%d recorded at %s", e.Index, at)
	case e.IsLate:
		return "Late Dose 2 recorded at " + at
	default:
		return "Dose 2 recorded at " + at
	}
}

// SnoozeInput is empty - no input needed
type SnoozeInput struct{}

func (s *Server) handleSnooze(ctx context.Context, req *sdk.CallToolRequest, input SnoozeInput) (*sdk.CallToolResult, ActionOutput, error) {
	result, err := s.client.Snooze(ctx)
	if err != nil {
		return actionResult("", err)
	}
	return actionResult(fmt.Sprintf("Reminder moved to %s (%d snoozes left)",
		formatTime(result.TargetAt), result.SnoozesLeft), nil)
}

// ReasonInput carries an optional free-text reason
type ReasonInput struct {
	Reason string `json:"reason,omitempty" jsonschema:"Why the user is skipping, in their words"`
}

func (s *Server) handleSkip(ctx context.Context, req *sdk.CallToolRequest, input ReasonInput) (*sdk.CallToolResult, ActionOutput, error) {
	if _, err := s.client.Skip(ctx, input.Reason); err != nil {
		return actionResult("", err)
	}
	return actionResult("Dose 2 skipped; session closed", nil)
}

// UndoInput is empty - no input needed
type UndoInput struct{}

func (s *Server) handleUndo(ctx context.Context, req *sdk.CallToolRequest, input UndoInput) (*sdk.CallToolResult, ActionOutput, error) {
	result, err := s.client.Undo(ctx)
	if err != nil {
		return actionResult("", err)
	}
	return actionResult(fmt.Sprintf("Undid %s", result.Action), nil)
}

// CompleteInput is empty - no input needed
type CompleteInput struct{}

func (s *Server) handleComplete(ctx context.Context, req *sdk.CallToolRequest, input CompleteInput) (*sdk.CallToolResult, ActionOutput, error) {
	if _, err := s.client.Complete(ctx); err != nil {
		return actionResult("", err)
	}
	return actionResult("Session completed", nil)
}

// LogEventInput is the input for dose_log_event
type LogEventInput struct {
	Kind string `json:"kind" jsonschema:"Event kind: bathroom, water, snack, lights_out, wake_final, wake_temp, anxiety, pain, noise, temperature or note"`
	Note string `json:"note,omitempty" jsonschema:"Optional free-text note"`
}

func (s *Server) handleLogEvent(ctx context.Context, req *sdk.CallToolRequest, input LogEventInput) (*sdk.CallToolResult, ActionOutput, error) {
	event, err := s.client.LogAdjunct(ctx, input.Kind, input.Note)
	if err != nil {
		return actionResult("", err)
	}
	return actionResult(fmt.Sprintf("Logged %s at %s", event.Kind, formatTime(event.At)), nil)
}

// HistoryInput is the input for dose_history
type HistoryInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of sessions to return (default 7)"`
}

// HistoryEntry summarizes one night
type HistoryEntry struct {
	SessionID string `json:"session_id"`
	Night     string `json:"night"`
	State     string `json:"state"`
	Dose1At   string `json:"dose1_at,omitempty"`
	Dose2At   string `json:"dose2_at,omitempty"`
	Interval  string `json:"interval,omitempty"`
	Snoozes   int    `json:"snoozes"`
}

// HistoryOutput lists recent nights
type HistoryOutput struct {
	Sessions []HistoryEntry `json:"sessions"`
}

func (s *Server) handleHistory(ctx context.Context, req *sdk.CallToolRequest, input HistoryInput) (*sdk.CallToolResult, HistoryOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 7
	}
	sessions, err := s.client.Sessions(ctx, limit)
	if err != nil {
		return nil, HistoryOutput{}, err
	}

	out := HistoryOutput{Sessions: []HistoryEntry{}}
	for _, sess := range sessions {
		entry := HistoryEntry{
			SessionID: sess.ID,
			Night:     string(sess.SessionDate),
			State:     string(sess.TerminalState),
			Snoozes:   sess.SnoozeCount,
		}
		if sess.Dose1At != nil {
			entry.Dose1At = formatTime(*sess.Dose1At)
			if d2 := sess.Dose2(); d2 != nil {
				entry.Dose2At = formatTime(d2.TakenAt)
				entry.Interval = d2.TakenAt.Sub(*sess.Dose1At).Round(time.Minute).String()
			}
		}
		out.Sessions = append(out.Sessions, entry)
	}
	return nil, out, nil
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
