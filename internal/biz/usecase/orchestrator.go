package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/repo"
)

// TriggerReason says why the orchestrator was invoked
type TriggerReason string

const (
	ReasonDoseTaken    TriggerReason = "dose_taken"
	ReasonUserAction   TriggerReason = "user_action"
	ReasonTimerTick    TriggerReason = "timer_tick"
	ReasonAppResume    TriggerReason = "app_resume"
	ReasonNotification TriggerReason = "notification"
	ReasonObservation  TriggerReason = "observation"
	ReasonManual       TriggerReason = "manual"
)

// CreatesSession reports whether the reason may lazily open a session
func (r TriggerReason) CreatesSession() bool {
	return r == ReasonDoseTaken || r == ReasonUserAction
}

// ParseTriggerReason maps an external trigger name onto a reason
func ParseTriggerReason(s string) TriggerReason {
	switch TriggerReason(s) {
	case ReasonDoseTaken, ReasonUserAction, ReasonTimerTick, ReasonAppResume, ReasonNotification, ReasonObservation:
		return TriggerReason(s)
	}
	return ReasonManual
}

// TakeDoseRequest describes a dose action
type TakeDoseRequest struct {
	At         time.Time // Zero means now
	AllowLate  bool      // Accept Dose 2 after the window closed
	AllowExtra bool      // Accept doses past Dose 2
	SessionID  string    // Optional; must match the active session
	TimeZone   string    // Optional IANA zone used if a session is created
}

// DoseResult is returned by a successful TakeDose
type DoseResult struct {
	Event   domain.DoseEvent        `json:"event"`
	Created bool                    `json:"created"`
	Session *domain.Session         `json:"session"`
	Window  domain.WindowStatus     `json:"window"`
	Record  *domain.DiagnosticEvent `json:"-"`
}

// SnoozeResult is returned by a successful Snooze
type SnoozeResult struct {
	SessionID   string    `json:"session_id"`
	SnoozeCount int       `json:"snooze_count"`
	SnoozesLeft int       `json:"snoozes_left"`
	TargetAt    time.Time `json:"target_at"`
}

// UndoResult is returned by a successful UndoLast
type UndoResult struct {
	Action  UndoAction      `json:"action"`
	Session *domain.Session `json:"session"`
}

// BoundaryResult reports what EvaluateSessionBoundaries did
type BoundaryResult struct {
	Closed    bool                 `json:"closed"`
	SessionID string               `json:"session_id,omitempty"`
	State     domain.TerminalState `json:"state,omitempty"`
	Cutoff    *time.Time           `json:"cutoff,omitempty"`
}

// UndoStatus is the armed undo token as seen by a renderer
type UndoStatus struct {
	Action    UndoAction    `json:"action"`
	Remaining time.Duration `json:"remaining"`
}

// Status is a read-only snapshot for rendering
type Status struct {
	Session *domain.Session     `json:"session,omitempty"`
	Window  domain.WindowStatus `json:"window"`
	Cutoff  *time.Time          `json:"cutoff,omitempty"`
	Undo    *UndoStatus         `json:"undo,omitempty"`
}

// MaxClockSkew is how far a caller-supplied timestamp may run ahead of the clock
const MaxClockSkew = time.Minute

// rejectFuture refuses timestamps ahead of now beyond the skew allowance
func rejectFuture(at, now time.Time) error {
	if ahead := at.Sub(now); ahead > MaxClockSkew {
		return domain.Reject(domain.RejectFutureTimestamp, ahead, 0,
			"timestamp %s is %s in the future", at.UTC().Format(time.RFC3339), formatDuration(ahead))
	}
	return nil
}

// SessionOrchestrator is the single writer of session state.
// Every mutating operation runs under one mutex.
type SessionOrchestrator struct {
	mu sync.Mutex

	sessionRepo repo.SessionRepo
	adjunctRepo repo.AdjunctRepo
	recorder    *DiagnosticRecorder
	undo        *UndoLedger
	limiter     *RateLimiter
	sync        SyncSink // nil disables remote mirroring
	clock       domain.Clock
	window      domain.DoseWindowConfig
	night       domain.SessionConfig

	current *domain.Session
}

// NewSessionOrchestrator creates the orchestrator
func NewSessionOrchestrator(
	sessionRepo repo.SessionRepo,
	adjunctRepo repo.AdjunctRepo,
	recorder *DiagnosticRecorder,
	undo *UndoLedger,
	limiter *RateLimiter,
	syncSink SyncSink,
	clock domain.Clock,
	window domain.DoseWindowConfig,
	night domain.SessionConfig,
) *SessionOrchestrator {
	return &SessionOrchestrator{
		sessionRepo: sessionRepo,
		adjunctRepo: adjunctRepo,
		recorder:    recorder,
		undo:        undo,
		limiter:     limiter,
		sync:        syncSink,
		clock:       clock,
		window:      window,
		night:       night,
	}
}

// Load restores the active session from storage
func (o *SessionOrchestrator) Load(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	active, err := o.sessionRepo.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("load active session: %w", err)
	}
	o.current = active
	if active != nil {
		fmt.Printf("[Orchestrator] Restored active session %s (%s)\n", active.ID, active.SessionDate)
	}
	return nil
}

// WindowConfig returns the dose window in effect
func (o *SessionOrchestrator) WindowConfig() domain.DoseWindowConfig {
	return o.window
}

// ============ Queries ============

// CurrentSession returns a copy of the active session, nil if none
func (o *SessionOrchestrator) CurrentSession() *domain.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.Clone()
}

// CurrentPhase recomputes the phase of the active session at the current instant
func (o *SessionOrchestrator) CurrentPhase() domain.WindowStatus {
	s := o.CurrentSession()
	return domain.Window(s, o.clock.Now(), o.window)
}

// Status returns the active session with its derived window and undo state
func (o *SessionOrchestrator) Status() Status {
	now := o.clock.Now()
	s := o.CurrentSession()
	status := Status{
		Session: s,
		Window:  domain.Window(s, now, o.window),
	}
	if s != nil {
		if cutoff, err := domain.ExpiryCutoff(s, o.night, o.window); err == nil {
			status.Cutoff = &cutoff
		}
	}
	if action, remaining, ok := o.undo.Peek(now); ok {
		status.Undo = &UndoStatus{Action: action, Remaining: remaining}
	}
	return status
}

// Sessions lists stored sessions, newest first
func (o *SessionOrchestrator) Sessions(ctx context.Context, limit int) ([]*domain.Session, error) {
	return o.sessionRepo.List(ctx, limit)
}

// Session gets a stored session by ID
func (o *SessionOrchestrator) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := o.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, domain.Reject(domain.RejectSessionNotFound, 0, 0, "session %s not found", sessionID)
	}
	return s, nil
}

// Diagnostics lists a session's diagnostic trail
func (o *SessionOrchestrator) Diagnostics(ctx context.Context, sessionID string) ([]*domain.DiagnosticEvent, error) {
	return o.recorder.Events(ctx, sessionID)
}

// Adjuncts lists a session's adjunct events
func (o *SessionOrchestrator) Adjuncts(ctx context.Context, sessionID string) ([]*domain.AdjunctEvent, error) {
	return o.adjunctRepo.ListBySession(ctx, sessionID)
}

// ============ Session lifecycle ============

// EnsureActiveSession returns the active session ID, creating one only for
// event-triggering reasons. An empty ID means no session is active.
func (o *SessionOrchestrator) EnsureActiveSession(ctx context.Context, at time.Time, reason TriggerReason) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	if at.IsZero() {
		at = now
	}
	if _, err := o.evaluateLocked(ctx, now, reason); err != nil {
		return "", err
	}
	if o.current != nil {
		return o.current.ID, nil
	}
	if !reason.CreatesSession() {
		return "", nil
	}

	s, err := o.newSession(at, "")
	if err != nil {
		return "", err
	}
	fields := map[string]string{
		"reason":       string(reason),
		"session_date": string(s.SessionDate),
		"time_zone":    s.TimeZone,
	}
	if _, err := o.commit(ctx, nil, s, domain.KindSessionCreated, domain.LevelInfo, now, fields); err != nil {
		return "", err
	}
	fmt.Printf("[Orchestrator] Created session %s for night %s\n", s.ID, s.SessionDate)
	return s.ID, nil
}

func (o *SessionOrchestrator) newSession(at time.Time, timeZone string) (*domain.Session, error) {
	loc := o.night.Location
	if timeZone != "" {
		l, err := time.LoadLocation(timeZone)
		if err != nil {
			return nil, domain.Reject(domain.RejectInvalidTimeZone, 0, 0, "unknown time zone %q", timeZone)
		}
		loc = l
	}
	return &domain.Session{
		ID:            uuid.NewString(),
		SessionDate:   domain.ResolveSessionKey(at, o.night.RolloverHour, loc),
		TimeZone:      loc.String(),
		TargetMinutes: o.window.DefaultTargetMinutes,
		TerminalState: domain.TerminalNone,
		CreatedAt:     at.UTC(),
		UpdatedAt:     at.UTC(),
	}, nil
}

// ============ Dose actions ============

// TakeDose records the next dose for the active session, creating it if needed
func (o *SessionOrchestrator) TakeDose(ctx context.Context, req TakeDoseRequest) (*DoseResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	at := req.At
	if at.IsZero() {
		at = now
	}
	if err := rejectFuture(at, now); err != nil {
		if o.current != nil {
			return nil, o.rejectLocked(ctx, o.current.ID, "take_dose", err)
		}
		return nil, err
	}

	if _, err := o.evaluateLocked(ctx, now, ReasonDoseTaken); err != nil {
		return nil, err
	}

	if req.SessionID != "" && (o.current == nil || o.current.ID != req.SessionID) {
		s, err := o.sessionRepo.Get(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
		if s == nil {
			return nil, domain.Reject(domain.RejectSessionNotFound, 0, 0, "session %s not found", req.SessionID)
		}
		return nil, o.rejectLocked(ctx, s.ID, "take_dose",
			domain.Reject(domain.RejectSessionAlreadyTerminal, 0, 0, "session %s is %s", s.ID, s.TerminalState))
	}

	created := false
	s := o.current
	if s == nil {
		var err error
		if s, err = o.newSession(at, req.TimeZone); err != nil {
			return nil, err
		}
		created = true
	}

	if last, ok := s.LastEventAt(); ok && at.Before(last) {
		return nil, o.invariantLocked(ctx, s.ID, domain.Invariant("dose_order",
			"dose at %s precedes last recorded dose at %s", at.UTC().Format(time.RFC3339), last.Format(time.RFC3339)))
	}
	index := s.NextDoseIndex()
	if index > 1 && s.Dose1At == nil {
		return nil, o.invariantLocked(ctx, s.ID, domain.Invariant("dose1_missing",
			"session has %d dose event(s) but no Dose 1", len(s.DoseEvents)))
	}

	event := domain.DoseEvent{Index: index, TakenAt: at}
	phase := domain.CalculatePhase(s.Dose1At, s.HasCanonicalDose2(), at, o.window)

	switch {
	case index == 1:
	case index == 2:
		switch phase {
		case domain.PhaseBeforeWindow:
			until := s.Dose1At.Add(o.window.Min()).Sub(at)
			return nil, o.rejectLocked(ctx, s.ID, "take_dose",
				domain.Reject(domain.RejectWindowNotOpen, until, 0, "window opens in %s", formatDuration(until)))
		case domain.PhaseClosed:
			if !req.AllowLate {
				past := at.Sub(s.Dose1At.Add(o.window.Max()))
				return nil, o.rejectLocked(ctx, s.ID, "take_dose",
					domain.Reject(domain.RejectWindowClosedNoOverride, past, 0,
						"window closed %s ago; late override required", formatDuration(past)))
			}
			event.IsLate = true
		case domain.PhaseActive, domain.PhaseNearClose:
		default:
			return nil, o.invariantLocked(ctx, s.ID, domain.Invariant("dose2_phase",
				"unexpected phase %s for dose index 2", phase))
		}
	default:
		if !req.AllowExtra {
			return nil, o.rejectLocked(ctx, s.ID, "take_dose",
				domain.Reject(domain.RejectExtraDoseNoOverride, 0, len(s.DoseEvents),
					"%d dose(s) already recorded; extra dose override required", len(s.DoseEvents)))
		}
		event.IsExtra = true
	}

	next := s.Clone()
	next.AppendDose(event)
	next.UpdatedAt = now.UTC()

	var previous *domain.Session
	if !created {
		previous = s
	}
	fields := map[string]string{
		"index":    strconv.Itoa(index),
		"taken_at": event.TakenAt.UTC().Format(time.RFC3339Nano),
		"phase":    string(phase),
		"is_late":  strconv.FormatBool(event.IsLate),
		"is_extra": strconv.FormatBool(event.IsExtra),
		"created":  strconv.FormatBool(created),
	}
	record, err := o.commit(ctx, previous, next, domain.KindDoseTaken, domain.LevelInfo, now, fields)
	if err != nil {
		return nil, err
	}

	// The pre-action state of a lazily created session is the empty session itself
	if err := o.undo.Arm(UndoTakeDose, s, o.window.UndoWindow(), now); err != nil {
		fmt.Printf("[Orchestrator] Warning: failed to arm undo: %v\n", err)
	}

	fmt.Printf("[Orchestrator] Dose %d recorded for session %s (phase=%s late=%v extra=%v)\n",
		index, next.ID, phase, event.IsLate, event.IsExtra)
	return &DoseResult{
		Event:   next.DoseEvents[len(next.DoseEvents)-1],
		Created: created,
		Session: next.Clone(),
		Window:  domain.Window(next, now, o.window),
		Record:  record,
	}, nil
}

// Snooze advances the Dose 2 reminder by one step
func (o *SessionOrchestrator) Snooze(ctx context.Context) (*SnoozeResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	if _, err := o.evaluateLocked(ctx, now, ReasonUserAction); err != nil {
		return nil, err
	}

	s := o.current
	if s == nil {
		return nil, domain.Reject(domain.RejectNoActiveSession, 0, 0, "no active session")
	}
	left := o.window.MaxSnoozes - s.SnoozeCount
	if left <= 0 {
		return nil, o.rejectLocked(ctx, s.ID, "snooze",
			domain.Reject(domain.RejectSnoozeLimitReached, 0, 0, "all %d snoozes used", o.window.MaxSnoozes))
	}
	if s.Dose1At == nil {
		return nil, o.rejectLocked(ctx, s.ID, "snooze",
			domain.Reject(domain.RejectNoDose1Yet, 0, left, "Dose 1 not recorded"))
	}
	if s.HasCanonicalDose2() {
		return nil, o.rejectLocked(ctx, s.ID, "snooze",
			domain.Reject(domain.RejectDose2AlreadyTaken, 0, left, "Dose 2 already recorded"))
	}

	remaining := s.Dose1At.Add(o.window.Max()).Sub(now)
	if remaining < o.window.NearClose() {
		if remaining < 0 {
			remaining = 0
		}
		return nil, o.rejectLocked(ctx, s.ID, "snooze",
			domain.Reject(domain.RejectSnoozeTooCloseToClose, remaining, left,
				"only %s left in the window", formatDuration(remaining)))
	}

	next := s.Clone()
	target := next.TargetMinutes
	if target == 0 {
		target = o.window.DefaultTargetMinutes
	}
	target += o.window.SnoozeStepMinutes
	if target > o.window.MaxMinutes {
		target = o.window.MaxMinutes
	}
	next.TargetMinutes = target
	next.SnoozeCount++
	next.UpdatedAt = now.UTC()

	targetAt := next.TargetAt(o.window)
	fields := map[string]string{
		"snooze_count":   strconv.Itoa(next.SnoozeCount),
		"target_minutes": strconv.Itoa(target),
		"target_at":      targetAt.Format(time.RFC3339),
	}
	if _, err := o.commit(ctx, s, next, domain.KindSnoozed, domain.LevelInfo, now, fields); err != nil {
		return nil, err
	}
	if err := o.undo.Arm(UndoSnooze, s, o.window.UndoWindow(), now); err != nil {
		fmt.Printf("[Orchestrator] Warning: failed to arm undo: %v\n", err)
	}

	return &SnoozeResult{
		SessionID:   next.ID,
		SnoozeCount: next.SnoozeCount,
		SnoozesLeft: o.window.MaxSnoozes - next.SnoozeCount,
		TargetAt:    targetAt,
	}, nil
}

// SkipDose2 closes the active session as skipped
func (o *SessionOrchestrator) SkipDose2(ctx context.Context, reason string) (*domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	if _, err := o.evaluateLocked(ctx, now, ReasonUserAction); err != nil {
		return nil, err
	}

	s := o.current
	if s == nil {
		return nil, domain.Reject(domain.RejectNoActiveSession, 0, 0, "no active session")
	}
	switch phase := domain.CalculatePhase(s.Dose1At, s.HasCanonicalDose2(), now, o.window); phase {
	case domain.PhaseNoDose1:
		return nil, o.rejectLocked(ctx, s.ID, "skip",
			domain.Reject(domain.RejectNoDose1Yet, 0, 0, "Dose 1 not recorded"))
	case domain.PhaseBeforeWindow:
		until := s.Dose1At.Add(o.window.Min()).Sub(now)
		return nil, o.rejectLocked(ctx, s.ID, "skip",
			domain.Reject(domain.RejectWindowNotOpen, until, 0, "window opens in %s", formatDuration(until)))
	case domain.PhaseCompleted:
		return nil, o.rejectLocked(ctx, s.ID, "skip",
			domain.Reject(domain.RejectDose2AlreadyTaken, 0, 0, "Dose 2 already recorded"))
	}

	next := s.Clone()
	next.Close(domain.TerminalSkipped, reason, now)
	fields := map[string]string{"reason": reason}
	if _, err := o.commit(ctx, s, next, domain.KindDose2Skipped, domain.LevelInfo, now, fields); err != nil {
		return nil, err
	}
	o.undo.Clear()

	fmt.Printf("[Orchestrator] Dose 2 skipped for session %s: %s\n", next.ID, reason)
	return next.Clone(), nil
}

// UndoLast restores the snapshot taken before the most recent take or snooze
func (o *SessionOrchestrator) UndoLast(ctx context.Context) (*UndoResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	token, err := o.undo.TryConsume(now)
	if err != nil {
		if o.current != nil {
			return nil, o.rejectLocked(ctx, o.current.ID, "undo", err)
		}
		return nil, err
	}

	restored, err := domain.DecodeSnapshot(token.Snapshot)
	if err != nil {
		return nil, o.invariantLocked(ctx, token.SessionID, domain.Invariant("undo_snapshot", "%v", err))
	}
	if o.current == nil || o.current.ID != token.SessionID {
		return nil, o.rejectLocked(ctx, token.SessionID, "undo",
			domain.Reject(domain.RejectSessionAlreadyTerminal, 0, 0, "session %s closed after the action", token.SessionID))
	}

	fields := map[string]string{
		"action":       string(token.Action),
		"dose_events":  strconv.Itoa(len(restored.DoseEvents)),
		"snooze_count": strconv.Itoa(restored.SnoozeCount),
	}
	if _, err := o.commit(ctx, o.current, restored, domain.KindUndoApplied, domain.LevelInfo, now, fields); err != nil {
		return nil, err
	}

	fmt.Printf("[Orchestrator] Undid %s for session %s\n", token.Action, restored.ID)
	return &UndoResult{Action: token.Action, Session: restored.Clone()}, nil
}

// CompleteSession closes the active session once Dose 2 is recorded
func (o *SessionOrchestrator) CompleteSession(ctx context.Context) (*domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	if _, err := o.evaluateLocked(ctx, now, ReasonUserAction); err != nil {
		return nil, err
	}

	s := o.current
	if s == nil {
		return nil, domain.Reject(domain.RejectNoActiveSession, 0, 0, "no active session")
	}
	if s.Dose1At == nil {
		return nil, o.rejectLocked(ctx, s.ID, "complete",
			domain.Reject(domain.RejectNoDose1Yet, 0, 0, "Dose 1 not recorded"))
	}
	if !s.HasCanonicalDose2() {
		left := s.Dose1At.Add(o.window.Max()).Sub(now)
		if left < 0 {
			left = 0
		}
		return nil, o.rejectLocked(ctx, s.ID, "complete",
			domain.Reject(domain.RejectDose2NotTaken, left, 0, "take or skip Dose 2 first; %s left in the window", formatDuration(left)))
	}

	next := s.Clone()
	next.Close(domain.TerminalCompleted, "user", now)
	fields := map[string]string{
		"trigger": "user",
		"late":    strconv.FormatBool(next.Dose2().IsLate),
	}
	if _, err := o.commit(ctx, s, next, domain.KindSessionCompleted, domain.LevelInfo, now, fields); err != nil {
		return nil, err
	}
	o.undo.Clear()

	fmt.Printf("[Orchestrator] Session %s completed\n", next.ID)
	return next.Clone(), nil
}

// AbortSession closes the active session as aborted
func (o *SessionOrchestrator) AbortSession(ctx context.Context, reason string) (*domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	if _, err := o.evaluateLocked(ctx, now, ReasonUserAction); err != nil {
		return nil, err
	}
	s := o.current
	if s == nil {
		return nil, domain.Reject(domain.RejectNoActiveSession, 0, 0, "no active session")
	}

	next := s.Clone()
	next.Close(domain.TerminalAborted, reason, now)
	fields := map[string]string{"reason": reason}
	if _, err := o.commit(ctx, s, next, domain.KindSessionAborted, domain.LevelWarning, now, fields); err != nil {
		return nil, err
	}
	o.undo.Clear()

	fmt.Printf("[Orchestrator] Session %s aborted: %s\n", next.ID, reason)
	return next.Clone(), nil
}

// EvaluateSessionBoundaries force-closes the active session once its cutoff passed.
// Safe to call redundantly from any trigger.
func (o *SessionOrchestrator) EvaluateSessionBoundaries(ctx context.Context, reason TriggerReason) (*BoundaryResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.evaluateLocked(ctx, o.clock.Now(), reason)
}

func (o *SessionOrchestrator) evaluateLocked(ctx context.Context, now time.Time, reason TriggerReason) (*BoundaryResult, error) {
	s := o.current
	if s == nil {
		return &BoundaryResult{}, nil
	}

	cutoff, err := domain.ExpiryCutoff(s, o.night, o.window)
	if err != nil {
		return nil, o.invariantLocked(ctx, s.ID, domain.Invariant("expiry_cutoff", "%v", err))
	}
	if now.Before(cutoff) {
		return &BoundaryResult{SessionID: s.ID, Cutoff: &cutoff}, nil
	}

	state := domain.TerminalExpired
	kind := domain.KindSessionExpired
	if s.HasCanonicalDose2() {
		state = domain.TerminalCompleted
		kind = domain.KindSessionCompleted
	}

	next := s.Clone()
	next.Close(state, "cutoff", now)
	fields := map[string]string{
		"trigger": string(reason),
		"cutoff":  cutoff.UTC().Format(time.RFC3339),
	}
	if d2 := next.Dose2(); d2 != nil {
		fields["late"] = strconv.FormatBool(d2.IsLate)
	}
	if _, err := o.commit(ctx, s, next, kind, domain.LevelInfo, now, fields); err != nil {
		return nil, err
	}
	o.undo.Clear()

	fmt.Printf("[Orchestrator] Session %s closed as %s at cutoff (trigger=%s)\n", next.ID, state, reason)
	return &BoundaryResult{Closed: true, SessionID: next.ID, State: state, Cutoff: &cutoff}, nil
}

// ============ Adjunct events ============

// LogAdjunct records a rate-limited contextual event
func (o *SessionOrchestrator) LogAdjunct(ctx context.Context, kind string, at time.Time, note string) (*domain.AdjunctEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	k, err := domain.ParseAdjunctKind(kind)
	if err != nil {
		return nil, domain.Reject(domain.RejectUnknownEventKind, 0, 0, "%v", err)
	}

	now := o.clock.Now()
	if at.IsZero() {
		at = now
	}
	if err := rejectFuture(at, now); err != nil {
		return nil, err
	}
	if _, err := o.evaluateLocked(ctx, now, ReasonUserAction); err != nil {
		return nil, err
	}
	if remaining := o.limiter.Remaining(k, at); remaining > 0 {
		return nil, domain.Reject(domain.RejectRateLimited, remaining, 0,
			"%s logged recently; try again in %s", k, formatDuration(remaining))
	}

	event := &domain.AdjunctEvent{
		ID:   uuid.NewString(),
		Kind: k,
		At:   at.UTC(),
		Note: note,
	}
	if s := o.current; s != nil {
		event.SessionID = s.ID
		event.SessionDate = s.SessionDate
	} else {
		event.SessionDate = domain.ResolveSessionKey(at, o.night.RolloverHour, o.night.Location)
	}

	if err := o.adjunctRepo.Add(ctx, event); err != nil {
		return nil, err
	}
	o.limiter.Register(k, at)

	if event.SessionID != "" {
		fields := map[string]string{"kind": string(k), "adjunct_id": event.ID}
		record, err := o.recorder.Record(ctx, event.SessionID, domain.KindAdjunctLogged, domain.LevelInfo, now, fields)
		if err != nil {
			fmt.Printf("[Orchestrator] Warning: failed to record adjunct event: %v\n", err)
		} else {
			o.enqueueSync(record, o.current)
		}
	}
	return event, nil
}

// ============ Maintenance ============

// DeleteSession removes a closed session and its adjunct events.
// The diagnostic trail is kept.
func (o *SessionOrchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, err := o.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return domain.Reject(domain.RejectSessionNotFound, 0, 0, "session %s not found", sessionID)
	}
	if s.IsActive() {
		return domain.Reject(domain.RejectSessionStillActive, 0, 0, "close session %s before deleting it", sessionID)
	}

	if o.sync != nil {
		if err := o.sync.CancelSession(ctx, sessionID); err != nil {
			fmt.Printf("[Orchestrator] Warning: failed to cancel sync for %s: %v\n", sessionID, err)
		}
	}
	removed, err := o.adjunctRepo.DeleteBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := o.sessionRepo.Delete(ctx, sessionID); err != nil {
		return err
	}

	now := o.clock.Now()
	fields := map[string]string{"adjunct_events": strconv.FormatInt(removed, 10)}
	if _, err := o.recorder.Record(ctx, sessionID, domain.KindSessionDeleted, domain.LevelWarning, now, fields); err != nil {
		fmt.Printf("[Orchestrator] Warning: failed to record deletion of %s: %v\n", sessionID, err)
	}

	fmt.Printf("[Orchestrator] Deleted session %s (%d adjunct events)\n", sessionID, removed)
	return nil
}

// RecordSyncOutcome logs a permanently failed remote submission
func (o *SessionOrchestrator) RecordSyncOutcome(ctx context.Context, task *domain.SyncTask) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	fields := map[string]string{
		"idempotency_key": task.IdempotencyKey,
		"attempts":        strconv.Itoa(task.Attempts),
		"last_error":      task.LastError,
	}
	_, err := o.recorder.Record(ctx, task.SessionID, domain.KindSyncFailed, domain.LevelError, o.clock.Now(), fields)
	return err
}

// ============ Internal ============

// commit persists next, appends one diagnostic event, then publishes the new state.
// If the append fails the previous snapshot is written back.
func (o *SessionOrchestrator) commit(
	ctx context.Context,
	previous, next *domain.Session,
	kind domain.DiagnosticKind,
	level domain.DiagnosticLevel,
	now time.Time,
	fields map[string]string,
) (*domain.DiagnosticEvent, error) {
	next.Normalize()
	if err := o.sessionRepo.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	record, err := o.recorder.Record(ctx, next.ID, kind, level, now, fields)
	if err != nil {
		var rbErr error
		if previous != nil {
			rbErr = o.sessionRepo.Put(ctx, previous)
		} else {
			rbErr = o.sessionRepo.Delete(ctx, next.ID)
		}
		if rbErr != nil {
			fmt.Printf("[Orchestrator] Warning: rollback of session %s failed: %v\n", next.ID, rbErr)
		}
		return nil, fmt.Errorf("record %s: %w", kind, err)
	}

	if next.IsActive() {
		o.current = next
	} else {
		o.current = nil
	}
	o.enqueueSync(record, next)
	return record, nil
}

func (o *SessionOrchestrator) enqueueSync(record *domain.DiagnosticEvent, s *domain.Session) {
	if o.sync == nil || record == nil {
		return
	}
	payload := domain.SyncPayload{
		SessionID:  record.SessionID,
		Seq:        record.Seq,
		Kind:       record.Kind,
		OccurredAt: record.Timestamp,
	}
	if s != nil {
		if snapshot, err := domain.EncodeSnapshot(s); err == nil {
			payload.Session = snapshot
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Printf("[Orchestrator] Warning: failed to encode sync payload: %v\n", err)
		return
	}
	o.sync.Enqueue(&domain.SyncTask{
		ID:             uuid.NewString(),
		SessionID:      record.SessionID,
		IdempotencyKey: domain.IdempotencyKey(record.SessionID, record.Seq),
		Payload:        data,
		Status:         domain.SyncPending,
	})
}

// rejectLocked records a rejection on the session trail and returns it unchanged
func (o *SessionOrchestrator) rejectLocked(ctx context.Context, sessionID, action string, err error) error {
	rej, ok := domain.AsRejected(err)
	if !ok {
		return err
	}
	fields := map[string]string{
		"action":          action,
		"reason":          string(rej.Reason),
		"remaining":       rej.Remaining.String(),
		"remaining_count": strconv.Itoa(rej.RemainingCount),
	}
	if _, rerr := o.recorder.Record(ctx, sessionID, domain.KindActionRejected, domain.LevelWarning, o.clock.Now(), fields); rerr != nil {
		fmt.Printf("[Orchestrator] Warning: failed to record rejection: %v\n", rerr)
	}
	return err
}

// invariantLocked logs a defect at invariant level and fails the operation closed
func (o *SessionOrchestrator) invariantLocked(ctx context.Context, sessionID string, inv *domain.InvariantError) error {
	fmt.Printf("[Orchestrator] INVARIANT %s: %s\n", inv.Check, inv.Detail)
	fields := map[string]string{"check": inv.Check, "detail": inv.Detail}
	if _, err := o.recorder.Record(ctx, sessionID, domain.KindInvariantViolation, domain.LevelInvariant, o.clock.Now(), fields); err != nil {
		fmt.Printf("[Orchestrator] Warning: failed to record invariant violation: %v\n", err)
	}
	return inv
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	return d.Round(time.Minute).String()
}

// IsStorageError reports whether err is a durable write failure
func IsStorageError(err error) bool {
	var se *domain.StorageError
	return errors.As(err, &se)
}
