package usecase

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/repo"
)

// ExportMetadata is the metadata.json document of a session bundle
type ExportMetadata struct {
	SessionID  string                  `json:"session_id"`
	Session    *domain.Session         `json:"session,omitempty"` // Nil once the session row is deleted
	Adjuncts   []*domain.AdjunctEvent  `json:"adjunct_events,omitempty"`
	Window     domain.DoseWindowConfig `json:"window_config"`
	ExportedAt time.Time               `json:"exported_at"`
	EventCount int                     `json:"event_count"`
	FirstSeq   int64                   `json:"first_seq"`
	LastSeq    int64                   `json:"last_seq"`
	Contiguous bool                    `json:"contiguous"`
}

// Exporter writes diagnostic bundles for troubleshooting
type Exporter struct {
	sessionRepo repo.SessionRepo
	adjunctRepo repo.AdjunctRepo
	recorder    *DiagnosticRecorder
	window      domain.DoseWindowConfig
	clock       domain.Clock
}

// NewExporter creates an exporter
func NewExporter(
	sessionRepo repo.SessionRepo,
	adjunctRepo repo.AdjunctRepo,
	recorder *DiagnosticRecorder,
	window domain.DoseWindowConfig,
	clock domain.Clock,
) *Exporter {
	return &Exporter{
		sessionRepo: sessionRepo,
		adjunctRepo: adjunctRepo,
		recorder:    recorder,
		window:      window,
		clock:       clock,
	}
}

// ExportSession writes one session's bundle as a zip archive
func (e *Exporter) ExportSession(ctx context.Context, sessionID string, w io.Writer) error {
	zw := zip.NewWriter(w)
	if err := e.writeSession(ctx, zw, sessionID, ""); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// ExportAll writes every session's bundle under its own directory
func (e *Exporter) ExportAll(ctx context.Context, w io.Writer) error {
	ids, err := e.recorder.SessionIDs(ctx)
	if err != nil {
		return fmt.Errorf("list diagnostic sessions: %w", err)
	}

	zw := zip.NewWriter(w)
	for _, id := range ids {
		if err := e.writeSession(ctx, zw, id, id+"/"); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func (e *Exporter) writeSession(ctx context.Context, zw *zip.Writer, sessionID, prefix string) error {
	events, err := e.recorder.Events(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list diagnostic events: %w", err)
	}
	session, err := e.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if session == nil && len(events) == 0 {
		return domain.Reject(domain.RejectSessionNotFound, 0, 0, "session %s not found", sessionID)
	}
	adjuncts, err := e.adjunctRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list adjunct events: %w", err)
	}

	meta := ExportMetadata{
		SessionID:  sessionID,
		Session:    session,
		Adjuncts:   adjuncts,
		Window:     e.window,
		ExportedAt: e.clock.Now().UTC(),
		EventCount: len(events),
		Contiguous: true,
	}
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			meta.Contiguous = false
		}
	}
	if len(events) > 0 {
		meta.FirstSeq = events[0].Seq
		meta.LastSeq = events[len(events)-1].Seq
	}

	mw, err := zw.Create(prefix + "metadata.json")
	if err != nil {
		return fmt.Errorf("create metadata entry: %w", err)
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	ew, err := zw.Create(prefix + "events.jsonl")
	if err != nil {
		return fmt.Errorf("create events entry: %w", err)
	}
	lines := json.NewEncoder(ew)
	for _, ev := range events {
		if err := lines.Encode(ev); err != nil {
			return fmt.Errorf("write event %d: %w", ev.Seq, err)
		}
	}
	return nil
}
