package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/usecase"
	"github.com/nightdose/nightdose/internal/mcp"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E")).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAAD14"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4A4A4A")).
			Padding(0, 1)
)

var phaseLabels = map[domain.Phase]string{
	domain.PhaseNoDose1:      "waiting for Dose 1",
	domain.PhaseBeforeWindow: "window not open yet",
	domain.PhaseActive:       "window open",
	domain.PhaseNearClose:    "window closing soon",
	domain.PhaseClosed:       "window closed",
	domain.PhaseCompleted:    "Dose 2 taken",
}

func phaseStyle(p domain.Phase) lipgloss.Style {
	switch p {
	case domain.PhaseActive, domain.PhaseCompleted:
		return okStyle
	case domain.PhaseNearClose:
		return warnStyle
	case domain.PhaseClosed:
		return errorStyle
	default:
		return lipgloss.NewStyle()
	}
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func clockTime(t time.Time) string {
	return t.Local().Format("15:04")
}

func renderStatus(status *usecase.Status, now time.Time) string {
	w := status.Window
	lines := []string{
		titleStyle.Render("Tonight"),
		row("phase", phaseStyle(w.Phase).Render(phaseLabels[w.Phase])),
	}

	s := status.Session
	if s == nil {
		lines = append(lines, row("session", "none yet; `dosectl take` records Dose 1"))
		return cardStyle.Render(strings.Join(lines, "\n"))
	}

	lines = append(lines, row("session", fmt.Sprintf("%s (%s)", s.ID, s.SessionDate)))
	if s.Dose1At != nil {
		lines = append(lines, row("dose 1", clockTime(*s.Dose1At)))
	}
	if d2 := s.Dose2(); d2 != nil {
		label := clockTime(d2.TakenAt)
		if d2.IsLate {
			label += warnStyle.Render(" (late)")
		}
		lines = append(lines, row("dose 2", label))
	}
	if w.OpensAt != nil && w.ClosesAt != nil {
		lines = append(lines, row("window", fmt.Sprintf("%s - %s", clockTime(*w.OpensAt), clockTime(*w.ClosesAt))))
	}
	switch w.Phase {
	case domain.PhaseBeforeWindow:
		lines = append(lines, row("opens in", formatRemaining(w.UntilOpen)))
	case domain.PhaseActive, domain.PhaseNearClose:
		lines = append(lines, row("closes in", phaseStyle(w.Phase).Render(formatRemaining(w.UntilClose))))
	}
	if w.TargetAt != nil && !s.HasCanonicalDose2() {
		lines = append(lines, row("target", fmt.Sprintf("%s (%d snoozes left)", clockTime(*w.TargetAt), w.SnoozesLeft)))
	}
	if status.Undo != nil {
		lines = append(lines, row("undo", fmt.Sprintf("%s, %s left", status.Undo.Action, formatRemaining(status.Undo.Remaining))))
	}
	if status.Cutoff != nil && status.Cutoff.After(now) {
		lines = append(lines, row("auto-close", fmt.Sprintf("%s (%s)",
			status.Cutoff.Local().Format("Mon 15:04"), humanize.RelTime(*status.Cutoff, now, "ago", "from now"))))
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func renderDose(result *usecase.DoseResult) string {
	e := result.Event
	at := clockTime(e.TakenAt)
	switch {
	case e.Index == 1:
		msg := "Dose 1 at " + at
		if w := result.Window; w.OpensAt != nil {
			msg += fmt.Sprintf("; window opens %s", clockTime(*w.OpensAt))
		}
		return okStyle.Render(msg)
	case e.IsExtra:
		return warnStyle.Render(fmt.Sprintf("extra dose #%d at %s", e.Index, at))
	case e.IsLate:
		return warnStyle.Render("late Dose 2 at " + at)
	default:
		return okStyle.Render("Dose 2 at " + at)
	}
}

func renderClosed(s *domain.Session) string {
	if s == nil {
		return "session closed"
	}
	msg := fmt.Sprintf("session %s closed as %s", s.ID, s.TerminalState)
	if s.TerminalReason != "" {
		msg += ": " + s.TerminalReason
	}
	return okStyle.Render(msg)
}

func renderHistory(sessions []*domain.Session) string {
	sorted := append([]*domain.Session(nil), sessions...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })

	lines := []string{titleStyle.Render(fmt.Sprintf("%-12s %-10s %-6s %-6s %-8s %s", "night", "state", "dose1", "dose2", "interval", "snoozes"))}
	for _, s := range sorted {
		dose1, dose2, interval := "-", "-", "-"
		if s.Dose1At != nil {
			dose1 = clockTime(*s.Dose1At)
			if d2 := s.Dose2(); d2 != nil {
				dose2 = clockTime(d2.TakenAt)
				interval = formatRemaining(d2.TakenAt.Sub(*s.Dose1At))
			}
		}
		state := string(s.TerminalState)
		if s.IsActive() {
			state = "open"
		}
		lines = append(lines, fmt.Sprintf("%-12s %-10s %-6s %-6s %-8s %d", s.SessionDate, state, dose1, dose2, interval, s.SnoozeCount))
	}
	return strings.Join(lines, "\n")
}

func renderDiagnostic(e *domain.DiagnosticEvent) string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var fields []string
	for _, k := range keys {
		fields = append(fields, k+"="+e.Fields[k])
	}

	style := lipgloss.NewStyle()
	switch e.Level {
	case domain.LevelWarning:
		style = warnStyle
	case domain.LevelError, domain.LevelInvariant:
		style = errorStyle
	}
	return fmt.Sprintf("%4d %s %s %s", e.Seq, e.Timestamp.Local().Format("01-02 15:04:05"),
		style.Render(string(e.Kind)), strings.Join(fields, " "))
}

func renderError(err error) string {
	var apiErr *mcp.APIError
	if errors.As(err, &apiErr) && apiErr.Rejected() {
		msg := apiErr.Body.Error
		if apiErr.Body.RemainingSeconds > 0 {
			msg += fmt.Sprintf(" [%s]", formatRemaining(time.Duration(apiErr.Body.RemainingSeconds*float64(time.Second))))
		}
		return warnStyle.Render(msg)
	}
	return errorStyle.Render("error: " + err.Error())
}

// formatRemaining renders a duration as 2h05m, 12m or 45s
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	d = d.Round(time.Second)
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
