package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nightdose/nightdose/internal/api"
	"github.com/nightdose/nightdose/internal/mcp"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var apiURL string
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "dosectl",
		Short:         "Control the nightdose daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultURL := os.Getenv("NIGHTDOSE_API_URL")
	if defaultURL == "" {
		defaultURL = "http://127.0.0.1:8765"
	}
	root.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "nightdose daemon API URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	env := &cliEnv{apiURL: &apiURL, timeout: &timeout}
	root.AddCommand(
		newStatusCmd(env),
		newStartCmd(env),
		newTakeCmd(env),
		newSnoozeCmd(env),
		newSkipCmd(env),
		newUndoCmd(env),
		newCompleteCmd(env),
		newAbortCmd(env),
		newLogCmd(env),
		newHistoryCmd(env),
		newDiagCmd(env),
		newExportCmd(env),
		newDeleteCmd(env),
		newEvaluateCmd(env),
		newSyncCmd(env),
	)
	return root
}

type cliEnv struct {
	apiURL  *string
	timeout *time.Duration
}

func (e *cliEnv) client() *mcp.Client {
	return mcp.NewClient(strings.TrimRight(*e.apiURL, "/"))
}

func (e *cliEnv) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), *e.timeout)
}

func newStatusCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tonight's session and the Dose 2 window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := env.context()
			defer cancel()
			status, err := env.client().Status(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderStatus(status, time.Now()))
			return nil
		},
	}
}

func newStartCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Open tonight's session without recording a dose",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := env.context()
			defer cancel()
			id, err := env.client().StartSession(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("session "+id))
			return nil
		},
	}
}

func newTakeCmd(env *cliEnv) *cobra.Command {
	var req api.DoseRequest
	var at string

	cmd := &cobra.Command{
		Use:   "take",
		Short: "Record the next dose",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if at != "" {
				t, err := parseAt(at, time.Now())
				if err != nil {
					return err
				}
				req.At = &t
			}
			ctx, cancel := env.context()
			defer cancel()
			result, err := env.client().TakeDose(ctx, req)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderDose(result))
			return nil
		},
	}
	cmd.Flags().BoolVar(&req.AllowLate, "late", false, "accept Dose 2 after the window closed")
	cmd.Flags().BoolVar(&req.AllowExtra, "extra", false, "accept a dose after Dose 2")
	cmd.Flags().StringVar(&req.TimeZone, "tz", "", "IANA time zone for a new session")
	cmd.Flags().StringVar(&at, "at", "", "dose time as HH:MM (today) or RFC3339")
	return cmd
}

func newSnoozeCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "snooze",
		Short: "Push the Dose 2 reminder back one step",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := env.context()
			defer cancel()
			result, err := env.client().Snooze(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("reminder moved to %s, %d snoozes left",
				result.TargetAt.Local().Format("15:04"), result.SnoozesLeft)))
			return nil
		},
	}
}

func newSkipCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "skip [reason]",
		Short: "Skip Dose 2 and close the session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := env.context()
			defer cancel()
			session, err := env.client().Skip(ctx, firstArg(args))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderClosed(session))
			return nil
		},
	}
}

func newUndoCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Undo the last dose or snooze",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := env.context()
			defer cancel()
			result, err := env.client().Undo(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("undid "+string(result.Action)))
			return nil
		},
	}
}

func newCompleteCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "complete",
		Short: "Close the session after Dose 2",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := env.context()
			defer cancel()
			session, err := env.client().Complete(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderClosed(session))
			return nil
		},
	}
}

func newAbortCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "abort [reason]",
		Short: "Abandon tonight's session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := env.context()
			defer cancel()
			session, err := env.client().Abort(ctx, firstArg(args))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderClosed(session))
			return nil
		},
	}
}

func newLogCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "log <kind> [note]",
		Short: "Log a night event (bathroom, water, snack, lights_out, wake_final, ...)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := env.context()
			defer cancel()
			note := ""
			if len(args) > 1 {
				note = args[1]
			}
			event, err := env.client().LogAdjunct(ctx, args[0], note)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("logged %s at %s",
				event.Kind, event.At.Local().Format("15:04"))))
			return nil
		},
	}
}

func newHistoryCmd(env *cliEnv) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := env.context()
			defer cancel()
			sessions, err := env.client().Sessions(ctx, limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderHistory(sessions))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 14, "number of sessions")
	return cmd
}

func newDiagCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "diag <session-id>",
		Short: "Print a session's diagnostic trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := env.context()
			defer cancel()
			events, err := env.client().Diagnostics(ctx, args[0])
			if err != nil {
				return err
			}
			for _, e := range events {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderDiagnostic(e))
			}
			return nil
		},
	}
}

func newExportCmd(env *cliEnv) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export [session-id]",
		Short: "Download a diagnostic bundle (all sessions when no ID is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := firstArg(args)
			if output == "" {
				output = "nightdose-export.zip"
				if sessionID != "" {
					output = "nightdose-" + sessionID + ".zip"
				}
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			ctx, cancel := env.context()
			defer cancel()
			if err := env.client().Export(ctx, sessionID, w); err != nil {
				if output != "-" {
					_ = os.Remove(output)
				}
				return err
			}
			if output != "-" {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), okStyle.Render("wrote "+output))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout")
	return cmd
}

func newDeleteCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a closed session and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := env.context()
			defer cancel()
			if err := env.client().DeleteSession(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("deleted "+args[0]))
			return nil
		},
	}
}

func newEvaluateCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Close the session if its cutoff has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := env.context()
			defer cancel()
			result, err := env.client().Evaluate(ctx)
			if err != nil {
				return err
			}
			if !result.Closed {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "nothing to close")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render(fmt.Sprintf("session %s closed as %s",
				result.SessionID, result.State)))
			return nil
		},
	}
}

func newSyncCmd(env *cliEnv) *cobra.Command {
	sync := &cobra.Command{Use: "sync", Short: "Remote sync commands"}
	sync.AddCommand(&cobra.Command{
		Use:   "failed",
		Short: "List submissions that permanently failed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := env.context()
			defer cancel()
			tasks, enabled, err := env.client().FailedSync(ctx)
			if err != nil {
				return err
			}
			if !enabled {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "remote sync is disabled")
				return nil
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no failed submissions")
				return nil
			}
			for _, t := range tasks {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d attempts\t%s\n", t.IdempotencyKey, t.Attempts, t.LastError)
			}
			return nil
		},
	})
	return sync
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// parseAt accepts HH:MM (the most recent such time) or RFC3339
func parseAt(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	clock, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, errors.New("expected HH:MM or RFC3339 time")
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if t.After(now) {
		t = t.AddDate(0, 0, -1)
	}
	return t, nil
}
