package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ternarybob/vloop/internal/dashboard"
	projconfig "github.com/ternarybob/vloop/pkg/config"
	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/monitor"
	"github.com/ternarybob/vloop/pkg/report"
	"github.com/ternarybob/vloop/pkg/sdk"
	"github.com/ternarybob/vloop/pkg/verifier"
	"github.com/ternarybob/vloop/pkg/watch"
)

func changeTypeHelp() string {
	names := make([]string, 0)
	for _, ct := range sdk.ChangeTypes() {
		names = append(names, string(ct))
	}
	return "Change type: " + strings.Join(names, ", ")
}

func (c *cli) newRunCmd() *cobra.Command {
	var (
		changeType string
		feature    string
		watchMode  bool
		resume     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Verify a change through every mandatory stage",
		Long: `Run executes the mandatory stages of the change type in order until the
change is verified or a stage has failed three times.

Without --watch a failed attempt is retried at once. With --watch vloop waits
for a file change before each retry, so you (or your assistant) can fix the
cause in between.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !resume && changeType == "" {
				return fault.New(fault.EUsage, "--type is required; "+changeTypeHelp())
			}

			var opts []verifier.Option
			if watchMode {
				w, rem, err := c.changeRemediator(out)
				if err != nil {
					return err
				}
				defer w.Close()
				opts = append(opts, verifier.WithRemediator(rem))
			}

			ws, err := c.open(newPrinter(out), opts...)
			if err != nil {
				return err
			}
			defer ws.Close()

			var rep *sdk.Report
			if resume {
				_, rep, err = ws.Resume(cmd.Context())
			} else {
				var ct sdk.ChangeType
				if ct, err = sdk.ParseChangeType(changeType); err != nil {
					return err
				}
				_, rep, err = ws.Verify(cmd.Context(), ct, feature)
			}
			if rep != nil {
				fmt.Fprintln(out)
				fmt.Fprintln(out, report.RenderTerminal(rep, 80))
			}
			if err != nil {
				return err
			}
			return escalationError(rep)
		},
	}
	cmd.Flags().StringVarP(&changeType, FlagType, "t", "", changeTypeHelp())
	cmd.Flags().StringVarP(&feature, FlagFeature, "f", "", "Feature the change belongs to")
	cmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Wait for file changes between failed attempts")
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue the current run instead of starting one")
	return cmd
}

// escalationError turns an escalated report into an E_ESCALATED error so
// the exit status tells scripts a human is needed.
func escalationError(rep *sdk.Report) error {
	if rep == nil || !rep.Escalated() {
		return nil
	}
	e := rep.Escalation
	return fault.Newf(fault.EEscalated, "%s failed %d times; a human needs to look", e.Stage.Title(), e.Attempts)
}

func (c *cli) newStepCmd() *cobra.Command {
	var (
		changeType string
		feature    string
	)
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Run the current stage of the current run once",
		Long: `Step executes one attempt of the current stage and records the outcome.
With --type a new run is started first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ws, err := c.open(newPrinter(out))
			if err != nil {
				return err
			}
			defer ws.Close()

			if changeType != "" {
				ct, err := sdk.ParseChangeType(changeType)
				if err != nil {
					return err
				}
				run, err := ws.Start(ct, feature)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Started run %s\n", sdk.ShortID(run.ID))
			}

			run, outcome, err := ws.Step(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, dashboard.RenderRun(run.Report()))
			if err := escalationError(run.Report()); err != nil {
				return err
			}
			if !outcome.Passed {
				return fmt.Errorf("%s failed: %s", outcome.Stage.Title(), outcome.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&changeType, FlagType, "t", "", "Start a new run of this change type first")
	cmd.Flags().StringVarP(&feature, FlagFeature, "f", "", "Feature of the new run")
	return cmd
}

func (c *cli) newWatchCmd() *cobra.Command {
	var (
		changeType string
		feature    string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Verify the change again every time files change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := sdk.ParseChangeType(changeType)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			w, rem, err := c.changeRemediator(out)
			if err != nil {
				return err
			}
			defer w.Close()

			ws, err := c.open(newPrinter(out), verifier.WithRemediator(rem))
			if err != nil {
				return err
			}
			defer ws.Close()

			limiter := watch.NewRateLimiter(ws.Config().Watch.RateLimitPerHour)
			for {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				_, rep, err := ws.Verify(ctx, ct, feature)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, report.RenderTerminal(rep, 80))
				fmt.Fprintln(out, "Waiting for changes (Ctrl+C to stop)...")
				if _, err := w.Next(ctx); err != nil {
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVarP(&changeType, FlagType, "t", "", changeTypeHelp())
	cmd.Flags().StringVarP(&feature, FlagFeature, "f", "", "Feature the change belongs to")
	return cmd
}

// changeRemediator starts a file watcher on the project and returns a
// remediator that waits on it.
func (c *cli) changeRemediator(out io.Writer) (*watch.Watcher, *watch.ChangeRemediator, error) {
	dir, err := c.projectDir()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := projconfig.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	w, err := watch.NewWatcher(dir, watch.Options{
		Debounce:   cfg.WatchDebounce(),
		Extensions: cfg.Watch.Extensions,
		SkipDirs:   cfg.Watch.SkipDirs,
		Logger:     c.slogger(),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := w.Start(); err != nil {
		w.Close()
		return nil, nil, err
	}
	limiter := watch.NewRateLimiter(cfg.Watch.RateLimitPerHour)
	return w, watch.NewChangeRemediator(w, limiter, newPrinter(out), c.slogger()), nil
}

// printer is a monitor that prints loop progress for a terminal.
type printer struct {
	*monitor.NoopMonitor
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{NoopMonitor: monitor.NewNoopMonitor(), out: out}
}

func (p *printer) Emit(e monitor.Event) {
	stage := stageOf(e)
	switch e.Type {
	case monitor.EventRunStarted:
		fmt.Fprintf(p.out, "Verifying %v run %s\n", e.Data["change_type"], sdk.ShortID(e.RunID))
	case monitor.EventStageStarted:
		fmt.Fprintf(p.out, "  … %s (attempt %v)\n", stage, e.Data["attempt"])
	case monitor.EventStagePassed:
		fmt.Fprintf(p.out, "  ✓ %s\n", stage)
	case monitor.EventStageFailed:
		fmt.Fprintf(p.out, "  ✗ %s: %v\n", stage, e.Data["reason"])
	case monitor.EventRemediation:
		fmt.Fprintf(p.out, "  waiting for a fix before retrying %s\n", stage)
	case monitor.EventFilesChanged:
		fmt.Fprintf(p.out, "  files changed: %v\n", e.Data["files"])
	case monitor.EventRateLimitHit:
		fmt.Fprintln(p.out, "  retry rate limit reached; waiting")
	}
}

func stageOf(e monitor.Event) string {
	switch s := e.Data["stage"].(type) {
	case sdk.Stage:
		return s.Title()
	case string:
		return sdk.Stage(s).Title()
	default:
		return ""
	}
}
