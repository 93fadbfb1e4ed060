// Package dashboard builds the status sections shown by "vloop status" and
// the web UI. Each section loads through a service boundary and fails on
// its own.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ternarybob/vloop/internal/store"
	projconfig "github.com/ternarybob/vloop/pkg/config"
	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/fetch"
	"github.com/ternarybob/vloop/pkg/report"
	"github.com/ternarybob/vloop/pkg/result"
	"github.com/ternarybob/vloop/pkg/retry"
	"github.com/ternarybob/vloop/pkg/sdk"
	"github.com/ternarybob/vloop/pkg/section"
	"github.com/ternarybob/vloop/pkg/service"
	"github.com/ternarybob/vloop/pkg/tracker"
)

// Section names.
const (
	SectionRun       = "Current run"
	SectionCriteria  = "Criteria"
	SectionDevServer = "Dev server"
	SectionHistory   = "Recent runs"
)

// HistoryLimit is how many runs the history section lists.
const HistoryLimit = 5

// Source is what the dashboard reads.
type Source struct {
	Config  *projconfig.Project
	Runs    *store.Store
	Tracker *tracker.Tracker
	Logger  *slog.Logger

	// DevServer is the boundary guarding dev server probes. Reuse one per
	// project so its circuit breaker sees repeated failures.
	DevServer *service.Boundary
}

// NewDevServerBoundary creates the boundary for probing cfg's dev server.
func NewDevServerBoundary(cfg *projconfig.Project, logger *slog.Logger) *service.Boundary {
	if logger == nil {
		logger = slog.Default()
	}
	return service.NewBoundary("dev server",
		service.WithPolicy(cfg.RetryPolicy()),
		service.WithCircuitBreaker(retry.NewCircuitBreaker(retry.CircuitBreakerConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  30 * time.Second,
		})),
		service.WithLogger(logger),
	)
}

// local guards in-process reads: one attempt, no breaker.
func local(name string, logger *slog.Logger) *service.Boundary {
	p := retry.DefaultPolicy()
	p.MaxAttempts = 1
	p.ShouldRetry = retry.Never
	return service.NewBoundary(name, service.WithPolicy(p), service.WithLogger(logger))
}

// Sections returns the dashboard sections for src, in display order.
func Sections(src Source) []section.Section {
	logger := src.Logger
	if logger == nil {
		logger = slog.Default()
	}
	devServer := src.DevServer
	if devServer == nil {
		devServer = NewDevServerBoundary(src.Config, logger)
	}
	runs := local("run store", logger)
	criteria := local("criteria", logger)

	return []section.Section{
		section.New(SectionRun,
			func(ctx context.Context) result.Result[*sdk.Report] {
				return service.Call(ctx, runs, func(ctx context.Context) (*sdk.Report, error) {
					run, err := src.Runs.Current()
					if fault.CodeOf(err) == fault.ERunNotFound {
						return nil, nil
					}
					if err != nil {
						return nil, err
					}
					return run.Report(), nil
				})
			},
			RenderRun,
		),
		section.New(SectionCriteria,
			func(ctx context.Context) result.Result[[]sdk.Criterion] {
				return service.Call(ctx, criteria, func(ctx context.Context) ([]sdk.Criterion, error) {
					if src.Tracker == nil {
						return nil, fault.New(fault.EUnavailable, "criteria are not tracked for this project")
					}
					return src.Tracker.List(""), nil
				})
			},
			RenderCriteria,
		),
		section.New(SectionDevServer,
			func(ctx context.Context) result.Result[Probe] {
				base := src.Config.Project.BaseURL
				if base == "" {
					return result.Success(Probe{})
				}
				client := fetch.NewClient(base)
				client.HTTP.Timeout = 5 * time.Second
				return service.Call(ctx, devServer, func(ctx context.Context) (Probe, error) {
					start := time.Now()
					body, err := client.Get(ctx, "/")
					if err != nil {
						return Probe{}, err
					}
					return Probe{URL: base, Bytes: len(body), Latency: time.Since(start)}, nil
				})
			},
			RenderProbe,
		),
		section.New(SectionHistory,
			func(ctx context.Context) result.Result[[]store.Summary] {
				return service.Call(ctx, runs, func(ctx context.Context) ([]store.Summary, error) {
					list, err := src.Runs.List()
					if err != nil {
						return nil, err
					}
					if len(list) > HistoryLimit {
						list = list[:HistoryLimit]
					}
					return list, nil
				})
			},
			RenderHistory,
		),
	}
}

// Compose loads every section of src concurrently.
func Compose(ctx context.Context, src Source) []section.Panel {
	return section.Compose(ctx, Sections(src)...)
}

// Probe is the result of reaching the dev server.
type Probe struct {
	URL     string        `json:"url,omitempty"`
	Bytes   int           `json:"bytes"`
	Latency time.Duration `json:"latency"`
}

// RenderRun renders the current run as stage rows.
func RenderRun(r *sdk.Report) string {
	if r == nil {
		return "No runs yet. Start one with: vloop run --type <change-type>"
	}
	var sb strings.Builder
	title := string(r.ChangeType)
	if r.Feature != "" {
		title += " (" + r.Feature + ")"
	}
	fmt.Fprintf(&sb, "%s %s: %s\n", report.Status(r), sdk.ShortID(r.RunID), title)
	for _, row := range report.Rows(r) {
		fmt.Fprintf(&sb, "%s %-18s %s", row.Mark(), row.Stage.Title(), row.Status)
		if row.Note != "" {
			sb.WriteString("  " + row.Note)
		}
		sb.WriteString("\n")
	}
	if r.Escalation != nil {
		fmt.Fprintf(&sb, "%s failed %d times and needs a human.\n", r.Escalation.Stage.Title(), r.Escalation.Attempts)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RenderCriteria renders status counts and pending criteria.
func RenderCriteria(list []sdk.Criterion) string {
	if len(list) == 0 {
		return "No criteria. Add one with: vloop criteria add <feature> <description>"
	}
	counts := map[sdk.CriterionStatus]int{}
	var pending []string
	for _, c := range list {
		counts[c.Status]++
		if c.Status.IsPending() {
			pending = append(pending, fmt.Sprintf("[%s] %s: %s", c.Status, c.Feature, c.Description))
		}
	}
	lines := []string{fmt.Sprintf("%d completed, %d in progress, %d not started",
		counts[sdk.CriterionCompleted], counts[sdk.CriterionInProgress], counts[sdk.CriterionNotStarted])}
	return strings.Join(append(lines, pending...), "\n")
}

// RenderProbe renders a dev server probe.
func RenderProbe(p Probe) string {
	if p.URL == "" {
		return "No base_url configured; browser stages cannot run."
	}
	return fmt.Sprintf("%s reachable in %s (%d bytes)", p.URL, p.Latency.Round(time.Millisecond), p.Bytes)
}

// RenderHistory renders run summaries, newest first.
func RenderHistory(list []store.Summary) string {
	if len(list) == 0 {
		return "No runs yet."
	}
	lines := make([]string, 0, len(list))
	for _, s := range list {
		label := string(s.ChangeType)
		if s.Feature != "" {
			label += " (" + s.Feature + ")"
		}
		lines = append(lines, fmt.Sprintf("%-8s %-11s %s, %d attempts, %s",
			sdk.ShortID(s.ID), s.Status, label, s.Attempts, s.StartedAt.Format(time.DateTime)))
	}
	return strings.Join(lines, "\n")
}
