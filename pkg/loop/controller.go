package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/monitor"
	"github.com/ternarybob/vloop/pkg/sdk"
)

// Remediator attempts to fix the cause of a failed stage before the next
// attempt. It receives a copy of the run.
type Remediator interface {
	Remediate(ctx context.Context, run *Run, failed sdk.StageOutcome) error
}

// RemediatorFunc adapts a function to Remediator.
type RemediatorFunc func(ctx context.Context, run *Run, failed sdk.StageOutcome) error

// Remediate calls f.
func (f RemediatorFunc) Remediate(ctx context.Context, run *Run, failed sdk.StageOutcome) error {
	return f(ctx, run, failed)
}

// Controller drives a Run through its stages.
type Controller struct {
	mu sync.Mutex

	run          *Run
	runners      map[sdk.Stage]sdk.StageRunner
	remediator   Remediator
	hooks        *sdk.HookRegistry
	monitor      monitor.Monitor
	logger       *slog.Logger
	stageTimeout time.Duration
	onSave       func(*Run) error
	metrics      *Metrics
}

// NewController creates a controller for run.
func NewController(run *Run, opts ...Option) (*Controller, error) {
	if run == nil {
		return nil, fault.New(fault.EUsage, "controller needs a run")
	}
	c := &Controller{
		run:     run,
		runners: make(map[sdk.Stage]sdk.StageRunner),
		hooks:   sdk.NewHookRegistry(),
		monitor: monitor.NewNoopMonitor(),
		logger:  slog.Default(),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	return c, nil
}

// State returns a copy of the controlled run.
func (c *Controller) State() *Run {
	return c.run.Clone()
}

// Metrics returns controller statistics.
func (c *Controller) Metrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// Step executes the current stage once and records the outcome.
//
// Runner errors become failed outcomes here; Step itself only returns an
// error when the run already ended, when the parent context ends, or when
// the outcome could not be saved. A cancelled attempt is not counted.
func (c *Controller) Step(ctx context.Context) (sdk.StageOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stage := c.run.Stage()
	if stage.IsTerminal() {
		return sdk.StageOutcome{}, fault.Newf(fault.ERunTerminal, "run %s already %s", c.run.ID, stage)
	}
	if err := ctx.Err(); err != nil {
		return sdk.StageOutcome{}, fault.Wrap(fault.ECancelled, "verification aborted", err)
	}

	attempt := c.run.AttemptsAtStage() + 1
	log := c.logger.With("run_id", c.run.ID, "stage", stage.String(), "attempt", attempt)

	c.runHook(ctx, &sdk.HookContext{Type: sdk.HookTypePreStage, RunID: c.run.ID, Stage: stage, Attempt: attempt})
	c.emit(monitor.EventStageStarted, map[string]any{"stage": stage, "attempt": attempt})
	log.Info("stage started")

	outcome := c.execute(ctx, stage)
	if err := ctx.Err(); err != nil {
		log.Warn("stage aborted", "error", err)
		c.emit(monitor.EventRunAborted, map[string]any{"stage": stage, "error": err.Error()})
		return sdk.StageOutcome{}, fault.Wrap(fault.ECancelled, "verification aborted", err)
	}

	if err := c.run.Record(outcome); err != nil {
		return sdk.StageOutcome{}, fmt.Errorf("record outcome: %w", err)
	}
	outcome.Attempt = attempt
	c.metrics.RecordOutcome(outcome)

	if outcome.Passed {
		log.Info("stage passed", "duration", outcome.Duration)
		c.emit(monitor.EventStagePassed, map[string]any{"stage": stage, "attempt": attempt, "next": c.run.Stage()})
	} else {
		log.Warn("stage failed", "reason", outcome.Reason, "unavailable", outcome.Unavailable)
		c.emit(monitor.EventStageFailed, map[string]any{
			"stage":       stage,
			"attempt":     attempt,
			"reason":      outcome.Reason,
			"unavailable": outcome.Unavailable,
		})
	}
	c.runHook(ctx, &sdk.HookContext{Type: sdk.HookTypePostStage, RunID: c.run.ID, Stage: stage, Attempt: attempt, Outcome: &outcome})

	var saveErr error
	if c.onSave != nil {
		if err := c.onSave(c.run.Clone()); err != nil {
			saveErr = fmt.Errorf("save run: %w", err)
		}
	}

	switch c.run.Stage() {
	case sdk.StageDone:
		rep := c.run.Report()
		log.Info("run done", "verified", len(rep.Verified))
		c.emit(monitor.EventRunDone, map[string]any{"verified": rep.Verified})
		c.runHook(ctx, &sdk.HookContext{Type: sdk.HookTypeOnDone, RunID: c.run.ID, Report: rep})
	case sdk.StageFailed:
		rep := c.run.Report()
		log.Error("run escalated", "reasons", rep.Escalation.Reasons)
		c.emit(monitor.EventRunEscalated, map[string]any{"stage": stage, "attempts": rep.Escalation.Attempts})
		c.runHook(ctx, &sdk.HookContext{Type: sdk.HookTypeOnEscalate, RunID: c.run.ID, Escalation: rep.Escalation, Report: rep})
	}

	return outcome, saveErr
}

// execute calls the runner for stage and turns whatever happens into an
// outcome. A missing runner is a failure, never a skip.
func (c *Controller) execute(ctx context.Context, stage sdk.Stage) (outcome sdk.StageOutcome) {
	outcome = sdk.StageOutcome{Stage: stage, StartedAt: time.Now()}
	defer func() {
		outcome.Duration = time.Since(outcome.StartedAt)
	}()

	runner, ok := c.runners[stage]
	if !ok {
		outcome.Unavailable = true
		outcome.Reason = fmt.Sprintf("no %s runner is configured", stage.Title())
		return outcome
	}

	stageCtx := ctx
	if c.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, c.stageTimeout)
		defer cancel()
	}

	ev, err := c.verify(stageCtx, runner)
	outcome.Evidence = ev

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		outcome.Reason = fmt.Sprintf("timed out after %s", c.stageTimeout)
	case err != nil:
		outcome.Unavailable = errors.Is(err, sdk.ErrUnavailable)
		outcome.Reason = err.Error()
	case ev == nil || len(ev.Checks) == 0:
		outcome.Reason = "no checks were executed"
	case ev.Passed():
		outcome.Passed = true
	default:
		outcome.Reason = describeFailures(ev)
	}
	return outcome
}

func (c *Controller) verify(ctx context.Context, runner sdk.StageRunner) (ev *sdk.Evidence, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("stage runner panicked", "stage", runner.Stage().String(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			ev, err = nil, fmt.Errorf("%s runner panicked: %v", runner.Stage(), r)
		}
	}()
	return runner.Verify(ctx)
}

func describeFailures(ev *sdk.Evidence) string {
	failed := ev.Failed()
	parts := make([]string, 0, len(failed))
	for _, f := range failed {
		if f.Detail != "" {
			parts = append(parts, f.Name+": "+f.Detail)
		} else {
			parts = append(parts, f.Name)
		}
	}
	return strings.Join(parts, "; ")
}

// Run steps until the run reaches Done or Failed and returns its report.
// Between failed attempts the remediator, when set, gets a chance to fix
// the cause. A failed run is not an error; check Report.Escalated.
func (c *Controller) Run(ctx context.Context) (*sdk.Report, error) {
	c.emit(monitor.EventRunStarted, map[string]any{
		"change_type": c.run.ChangeType,
		"feature":     c.run.Feature,
		"stages":      c.run.ChangeType.MandatoryStages(),
	})

	for !c.run.IsTerminal() {
		outcome, err := c.Step(ctx)
		if err != nil {
			return c.run.Report(), err
		}
		if outcome.Passed || c.run.IsTerminal() || c.remediator == nil {
			continue
		}

		c.metrics.RecordRemediation()
		c.emit(monitor.EventRemediation, map[string]any{"stage": outcome.Stage, "attempt": outcome.Attempt})
		if err := c.remediator.Remediate(ctx, c.run.Clone(), outcome); err != nil {
			if ctx.Err() != nil {
				return c.run.Report(), fault.Wrap(fault.ECancelled, "verification aborted", ctx.Err())
			}
			c.logger.Warn("remediation failed", "run_id", c.run.ID, "stage", outcome.Stage.String(), "error", err)
		}
	}
	return c.run.Report(), nil
}

func (c *Controller) emit(t monitor.EventType, data map[string]any) {
	e := monitor.NewEvent(t, c.run.ID)
	for k, v := range data {
		e = e.WithData(k, v)
	}
	c.monitor.Emit(e)
}

func (c *Controller) runHook(ctx context.Context, hctx *sdk.HookContext) {
	if c.hooks == nil {
		return
	}
	if err := c.hooks.Run(ctx, hctx); err != nil {
		c.logger.Warn("hook failed", "hook", string(hctx.Type), "run_id", hctx.RunID, "error", err)
	}
}
