package watch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/monitor"
	"github.com/ternarybob/vloop/pkg/sdk"
)

// Changes is the source of change batches a ChangeRemediator waits on.
type Changes interface {
	Next(ctx context.Context) ([]string, error)
}

// ChangeRemediator treats a file change as the fix for a failed stage: it
// blocks until the developer (or an assistant) edits a file, then lets the
// loop retry. Retries are rate limited.
type ChangeRemediator struct {
	changes Changes
	limiter *RateLimiter
	monitor monitor.Monitor
	logger  *slog.Logger
}

// NewChangeRemediator creates a remediator. limiter and mon may be nil.
func NewChangeRemediator(changes Changes, limiter *RateLimiter, mon monitor.Monitor, logger *slog.Logger) *ChangeRemediator {
	if mon == nil {
		mon = monitor.NewNoopMonitor()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeRemediator{changes: changes, limiter: limiter, monitor: mon, logger: logger}
}

// Remediate waits for the next batch of changes.
func (r *ChangeRemediator) Remediate(ctx context.Context, run *loop.Run, failed sdk.StageOutcome) error {
	r.logger.Info("waiting for changes",
		"run_id", run.ID,
		"stage", failed.Stage,
		"attempt", failed.Attempt,
		"reason", failed.Reason,
	)

	batch, err := r.changes.Next(ctx)
	if err != nil {
		return fmt.Errorf("wait for changes: %w", err)
	}
	r.monitor.Emit(monitor.NewEvent(monitor.EventFilesChanged, run.ID).
		WithData("files", batch).
		WithData("stage", string(failed.Stage)))
	r.logger.Info("files changed", "run_id", run.ID, "files", strings.Join(batch, ", "))

	if r.limiter == nil {
		return nil
	}
	if d := r.limiter.Delay(); d > 0 {
		r.monitor.Emit(monitor.NewEvent(monitor.EventRateLimitHit, run.ID).WithData("wait", d.String()))
		r.logger.Warn("rate limit reached, delaying retry", "run_id", run.ID, "wait", d)
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limit: %w", err)
	}
	return nil
}

var _ loop.Remediator = (*ChangeRemediator)(nil)
