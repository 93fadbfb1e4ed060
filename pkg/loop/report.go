package loop

import (
	"fmt"
	"strings"

	"github.com/ternarybob/vloop/pkg/sdk"
)

// Report summarizes the run. Verified lists only stages with a passing
// outcome; every other stage appears in Skipped with the reason it was not
// verified.
func (r *Run) Report() *sdk.Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rep := &sdk.Report{
		RunID:      r.ID,
		ChangeType: r.ChangeType,
		Feature:    r.Feature,
		FinalStage: r.Current,
		Verified:   r.verified(),
		Skipped:    r.skipped(),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Attempts:   len(r.Outcomes),
	}
	rep.Outcomes = make([]sdk.StageOutcome, len(r.Outcomes))
	copy(rep.Outcomes, r.Outcomes)
	for _, o := range r.Outcomes {
		if !o.Passed {
			rep.Failures = append(rep.Failures, o)
		}
	}
	rep.Escalation = r.escalation()
	return rep
}

// Escalation returns the hand-off for a failed run, or nil.
func (r *Run) Escalation() *sdk.Escalation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.escalation()
}

func (r *Run) escalation() *sdk.Escalation {
	if r.Current != sdk.StageFailed {
		return nil
	}
	failed, outcomes := r.failedStage()
	esc := &sdk.Escalation{
		Stage:    failed,
		Attempts: len(outcomes),
	}
	for _, o := range outcomes {
		esc.Reasons = append(esc.Reasons, o.Reason)
	}
	if n := len(outcomes); n > 0 {
		esc.Unavailable = outcomes[n-1].Unavailable
	}
	for _, s := range r.skipped() {
		if r.ChangeType.Requires(s.Stage) {
			esc.Unverified = append(esc.Unverified, s)
		}
	}
	return esc
}

// failedStage returns the stage that drove the run to Failed and its
// failing outcomes.
func (r *Run) failedStage() (sdk.Stage, []sdk.StageOutcome) {
	if len(r.History) == 0 {
		return "", nil
	}
	stage := r.History[len(r.History)-1].From
	var outcomes []sdk.StageOutcome
	for _, o := range r.Outcomes {
		if o.Stage == stage && !o.Passed {
			outcomes = append(outcomes, o)
		}
	}
	return stage, outcomes
}

func (r *Run) skipped() []sdk.SkippedStage {
	passed := make(map[sdk.Stage]bool)
	for _, s := range r.verified() {
		passed[s] = true
	}

	var failedAt sdk.Stage
	var failedOutcomes []sdk.StageOutcome
	if r.Current == sdk.StageFailed {
		failedAt, failedOutcomes = r.failedStage()
	}

	var skipped []sdk.SkippedStage
	for _, st := range sdk.VerifyingStages() {
		if passed[st] {
			continue
		}
		if !r.ChangeType.Requires(st) {
			skipped = append(skipped, sdk.SkippedStage{
				Stage:  st,
				Reason: fmt.Sprintf("not required for %s changes", r.ChangeType),
			})
			continue
		}

		var reason string
		switch {
		case st == failedAt:
			reason = failureReason(failedOutcomes)
		case r.Current == sdk.StageFailed:
			reason = fmt.Sprintf("not reached: %s did not pass", failedAt.Title())
		case st == r.Current && r.Attempts > 0:
			reason = fmt.Sprintf("in progress: %d of %d attempts failed", r.Attempts, sdk.MaxStageAttempts)
		case st == r.Current:
			reason = "pending: not yet executed"
		default:
			reason = "pending: waiting for earlier stages"
		}
		skipped = append(skipped, sdk.SkippedStage{Stage: st, Reason: reason})
	}
	return skipped
}

func failureReason(outcomes []sdk.StageOutcome) string {
	if len(outcomes) == 0 {
		return "failed"
	}
	last := outcomes[len(outcomes)-1]
	if last.Unavailable {
		return "could not be verified automatically: " + last.Reason
	}
	return fmt.Sprintf("failed %d times; last: %s", len(outcomes), firstLine(last.Reason))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
