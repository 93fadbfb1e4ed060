package sdk

import (
	"time"
)

// SkippedStage is a stage that produced no passing observation, with the
// reason it was not verified.
type SkippedStage struct {
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

// Escalation is the hand-off to a human after a stage exhausted its
// attempts.
type Escalation struct {
	// Stage is the stage that failed.
	Stage Stage `json:"stage"`

	// Attempts is how many times it was tried.
	Attempts int `json:"attempts"`

	// Reasons lists the failure reason of each attempt, oldest first.
	Reasons []string `json:"reasons"`

	// Unavailable is true when the last attempt failed because a
	// collaborator could not be reached.
	Unavailable bool `json:"unavailable,omitempty"`

	// Unverified lists every mandatory stage that was not verified.
	Unverified []SkippedStage `json:"unverified"`
}

// Report is the human-facing summary of a run. Verified only ever lists
// stages that executed and passed.
type Report struct {
	RunID      string         `json:"run_id"`
	ChangeType ChangeType     `json:"change_type"`
	Feature    string         `json:"feature,omitempty"`
	FinalStage Stage          `json:"final_stage"`
	Verified   []Stage        `json:"verified"`
	Skipped    []SkippedStage `json:"skipped"`
	Failures   []StageOutcome `json:"failures,omitempty"`
	Outcomes   []StageOutcome `json:"outcomes"`
	Escalation *Escalation    `json:"escalation,omitempty"`
	Attempts   int            `json:"attempts"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}

// Succeeded reports whether the run reached Done.
func (r *Report) Succeeded() bool {
	return r != nil && r.FinalStage == StageDone
}

// Escalated reports whether the run needs a human.
func (r *Report) Escalated() bool {
	return r != nil && r.Escalation != nil
}

// Duration returns the wall time of the run so far.
func (r *Report) Duration() time.Duration {
	if r == nil || r.StartedAt.IsZero() {
		return 0
	}
	end := r.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(r.StartedAt)
}
