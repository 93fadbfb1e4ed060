// Package loop implements the Build-Verify-Fix verification loop.
//
// A Run is the state machine: it moves through the mandatory stages of its
// change type in order, counts failed attempts at the current stage, and
// ends in Done or Failed. A Controller drives a Run by calling stage
// runners and a remediator.
package loop

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/sdk"
)

// StageTransition records a change of the current stage.
type StageTransition struct {
	From      sdk.Stage `json:"from"`
	To        sdk.Stage `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Run tracks one change through the verification stages.
type Run struct {
	mu sync.RWMutex

	ID         string
	ChangeType sdk.ChangeType
	Feature    string

	// Current is the stage being verified, or Done/Failed.
	Current sdk.Stage

	// Attempts counts failed attempts at Current. It resets on advance.
	Attempts int

	StartedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt time.Time

	History  []StageTransition
	Outcomes []sdk.StageOutcome
}

// NewRun starts a run at CodeQuality for the given change.
func NewRun(changeType sdk.ChangeType, feature string) (*Run, error) {
	if !changeType.Valid() {
		return nil, fault.Newf(fault.EUsage, "unknown change type %q", changeType)
	}
	now := time.Now()
	return &Run{
		ID:         sdk.NewID(),
		ChangeType: changeType,
		Feature:    feature,
		Current:    sdk.StageCodeQuality,
		StartedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Stage returns the current stage.
func (r *Run) Stage() sdk.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Current
}

// AttemptsAtStage returns the failed attempts at the current stage.
func (r *Run) AttemptsAtStage() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Attempts
}

// IsTerminal reports whether the run reached Done or Failed.
func (r *Run) IsTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Current.IsTerminal()
}

// IsDone reports whether every mandatory stage passed.
func (r *Run) IsDone() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Current == sdk.StageDone
}

// Record applies the outcome of one attempt at the current stage.
//
// A pass advances to the next mandatory stage (or Done) and resets the
// attempt counter. A failure increments it; the MaxStageAttempts-th
// failure moves the run to Failed. Outcomes for any other stage, or for a
// run that already ended, are rejected and leave the run unchanged.
func (r *Run) Record(o sdk.StageOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Current.IsTerminal() {
		return fault.Newf(fault.ERunTerminal, "run %s already %s", r.ID, r.Current)
	}
	if o.Stage != r.Current {
		return fault.Newf(fault.EStageOrder, "outcome for %s but run %s is at %s", o.Stage, r.ID, r.Current)
	}

	now := time.Now()
	if o.StartedAt.IsZero() {
		o.StartedAt = now
	}
	o.Attempt = r.Attempts + 1
	r.UpdatedAt = now

	if o.Passed {
		r.Outcomes = append(r.Outcomes, o)
		r.transition(r.ChangeType.NextStage(o.Stage), "passed", now)
		return nil
	}

	if o.Reason == "" {
		o.Reason = "stage did not pass"
	}
	r.Outcomes = append(r.Outcomes, o)
	r.Attempts++
	if r.Attempts >= sdk.MaxStageAttempts {
		r.transition(sdk.StageFailed, fmt.Sprintf("%s failed %d times", o.Stage, r.Attempts), now)
	}
	return nil
}

// RecordPass records a passing attempt at stage.
func (r *Run) RecordPass(stage sdk.Stage) error {
	return r.Record(sdk.StageOutcome{Stage: stage, Passed: true})
}

// RecordFailure records a failing attempt at stage.
func (r *Run) RecordFailure(stage sdk.Stage, reason string) error {
	return r.Record(sdk.StageOutcome{Stage: stage, Reason: reason})
}

// transition must be called with the lock held. Attempts reset on every
// stage change except into Failed, which keeps the count that caused it.
func (r *Run) transition(to sdk.Stage, reason string, now time.Time) {
	r.History = append(r.History, StageTransition{
		From:      r.Current,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})
	r.Current = to
	if to != sdk.StageFailed {
		r.Attempts = 0
	}
	if to.IsTerminal() {
		r.FinishedAt = now
	}
}

// Verified returns the stages that executed and passed, in order.
func (r *Run) Verified() []sdk.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.verified()
}

func (r *Run) verified() []sdk.Stage {
	var out []sdk.Stage
	for _, o := range r.Outcomes {
		if o.Passed {
			out = append(out, o.Stage)
		}
	}
	return out
}

// Unverified returns the mandatory stages that have no passing outcome.
// A run whose outcomes really drove it to Done has none.
func (r *Run) Unverified() []sdk.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	passed := make(map[sdk.Stage]bool)
	for _, st := range r.verified() {
		passed[st] = true
	}
	var out []sdk.Stage
	for _, st := range r.ChangeType.MandatoryStages() {
		if !passed[st] {
			out = append(out, st)
		}
	}
	return out
}

// Clone creates a copy of the run.
func (r *Run) Clone() *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clone()
}

func (r *Run) clone() *Run {
	c := &Run{
		ID:         r.ID,
		ChangeType: r.ChangeType,
		Feature:    r.Feature,
		Current:    r.Current,
		Attempts:   r.Attempts,
		StartedAt:  r.StartedAt,
		UpdatedAt:  r.UpdatedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.History != nil {
		c.History = make([]StageTransition, len(r.History))
		copy(c.History, r.History)
	}
	if r.Outcomes != nil {
		c.Outcomes = make([]sdk.StageOutcome, len(r.Outcomes))
		copy(c.Outcomes, r.Outcomes)
	}
	return c
}

// snapshot is the persisted form of a Run.
type snapshot struct {
	ID         string             `json:"id"`
	ChangeType sdk.ChangeType     `json:"change_type"`
	Feature    string             `json:"feature,omitempty"`
	Current    sdk.Stage          `json:"current_stage"`
	Attempts   int                `json:"attempts_at_stage"`
	StartedAt  time.Time          `json:"started_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	FinishedAt time.Time          `json:"finished_at,omitempty"`
	History    []StageTransition  `json:"history,omitempty"`
	Outcomes   []sdk.StageOutcome `json:"outcomes,omitempty"`
}

// Snapshot encodes the run as JSON.
func (r *Run) Snapshot() ([]byte, error) {
	r.mu.RLock()
	s := snapshot{
		ID:         r.ID,
		ChangeType: r.ChangeType,
		Feature:    r.Feature,
		Current:    r.Current,
		Attempts:   r.Attempts,
		StartedAt:  r.StartedAt,
		UpdatedAt:  r.UpdatedAt,
		FinishedAt: r.FinishedAt,
		History:    r.History,
		Outcomes:   r.Outcomes,
	}
	data, err := json.MarshalIndent(s, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("encode run: %w", err)
	}
	return data, nil
}

// Restore decodes a snapshot and checks that it describes a reachable
// state.
func Restore(data []byte) (*Run, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fault.Wrap(fault.EDecode, "decode run", err)
	}
	if s.ID == "" {
		return nil, fault.New(fault.EDecode, "run snapshot has no id")
	}
	if !s.ChangeType.Valid() {
		return nil, fault.Newf(fault.EDecode, "run %s has unknown change type %q", s.ID, s.ChangeType)
	}
	if !s.Current.IsTerminal() {
		if !s.ChangeType.Requires(s.Current) {
			return nil, fault.Newf(fault.EDecode, "run %s is at %s which %s does not require", s.ID, s.Current, s.ChangeType)
		}
		if s.Attempts < 0 || s.Attempts >= sdk.MaxStageAttempts {
			return nil, fault.Newf(fault.EDecode, "run %s has %d attempts at %s", s.ID, s.Attempts, s.Current)
		}
	}

	stage, attempts, err := replay(s.ChangeType, s.Outcomes)
	if err != nil {
		return nil, fault.Wrap(fault.EDecode, fmt.Sprintf("run %s has inconsistent outcomes", s.ID), err)
	}
	if stage != s.Current || attempts != s.Attempts {
		return nil, fault.Newf(fault.EDecode, "run %s is recorded at %s (%d attempts) but its outcomes lead to %s (%d attempts)",
			s.ID, s.Current, s.Attempts, stage, attempts)
	}

	return &Run{
		ID:         s.ID,
		ChangeType: s.ChangeType,
		Feature:    s.Feature,
		Current:    s.Current,
		Attempts:   s.Attempts,
		StartedAt:  s.StartedAt,
		UpdatedAt:  s.UpdatedAt,
		FinishedAt: s.FinishedAt,
		History:    s.History,
		Outcomes:   s.Outcomes,
	}, nil
}

// replay feeds outcomes through a fresh run and returns where they lead.
func replay(ct sdk.ChangeType, outcomes []sdk.StageOutcome) (sdk.Stage, int, error) {
	r := &Run{ChangeType: ct, Current: sdk.StageCodeQuality}
	for i, o := range outcomes {
		if err := r.Record(o); err != nil {
			return "", 0, fmt.Errorf("outcome %d: %w", i+1, err)
		}
	}
	return r.Current, r.Attempts, nil
}
