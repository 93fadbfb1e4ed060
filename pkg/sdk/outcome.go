package sdk

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a collaborator that could not be reached, such as
// an unreachable dev server or a disconnected browser. A stage that fails
// this way is reported as not verified rather than as broken.
var ErrUnavailable = errors.New("collaborator unavailable")

// Check is a single observation made while verifying a stage.
type Check struct {
	// Name identifies what was checked.
	Name string `json:"name"`

	// Passed is true when the observation matched expectations.
	Passed bool `json:"passed"`

	// Detail explains the observation.
	Detail string `json:"detail,omitempty"`
}

// Evidence is what a stage runner observed. A stage passes only when
// every check passed and at least one check was made.
type Evidence struct {
	// Stage is the stage that produced the evidence.
	Stage Stage `json:"stage"`

	// Summary is a one-line description of the result.
	Summary string `json:"summary"`

	// Checks are the individual observations.
	Checks []Check `json:"checks"`

	// Artifacts maps artifact names (screenshots, logs) to file paths.
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// NewEvidence creates empty evidence for a stage.
func NewEvidence(stage Stage) *Evidence {
	return &Evidence{
		Stage:     stage,
		Artifacts: make(map[string]string),
	}
}

// Add records a check and returns e for chaining.
func (e *Evidence) Add(name string, passed bool, detail string) *Evidence {
	e.Checks = append(e.Checks, Check{Name: name, Passed: passed, Detail: detail})
	return e
}

// AddArtifact records an artifact path.
func (e *Evidence) AddArtifact(name, path string) {
	if e.Artifacts == nil {
		e.Artifacts = make(map[string]string)
	}
	e.Artifacts[name] = path
}

// Passed reports whether at least one check ran and all of them passed.
func (e *Evidence) Passed() bool {
	if e == nil || len(e.Checks) == 0 {
		return false
	}
	for _, c := range e.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed returns the checks that did not pass.
func (e *Evidence) Failed() []Check {
	if e == nil {
		return nil
	}
	var out []Check
	for _, c := range e.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// StageOutcome records one attempt at a stage.
type StageOutcome struct {
	Stage       Stage         `json:"stage"`
	Attempt     int           `json:"attempt"`
	Passed      bool          `json:"passed"`
	Unavailable bool          `json:"unavailable,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Evidence    *Evidence     `json:"evidence,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// StageRunner verifies one stage. It returns evidence for any executed
// check, including failing ones; an error means the stage could not be
// executed at all.
type StageRunner interface {
	Stage() Stage
	Verify(ctx context.Context) (*Evidence, error)
}

// StageRunnerFunc adapts a function to StageRunner.
type StageRunnerFunc struct {
	For Stage
	Fn  func(ctx context.Context) (*Evidence, error)
}

// Stage returns the stage the function verifies.
func (f StageRunnerFunc) Stage() Stage { return f.For }

// Verify calls the function.
func (f StageRunnerFunc) Verify(ctx context.Context) (*Evidence, error) { return f.Fn(ctx) }
