// Package sdk provides the public types shared by the verification loop,
// its stage runners and the surfaces built on top of them.
package sdk

import (
	"strings"

	"github.com/ternarybob/vloop/pkg/fault"
)

// MaxStageAttempts is the number of failed attempts at one stage after
// which a run escalates to a human.
const MaxStageAttempts = 3

// Stage is a step of the Build-Verify-Fix loop.
type Stage string

const (
	// StageCodeQuality runs lint, format and type checks. Always mandatory.
	StageCodeQuality Stage = "code_quality"

	// StageVisual renders pages and captures screenshots.
	StageVisual Stage = "visual_check"

	// StageInteraction drives clicks and form input.
	StageInteraction Stage = "interaction"

	// StageConsoleNetwork inspects console output and network requests.
	StageConsoleNetwork Stage = "console_network_check"

	// StageDone is terminal: every mandatory stage passed.
	StageDone Stage = "done"

	// StageFailed is terminal: a stage failed MaxStageAttempts times.
	StageFailed Stage = "failed"
)

// stageOrder is the fixed execution order of the verifying stages.
var stageOrder = []Stage{
	StageCodeQuality,
	StageVisual,
	StageInteraction,
	StageConsoleNetwork,
}

// VerifyingStages returns the four verifying stages in execution order.
func VerifyingStages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// String returns the stage name.
func (s Stage) String() string {
	return string(s)
}

// Title returns a human-readable stage name for reports.
func (s Stage) Title() string {
	switch s {
	case StageCodeQuality:
		return "Code quality"
	case StageVisual:
		return "Visual check"
	case StageInteraction:
		return "Interaction"
	case StageConsoleNetwork:
		return "Console & network"
	case StageDone:
		return "Done"
	case StageFailed:
		return "Failed"
	default:
		return string(s)
	}
}

// IsTerminal reports whether s ends a run.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// Order returns the position of s in the execution order, or -1 for
// terminal and unknown stages.
func (s Stage) Order() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// ParseStage parses a stage name. Short aliases are accepted.
func ParseStage(name string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "code_quality", "codequality", "quality", "cq":
		return StageCodeQuality, nil
	case "visual_check", "visual", "visualcheck":
		return StageVisual, nil
	case "interaction", "interact":
		return StageInteraction, nil
	case "console_network_check", "console_network", "console", "network":
		return StageConsoleNetwork, nil
	case "done":
		return StageDone, nil
	case "failed":
		return StageFailed, nil
	}
	return "", fault.Newf(fault.EUsage, "unknown stage %q", name)
}

// ChangeType classifies a code change and determines which stages are
// mandatory for it.
type ChangeType string

const (
	ChangeLogicOnly       ChangeType = "logic_only"
	ChangeUI              ChangeType = "ui_change"
	ChangeFormInteractive ChangeType = "form_interactive"
	ChangeAPIRoute        ChangeType = "api_route"
	ChangeFullFeature     ChangeType = "full_feature"
)

// ChangeTypes lists every change type.
func ChangeTypes() []ChangeType {
	return []ChangeType{
		ChangeLogicOnly,
		ChangeUI,
		ChangeFormInteractive,
		ChangeAPIRoute,
		ChangeFullFeature,
	}
}

// ParseChangeType parses a change type. Dashes and case are ignored.
func ParseChangeType(s string) (ChangeType, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch norm {
	case "logic_only", "logic":
		return ChangeLogicOnly, nil
	case "ui_change", "ui":
		return ChangeUI, nil
	case "form_interactive", "form":
		return ChangeFormInteractive, nil
	case "api_route", "api":
		return ChangeAPIRoute, nil
	case "full_feature", "full":
		return ChangeFullFeature, nil
	}
	return "", fault.Newf(fault.EUsage, "unknown change type %q (want one of %s)", s, joinChangeTypes())
}

func joinChangeTypes() string {
	names := make([]string, 0, len(ChangeTypes()))
	for _, ct := range ChangeTypes() {
		names = append(names, string(ct))
	}
	return strings.Join(names, ", ")
}

// String returns the change type name.
func (c ChangeType) String() string {
	return string(c)
}

// Valid reports whether c is a known change type.
func (c ChangeType) Valid() bool {
	for _, ct := range ChangeTypes() {
		if ct == c {
			return true
		}
	}
	return false
}

// MandatoryStages returns the stages that must pass for c, in execution
// order. CodeQuality is always first. Unknown change types get the full
// set.
func (c ChangeType) MandatoryStages() []Stage {
	switch c {
	case ChangeLogicOnly:
		return []Stage{StageCodeQuality}
	case ChangeUI:
		return []Stage{StageCodeQuality, StageVisual}
	case ChangeAPIRoute:
		return []Stage{StageCodeQuality, StageConsoleNetwork}
	default:
		return VerifyingStages()
	}
}

// Requires reports whether s is mandatory for c.
func (c ChangeType) Requires(s Stage) bool {
	for _, st := range c.MandatoryStages() {
		if st == s {
			return true
		}
	}
	return false
}

// NextStage returns the mandatory stage after s for c, or StageDone when s
// is the last one. A stage that is not mandatory for c yields the first
// mandatory stage that follows it in execution order.
func (c ChangeType) NextStage(s Stage) Stage {
	pos := s.Order()
	for _, st := range c.MandatoryStages() {
		if st.Order() > pos {
			return st
		}
	}
	return StageDone
}
