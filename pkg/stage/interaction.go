package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/vloop/pkg/browser"
	"github.com/ternarybob/vloop/pkg/sdk"
)

// Step actions.
const (
	ActionNavigate   = "navigate"
	ActionClick      = "click"
	ActionFill       = "fill"
	ActionWait       = "wait"
	ActionExpectText = "expect_text"
	ActionScreenshot = "screenshot"
)

// Step is one user action in an interaction script.
type Step struct {
	// Action is one of navigate, click, fill, wait, expect_text, screenshot.
	Action string `toml:"action" json:"action"`

	// Selector targets an element for click, fill, wait and expect_text.
	Selector string `toml:"selector" json:"selector,omitempty"`

	// Value is the text typed by fill.
	Value string `toml:"value" json:"value,omitempty"`

	// Text is the expected text for expect_text.
	Text string `toml:"text" json:"text,omitempty"`

	// Path is the page for navigate.
	Path string `toml:"path" json:"path,omitempty"`
}

// Describe renders the step for evidence.
func (s Step) Describe() string {
	switch s.Action {
	case ActionNavigate:
		return "navigate to " + s.Path
	case ActionClick:
		return "click " + s.Selector
	case ActionFill:
		return fmt.Sprintf("fill %s with %q", s.Selector, s.Value)
	case ActionWait:
		return "wait for " + s.Selector
	case ActionExpectText:
		sel := s.Selector
		if sel == "" {
			sel = "body"
		}
		return fmt.Sprintf("%s shows %q", sel, s.Text)
	case ActionScreenshot:
		return "screenshot"
	default:
		return s.Action
	}
}

// Validate reports a step that cannot be executed.
func (s Step) Validate() error {
	switch s.Action {
	case ActionNavigate:
		if s.Path == "" {
			return errors.New("navigate needs a path")
		}
	case ActionClick, ActionWait:
		if s.Selector == "" {
			return fmt.Errorf("%s needs a selector", s.Action)
		}
	case ActionFill:
		if s.Selector == "" {
			return errors.New("fill needs a selector")
		}
	case ActionExpectText:
		if s.Text == "" {
			return errors.New("expect_text needs text")
		}
	case ActionScreenshot:
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

// Interaction drives a scripted sequence of user actions.
type Interaction struct {
	browser   browser.Automation
	baseURL   string
	steps     []Step
	artifacts string
}

// NewInteraction creates the interaction runner.
func NewInteraction(b browser.Automation, baseURL string, steps []Step, artifactsDir string) *Interaction {
	return &Interaction{browser: b, baseURL: baseURL, steps: steps, artifacts: artifactsDir}
}

// Stage returns StageInteraction.
func (s *Interaction) Stage() sdk.Stage { return sdk.StageInteraction }

// Verify executes the steps in order and stops at the first failure,
// since later steps depend on earlier ones. A final screenshot is always
// attempted.
func (s *Interaction) Verify(ctx context.Context) (*sdk.Evidence, error) {
	if s.browser == nil {
		return nil, fmt.Errorf("interaction: no browser: %w", sdk.ErrUnavailable)
	}
	if len(s.steps) == 0 {
		return nil, errors.New("interaction: no steps configured")
	}

	ev := sdk.NewEvidence(sdk.StageInteraction)
	for i, step := range s.steps {
		name := fmt.Sprintf("%d. %s", i+1, step.Describe())
		if err := step.Validate(); err != nil {
			ev.Add(name, false, err.Error())
			break
		}

		detail, err := s.do(ctx, step, i)
		if err != nil {
			if errors.Is(err, sdk.ErrUnavailable) || ctx.Err() != nil {
				return ev, err
			}
			ev.Add(name, false, err.Error())
			if remaining := len(s.steps) - i - 1; remaining > 0 {
				ev.Summary = fmt.Sprintf("stopped at step %d, %d steps not run", i+1, remaining)
			}
			break
		}
		ev.Add(name, true, detail)
	}

	path := artifactPath(s.artifacts, sdk.StageInteraction, "final")
	if err := s.browser.Screenshot(ctx, path, false); err == nil {
		ev.AddArtifact("final screenshot", path)
	}

	if ev.Summary == "" {
		ev.Summary = summarize(ev, len(s.steps), "steps")
	}
	return ev, nil
}

func (s *Interaction) do(ctx context.Context, step Step, i int) (string, error) {
	switch step.Action {
	case ActionNavigate:
		url := ResolveURL(s.baseURL, step.Path)
		return url, s.browser.Navigate(ctx, url)
	case ActionClick:
		return "", s.browser.Click(ctx, step.Selector)
	case ActionFill:
		return "", s.browser.Fill(ctx, step.Selector, step.Value)
	case ActionWait:
		return "", s.browser.WaitVisible(ctx, step.Selector)
	case ActionExpectText:
		sel := step.Selector
		if sel == "" {
			sel = "body"
		}
		text, err := s.browser.Text(ctx, sel)
		if err != nil {
			return "", err
		}
		if !strings.Contains(text, step.Text) {
			return "", fmt.Errorf("found %q", truncate(text, 120))
		}
		return "", nil
	case ActionScreenshot:
		path := artifactPath(s.artifacts, sdk.StageInteraction, fmt.Sprintf("step-%d", i+1))
		return path, s.browser.Screenshot(ctx, path, false)
	}
	return "", fmt.Errorf("unknown action %q", step.Action)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
