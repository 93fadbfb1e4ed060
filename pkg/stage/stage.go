// Package stage provides the runners for each verification stage.
//
// Every runner returns evidence for what it actually executed. Errors are
// returned only when the stage could not be executed, for example when the
// dev server is unreachable; those errors wrap sdk.ErrUnavailable.
package stage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/vloop/pkg/browser"
	"github.com/ternarybob/vloop/pkg/quality"
	"github.com/ternarybob/vloop/pkg/sdk"
)

// Page is a page to render during the visual and console/network stages.
type Page struct {
	// Name labels the page in evidence and artifact names.
	Name string `toml:"name" json:"name"`

	// Path is appended to the base URL. Absolute URLs are used as is.
	Path string `toml:"path" json:"path"`

	// WaitFor is a selector that must become visible.
	WaitFor string `toml:"wait_for" json:"wait_for,omitempty"`

	// ExpectText lists strings that must appear in the rendered body.
	ExpectText []string `toml:"expect_text" json:"expect_text,omitempty"`

	// FullPage captures the whole page rather than the viewport.
	FullPage bool `toml:"full_page" json:"full_page,omitempty"`
}

func (p Page) label() string {
	if p.Name != "" {
		return p.Name
	}
	if p.Path == "" {
		return "/"
	}
	return p.Path
}

// ResolveURL joins base and path. An absolute path is returned unchanged.
func ResolveURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path == "" {
		path = "/"
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// artifactPath builds a unique screenshot path under dir.
func artifactPath(dir string, stage sdk.Stage, name string) string {
	clean := strings.Trim(unsafeName.ReplaceAllString(name, "-"), "-")
	if clean == "" {
		clean = "root"
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s-%s.png", stage, clean, time.Now().Format("20060102-150405.000")))
}

// CodeQuality verifies the project's lint, format and type checks.
type CodeQuality struct {
	checker *quality.Checker
}

// NewCodeQuality creates the code-quality runner.
func NewCodeQuality(checker *quality.Checker) *CodeQuality {
	return &CodeQuality{checker: checker}
}

// Stage returns StageCodeQuality.
func (s *CodeQuality) Stage() sdk.Stage { return sdk.StageCodeQuality }

// Verify runs every configured command.
func (s *CodeQuality) Verify(ctx context.Context) (*sdk.Evidence, error) {
	res, err := s.checker.Check(ctx)
	if err != nil {
		return nil, fmt.Errorf("code quality: %w", err)
	}

	ev := sdk.NewEvidence(sdk.StageCodeQuality)
	var missing []string
	for _, cr := range res.Commands {
		if cr.NotFound {
			missing = append(missing, cr.Name)
		}
		ev.Add(cr.Name, cr.Passed, cr.Summary())
	}
	if len(missing) > 0 {
		return ev, fmt.Errorf("code quality tools not installed (%s): %w", strings.Join(missing, ", "), sdk.ErrUnavailable)
	}

	if res.Passed {
		ev.Summary = fmt.Sprintf("%d checks passed", len(res.Commands))
	} else {
		ev.Summary = fmt.Sprintf("%d of %d checks failed", len(ev.Failed()), len(res.Commands))
	}
	return ev, nil
}

// Visual renders pages, captures screenshots and checks expected content.
type Visual struct {
	browser   browser.Automation
	baseURL   string
	pages     []Page
	artifacts string
}

// NewVisual creates the visual-check runner.
func NewVisual(b browser.Automation, baseURL string, pages []Page, artifactsDir string) *Visual {
	return &Visual{browser: b, baseURL: baseURL, pages: pages, artifacts: artifactsDir}
}

// Stage returns StageVisual.
func (s *Visual) Stage() sdk.Stage { return sdk.StageVisual }

// Verify renders each page.
func (s *Visual) Verify(ctx context.Context) (*sdk.Evidence, error) {
	if s.browser == nil {
		return nil, fmt.Errorf("visual check: no browser: %w", sdk.ErrUnavailable)
	}
	if len(s.pages) == 0 {
		return nil, errors.New("visual check: no pages configured")
	}

	ev := sdk.NewEvidence(sdk.StageVisual)
	for _, p := range s.pages {
		url := ResolveURL(s.baseURL, p.Path)
		label := p.label()

		if err := s.browser.Navigate(ctx, url); err != nil {
			if errors.Is(err, sdk.ErrUnavailable) || ctx.Err() != nil {
				return ev, err
			}
			ev.Add("render "+label, false, err.Error())
			continue
		}
		ev.Add("render "+label, true, url)

		if p.WaitFor != "" {
			if err := s.browser.WaitVisible(ctx, p.WaitFor); err != nil {
				ev.Add(fmt.Sprintf("%s shows %s", label, p.WaitFor), false, err.Error())
			} else {
				ev.Add(fmt.Sprintf("%s shows %s", label, p.WaitFor), true, "")
			}
		}

		path := artifactPath(s.artifacts, sdk.StageVisual, label)
		if err := s.browser.Screenshot(ctx, path, p.FullPage); err != nil {
			ev.Add("screenshot "+label, false, err.Error())
		} else {
			ev.AddArtifact("screenshot "+label, path)
		}

		if len(p.ExpectText) > 0 {
			body, err := s.browser.Text(ctx, "body")
			for _, want := range p.ExpectText {
				name := fmt.Sprintf("%s contains %q", label, want)
				switch {
				case err != nil:
					ev.Add(name, false, err.Error())
				case strings.Contains(body, want):
					ev.Add(name, true, "")
				default:
					ev.Add(name, false, "text not found on page")
				}
			}
		}
	}

	ev.Summary = summarize(ev, len(s.pages), "pages")
	return ev, nil
}

func summarize(ev *sdk.Evidence, n int, noun string) string {
	failed := len(ev.Failed())
	if failed == 0 {
		return fmt.Sprintf("%d %s verified, %d checks passed", n, noun, len(ev.Checks))
	}
	return fmt.Sprintf("%d of %d checks failed across %d %s", failed, len(ev.Checks), n, noun)
}
