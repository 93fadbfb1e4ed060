package stage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/vloop/pkg/browser"
	"github.com/ternarybob/vloop/pkg/sdk"
)

// ConsoleNetworkOptions scopes what the console/network stage inspects.
type ConsoleNetworkOptions struct {
	// ConsolePattern selects console messages. Nil selects all.
	ConsolePattern *regexp.Regexp

	// APIPrefix limits network checks to URLs containing it, e.g. "/api/".
	APIPrefix string

	// FailOnWarnings treats console warnings as failures.
	FailOnWarnings bool
}

// ConsoleNetwork loads pages and inspects console output and network
// requests for errors.
type ConsoleNetwork struct {
	browser browser.Automation
	baseURL string
	pages   []Page
	opts    ConsoleNetworkOptions
}

// NewConsoleNetwork creates the console/network runner.
func NewConsoleNetwork(b browser.Automation, baseURL string, pages []Page, opts ConsoleNetworkOptions) *ConsoleNetwork {
	return &ConsoleNetwork{browser: b, baseURL: baseURL, pages: pages, opts: opts}
}

// Stage returns StageConsoleNetwork.
func (s *ConsoleNetwork) Stage() sdk.Stage { return sdk.StageConsoleNetwork }

// Verify loads each page on a clean capture and reports console errors
// and failed requests.
func (s *ConsoleNetwork) Verify(ctx context.Context) (*sdk.Evidence, error) {
	if s.browser == nil {
		return nil, fmt.Errorf("console/network check: no browser: %w", sdk.ErrUnavailable)
	}
	pages := s.pages
	if len(pages) == 0 {
		pages = []Page{{Name: "home", Path: "/"}}
	}

	ev := sdk.NewEvidence(sdk.StageConsoleNetwork)
	s.browser.Reset()

	for _, p := range pages {
		url := ResolveURL(s.baseURL, p.Path)
		if err := s.browser.Navigate(ctx, url); err != nil {
			if errors.Is(err, sdk.ErrUnavailable) || ctx.Err() != nil {
				return ev, err
			}
			ev.Add("load "+p.label(), false, err.Error())
			continue
		}
		ev.Add("load "+p.label(), true, url)
		if p.WaitFor != "" {
			name := fmt.Sprintf("%s shows %s", p.label(), p.WaitFor)
			if err := s.browser.WaitVisible(ctx, p.WaitFor); err != nil {
				if errors.Is(err, sdk.ErrUnavailable) || ctx.Err() != nil {
					return ev, err
				}
				ev.Add(name, false, err.Error())
			} else {
				ev.Add(name, true, "")
			}
		}
	}

	var consoleProblems []string
	for _, m := range s.browser.ConsoleMessages(s.opts.ConsolePattern) {
		if m.IsError() || (s.opts.FailOnWarnings && m.Level == "warning") {
			consoleProblems = append(consoleProblems, fmt.Sprintf("[%s] %s", m.Level, truncate(m.Text, 200)))
		}
	}
	ev.Add("console clean", len(consoleProblems) == 0, joinLimited(consoleProblems, 5))

	var netProblems []string
	requests := s.browser.NetworkRequests(s.opts.APIPrefix)
	for _, r := range requests {
		if r.IsError() {
			netProblems = append(netProblems, r.String())
		}
	}
	scope := "all requests"
	if s.opts.APIPrefix != "" {
		scope = "requests under " + s.opts.APIPrefix
	}
	detail := joinLimited(netProblems, 5)
	if detail == "" {
		detail = fmt.Sprintf("%d requests observed", len(requests))
	}
	ev.Add(scope+" succeeded", len(netProblems) == 0, detail)

	ev.Summary = fmt.Sprintf("%d console errors, %d failed requests across %d pages",
		len(consoleProblems), len(netProblems), len(pages))
	return ev, nil
}

func joinLimited(items []string, n int) string {
	if len(items) <= n {
		return strings.Join(items, "; ")
	}
	return strings.Join(items[:n], "; ") + fmt.Sprintf("; and %d more", len(items)-n)
}
