// Package section renders independent dashboard sections from service
// results. A section that fails shows its own error panel; it never hides
// or blanks the sections around it.
package section

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/result"
)

// Panel is the rendered state of one section.
type Panel struct {
	Name    string       `json:"name"`
	OK      bool         `json:"ok"`
	Body    string       `json:"body,omitempty"`
	Failure *FailureView `json:"failure,omitempty"`
}

// FailureView is what a user sees when a section could not load.
type FailureView struct {
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Code    fault.Code `json:"code,omitempty"`
	Action  string     `json:"action,omitempty"`
}

// Section loads and renders one panel.
type Section interface {
	Name() string
	Load(ctx context.Context) Panel
}

type typed[T any] struct {
	name   string
	load   func(ctx context.Context) result.Result[T]
	render func(T) string
}

// New creates a section from a loader returning a service result and a
// renderer for its data.
func New[T any](name string, load func(ctx context.Context) result.Result[T], render func(T) string) Section {
	return &typed[T]{name: name, load: load, render: render}
}

func (s *typed[T]) Name() string { return s.name }

// Load branches on the result discriminant.
func (s *typed[T]) Load(ctx context.Context) Panel {
	return result.Match(s.load(ctx),
		func(data T) Panel {
			return Panel{Name: s.name, OK: true, Body: s.render(data)}
		},
		func(f result.Failure) Panel {
			return FailurePanel(s.name, f)
		},
	)
}

// FailurePanel builds the error panel for a failed section.
func FailurePanel(name string, f result.Failure) Panel {
	return Panel{
		Name: name,
		Failure: &FailureView{
			Title:   name + " unavailable",
			Message: f.Message,
			Code:    f.Code,
			Action:  actionFor(f.Code),
		},
	}
}

func actionFor(code fault.Code) string {
	if strings.HasPrefix(string(code), "HTTP_5") {
		return "Retry in a moment"
	}
	switch code {
	case fault.EFetchFailed, fault.ETimeout, fault.EHTTPStatus:
		return "Retry in a moment"
	case fault.ECircuitOpen:
		return "The service is cooling down; retry shortly"
	case fault.EDecode:
		return "Report this; the response format changed"
	case fault.ECancelled:
		return "Reload"
	case fault.EUnset:
		return "Report this; the loader returned no result"
	default:
		return ""
	}
}

// Compose loads every section concurrently and returns their panels in
// the order given. A panic in one loader becomes that section's failure
// panel.
func Compose(ctx context.Context, sections ...Section) []Panel {
	panels := make([]Panel, len(sections))

	var g errgroup.Group
	for i, s := range sections {
		g.Go(func() error {
			panels[i] = loadIsolated(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	return panels
}

func loadIsolated(ctx context.Context, s Section) (p Panel) {
	name := s.Name()
	defer func() {
		if r := recover(); r != nil {
			p = FailurePanel(name, result.Failure{
				Code:    fault.EInternal,
				Message: fmt.Sprintf("section panicked: %v", r),
			})
		}
	}()
	p = s.Load(ctx)
	if p.Name == "" {
		p.Name = name
	}
	return p
}

// Failed returns the names of panels that did not load.
func Failed(panels []Panel) []string {
	var out []string
	for _, p := range panels {
		if !p.OK {
			out = append(out, p.Name)
		}
	}
	return out
}
