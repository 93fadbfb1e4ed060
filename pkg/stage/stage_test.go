package stage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/vloop/pkg/browser"
	"github.com/ternarybob/vloop/pkg/quality"
	"github.com/ternarybob/vloop/pkg/sdk"
)

// fakeBrowser records calls and serves canned page text.
type fakeBrowser struct {
	pages       map[string]string // url -> body text
	unreachable bool
	missing     map[string]bool // selectors that never appear
	capture     *browser.Capture
	current     string
	calls       []string
	screenshots []string
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		pages:   map[string]string{},
		missing: map[string]bool{},
		capture: browser.NewCapture(nil, 0),
	}
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error {
	f.calls = append(f.calls, "navigate "+url)
	if f.unreachable {
		return fmt.Errorf("navigate %s: net::ERR_CONNECTION_REFUSED: %w", url, sdk.ErrUnavailable)
	}
	if _, ok := f.pages[url]; !ok {
		return errors.New("page load error: 404")
	}
	f.current = url
	return nil
}

func (f *fakeBrowser) WaitVisible(ctx context.Context, selector string) error {
	f.calls = append(f.calls, "wait "+selector)
	if f.missing[selector] {
		return fmt.Errorf("wait for %s: context deadline exceeded", selector)
	}
	return nil
}

func (f *fakeBrowser) Screenshot(ctx context.Context, path string, fullPage bool) error {
	f.screenshots = append(f.screenshots, path)
	return nil
}

func (f *fakeBrowser) Text(ctx context.Context, selector string) (string, error) {
	if f.missing[selector] {
		return "", fmt.Errorf("read text of %s: not found", selector)
	}
	return f.pages[f.current], nil
}

func (f *fakeBrowser) HTML(ctx context.Context, selector string) (string, error) {
	return "<body>" + f.pages[f.current] + "</body>", nil
}

func (f *fakeBrowser) Click(ctx context.Context, selector string) error {
	f.calls = append(f.calls, "click "+selector)
	if f.missing[selector] {
		return fmt.Errorf("click %s: not found", selector)
	}
	if selector == "#submit" {
		f.pages[f.current] += " Thanks for your order"
	}
	return nil
}

func (f *fakeBrowser) Fill(ctx context.Context, selector, value string) error {
	f.calls = append(f.calls, "fill "+selector+"="+value)
	return nil
}

func (f *fakeBrowser) ConsoleMessages(re *regexp.Regexp) []browser.ConsoleMessage {
	return f.capture.ConsoleMessages(re)
}

func (f *fakeBrowser) NetworkRequests(substr string) []browser.NetworkRequest {
	return f.capture.NetworkRequests(substr)
}

func (f *fakeBrowser) Reset() { f.calls = append(f.calls, "reset") }

func (f *fakeBrowser) Close() error { return nil }

const base = "http://localhost:3000"

func TestResolveURL(t *testing.T) {
	assert.Equal(t, "http://localhost:3000/cart", ResolveURL(base+"/", "/cart"))
	assert.Equal(t, "http://localhost:3000/", ResolveURL(base, ""))
	assert.Equal(t, "https://other.test/x", ResolveURL(base, "https://other.test/x"))
}

func TestVisual_Pass(t *testing.T) {
	b := newFakeBrowser()
	b.pages[base+"/"] = "Welcome to the shop"
	b.pages[base+"/cart"] = "Your cart is empty"

	v := NewVisual(b, base, []Page{
		{Name: "home", Path: "/", WaitFor: "header", ExpectText: []string{"Welcome"}},
		{Path: "/cart", ExpectText: []string{"cart is empty"}},
	}, t.TempDir())

	ev, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, ev.Passed(), "%+v", ev.Failed())
	assert.Len(t, b.screenshots, 2)
	assert.Len(t, ev.Artifacts, 2)
	assert.Equal(t, sdk.StageVisual, v.Stage())
}

func TestVisual_MissingTextFails(t *testing.T) {
	b := newFakeBrowser()
	b.pages[base+"/"] = "Welcome"

	v := NewVisual(b, base, []Page{{Path: "/", ExpectText: []string{"Sign in"}}}, t.TempDir())
	ev, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, ev.Passed())
	require.Len(t, ev.Failed(), 1)
	assert.Contains(t, ev.Failed()[0].Name, `"Sign in"`)
}

func TestVisual_UnreachableDevServer(t *testing.T) {
	b := newFakeBrowser()
	b.unreachable = true

	v := NewVisual(b, base, []Page{{Path: "/"}}, t.TempDir())
	_, err := v.Verify(context.Background())
	assert.ErrorIs(t, err, sdk.ErrUnavailable)
}

func TestVisual_NoBrowserOrPages(t *testing.T) {
	_, err := NewVisual(nil, base, []Page{{Path: "/"}}, "").Verify(context.Background())
	assert.ErrorIs(t, err, sdk.ErrUnavailable)

	_, err = NewVisual(newFakeBrowser(), base, nil, "").Verify(context.Background())
	assert.Error(t, err)
}

func TestInteraction_FormSubmission(t *testing.T) {
	b := newFakeBrowser()
	b.pages[base+"/checkout"] = "Checkout"

	in := NewInteraction(b, base, []Step{
		{Action: ActionNavigate, Path: "/checkout"},
		{Action: ActionFill, Selector: "#email", Value: "a@b.test"},
		{Action: ActionClick, Selector: "#submit"},
		{Action: ActionExpectText, Text: "Thanks for your order"},
	}, t.TempDir())

	ev, err := in.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, ev.Passed(), "%+v", ev.Failed())
	assert.Len(t, ev.Checks, 4)
	assert.Contains(t, ev.Artifacts, "final screenshot")
	assert.Equal(t, []string{
		"navigate " + base + "/checkout",
		"fill #email=a@b.test",
		"click #submit",
	}, b.calls)
}

func TestInteraction_StopsAtFirstFailure(t *testing.T) {
	b := newFakeBrowser()
	b.pages[base+"/"] = "Home"
	b.missing["#buy"] = true

	in := NewInteraction(b, base, []Step{
		{Action: ActionNavigate, Path: "/"},
		{Action: ActionClick, Selector: "#buy"},
		{Action: ActionExpectText, Text: "Added"},
	}, t.TempDir())

	ev, err := in.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, ev.Passed())
	assert.Len(t, ev.Checks, 2)
	assert.Contains(t, ev.Summary, "1 steps not run")
}

func TestInteraction_InvalidStep(t *testing.T) {
	in := NewInteraction(newFakeBrowser(), base, []Step{{Action: "hover", Selector: "#x"}}, t.TempDir())
	ev, err := in.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, ev.Passed())
	assert.Contains(t, ev.Checks[0].Detail, "unknown action")
}

func TestStepValidate(t *testing.T) {
	assert.Error(t, Step{Action: ActionNavigate}.Validate())
	assert.Error(t, Step{Action: ActionClick}.Validate())
	assert.Error(t, Step{Action: ActionFill}.Validate())
	assert.Error(t, Step{Action: ActionExpectText}.Validate())
	assert.NoError(t, Step{Action: ActionScreenshot}.Validate())
	assert.NoError(t, Step{Action: ActionWait, Selector: "#x"}.Validate())
}

func TestConsoleNetwork_Clean(t *testing.T) {
	b := newFakeBrowser()
	b.pages[base+"/"] = "Home"
	b.capture.AddConsole(browser.ConsoleMessage{Level: "log", Text: "[vite] connected."})
	b.capture.AddConsole(browser.ConsoleMessage{Level: "error", Text: "Download the React DevTools"})
	b.capture.RequestStarted("1", "GET", base+"/api/cart", "Fetch")
	b.capture.ResponseReceived("1", base+"/api/cart", 200, "OK")

	cn := NewConsoleNetwork(b, base, nil, ConsoleNetworkOptions{APIPrefix: "/api/"})
	ev, err := cn.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, ev.Passed(), "%+v", ev.Failed())
	assert.Equal(t, "reset", b.calls[0], "capture is cleared before loading")
}

func TestConsoleNetwork_ReportsErrorsInScope(t *testing.T) {
	b := newFakeBrowser()
	b.pages[base+"/"] = "Home"
	b.capture.AddConsole(browser.ConsoleMessage{Level: "error", Text: "Uncaught TypeError: items.map is not a function"})
	b.capture.AddConsole(browser.ConsoleMessage{Level: "warning", Text: "deprecated API"})
	b.capture.RequestStarted("1", "GET", base+"/api/cart", "Fetch")
	b.capture.ResponseReceived("1", base+"/api/cart", 500, "Internal Server Error")
	b.capture.RequestStarted("2", "GET", base+"/static/missing.png", "Image")
	b.capture.ResponseReceived("2", base+"/static/missing.png", 404, "Not Found")

	cn := NewConsoleNetwork(b, base, []Page{{Path: "/"}}, ConsoleNetworkOptions{APIPrefix: "/api/"})
	ev, err := cn.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, ev.Passed())

	failed := ev.Failed()
	require.Len(t, failed, 2)
	assert.Contains(t, failed[0].Detail, "items.map is not a function")
	assert.NotContains(t, failed[0].Detail, "deprecated")
	assert.Contains(t, failed[1].Detail, "/api/cart -> 500")
	assert.NotContains(t, failed[1].Detail, "missing.png", "requests outside the prefix are ignored")
}

func TestConsoleNetwork_PatternAndWarnings(t *testing.T) {
	b := newFakeBrowser()
	b.pages[base+"/"] = "Home"
	b.capture.AddConsole(browser.ConsoleMessage{Level: "warning", Text: "cart: stale price"})
	b.capture.AddConsole(browser.ConsoleMessage{Level: "error", Text: "analytics: blocked"})

	cn := NewConsoleNetwork(b, base, nil, ConsoleNetworkOptions{
		ConsolePattern: regexp.MustCompile(`^cart:`),
		FailOnWarnings: true,
	})
	ev, err := cn.Verify(context.Background())
	require.NoError(t, err)
	require.Len(t, ev.Failed(), 1)
	assert.True(t, strings.Contains(ev.Failed()[0].Detail, "stale price"))
}

func TestConsoleNetwork_WaitForMissingFails(t *testing.T) {
	b := newFakeBrowser()
	b.pages[base+"/cart"] = "Cart"
	b.missing["#cart-items"] = true

	pages := []Page{{Name: "cart", Path: "/cart", WaitFor: "#cart-items"}}
	ev, err := NewConsoleNetwork(b, base, pages, ConsoleNetworkOptions{}).Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, ev.Passed())
	require.Len(t, ev.Failed(), 1)
	assert.Equal(t, "cart shows #cart-items", ev.Failed()[0].Name)
	assert.Contains(t, ev.Failed()[0].Detail, "deadline exceeded")
}

func TestConsoleNetwork_WaitForCancelledReturnsError(t *testing.T) {
	b := newFakeBrowser()
	b.pages[base+"/cart"] = "Cart"
	b.missing["#cart-items"] = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pages := []Page{{Name: "cart", Path: "/cart", WaitFor: "#cart-items"}}
	_, err := NewConsoleNetwork(b, base, pages, ConsoleNetworkOptions{}).Verify(ctx)
	assert.Error(t, err)
}

func TestConsoleNetwork_Unreachable(t *testing.T) {
	b := newFakeBrowser()
	b.unreachable = true
	_, err := NewConsoleNetwork(b, base, nil, ConsoleNetworkOptions{}).Verify(context.Background())
	assert.ErrorIs(t, err, sdk.ErrUnavailable)
}

type fakeExecutor struct {
	results []quality.CommandResult
	i       int
}

func (f *fakeExecutor) Exec(ctx context.Context, cmd quality.Command) (quality.CommandResult, error) {
	r := f.results[f.i]
	f.i++
	return r, nil
}

func TestCodeQuality(t *testing.T) {
	tests := []struct {
		name        string
		results     []quality.CommandResult
		passed      bool
		unavailable bool
	}{
		{"all pass", []quality.CommandResult{{Name: "lint", Passed: true}, {Name: "types", Passed: true}}, true, false},
		{"lint fails", []quality.CommandResult{{Name: "lint", ExitCode: 1, Stderr: "3 problems"}, {Name: "types", Passed: true}}, false, false},
		{"tool missing", []quality.CommandResult{{Name: "lint", ExitCode: 127, NotFound: true}, {Name: "types", Passed: true}}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := quality.NewChecker(
				[]quality.Command{{Name: "lint"}, {Name: "types"}},
				quality.WithExecutor(&fakeExecutor{results: tt.results}),
			)
			ev, err := NewCodeQuality(checker).Verify(context.Background())
			if tt.unavailable {
				assert.ErrorIs(t, err, sdk.ErrUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.passed, ev.Passed())
		})
	}
}
