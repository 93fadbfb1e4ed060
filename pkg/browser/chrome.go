package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/ternarybob/vloop/pkg/sdk"
)

// Options configures a Chrome instance.
type Options struct {
	// Headless runs without a window.
	Headless bool

	// Width and Height set the window size.
	Width  int
	Height int

	// RemoteURL attaches to an already running browser
	// (ws://host:9222/...) instead of launching one.
	RemoteURL string

	// ExecPath overrides the browser executable.
	ExecPath string

	// Filter drops benign console and network noise.
	Filter *NoiseFilter

	// Logger receives browser diagnostics.
	Logger *slog.Logger
}

// Chrome implements Automation with chromedp.
type Chrome struct {
	mu sync.Mutex

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	capture     *Capture
	logger      *slog.Logger
	closed      bool
}

// NewChrome launches (or attaches to) a browser and starts capturing
// console and network events. A browser that cannot be started is
// reported as sdk.ErrUnavailable.
func NewChrome(ctx context.Context, opts Options) (*Chrome, error) {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 800
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(opts.Width, opts.Height),
		)
		if opts.ExecPath != "" {
			execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, execOpts...)
	}

	tabCtx, cancel := chromedp.NewContext(allocCtx)

	c := &Chrome{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		capture:     NewCapture(opts.Filter, 0),
		logger:      logger,
	}

	chromedp.ListenTarget(tabCtx, c.onEvent)

	if err := chromedp.Run(tabCtx, network.Enable(), runtime.Enable()); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %v: %w", err, sdk.ErrUnavailable)
	}
	return c, nil
}

func (c *Chrome) onEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		parts := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			parts = append(parts, remoteObjectText(arg))
		}
		msg := ConsoleMessage{Level: string(e.Type), Text: strings.Join(parts, " ")}
		if e.StackTrace != nil && len(e.StackTrace.CallFrames) > 0 {
			msg.URL = e.StackTrace.CallFrames[0].URL
		}
		c.capture.AddConsole(msg)

	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails == nil {
			return
		}
		text := e.ExceptionDetails.Text
		if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
			text = e.ExceptionDetails.Exception.Description
		}
		c.capture.AddConsole(ConsoleMessage{Level: "exception", Text: text, URL: e.ExceptionDetails.URL})

	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		c.capture.RequestStarted(string(e.RequestID), e.Request.Method, e.Request.URL, string(e.Type))

	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		c.capture.ResponseReceived(string(e.RequestID), e.Response.URL, int(e.Response.Status), e.Response.StatusText)

	case *network.EventLoadingFailed:
		c.capture.LoadingFailed(string(e.RequestID), e.ErrorText, e.Canceled)
	}
}

// remoteObjectText renders a console argument the way DevTools prints it.
func remoteObjectText(o *runtime.RemoteObject) string {
	if o == nil {
		return ""
	}
	if len(o.Value) > 0 {
		var s string
		if err := json.Unmarshal([]byte(o.Value), &s); err == nil {
			return s
		}
		return string(o.Value)
	}
	if o.Description != "" {
		return o.Description
	}
	return string(o.Type)
}

// run executes actions on the tab, bounded by the caller's ctx.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("browser closed: %w", sdk.ErrUnavailable)
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && c.ctx.Err() != nil {
		return fmt.Errorf("browser disconnected: %v: %w", err, sdk.ErrUnavailable)
	}
	return err
}

// unreachable matches Chrome's network errors for a dev server that is
// not listening.
var unreachable = regexp.MustCompile(`net::ERR_(CONNECTION_REFUSED|CONNECTION_RESET|NAME_NOT_RESOLVED|ADDRESS_UNREACHABLE|INTERNET_DISCONNECTED|CONNECTION_TIMED_OUT)`)

// Navigate loads url and waits for the body.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	err := c.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body"))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sdk.ErrUnavailable):
		return err
	case unreachable.MatchString(err.Error()):
		return fmt.Errorf("navigate %s: dev server not reachable (%v): %w", url, err, sdk.ErrUnavailable)
	default:
		return fmt.Errorf("navigate %s: %w", url, err)
	}
}

// WaitVisible waits until selector is visible.
func (c *Chrome) WaitVisible(ctx context.Context, selector string) error {
	if err := c.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

// Screenshot writes a PNG to path.
func (c *Chrome) Screenshot(ctx context.Context, path string, fullPage bool) error {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 90)
	}
	if err := c.run(ctx, action); err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

// Text returns the rendered text of selector.
func (c *Chrome) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := c.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read text of %s: %w", selector, err)
	}
	return text, nil
}

// HTML returns the outer HTML of selector.
func (c *Chrome) HTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := c.run(ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html of %s: %w", selector, err)
	}
	return html, nil
}

// Click clicks selector.
func (c *Chrome) Click(ctx context.Context, selector string) error {
	if err := c.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Fill clears and types into the input at selector.
func (c *Chrome) Fill(ctx context.Context, selector, value string) error {
	if err := c.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

// ConsoleMessages returns captured console messages matching pattern.
func (c *Chrome) ConsoleMessages(pattern *regexp.Regexp) []ConsoleMessage {
	return c.capture.ConsoleMessages(pattern)
}

// NetworkRequests returns captured requests whose URL contains substr.
func (c *Chrome) NetworkRequests(substr string) []NetworkRequest {
	return c.capture.NetworkRequests(substr)
}

// Reset clears captured buffers.
func (c *Chrome) Reset() {
	c.capture.Reset()
}

// Close shuts the browser down.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := chromedp.Cancel(c.ctx); err != nil {
		c.logger.Debug("browser cancel", "error", err)
	}
	c.cancel()
	c.allocCancel()
	return nil
}
