// Package verifier assembles the verification loop for a project: it turns
// the project configuration into stage runners, owns the browser session
// shared by the browser stages, and drives runs through a loop.Controller.
package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ternarybob/vloop/pkg/browser"
	"github.com/ternarybob/vloop/pkg/config"
	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/monitor"
	"github.com/ternarybob/vloop/pkg/quality"
	"github.com/ternarybob/vloop/pkg/sdk"
	"github.com/ternarybob/vloop/pkg/stage"
)

// BrowserFactory starts a browser session.
type BrowserFactory func(ctx context.Context, opts browser.Options) (browser.Automation, error)

// ChromeFactory launches Chrome through chromedp.
func ChromeFactory(ctx context.Context, opts browser.Options) (browser.Automation, error) {
	return browser.NewChrome(ctx, opts)
}

// Verifier runs verification loops for one project.
type Verifier struct {
	mu sync.Mutex

	cfg        *config.Project
	hooks      *sdk.HookRegistry
	monitor    monitor.Monitor
	logger     *slog.Logger
	remediator loop.Remediator
	onSave     func(*loop.Run) error
	executor   quality.Executor
	newBrowser BrowserFactory
	extra      []sdk.StageRunner

	browser browser.Automation
}

// New creates a Verifier for cfg.
func New(cfg *config.Project, opts ...Option) (*Verifier, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	v := &Verifier{
		cfg:        cfg,
		hooks:      sdk.NewHookRegistry(),
		monitor:    monitor.NewNoopMonitor(),
		logger:     slog.Default(),
		newBrowser: ChromeFactory,
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	return v, nil
}

// Config returns the project configuration.
func (v *Verifier) Config() *config.Project {
	return v.cfg
}

// Hooks returns the hook registry shared by every controller.
func (v *Verifier) Hooks() *sdk.HookRegistry {
	return v.hooks
}

// Runners builds a runner for every stage ct requires. Runners registered
// with WithStageRunner replace the configured ones for their stage.
func (v *Verifier) Runners(ct sdk.ChangeType) ([]sdk.StageRunner, error) {
	overrides := make(map[sdk.Stage]sdk.StageRunner, len(v.extra))
	for _, r := range v.extra {
		overrides[r.Stage()] = r
	}

	var runners []sdk.StageRunner
	for _, st := range ct.MandatoryStages() {
		if r, ok := overrides[st]; ok {
			runners = append(runners, r)
			continue
		}
		r, err := v.runnerFor(st)
		if err != nil {
			return nil, err
		}
		runners = append(runners, r)
	}
	return runners, nil
}

func (v *Verifier) runnerFor(st sdk.Stage) (sdk.StageRunner, error) {
	cfg := v.cfg
	base := cfg.Project.BaseURL
	artifacts := cfg.ArtifactsPath()

	switch st {
	case sdk.StageCodeQuality:
		opts := []quality.Option{
			quality.WithDir(cfg.Project.RootDir),
			quality.WithFailFast(cfg.Quality.FailFast),
		}
		if v.executor != nil {
			opts = append(opts, quality.WithExecutor(v.executor))
		}
		return stage.NewCodeQuality(quality.NewChecker(cfg.QualityCommands(), opts...)), nil

	case sdk.StageVisual:
		pages := cfg.VisualPages()
		return v.browserStage(st, func(b browser.Automation) sdk.StageRunner {
			return stage.NewVisual(b, base, pages, artifacts)
		}), nil

	case sdk.StageInteraction:
		steps := cfg.Interaction.Steps
		return v.browserStage(st, func(b browser.Automation) sdk.StageRunner {
			return stage.NewInteraction(b, base, steps, artifacts)
		}), nil

	case sdk.StageConsoleNetwork:
		pattern, err := cfg.ConsolePattern()
		if err != nil {
			return nil, err
		}
		pages := cfg.ConsoleNetwork.Pages
		opts := stage.ConsoleNetworkOptions{
			ConsolePattern: pattern,
			APIPrefix:      cfg.ConsoleNetwork.APIPrefix,
			FailOnWarnings: cfg.ConsoleNetwork.FailOnWarnings,
		}
		return v.browserStage(st, func(b browser.Automation) sdk.StageRunner {
			return stage.NewConsoleNetwork(b, base, pages, opts)
		}), nil
	}
	return nil, fmt.Errorf("no runner for stage %s", st)
}

// browserStage defers browser start-up to the first attempt of a browser
// stage, so runs that never reach one never launch a browser. A failed
// start is retried on the next attempt.
func (v *Verifier) browserStage(st sdk.Stage, build func(browser.Automation) sdk.StageRunner) sdk.StageRunner {
	return sdk.StageRunnerFunc{
		For: st,
		Fn: func(ctx context.Context) (*sdk.Evidence, error) {
			b, err := v.acquireBrowser(ctx)
			if err != nil {
				return nil, err
			}
			return build(b).Verify(ctx)
		},
	}
}

func (v *Verifier) acquireBrowser(ctx context.Context) (browser.Automation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.browser != nil {
		return v.browser, nil
	}

	filter, err := browser.NewNoiseFilter(v.cfg.Browser.IgnoreConsole...)
	if err != nil {
		return nil, fmt.Errorf("browser noise filter: %w", err)
	}
	b, err := v.newBrowser(context.WithoutCancel(ctx), browser.Options{
		Headless:  v.cfg.Browser.Headless,
		Width:     v.cfg.Browser.Width,
		Height:    v.cfg.Browser.Height,
		RemoteURL: v.cfg.Browser.RemoteURL,
		ExecPath:  v.cfg.Browser.ExecPath,
		Filter:    filter,
		Logger:    v.logger,
	})
	if err != nil {
		v.logger.Warn("browser unavailable", "error", err)
		return nil, err
	}
	v.browser = b
	return b, nil
}

// Controller creates a controller for run with every configured
// collaborator attached.
func (v *Verifier) Controller(run *loop.Run) (*loop.Controller, error) {
	runners, err := v.Runners(run.ChangeType)
	if err != nil {
		return nil, err
	}
	opts := []loop.Option{
		loop.WithRunner(runners...),
		loop.WithHooks(v.hooks),
		loop.WithMonitor(v.monitor),
		loop.WithLogger(v.logger),
		loop.WithStageTimeout(v.cfg.StageTimeout()),
	}
	if v.remediator != nil {
		opts = append(opts, loop.WithRemediator(v.remediator))
	}
	if v.onSave != nil {
		opts = append(opts, loop.WithOnSave(v.onSave))
	}
	return loop.NewController(run, opts...)
}

// Verify starts a run for a change and drives it to Done or Failed.
func (v *Verifier) Verify(ctx context.Context, ct sdk.ChangeType, feature string) (*loop.Run, *sdk.Report, error) {
	run, err := loop.NewRun(ct, feature)
	if err != nil {
		return nil, nil, err
	}
	if v.onSave != nil {
		if err := v.onSave(run.Clone()); err != nil {
			return nil, nil, fmt.Errorf("save run: %w", err)
		}
	}
	rep, err := v.Resume(ctx, run)
	return run, rep, err
}

// Resume drives an existing run to Done or Failed.
func (v *Verifier) Resume(ctx context.Context, run *loop.Run) (*sdk.Report, error) {
	c, err := v.Controller(run)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx)
}

// Step executes the current stage of run once.
func (v *Verifier) Step(ctx context.Context, run *loop.Run) (sdk.StageOutcome, error) {
	c, err := v.Controller(run)
	if err != nil {
		return sdk.StageOutcome{}, err
	}
	return c.Step(ctx)
}

// Close releases the browser session.
func (v *Verifier) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.browser == nil {
		return nil
	}
	err := v.browser.Close()
	v.browser = nil
	return err
}
