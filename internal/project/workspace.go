package project

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ternarybob/vloop/internal/dashboard"
	"github.com/ternarybob/vloop/internal/store"
	projconfig "github.com/ternarybob/vloop/pkg/config"
	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/monitor"
	"github.com/ternarybob/vloop/pkg/sdk"
	"github.com/ternarybob/vloop/pkg/service"
	"github.com/ternarybob/vloop/pkg/tracker"
	"github.com/ternarybob/vloop/pkg/verifier"
)

// Workspace is the open state of one registered project.
type Workspace struct {
	Project *Project
	Tracker *tracker.Tracker
	Runs    *store.Store

	monitor monitor.Monitor
	logger  *slog.Logger
	extra   []verifier.Option

	mu        sync.Mutex // guards cfg, verifier and devServer
	cfg       *projconfig.Project
	verifier  *verifier.Verifier
	devServer *service.Boundary

	// running is held for the whole of a run or step.
	running sync.Mutex
}

// OpenWorkspace loads the project config, criteria and run store of p.
// Extra options are passed to every verifier the workspace creates.
func OpenWorkspace(p *Project, mon monitor.Monitor, logger *slog.Logger, opts ...verifier.Option) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if mon == nil {
		mon = monitor.NewNoopMonitor()
	}
	cfg, err := projconfig.Load(p.Path)
	if err != nil {
		return nil, err
	}
	tr, err := tracker.Open(cfg.StatePath("criteria.json"))
	if err != nil {
		return nil, fmt.Errorf("open criteria: %w", err)
	}

	w := &Workspace{
		Project: p,
		Tracker: tr,
		Runs:    store.New(cfg.StatePath("runs")),
		monitor: &projectMonitor{Monitor: mon, projectID: p.ID},
		logger:  logger.With("project", p.Name),
		extra:   opts,
	}
	if err := w.install(cfg); err != nil {
		return nil, err
	}
	return w, nil
}

// Config returns the current project configuration.
func (w *Workspace) Config() *projconfig.Project {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Reload re-reads .vloop.toml and replaces the verifier. The previous
// verifier's browser is closed. The state directory keeps the location it
// had when the workspace opened. Reload fails while a run is in progress.
func (w *Workspace) Reload() error {
	if err := w.acquire(); err != nil {
		return err
	}
	defer w.running.Unlock()

	cfg, err := projconfig.Load(w.Project.Path)
	if err != nil {
		return err
	}
	return w.install(cfg)
}

func (w *Workspace) install(cfg *projconfig.Project) error {
	opts := append([]verifier.Option{
		verifier.WithLogger(w.logger),
		verifier.WithMonitor(w.monitor),
		verifier.WithOnSave(w.Runs.Save),
	}, w.extra...)

	v, err := verifier.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}

	w.mu.Lock()
	old := w.verifier
	w.cfg = cfg
	w.verifier = v
	w.devServer = dashboard.NewDevServerBoundary(cfg, w.logger)
	w.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			w.logger.Warn("close previous browser", "error", err)
		}
	}
	return nil
}

func (w *Workspace) current() (*projconfig.Project, *verifier.Verifier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg, w.verifier
}

// check rejects change types the current config cannot verify.
func (w *Workspace) check(ct sdk.ChangeType) (*verifier.Verifier, error) {
	if !ct.Valid() {
		return nil, fault.Newf(fault.EUsage, "unknown change type %q", ct)
	}
	cfg, v := w.current()
	if err := cfg.Validate(ct); err != nil {
		return nil, err
	}
	return v, nil
}

func (w *Workspace) acquire() error {
	if !w.running.TryLock() {
		return fault.Newf(fault.EUsage, "a verification run is already in progress for %s", w.Project.Name)
	}
	return nil
}

// Verify starts a new run and drives it to Done or Failed. Only one run or
// step executes per project at a time.
func (w *Workspace) Verify(ctx context.Context, ct sdk.ChangeType, feature string) (*loop.Run, *sdk.Report, error) {
	v, err := w.check(ct)
	if err != nil {
		return nil, nil, err
	}
	if err := w.acquire(); err != nil {
		return nil, nil, err
	}
	defer w.running.Unlock()

	return v.Verify(ctx, ct, feature)
}

// Start creates and saves a new run without executing any stage.
func (w *Workspace) Start(ct sdk.ChangeType, feature string) (*loop.Run, error) {
	if _, err := w.check(ct); err != nil {
		return nil, err
	}
	run, err := loop.NewRun(ct, feature)
	if err != nil {
		return nil, err
	}
	if err := w.Runs.Save(run); err != nil {
		return nil, err
	}
	return run, nil
}

// Launch saves a new run and returns a copy of it along with a function
// that drives the run to Done or Failed. The project stays busy until that
// function returns, so callers must call it exactly once.
func (w *Workspace) Launch(ct sdk.ChangeType, feature string) (*loop.Run, func(context.Context) (*sdk.Report, error), error) {
	v, err := w.check(ct)
	if err != nil {
		return nil, nil, err
	}
	if err := w.acquire(); err != nil {
		return nil, nil, err
	}
	run, err := loop.NewRun(ct, feature)
	if err == nil {
		err = w.Runs.Save(run)
	}
	if err != nil {
		w.running.Unlock()
		return nil, nil, err
	}

	snapshot := run.Clone()
	drive := func(ctx context.Context) (*sdk.Report, error) {
		defer w.running.Unlock()
		return v.Resume(ctx, run)
	}
	return snapshot, drive, nil
}

// Resume drives the current run from its current stage to Done or Failed.
func (w *Workspace) Resume(ctx context.Context) (*loop.Run, *sdk.Report, error) {
	if err := w.acquire(); err != nil {
		return nil, nil, err
	}
	defer w.running.Unlock()

	run, err := w.Runs.Current()
	if err != nil {
		return nil, nil, err
	}
	if run.IsTerminal() {
		return run, run.Report(), nil
	}
	_, v := w.current()
	rep, err := v.Resume(ctx, run)
	return run, rep, err
}

// Dashboard returns what the status sections read for this project.
func (w *Workspace) Dashboard() dashboard.Source {
	w.mu.Lock()
	defer w.mu.Unlock()
	return dashboard.Source{
		Config:    w.cfg,
		Runs:      w.Runs,
		Tracker:   w.Tracker,
		Logger:    w.logger,
		DevServer: w.devServer,
	}
}

// Busy reports whether a run or step is executing.
func (w *Workspace) Busy() bool {
	if !w.running.TryLock() {
		return true
	}
	w.running.Unlock()
	return false
}

// Step executes the current stage of the current run once.
func (w *Workspace) Step(ctx context.Context) (*loop.Run, sdk.StageOutcome, error) {
	if err := w.acquire(); err != nil {
		return nil, sdk.StageOutcome{}, err
	}
	defer w.running.Unlock()

	run, err := w.Runs.Current()
	if err != nil {
		return nil, sdk.StageOutcome{}, err
	}
	_, v := w.current()
	out, err := v.Step(ctx, run)
	return run, out, err
}

// Close releases the browser.
func (w *Workspace) Close() error {
	_, v := w.current()
	if v == nil {
		return nil
	}
	return v.Close()
}

// projectMonitor tags every event with the project it came from.
type projectMonitor struct {
	monitor.Monitor
	projectID string
}

func (m *projectMonitor) Emit(e monitor.Event) {
	m.Monitor.Emit(e.WithData("project", m.projectID))
}
