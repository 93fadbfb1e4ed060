// Package vloop provides an SDK for verifying code changes before they are
// called done.
//
// A change is classified by its change type, which fixes the mandatory
// verification stages it has to pass: code quality, visual check,
// interaction, and console and network. Stages run in order. A stage that
// fails three times escalates the run to a human, and a run only ends
// verified when every mandatory stage has run and passed.
//
// # Quick Start
//
//	v, err := vloop.New(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer v.Close()
//
//	run, rep, err := v.Verify(ctx, vloop.ChangeUI, "checkout")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(vloop.Markdown(rep))
//
// Projects are configured with a .vloop.toml file; "vloop init" creates one.
package vloop

import (
	"context"
	"log/slog"

	"github.com/ternarybob/vloop/pkg/config"
	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/monitor"
	"github.com/ternarybob/vloop/pkg/quality"
	"github.com/ternarybob/vloop/pkg/report"
	"github.com/ternarybob/vloop/pkg/sdk"
	"github.com/ternarybob/vloop/pkg/verifier"
)

// Verifier runs verification loops for one project.
type Verifier = verifier.Verifier

// Run is the state of one verification loop.
type Run = loop.Run

// Report is the outcome of a run.
type Report = sdk.Report

// ChangeType classifies a change.
type ChangeType = sdk.ChangeType

// Stage is one verification stage.
type Stage = sdk.Stage

// StageRunner verifies one stage.
type StageRunner = sdk.StageRunner

// Evidence is what a stage runner observed.
type Evidence = sdk.Evidence

// Project is a project configuration.
type Project = config.Project

// Option configures a Verifier.
type Option = verifier.Option

// Change types.
const (
	ChangeLogicOnly       = sdk.ChangeLogicOnly
	ChangeUI              = sdk.ChangeUI
	ChangeFormInteractive = sdk.ChangeFormInteractive
	ChangeAPIRoute        = sdk.ChangeAPIRoute
	ChangeFullFeature     = sdk.ChangeFullFeature
)

// New loads the configuration of the project in dir and creates a verifier
// for it.
func New(dir string, opts ...Option) (*Verifier, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	return verifier.New(cfg, opts...)
}

// NewWithConfig creates a verifier for an already loaded configuration.
func NewWithConfig(cfg *Project, opts ...Option) (*Verifier, error) {
	return verifier.New(cfg, opts...)
}

// LoadConfig loads .vloop.toml from dir.
func LoadConfig(dir string) (*Project, error) {
	return config.Load(dir)
}

// DefaultConfig returns the default project configuration.
func DefaultConfig() *Project {
	return config.Default()
}

// ParseChangeType parses a change type name.
func ParseChangeType(s string) (ChangeType, error) {
	return sdk.ParseChangeType(s)
}

// Markdown renders rep as a markdown report.
func Markdown(rep *Report) string {
	return report.Markdown(rep)
}

// Option constructors

// WithLogger sets the verifier's logger.
func WithLogger(logger *slog.Logger) Option {
	return verifier.WithLogger(logger)
}

// WithMonitor receives loop events.
func WithMonitor(mon monitor.Monitor) Option {
	return verifier.WithMonitor(mon)
}

// WithHooks sets lifecycle hooks.
func WithHooks(hooks *sdk.HookRegistry) Option {
	return verifier.WithHooks(hooks)
}

// WithRemediator sets what runs between failed attempts.
func WithRemediator(rem loop.Remediator) Option {
	return verifier.WithRemediator(rem)
}

// WithOnSave persists the run after every outcome.
func WithOnSave(fn func(*Run) error) Option {
	return verifier.WithOnSave(fn)
}

// WithExecutor replaces the shell executor of the code quality stage.
func WithExecutor(e quality.Executor) Option {
	return verifier.WithExecutor(e)
}

// WithStageRunner replaces the configured runner for a stage.
func WithStageRunner(runners ...StageRunner) Option {
	return verifier.WithStageRunner(runners...)
}

// Verify runs a complete loop for a change in the project in dir.
func Verify(ctx context.Context, dir string, ct ChangeType, feature string, opts ...Option) (*Run, *Report, error) {
	v, err := New(dir, opts...)
	if err != nil {
		return nil, nil, err
	}
	defer v.Close()
	return v.Verify(ctx, ct, feature)
}
