// Package main provides the vloop command line.
//
// vloop drives a change through the verification stages its change type
// requires and refuses to call it done until every one of them has run and
// passed.
//
// Usage:
//
//	vloop init                                  Create .vloop.toml and the assistant command
//	vloop run --type <change-type> [--feature F] Verify a change
//	vloop step                                  Run the current stage of the current run once
//	vloop status                                Show the project dashboard
//	vloop report [run-id]                       Print a verification report
//	vloop criteria add|list|start|complete      Track acceptance criteria
//	vloop watch --type <change-type>            Verify again on every change
//	vloop serve                                 Start the HTTP service
//	vloop mcp                                   Serve MCP tools on stdio
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ternarybob/vloop/internal/config"
	"github.com/ternarybob/vloop/internal/logger"
	"github.com/ternarybob/vloop/internal/project"
	projconfig "github.com/ternarybob/vloop/pkg/config"
	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/monitor"
	"github.com/ternarybob/vloop/pkg/verifier"
)

// version is set via -ldflags at build time
var version = "dev"

// Flag names shared across commands.
const (
	FlagDir      = "dir"
	FlagLogLevel = "log-level"
	FlagType     = "type"
	FlagFeature  = "feature"
	FlagRun      = "run"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	logger.Stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, extra ...verifier.Option) int {
	root := newRootCmd(extra...)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return fault.ExitCode(err)
}

// cli holds the state shared by subcommands.
type cli struct {
	dir      string
	logLevel string

	// extra is appended to every verifier the CLI creates.
	extra []verifier.Option
}

func newRootCmd(extra ...verifier.Option) *cobra.Command {
	c := &cli{extra: extra}

	root := &cobra.Command{
		Use:   "vloop",
		Short: "Verify changes before calling them done",
		Long: `vloop runs the verification stages a change requires (code quality, visual
check, interaction, console and network) in order. A stage that fails three
times escalates to a human, and a change is only verified when every mandatory
stage has run and passed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cmd.Name() != "serve" && cmd.Name() != "mcp" {
				logger.SetupConsole(c.logLevel)
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.dir, FlagDir, "C", ".", "Project directory")
	root.PersistentFlags().StringVar(&c.logLevel, FlagLogLevel, "warn", "Log level: debug, info, warn, error")

	root.AddCommand(
		newVersionCmd(),
		c.newInitCmd(),
		c.newRunCmd(),
		c.newStepCmd(),
		c.newWatchCmd(),
		c.newStatusCmd(),
		c.newReportCmd(),
		c.newCriteriaCmd(),
		c.newServeCmd(),
		c.newStopCmd(),
		c.newMCPCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vloop %s\n", version)
		},
	}
}

func (c *cli) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .vloop.toml and the assistant verify command",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.projectDir()
			if err != nil {
				return err
			}
			created, err := projconfig.Init(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(created) == 0 {
				fmt.Fprintln(out, "Already initialized.")
				return nil
			}
			for _, path := range created {
				fmt.Fprintf(out, "created %s\n", path)
			}
			fmt.Fprintln(out, "\nEdit .vloop.toml: set base_url and your quality commands.")
			return nil
		},
	}
}

func (c *cli) projectDir() (string, error) {
	abs, err := filepath.Abs(c.dir)
	if err != nil {
		return "", fault.Wrap(fault.EUsage, "resolve project directory", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fault.Newf(fault.EUsage, "project directory %s does not exist", abs)
	}
	return abs, nil
}

// slogger returns the library logger for one-shot commands.
func (c *cli) slogger() *slog.Logger {
	return logger.Slog(c.logLevel)
}

// open opens the project workspace for the CLI. The CLI uses the same
// workspace as the service, so runs and criteria are shared.
func (c *cli) open(mon monitor.Monitor, opts ...verifier.Option) (*project.Workspace, error) {
	dir, err := c.projectDir()
	if err != nil {
		return nil, err
	}
	p := &project.Project{
		ID:   config.ProjectHash(dir),
		Path: dir,
		Name: filepath.Base(dir),
	}
	return project.OpenWorkspace(p, mon, c.slogger(), append(append([]verifier.Option{}, opts...), c.extra...)...)
}
