// Package quality runs the project's lint, format and type-check commands.
//
// A command that exits non-zero is a result, not an error. Errors are
// reserved for commands that could not be run at all.
package quality

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ternarybob/vloop/pkg/sdk"
)

// DefaultTimeout bounds a single command when none is configured.
const DefaultTimeout = 10 * time.Minute

// exitNotFound is what POSIX shells return for an unknown command.
const exitNotFound = 127

// tailBytes is how much output is kept per stream.
const tailBytes = 4096

// Command is one check to run with sh -c.
type Command struct {
	// Name labels the check, e.g. "lint".
	Name string `toml:"name" json:"name"`

	// Script is the shell script, e.g. "npm run lint".
	Script string `toml:"script" json:"script"`

	// Dir is the working directory. Defaults to the checker's.
	Dir string `toml:"dir" json:"dir,omitempty"`

	// Env is appended to the process environment.
	Env []string `toml:"env" json:"env,omitempty"`

	// Timeout bounds the command. Zero uses DefaultTimeout.
	Timeout time.Duration `toml:"-" json:"timeout,omitempty"`
}

// CommandResult is what running one command produced.
type CommandResult struct {
	Name     string        `json:"name"`
	Script   string        `json:"script"`
	ExitCode int           `json:"exit_code"`
	Passed   bool          `json:"passed"`
	TimedOut bool          `json:"timed_out,omitempty"`
	NotFound bool          `json:"not_found,omitempty"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result aggregates every command of one check run.
type Result struct {
	Passed   bool            `json:"passed"`
	Commands []CommandResult `json:"commands"`
}

// Executor runs a single command.
type Executor interface {
	Exec(ctx context.Context, cmd Command) (CommandResult, error)
}

// Checker runs a list of commands in order.
type Checker struct {
	commands []Command
	dir      string
	exec     Executor
	failFast bool
}

// Option configures a Checker.
type Option func(*Checker)

// WithDir sets the default working directory.
func WithDir(dir string) Option {
	return func(c *Checker) {
		c.dir = dir
	}
}

// WithExecutor replaces the shell executor.
func WithExecutor(e Executor) Option {
	return func(c *Checker) {
		c.exec = e
	}
}

// WithFailFast stops at the first failing command.
func WithFailFast(v bool) Option {
	return func(c *Checker) {
		c.failFast = v
	}
}

// NewChecker creates a checker for commands.
func NewChecker(commands []Command, opts ...Option) *Checker {
	c := &Checker{
		commands: commands,
		exec:     ShellExecutor{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commands returns the configured commands.
func (c *Checker) Commands() []Command {
	out := make([]Command, len(c.commands))
	copy(out, c.commands)
	return out
}

// Check runs every command. It fails when no command is configured, so an
// empty configuration can never look like a pass.
func (c *Checker) Check(ctx context.Context) (Result, error) {
	if len(c.commands) == 0 {
		return Result{}, fmt.Errorf("no code quality commands configured: %w", sdk.ErrUnavailable)
	}

	res := Result{Passed: true}
	for _, cmd := range c.commands {
		if cmd.Dir == "" {
			cmd.Dir = c.dir
		}
		cr, err := c.exec.Exec(ctx, cmd)
		if err != nil {
			return res, fmt.Errorf("run %s: %w", cmd.Name, err)
		}
		res.Commands = append(res.Commands, cr)
		if !cr.Passed {
			res.Passed = false
			if c.failFast {
				break
			}
		}
	}
	return res, nil
}

// ShellExecutor runs commands with sh -c.
type ShellExecutor struct{}

// Exec runs cmd and records its exit status and output tails.
func (ShellExecutor) Exec(ctx context.Context, cmd Command) (CommandResult, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := cmd.Name
	if name == "" {
		name = cmd.Script
	}
	res := CommandResult{Name: name, Script: cmd.Script}

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(runCtx, "sh", "-c", cmd.Script)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = 3 * time.Second

	start := time.Now()
	err := c.Run()
	res.Duration = time.Since(start)
	res.Stdout = tail(stdout.String())
	res.Stderr = tail(stderr.String())

	if err == nil {
		res.Passed = true
		return res, nil
	}

	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.NotFound = res.ExitCode == exitNotFound
		if runCtx.Err() == context.DeadlineExceeded {
			res.TimedOut = true
		}
		return res, nil
	case runCtx.Err() == context.DeadlineExceeded:
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	case errors.Is(err, exec.ErrNotFound):
		return res, fmt.Errorf("shell not found: %w", sdk.ErrUnavailable)
	default:
		return res, fmt.Errorf("start %q: %w", cmd.Script, err)
	}
}

func tail(s string) string {
	s = strings.TrimRight(s, "\n")
	if len(s) <= tailBytes {
		return s
	}
	return "..." + s[len(s)-tailBytes:]
}

// Summary describes a failed command in one line.
func (r CommandResult) Summary() string {
	switch {
	case r.Passed:
		return "passed"
	case r.TimedOut:
		return fmt.Sprintf("timed out after %s", r.Duration.Round(time.Millisecond))
	case r.NotFound:
		return "command not found: " + lastLine(r.Stderr)
	}
	out := lastLine(r.Stderr)
	if out == "" {
		out = lastLine(r.Stdout)
	}
	if out == "" {
		return fmt.Sprintf("exit %d", r.ExitCode)
	}
	return fmt.Sprintf("exit %d: %s", r.ExitCode, out)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
