// Package config loads the per-project verification settings from
// .vloop.toml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/quality"
	"github.com/ternarybob/vloop/pkg/retry"
	"github.com/ternarybob/vloop/pkg/sdk"
	"github.com/ternarybob/vloop/pkg/stage"
)

// FileName is the project config file looked up in the project root.
const FileName = ".vloop.toml"

// Project is the full project configuration.
type Project struct {
	Project        ProjectSection        `toml:"project"`
	Quality        QualitySection        `toml:"quality"`
	Browser        BrowserSection        `toml:"browser"`
	Visual         VisualSection         `toml:"visual"`
	Interaction    InteractionSection    `toml:"interaction"`
	ConsoleNetwork ConsoleNetworkSection `toml:"console_network"`
	Retry          RetrySection          `toml:"retry"`
	Watch          WatchSection          `toml:"watch"`
}

// ProjectSection identifies the project and its running dev server.
type ProjectSection struct {
	Name         string `toml:"name"`
	RootDir      string `toml:"root_dir"`
	BaseURL      string `toml:"base_url"`
	StateDir     string `toml:"state_dir"`
	ArtifactsDir string `toml:"artifacts_dir"`
	StageTimeout string `toml:"stage_timeout"`
}

// QualitySection lists the lint/format/type-check commands.
type QualitySection struct {
	Commands []quality.Command `toml:"commands"`
	Timeout  string            `toml:"timeout"`
	FailFast bool              `toml:"fail_fast"`
}

// BrowserSection configures browser automation.
type BrowserSection struct {
	Headless  bool   `toml:"headless"`
	Width     int    `toml:"width"`
	Height    int    `toml:"height"`
	RemoteURL string `toml:"remote_url"`
	ExecPath  string `toml:"exec_path"`

	// IgnoreConsole adds patterns to the built-in console noise filter.
	IgnoreConsole []string `toml:"ignore_console"`
}

// VisualSection lists pages rendered by the visual check.
type VisualSection struct {
	Pages []stage.Page `toml:"pages"`
}

// InteractionSection is the scripted user flow.
type InteractionSection struct {
	Steps []stage.Step `toml:"steps"`
}

// ConsoleNetworkSection scopes the console/network check.
type ConsoleNetworkSection struct {
	Pages          []stage.Page `toml:"pages"`
	ConsolePattern string       `toml:"console_pattern"`
	APIPrefix      string       `toml:"api_prefix"`
	FailOnWarnings bool         `toml:"fail_on_warnings"`
}

// RetrySection configures fetch retries at service boundaries.
type RetrySection struct {
	MaxAttempts     int     `toml:"max_attempts"`
	InitialInterval string  `toml:"initial_interval"`
	MaxInterval     string  `toml:"max_interval"`
	Multiplier      float64 `toml:"multiplier"`
}

// WatchSection configures watch mode.
type WatchSection struct {
	Debounce         string   `toml:"debounce"`
	Extensions       []string `toml:"extensions"`
	SkipDirs         []string `toml:"skip_dirs"`
	RateLimitPerHour int      `toml:"rate_limit_per_hour"`
}

// Load reads dir/.vloop.toml over the defaults. A missing file yields the
// defaults.
func Load(dir string) (*Project, error) {
	path := filepath.Join(dir, FileName)
	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		err = nil
	}
	if err != nil {
		return nil, err
	}
	if cfg.Project.RootDir == "" || cfg.Project.RootDir == "." {
		cfg.Project.RootDir = dir
	}
	return cfg, nil
}

// LoadFile reads a specific config file over the defaults.
func LoadFile(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fault.Wrap(fault.EConfig, "parse "+path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fault.Newf(fault.EConfig, "%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Save writes the configuration as TOML.
func Save(cfg *Project, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate reports settings that make the stages of ct impossible to run.
func (p *Project) Validate(ct sdk.ChangeType) error {
	var problems []string

	if len(p.Quality.Commands) == 0 {
		problems = append(problems, "quality.commands is empty; code quality cannot be checked")
	}
	for i, c := range p.Quality.Commands {
		if strings.TrimSpace(c.Script) == "" {
			problems = append(problems, fmt.Sprintf("quality.commands[%d] has no script", i))
		}
	}

	needsBrowser := ct.Requires(sdk.StageVisual) || ct.Requires(sdk.StageInteraction) || ct.Requires(sdk.StageConsoleNetwork)
	if needsBrowser && p.Project.BaseURL == "" {
		problems = append(problems, fmt.Sprintf("project.base_url is required for %s changes", ct))
	}
	if ct.Requires(sdk.StageInteraction) {
		if len(p.Interaction.Steps) == 0 {
			problems = append(problems, "interaction.steps is empty")
		}
		for i, s := range p.Interaction.Steps {
			if err := s.Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("interaction.steps[%d]: %v", i, err))
			}
		}
	}
	if p.ConsoleNetwork.ConsolePattern != "" {
		if _, err := regexp.Compile(p.ConsoleNetwork.ConsolePattern); err != nil {
			problems = append(problems, fmt.Sprintf("console_network.console_pattern: %v", err))
		}
	}

	if len(problems) > 0 {
		return fault.New(fault.EConfig, strings.Join(problems, "; "))
	}
	return nil
}

// StageTimeout returns the per-stage timeout.
func (p *Project) StageTimeout() time.Duration {
	return ParseDuration(p.Project.StageTimeout, DefaultStageTimeout)
}

// QualityCommands returns the commands with the section timeout applied.
func (p *Project) QualityCommands() []quality.Command {
	timeout := ParseDuration(p.Quality.Timeout, quality.DefaultTimeout)
	out := make([]quality.Command, len(p.Quality.Commands))
	for i, c := range p.Quality.Commands {
		if c.Timeout == 0 {
			c.Timeout = timeout
		}
		out[i] = c
	}
	return out
}

// ConsolePattern compiles the console selection pattern, or nil when unset.
func (p *Project) ConsolePattern() (*regexp.Regexp, error) {
	if p.ConsoleNetwork.ConsolePattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(p.ConsoleNetwork.ConsolePattern)
	if err != nil {
		return nil, fault.Wrap(fault.EConfig, "console_network.console_pattern", err)
	}
	return re, nil
}

// RetryPolicy builds the retry policy for service boundaries.
func (p *Project) RetryPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	if p.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = p.Retry.MaxAttempts
	}
	policy.InitialInterval = ParseDuration(p.Retry.InitialInterval, policy.InitialInterval)
	policy.MaxInterval = ParseDuration(p.Retry.MaxInterval, policy.MaxInterval)
	if p.Retry.Multiplier > 0 {
		policy.Multiplier = p.Retry.Multiplier
	}
	return policy
}

// VisualPages returns the configured pages, or the home page.
func (p *Project) VisualPages() []stage.Page {
	if len(p.Visual.Pages) == 0 {
		return []stage.Page{{Name: "home", Path: "/"}}
	}
	return p.Visual.Pages
}

// WatchDebounce returns the watch debounce interval.
func (p *Project) WatchDebounce() time.Duration {
	return ParseDuration(p.Watch.Debounce, DefaultDebounce)
}

// StatePath joins name under the state directory.
func (p *Project) StatePath(name string) string {
	dir := p.Project.StateDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.Project.RootDir, dir)
	}
	return filepath.Join(dir, name)
}

// ArtifactsPath returns the absolute artifacts directory.
func (p *Project) ArtifactsPath() string {
	dir := p.Project.ArtifactsDir
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(p.Project.RootDir, dir)
}

// ParseDuration parses s, returning fallback when s is empty or invalid.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
