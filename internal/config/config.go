// Package config provides configuration management for the vloop service.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the service configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	API     APIConfig     `yaml:"api"`
	MCP     MCPConfig     `yaml:"mcp"`
	Logging LoggingConfig `yaml:"logging"`
	Events  EventsConfig  `yaml:"events"`
}

// ServiceConfig contains service-level settings.
type ServiceConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// APIConfig contains API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// MCPConfig contains MCP server settings.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig controls the service log writers.
type LoggingConfig struct {
	Level      string   `yaml:"level"`
	Format     string   `yaml:"format"` // "text" or "json"
	Output     []string `yaml:"output"` // "console", "file"
	TimeFormat string   `yaml:"time_format"`
	MaxSizeMB  int      `yaml:"max_size_mb"`
	MaxBackups int      `yaml:"max_backups"`
}

// EventsConfig sizes the in-process event bus.
type EventsConfig struct {
	HistorySize int `yaml:"history_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Host:    "127.0.0.1",
			Port:    8470,
			DataDir: DefaultDataDir(),
		},
		API: APIConfig{
			Enabled: true,
			APIKey:  "", // Empty = no auth for localhost
		},
		MCP: MCPConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"console", "file"},
			TimeFormat: "15:04:05.000",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Events: EventsConfig{
			HistorySize: 500,
		},
	}
}

// DefaultDataDir returns the default data directory based on OS.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "vloop")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "vloop")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "vloop")
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "vloop")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".vloop-service")
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if strings.HasPrefix(cfg.Service.DataDir, "~/") {
		home, _ := os.UserHomeDir()
		cfg.Service.DataDir = filepath.Join(home, cfg.Service.DataDir[2:])
	}
	if cfg.Events.HistorySize <= 0 {
		cfg.Events.HistorySize = DefaultConfig().Events.HistorySize
	}

	return cfg, nil
}

// Save saves the configuration to a file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Address returns the full address string for the HTTP server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.Port)
}

// RegistryPath returns the path to the project registry file.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Service.DataDir, "registry.json")
}

// LogPath returns the path to the service log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Service.DataDir, "logs", "vloop.log")
}

// PIDPath returns the path to the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Service.DataDir, "vloop.pid")
}

// EnsureDirectories creates all necessary directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Service.DataDir,
		filepath.Dir(c.LogPath()),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// HasOutput reports whether the named log output is enabled.
func (l LoggingConfig) HasOutput(name string) bool {
	for _, o := range l.Output {
		if strings.EqualFold(strings.TrimSpace(o), name) {
			return true
		}
	}
	return false
}

// LogSink is one destination the service logs to.
type LogSink struct {
	Kind string // "file", "console" or "memory"
	Path string // set for file sinks
}

// LogSinks resolves Logging.Output into sinks. Unknown names are ignored;
// when neither file nor console is named the service logs to the console.
// A memory sink always comes last so recent entries can be served back.
func (c *Config) LogSinks() []LogSink {
	var sinks []LogSink
	if c.Logging.HasOutput("file") {
		sinks = append(sinks, LogSink{Kind: "file", Path: c.LogPath()})
	}
	if c.Logging.HasOutput("console") || c.Logging.HasOutput("stdout") || len(sinks) == 0 {
		sinks = append(sinks, LogSink{Kind: "console"})
	}
	return append(sinks, LogSink{Kind: "memory"})
}

// Logfmt reports whether entries are written as logfmt text rather than JSON.
func (l LoggingConfig) Logfmt() bool {
	return strings.EqualFold(l.Format, "text")
}

// Layout returns the entry time layout.
func (l LoggingConfig) Layout() string {
	if l.TimeFormat == "" {
		return "15:04:05.000"
	}
	return l.TimeFormat
}

// Rotation returns the file size in bytes that triggers rotation and how
// many rotated files are kept.
func (l LoggingConfig) Rotation() (maxBytes int64, backups int) {
	maxBytes, backups = 100<<20, 5
	if l.MaxSizeMB > 0 {
		maxBytes = int64(l.MaxSizeMB) << 20
	}
	if l.MaxBackups > 0 {
		backups = l.MaxBackups
	}
	return maxBytes, backups
}

// ProjectHash generates a stable id for a project path.
// Returns the first 16 characters of the SHA256 hash.
func ProjectHash(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	absPath = filepath.Clean(absPath)

	h := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(h[:])[:16]
}
