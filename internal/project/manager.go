package project

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vloop/internal/config"
	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/monitor"
	"github.com/ternarybob/vloop/pkg/verifier"
)

// Manager handles project lifecycle: registration and open workspaces.
type Manager struct {
	cfg        *config.Config
	registry   *Registry
	monitor    monitor.Monitor
	logger     arbor.ILogger
	slog       *slog.Logger
	opts       []verifier.Option
	workspaces map[string]*Workspace
	mu         sync.RWMutex
}

// NewManager creates a new project manager. Verifier options are applied
// to every workspace.
func NewManager(cfg *config.Config, registry *Registry, mon monitor.Monitor, logger arbor.ILogger, slogger *slog.Logger, opts ...verifier.Option) *Manager {
	if slogger == nil {
		slogger = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		registry:   registry,
		monitor:    mon,
		logger:     logger,
		slog:       slogger,
		opts:       opts,
		workspaces: make(map[string]*Workspace),
	}
}

// Initialize opens a workspace for every registered project. Projects that
// cannot be opened are logged and skipped.
func (m *Manager) Initialize() error {
	for _, p := range m.registry.List() {
		if err := m.openProject(p); err != nil {
			m.logger.Warn().Err(err).Str("project", p.ID).Str("path", p.Path).Msg("Failed to open project")
		}
	}
	return nil
}

func (m *Manager) openProject(p *Project) error {
	if _, err := os.Stat(p.Path); os.IsNotExist(err) {
		return fmt.Errorf("project path does not exist: %s", p.Path)
	}

	ws, err := OpenWorkspace(p, m.monitor, m.slog, m.opts...)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.workspaces[p.ID] = ws
	m.mu.Unlock()

	m.logger.Info().Str("project", p.ID).Str("name", p.Name).Msg("Project opened")
	return nil
}

// RegisterProject registers a project directory and opens its workspace.
func (m *Manager) RegisterProject(path string) (*Project, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fault.Wrap(fault.EUsage, "invalid path", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fault.Wrap(fault.EUsage, "path does not exist", err)
	}
	if !info.IsDir() {
		return nil, fault.Newf(fault.EUsage, "path is not a directory: %s", absPath)
	}

	if existing, _ := m.registry.GetByPath(absPath); existing != nil {
		return nil, fault.Newf(fault.EUsage, "project already registered with ID: %s", existing.ID)
	}

	project := &Project{
		ID:           config.ProjectHash(absPath),
		Path:         absPath,
		Name:         filepath.Base(absPath),
		RegisteredAt: time.Now(),
	}

	// Open first so a broken .vloop.toml is reported before registering.
	ws, err := OpenWorkspace(project, m.monitor, m.slog, m.opts...)
	if err != nil {
		return nil, err
	}
	if cfg := ws.Config(); cfg.Project.Name != "" {
		project.Name = cfg.Project.Name
	}

	if err := m.registry.Add(project); err != nil {
		ws.Close()
		return nil, err
	}
	if err := m.registry.Save(); err != nil {
		m.registry.Remove(project.ID)
		ws.Close()
		return nil, fmt.Errorf("save registry: %w", err)
	}

	m.mu.Lock()
	m.workspaces[project.ID] = ws
	m.mu.Unlock()

	m.logger.Info().Str("project", project.ID).Str("path", absPath).Msg("Project registered")
	return project, nil
}

// UnregisterProject closes a project's workspace and removes it from the
// registry. Its .vloop state directory is left in place.
func (m *Manager) UnregisterProject(id string) error {
	m.mu.Lock()
	ws, ok := m.workspaces[id]
	delete(m.workspaces, id)
	m.mu.Unlock()

	if ok {
		if err := ws.Close(); err != nil {
			m.logger.Warn().Err(err).Str("project", id).Msg("Failed to close browser")
		}
	}

	if err := m.registry.Remove(id); err != nil {
		return err
	}
	if err := m.registry.Save(); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// Workspace returns the open workspace of a project.
func (m *Manager) Workspace(id string) (*Workspace, error) {
	m.mu.RLock()
	ws, ok := m.workspaces[id]
	m.mu.RUnlock()
	if ok {
		return ws, nil
	}

	p, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}
	// Registered but not open: the path vanished or the config was broken
	// at start-up. Try again now.
	if err := m.openProject(p); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.workspaces[id], nil
}

// List returns the registered projects.
func (m *Manager) List() []*Project {
	return m.registry.List()
}

// Shutdown closes every workspace.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ws := range m.workspaces {
		if err := ws.Close(); err != nil {
			m.logger.Warn().Err(err).Str("project", id).Msg("Failed to close browser")
		}
		delete(m.workspaces, id)
	}
}
