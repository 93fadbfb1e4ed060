// Package project tracks the projects the service verifies and keeps a
// workspace open for each.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/vloop/internal/config"
	"github.com/ternarybob/vloop/internal/fileutil"
	"github.com/ternarybob/vloop/pkg/fault"
)

// ErrProjectNotFound is returned when no project matches an id or path.
var ErrProjectNotFound = errors.New("project not found")

// Project represents a registered project.
type Project struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry manages the collection of registered projects.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*Project
	path     string
}

// NewRegistry creates a new project registry.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		projects: make(map[string]*Project),
		path:     cfg.RegistryPath(),
	}
}

// Load loads the registry from disk.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var projects []*Project
	if err := fileutil.ReadJSON(r.path, &projects); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // No registry file yet
		}
		return fault.Wrap(fault.EDecode, "load registry", err)
	}

	for _, p := range projects {
		r.projects[p.ID] = p
	}

	return nil
}

// Save persists the registry to disk.
func (r *Registry) Save() error {
	r.mu.RLock()
	projects := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		projects = append(projects, p)
	}
	r.mu.RUnlock()
	sortProjects(projects)

	if err := fileutil.WriteJSON(r.path, projects); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// Add adds a project to the registry.
func (r *Registry) Add(project *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check if already registered
	for _, p := range r.projects {
		if p.Path == project.Path {
			return fmt.Errorf("project already registered with ID: %s", p.ID)
		}
	}

	r.projects[project.ID] = project
	return nil
}

// Remove removes a project from the registry.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.projects[id]; !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}

	delete(r.projects, id)
	return nil
}

// Get returns a project by ID.
func (r *Registry) Get(id string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	project, ok := r.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}

	return project, nil
}

// GetByPath returns a project by its path.
func (r *Registry) GetByPath(path string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	for _, p := range r.projects {
		pAbs, _ := filepath.Abs(p.Path)
		if pAbs == absPath {
			return p, nil
		}
	}

	return nil, fmt.Errorf("%w for path: %s", ErrProjectNotFound, path)
}

// List returns all registered projects.
func (r *Registry) List() []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	projects := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		projects = append(projects, p)
	}
	sortProjects(projects)

	return projects
}

func sortProjects(projects []*Project) {
	sort.Slice(projects, func(i, j int) bool {
		if !projects[i].RegisteredAt.Equal(projects[j].RegisteredAt) {
			return projects[i].RegisteredAt.Before(projects[j].RegisteredAt)
		}
		return projects[i].ID < projects[j].ID
	})
}

// Count returns the number of registered projects.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}
