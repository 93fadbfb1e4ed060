// Package store persists verification runs and their reports under the
// project state directory.
//
// Layout:
//
//	<dir>/<run-id>.json   run snapshot
//	<dir>/<run-id>.md     markdown report, rewritten on every save
//	<dir>/current         id of the most recently saved run
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/vloop/internal/fileutil"
	"github.com/ternarybob/vloop/pkg/fault"
	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/report"
	"github.com/ternarybob/vloop/pkg/sdk"
)

const currentFile = "current"

// Summary is a listing entry for one run.
type Summary struct {
	ID         string         `json:"id"`
	ChangeType sdk.ChangeType `json:"change_type"`
	Feature    string         `json:"feature,omitempty"`
	Stage      sdk.Stage      `json:"stage"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	StartedAt  time.Time      `json:"started_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Store reads and writes runs in one directory.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New creates a store rooted at dir. The directory is created on first save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the run snapshot and report and marks the run current.
// It matches the loop.WithOnSave signature.
func (s *Store) Save(run *loop.Run) error {
	data, err := run.Snapshot()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fileutil.WriteFileAtomic(s.runPath(run.ID), data); err != nil {
		return fmt.Errorf("save run %s: %w", sdk.ShortID(run.ID), err)
	}
	md := report.Markdown(run.Report())
	if err := fileutil.WriteFileAtomic(s.ReportPath(run.ID), []byte(md)); err != nil {
		return fmt.Errorf("save report %s: %w", sdk.ShortID(run.ID), err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(s.dir, currentFile), []byte(run.ID+"\n")); err != nil {
		return fmt.Errorf("mark current run: %w", err)
	}
	return nil
}

// Load returns the run with id, which may be a unique prefix.
func (s *Store) Load(id string) (*loop.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full, err := s.resolveLocked(id)
	if err != nil {
		return nil, err
	}
	return s.loadLocked(full)
}

// Current returns the most recently saved run.
func (s *Store) Current() (*loop.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fault.New(fault.ERunNotFound, "no verification run yet; start one with vloop run")
	}
	if err != nil {
		return nil, fmt.Errorf("read current run: %w", err)
	}
	return s.loadLocked(strings.TrimSpace(string(data)))
}

// Report returns the report of the run with id.
func (s *Store) Report(id string) (*sdk.Report, error) {
	run, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	return run.Report(), nil
}

// ReportPath returns where the markdown report of id is written.
func (s *Store) ReportPath(id string) string {
	return filepath.Join(s.dir, id+".md")
}

// List returns every stored run, newest first. Unreadable snapshots are
// skipped.
func (s *Store) List() ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.idsLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		run, err := s.loadLocked(id)
		if err != nil {
			continue
		}
		out = append(out, summarize(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Prune deletes all but the newest keep terminal runs. Runs still in
// progress are kept.
func (s *Store) Prune(keep int) (int, error) {
	list, err := s.List()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed, kept := 0, 0
	for _, sum := range list {
		if !sum.Stage.IsTerminal() || kept < keep {
			if sum.Stage.IsTerminal() {
				kept++
			}
			continue
		}
		for _, p := range []string{s.runPath(sum.ID), s.ReportPath(sum.ID)} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, fmt.Errorf("remove %s: %w", filepath.Base(p), err)
			}
		}
		removed++
	}
	return removed, nil
}

func summarize(run *loop.Run) Summary {
	rep := run.Report()
	return Summary{
		ID:         run.ID,
		ChangeType: run.ChangeType,
		Feature:    run.Feature,
		Stage:      run.Current,
		Status:     report.Status(rep),
		Attempts:   rep.Attempts,
		StartedAt:  run.StartedAt,
		UpdatedAt:  run.UpdatedAt,
	}
}

func (s *Store) runPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) loadLocked(id string) (*loop.Run, error) {
	data, err := os.ReadFile(s.runPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fault.Newf(fault.ERunNotFound, "run %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read run: %w", err)
	}
	return loop.Restore(data)
}

func (s *Store) idsLocked() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

func (s *Store) resolveLocked(id string) (string, error) {
	if id == "" {
		return "", fault.New(fault.EUsage, "run id is empty")
	}
	if fileutil.Exists(s.runPath(id)) {
		return id, nil
	}
	ids, err := s.idsLocked()
	if err != nil {
		return "", err
	}
	match := ""
	for _, candidate := range ids {
		if strings.HasPrefix(candidate, id) {
			if match != "" {
				return "", fault.Newf(fault.EUsage, "run id %q is ambiguous", id)
			}
			match = candidate
		}
	}
	if match == "" {
		return "", fault.Newf(fault.ERunNotFound, "run %q not found", id)
	}
	return match, nil
}
