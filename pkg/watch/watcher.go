// Package watch turns file system changes into debounced batches and
// limits how often a verification run is restarted.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSkipDirs are never watched.
var DefaultSkipDirs = []string{".git", "node_modules", "vendor", ".vloop", "dist", "build", ".next", "coverage"}

// Options configures a Watcher.
type Options struct {
	// Debounce is how long a path must be quiet before it is reported.
	Debounce time.Duration

	// Extensions limits reported files, e.g. ".go", ".tsx". Empty reports all.
	Extensions []string

	// SkipDirs are directory names that are not descended into.
	SkipDirs []string

	Logger *slog.Logger
}

// Watcher reports batches of changed files under a root.
type Watcher struct {
	root    string
	opts    Options
	fs      *fsnotify.Watcher
	changes chan []string
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for root. Call Start to begin.
func NewWatcher(root string, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	if opts.SkipDirs == nil {
		opts.SkipDirs = DefaultSkipDirs
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		root:    root,
		opts:    opts,
		fs:      fw,
		changes: make(chan []string, 1),
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Changes delivers sorted batches of changed paths relative to root.
func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

// Start adds the directory tree and begins processing events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.addDirectories(); err != nil {
		return fmt.Errorf("add directories: %w", err)
	}
	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fs.Close()
	}
	w.running = false
	close(w.done)
	w.mu.Unlock()

	err := w.fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addDirectories() error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.shouldSkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) shouldSkipDir(name string) bool {
	for _, dir := range w.opts.SkipDirs {
		if name == dir {
			return true
		}
	}
	return false
}

func (w *Watcher) wanted(path string) bool {
	if len(w.opts.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, e := range w.opts.Extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// processEvents collects paths until none has changed for the debounce
// interval, then emits them as one batch.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	pending := make(map[string]struct{})
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.shouldSkipDir(info.Name()) {
					_ = w.fs.Add(event.Name)
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !w.wanted(event.Name) {
				continue
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil {
				rel = event.Name
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			timer.Reset(w.opts.Debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = make(map[string]struct{})

			select {
			case w.changes <- batch:
			case <-w.done:
				return
			}
		}
	}
}

// Next waits for the next batch of changes.
func (w *Watcher) Next(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case batch := <-w.changes:
		return batch, nil
	case <-w.done:
		return nil, fmt.Errorf("watcher closed")
	}
}
