// Package service provides the service lifecycle: HTTP server, pid file,
// signal handling and graceful shutdown.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vloop/internal/config"
	"github.com/ternarybob/vloop/internal/fileutil"
)

// ShutdownTimeout bounds graceful shutdown of in-flight requests.
const ShutdownTimeout = 30 * time.Second

// Daemon manages the service lifecycle.
type Daemon struct {
	cfg       *config.Config
	logger    arbor.ILogger
	server    *http.Server
	listener  net.Listener
	onStop    []func()
	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
	mu        sync.Mutex
	running   bool
}

// NewDaemon creates a new daemon instance.
func NewDaemon(cfg *config.Config, logger arbor.ILogger) *Daemon {
	return &Daemon{
		cfg:       cfg,
		logger:    logger,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// OnStop registers fn to run during shutdown, after the HTTP server has
// drained. Functions run in registration order.
func (d *Daemon) OnStop(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStop = append(d.onStop, fn)
}

// Start binds the configured address and serves handler in the background.
func (d *Daemon) Start(handler http.Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("daemon already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	ln, err := net.Listen("tcp", d.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Address(), err)
	}

	if err := d.writePID(); err != nil {
		ln.Close()
		return fmt.Errorf("write PID: %w", err)
	}

	d.listener = ln
	d.server = &http.Server{
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// No write timeout: the event stream holds responses open.
		IdleTimeout: 120 * time.Second,
	}
	d.running = true

	go func() {
		d.logger.Info().Str("address", ln.Addr().String()).Msg("Server listening")
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("Server error")
			d.Stop()
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Wait blocks until a termination signal arrives or Stop is called, then
// shuts down.
func (d *Daemon) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case <-d.stopCh:
		d.logger.Info().Msg("Stop requested, shutting down")
	}

	d.shutdown()
}

// Stop asks Wait to shut down. Safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Done is closed once shutdown has finished.
func (d *Daemon) Done() <-chan struct{} {
	return d.stoppedCh
}

func (d *Daemon) shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Server shutdown error")
	}
	for _, fn := range d.onStop {
		fn()
	}

	d.removePID()
	d.running = false
	close(d.stoppedCh)
	d.logger.Info().Msg("Service stopped")
}

func (d *Daemon) writePID() error {
	return fileutil.WriteFileAtomic(d.cfg.PIDPath(), []byte(strconv.Itoa(os.Getpid())))
}

func (d *Daemon) removePID() {
	_ = os.Remove(d.cfg.PIDPath())
}

// IsRunning checks if a daemon is already running.
func IsRunning(cfg *config.Config) (bool, int) {
	pidPath := cfg.PIDPath()

	data, err := os.ReadFile(pidPath)
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	// Signal 0 probes for existence.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(pidPath)
		return false, 0
	}

	return true, pid
}

// StopRunning stops a running daemon: SIGTERM, then a kill after three
// seconds.
func StopRunning(cfg *config.Config) error {
	running, pid := IsRunning(cfg)
	if !running {
		return fmt.Errorf("daemon not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if running, _ := IsRunning(cfg); !running {
			return nil
		}
	}

	if err := process.Kill(); err != nil {
		return fmt.Errorf("kill process: %w", err)
	}
	_ = os.Remove(cfg.PIDPath())

	return nil
}
