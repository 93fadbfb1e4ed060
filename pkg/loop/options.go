package loop

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ternarybob/vloop/pkg/monitor"
	"github.com/ternarybob/vloop/pkg/sdk"
)

// Option configures a Controller.
type Option func(*Controller) error

// WithRunner registers stage runners. Registering two runners for the same
// stage is an error.
func WithRunner(runners ...sdk.StageRunner) Option {
	return func(c *Controller) error {
		for _, r := range runners {
			if r == nil {
				continue
			}
			if _, dup := c.runners[r.Stage()]; dup {
				return fmt.Errorf("runner for %s already registered", r.Stage())
			}
			c.runners[r.Stage()] = r
		}
		return nil
	}
}

// WithRemediator sets what runs between failed attempts.
func WithRemediator(rem Remediator) Option {
	return func(c *Controller) error {
		c.remediator = rem
		return nil
	}
}

// WithHooks sets the lifecycle hook registry.
func WithHooks(hooks *sdk.HookRegistry) Option {
	return func(c *Controller) error {
		c.hooks = hooks
		return nil
	}
}

// WithMonitor sets the event monitor.
func WithMonitor(mon monitor.Monitor) Option {
	return func(c *Controller) error {
		c.monitor = mon
		return nil
	}
}

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) error {
		c.logger = logger
		return nil
	}
}

// WithStageTimeout bounds a single stage attempt. Zero disables the bound.
func WithStageTimeout(d time.Duration) Option {
	return func(c *Controller) error {
		if d < 0 {
			return fmt.Errorf("stage timeout must not be negative: %s", d)
		}
		c.stageTimeout = d
		return nil
	}
}

// WithOnSave is called with the run after every recorded outcome so
// callers can persist progress.
func WithOnSave(fn func(*Run) error) Option {
	return func(c *Controller) error {
		c.onSave = fn
		return nil
	}
}
