package verifier

import (
	"errors"
	"log/slog"

	"github.com/ternarybob/vloop/pkg/loop"
	"github.com/ternarybob/vloop/pkg/monitor"
	"github.com/ternarybob/vloop/pkg/quality"
	"github.com/ternarybob/vloop/pkg/sdk"
)

// Option configures a Verifier.
type Option func(*Verifier) error

// WithLogger sets the verifier's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) error {
		if logger != nil {
			v.logger = logger
		}
		return nil
	}
}

// WithMonitor sets the event monitor passed to every controller.
func WithMonitor(mon monitor.Monitor) Option {
	return func(v *Verifier) error {
		if mon != nil {
			v.monitor = mon
		}
		return nil
	}
}

// WithHooks sets the lifecycle hook registry.
func WithHooks(hooks *sdk.HookRegistry) Option {
	return func(v *Verifier) error {
		if hooks != nil {
			v.hooks = hooks
		}
		return nil
	}
}

// WithRemediator sets what runs between failed attempts.
func WithRemediator(rem loop.Remediator) Option {
	return func(v *Verifier) error {
		v.remediator = rem
		return nil
	}
}

// WithOnSave persists the run after it starts and after every outcome.
func WithOnSave(fn func(*loop.Run) error) Option {
	return func(v *Verifier) error {
		v.onSave = fn
		return nil
	}
}

// WithExecutor replaces the shell executor used by the code quality stage.
func WithExecutor(e quality.Executor) Option {
	return func(v *Verifier) error {
		v.executor = e
		return nil
	}
}

// WithBrowserFactory replaces how browser sessions start (primarily for
// testing and remote browsers).
func WithBrowserFactory(f BrowserFactory) Option {
	return func(v *Verifier) error {
		if f == nil {
			return errors.New("browser factory is nil")
		}
		v.newBrowser = f
		return nil
	}
}

// WithStageRunner replaces the configured runner for a stage.
func WithStageRunner(runners ...sdk.StageRunner) Option {
	return func(v *Verifier) error {
		for _, r := range runners {
			if r != nil {
				v.extra = append(v.extra, r)
			}
		}
		return nil
	}
}
