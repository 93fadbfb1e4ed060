package sdk

import (
	"context"
	"sync"
)

// HookType identifies lifecycle hook points.
type HookType string

const (
	// HookTypePreStage runs before a stage attempt.
	HookTypePreStage HookType = "pre_stage"

	// HookTypePostStage runs after a stage attempt with its outcome.
	HookTypePostStage HookType = "post_stage"

	// HookTypeOnEscalate runs when a run fails and needs a human.
	HookTypeOnEscalate HookType = "on_escalate"

	// HookTypeOnDone runs when a run reaches Done.
	HookTypeOnDone HookType = "on_done"
)

// HookContext provides information to hooks.
type HookContext struct {
	// Type is the hook type.
	Type HookType

	// RunID identifies the run.
	RunID string

	// Stage is the stage being attempted (pre/post stage).
	Stage Stage

	// Attempt is the 1-based attempt number (pre/post stage).
	Attempt int

	// Outcome is the attempt outcome (post stage).
	Outcome *StageOutcome

	// Escalation is set for on_escalate.
	Escalation *Escalation

	// Report is set for on_escalate and on_done.
	Report *Report
}

// Hook is a lifecycle callback function. Hook errors are logged by the
// loop and never change the run outcome.
type Hook func(ctx context.Context, hctx *HookContext) error

// HookRegistry manages lifecycle hooks.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks map[HookType][]Hook
}

// NewHookRegistry creates a new hook registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		hooks: make(map[HookType][]Hook),
	}
}

// Register adds a hook for the specified type.
func (r *HookRegistry) Register(hookType HookType, hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[hookType] = append(r.hooks[hookType], hook)
}

// Run executes all hooks of the specified type, stopping at the first error.
func (r *HookRegistry) Run(ctx context.Context, hctx *HookContext) error {
	for _, hook := range r.Hooks(hctx.Type) {
		if err := hook(ctx, hctx); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes all hooks of the specified type.
func (r *HookRegistry) Clear(hookType HookType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hooks, hookType)
}

// Count returns the number of hooks registered for a type.
func (r *HookRegistry) Count(hookType HookType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[hookType])
}

// Hooks returns a copy of hooks for a type.
func (r *HookRegistry) Hooks(hookType HookType) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hooks := r.hooks[hookType]
	if hooks == nil {
		return nil
	}
	result := make([]Hook, len(hooks))
	copy(result, hooks)
	return result
}
