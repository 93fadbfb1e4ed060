package service

import (
	"context"
	"fmt"
	"log/slog"
)

// NonCritical runs a side operation whose failure must not affect the
// primary flow, such as telemetry. Errors and panics are logged and
// discarded; nothing is retried and nothing propagates.
func NonCritical(ctx context.Context, logger *slog.Logger, operation string, op func(ctx context.Context) error) {
	if logger == nil {
		logger = slog.Default()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Warn("non-critical operation panicked", "operation", operation, "error", fmt.Sprint(r))
		}
	}()

	if err := op(ctx); err != nil {
		logger.Warn("non-critical operation failed", "operation", operation, "error", err)
	}
}
