package observability

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// FlushTelemetry flushes pending spans and log buffers before process exit.
// Prometheus is pull-based and needs no flush. Call after in-flight requests
// have drained.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, tracing *Tracing) error {
	var errs []error
	if err := tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
