package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tilepipe/internal/logging"
	"tilepipe/internal/queue"
)

// keepLease extends the message lease every renew interval until the
// returned stop function is called.
func (w *Worker) keepLease(ctx context.Context, logger *slog.Logger, leased *queue.Leased) func() {
	if w.lease <= 0 || w.renewInterval <= 0 {
		return func() {}
	}
	renewCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go w.renewLoop(renewCtx, &wg, logger.With(logging.String(logging.FieldComponent, "lease-renewal")), leased)
	return func() {
		cancel()
		wg.Wait()
	}
}

func (w *Worker) renewLoop(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, leased *queue.Leased) {
	defer wg.Done()
	ticker := time.NewTicker(w.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.queue.Extend(ctx, leased, w.lease)
			switch {
			case err == nil:
				logger.Debug("lease extended", logging.Duration("lease", w.lease))
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, queue.ErrLeaseLost):
				logging.WarnWithContext(logger, "lease lost during processing", "lease_lost",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "raise workflow.lease_seconds"),
					logging.String(logging.FieldImpact, "another worker may process this message concurrently"),
				)
				return
			default:
				logging.WarnWithContext(logger, "lease renewal failed", "lease_renew_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue backend connectivity"),
					logging.String(logging.FieldImpact, "message may be redelivered if renewal keeps failing"),
				)
			}
		}
	}
}
