package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"tilepipe/internal/layer"
	"tilepipe/internal/logging"
	"tilepipe/internal/queue"
	"tilepipe/internal/services"
	"tilepipe/internal/staging"
	"tilepipe/internal/status"
)

func (w *Worker) handle(ctx context.Context, leased *queue.Leased) (Outcome, string, error) {
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := w.messageLogger(ctx, leased)

	msg, err := layer.DecodeMessage(leased.Body)
	if err != nil {
		logging.WarnWithContext(logger, "rejected malformed message", "message_rejected",
			logging.Error(err),
			logging.Int("body_bytes", len(leased.Body)),
			logging.String(logging.FieldErrorHint, services.Details(err).Hint),
			logging.String(logging.FieldImpact, "message redelivers after its lease expires"),
		)
		return OutcomeRejected, "", err
	}

	ctx = services.WithJobID(ctx, msg.JobID)
	logger = w.messageLogger(ctx, leased)

	current, known, err := w.status.Get(ctx, msg.JobID)
	if err != nil {
		err = services.Wrap(services.ErrStore, w.def.Name, "read status", msg.JobID, err)
		logging.ErrorWithContext(logger, "status lookup failed; message left for redelivery", "status_read_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check status backend connectivity"),
		)
		return OutcomeFailed, msg.JobID, err
	}
	if known {
		switch current {
		case layer.StatusComplete:
			logger.Info("dropping duplicate delivery for completed job",
				logging.String(logging.FieldEventType, "message_duplicate"),
			)
			w.deleteMessage(ctx, logger, leased)
			return OutcomeDuplicate, msg.JobID, nil
		case layer.StatusFailed:
			logging.WarnWithContext(logger, "job already failed; leaving message for operator retry", "message_skipped",
				logging.String(logging.FieldErrorHint, "run tilepipe retry "+msg.JobID+" to reprocess"),
				logging.String(logging.FieldImpact, "message redelivers until the job is retried or purged"),
			)
			return OutcomeSkipped, msg.JobID, nil
		}
	}

	start := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("layer_name", msg.LayerName),
		logging.String("source", msg.SourceLocation),
	)

	outcome, err := w.process(ctx, logger, leased, msg)
	if err != nil {
		w.markFailed(ctx, logger, msg, err)
		return OutcomeFailed, msg.JobID, err
	}

	w.deleteMessage(ctx, logger, leased)
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("outcome", string(outcome)),
		logging.Duration("stage_duration", time.Since(start)),
	)
	return outcome, msg.JobID, nil
}

// messageLogger scopes the worker logger to one delivery, picking up the
// correlation and job ids carried on ctx.
func (w *Worker) messageLogger(ctx context.Context, leased *queue.Leased) *slog.Logger {
	return logging.WithContext(ctx, w.logger).With(
		logging.String(logging.FieldMessageID, leased.ID),
		logging.Int(logging.FieldDeliveryCount, leased.DeliveryCount),
	)
}

// process runs the workspace, download, convert, upload and hand-off steps.
func (w *Worker) process(ctx context.Context, logger *slog.Logger, leased *queue.Leased, msg layer.Message) (Outcome, error) {
	ws, err := staging.Allocate(w.workDir, w.def.Name)
	if err != nil {
		return OutcomeFailed, err
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			logger.Warn("failed to remove workspace",
				logging.Error(err),
				logging.String("workspace", ws.Root),
				logging.String(logging.FieldEventType, "workspace_cleanup_failed"),
				logging.String(logging.FieldImpact, "disk space reclaimed at next startup"),
			)
		}
	}()

	if !msg.HasSource() {
		logger.Info("message has no source; acknowledging without conversion",
			logging.String(logging.FieldEventType, "message_void"),
		)
		return OutcomeVoid, nil
	}

	ext, ok := w.def.Accepts(msg.SourceLocation)
	if !ok {
		return OutcomeFailed, services.Wrap(services.ErrUnsupportedFormat, w.def.Name, "validate source",
			fmt.Sprintf("extension %q not accepted (allowed %v)", ext, w.def.Extensions), nil)
	}

	stopRenew := w.keepLease(ctx, logger, leased)
	defer stopRenew()

	localPath, err := w.fetcher.Fetch(ctx, msg.SourceLocation, ws.Source)
	if err != nil {
		return OutcomeFailed, err
	}
	logger.Debug("source downloaded", logging.String("path", localPath))

	outputName := w.def.OutputName(msg.JobID)
	outputPath := filepath.Join(ws.Dest, outputName)
	convStart := time.Now()
	if err := w.converter.Convert(ctx, localPath, outputPath, msg.LayerName); err != nil {
		return OutcomeFailed, services.Wrap(services.ErrConversion, w.def.Name, "convert", filepath.Base(w.converter.Binary()), err)
	}
	logger.Info("conversion finished",
		logging.String(logging.FieldEventType, "conversion_complete"),
		logging.Duration("conversion_duration", time.Since(convStart)),
	)

	location, err := w.storage.Store(ctx, outputName, outputPath)
	if err != nil {
		return OutcomeFailed, err
	}
	logger.Info("artifact stored",
		logging.String(logging.FieldEventType, "artifact_stored"),
		logging.String("location", location),
		logging.String("container", w.storage.Container()),
	)

	if w.next != nil {
		body, err := msg.Next(location).Encode()
		if err != nil {
			return OutcomeFailed, err
		}
		id, err := w.next.Enqueue(ctx, body)
		if err != nil {
			return OutcomeFailed, services.Wrap(services.ErrQueue, w.def.Name, "enqueue next stage", w.next.Name(), err)
		}
		logger.Info("handed off to next stage",
			logging.String(logging.FieldEventType, "stage_handoff"),
			logging.String("next_queue", w.next.Name()),
			logging.String("next_message_id", id),
		)
		return OutcomeProcessed, nil
	}

	if _, err := status.Transition(ctx, w.status, msg.JobID, layer.StatusComplete); err != nil {
		return OutcomeFailed, services.Wrap(services.ErrStore, w.def.Name, "mark complete", msg.JobID, err)
	}
	logger.Info("layer complete",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("location", location),
	)
	w.notify(logger, w.notifier.NotifyLayerComplete(ctx, msg.JobID, msg.LayerName, location))
	return OutcomeProcessed, nil
}

func (w *Worker) markFailed(ctx context.Context, logger *slog.Logger, msg layer.Message, stageErr error) {
	jobID := msg.JobID
	details := services.Details(stageErr)
	logger.Error("stage failed",
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("error_kind", details.Kind),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.String(logging.FieldImpact, "job marked Failed; message left for inspection"),
	)
	if _, err := status.Transition(ctx, w.status, jobID, layer.StatusFailed); err != nil {
		if errors.Is(err, status.ErrTerminalState) {
			logger.Warn("job already terminal; failure not recorded",
				logging.Error(err),
				logging.String(logging.FieldEventType, "status_transition_refused"),
			)
			return
		}
		logging.ErrorWithContext(logger, "failed to persist stage failure", "status_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check status backend connectivity"),
		)
		return
	}
	w.notify(logger, w.notifier.NotifyLayerFailed(ctx, jobID, msg.LayerName, w.def.Name, stageErr))
}

func (w *Worker) notify(logger *slog.Logger, err error) {
	if err == nil {
		return
	}
	logging.WarnWithContext(logger, "notification failed", "notification_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		logging.String(logging.FieldImpact, "job status is unaffected"),
	)
}

// deleteMessage acknowledges a handled message. A failed delete is logged
// only: the work already happened, and a redelivery is caught by the
// terminal-state guard or reprocessed idempotently.
func (w *Worker) deleteMessage(ctx context.Context, logger *slog.Logger, leased *queue.Leased) {
	if err := w.queue.Delete(ctx, leased); err != nil {
		hint := "check queue backend connectivity"
		if errors.Is(err, queue.ErrLeaseLost) {
			hint = "raise workflow.lease_seconds or lower workflow.lease_renew_interval"
		}
		logging.WarnWithContext(logger, "failed to delete processed message", "message_delete_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, hint),
			logging.String(logging.FieldImpact, "message may be delivered again"),
		)
	}
}
