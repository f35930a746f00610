package worker

import (
	"context"
	"fmt"
	"log/slog"

	"spendguard/internal/amqp"
	"spendguard/internal/sheets"
	"spendguard/internal/storage"
)

// ReportQueue is the slice of the repository the report worker needs.
type ReportQueue interface {
	GetAnomaly(ctx context.Context, id int64) (*storage.AnomalyEvent, error)
	GetPendingReportAnomalies(ctx context.Context, limit int) ([]storage.PendingAnomaly, error)
	MarkReported(ctx context.Context, id int64) error
	MarkReportError(ctx context.Context, id int64) error
}

// ReportWorker exports flagged transactions to an external report sink.
// Messages arrive over AMQP; a periodic catch-up pass picks up events
// whose messages were lost.
type ReportWorker struct {
	queue     ReportQueue
	reporter  sheets.AnomalyReporter
	batchSize int
}

func NewReportWorker(queue ReportQueue, reporter sheets.AnomalyReporter, batchSize int) *ReportWorker {
	return &ReportWorker{
		queue:     queue,
		reporter:  reporter,
		batchSize: batchSize,
	}
}

// HandleReportMessage processes a single anomaly report message.
func (w *ReportWorker) HandleReportMessage(ctx context.Context, msg *amqp.AnomalyReportMessage) error {
	slog.InfoContext(ctx, "Processing report message",
		"id", msg.ID,
		"category", msg.Category)

	return w.export(ctx, msg.ID)
}

// ProcessPendingAnomalies exports events that were never reported, as a
// backup in case AMQP messages are lost.
func (w *ReportWorker) ProcessPendingAnomalies(ctx context.Context) error {
	pending, err := w.queue.GetPendingReportAnomalies(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending anomalies: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending anomaly reports", "count", len(pending))

	for _, p := range pending {
		if err := w.export(ctx, p.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to export pending anomaly", "id", p.ID, "error", err)
			continue
		}
	}
	return nil
}

func (w *ReportWorker) export(ctx context.Context, id int64) error {
	event, err := w.queue.GetAnomaly(ctx, id)
	if err != nil {
		return fmt.Errorf("get anomaly event: %w", err)
	}

	if event.Reported {
		// Duplicate delivery; the export already happened.
		slog.InfoContext(ctx, "Anomaly already reported, skipping", "id", id)
		return nil
	}

	rowRef, err := w.reporter.Append(ctx, *event)
	if err != nil {
		if markErr := w.queue.MarkReportError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark report error", "id", id, "error", markErr)
		}
		return fmt.Errorf("append anomaly to report: %w", err)
	}

	if err := w.queue.MarkReported(ctx, id); err != nil {
		return fmt.Errorf("mark reported: %w", err)
	}

	slog.InfoContext(ctx, "Anomaly exported",
		"id", id,
		"category", event.Category,
		"row_ref", rowRef)
	return nil
}
