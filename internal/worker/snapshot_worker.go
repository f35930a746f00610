package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"spendguard/internal/anomaly"
	"spendguard/internal/core"
)

// StatsStore is the durability collaborator for category statistics.
type StatsStore interface {
	SaveStatsSnapshot(ctx context.Context, snapshot map[string]core.CategoryStats) error
	LoadStatsSnapshot(ctx context.Context) (map[string]core.CategoryStats, error)
}

// SnapshotWorker periodically persists the detector's exported state and
// rehydrates it at startup. Because the triple per category is a
// complete statistical summary, snapshot-restart-restore changes no
// future verdict.
type SnapshotWorker struct {
	detector *anomaly.Detector
	store    StatsStore
	interval time.Duration
}

func NewSnapshotWorker(detector *anomaly.Detector, store StatsStore, interval time.Duration) *SnapshotWorker {
	return &SnapshotWorker{
		detector: detector,
		store:    store,
		interval: interval,
	}
}

// RestoreOnStartup loads the persisted snapshot into the detector.
func (w *SnapshotWorker) RestoreOnStartup(ctx context.Context) error {
	snapshot, err := w.store.LoadStatsSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load stats snapshot: %w", err)
	}
	if len(snapshot) == 0 {
		slog.InfoContext(ctx, "No persisted category stats, starting fresh")
		return nil
	}

	if err := w.detector.RestoreAll(snapshot); err != nil {
		return fmt.Errorf("restore stats snapshot: %w", err)
	}

	slog.InfoContext(ctx, "Category stats restored", "categories", len(snapshot))
	return nil
}

// SnapshotOnce exports the detector state and persists it.
func (w *SnapshotWorker) SnapshotOnce(ctx context.Context) error {
	snapshot := w.detector.Export()
	if len(snapshot) == 0 {
		return nil
	}
	if err := w.store.SaveStatsSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("save stats snapshot: %w", err)
	}
	return nil
}

// Run snapshots on the configured interval until ctx is done, then takes
// one final snapshot so a clean shutdown loses nothing.
func (w *SnapshotWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := w.SnapshotOnce(shutdownCtx); err != nil {
				slog.ErrorContext(shutdownCtx, "Final snapshot failed", "error", err)
			} else {
				slog.InfoContext(shutdownCtx, "Final snapshot saved")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := w.SnapshotOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "Periodic snapshot failed", "error", err)
			}
		}
	}
}
