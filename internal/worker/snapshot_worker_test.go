package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spendguard/internal/anomaly"
	"spendguard/internal/core"
)

type fakeStatsStore struct {
	mu       sync.Mutex
	saved    []map[string]core.CategoryStats
	loadFrom map[string]core.CategoryStats
	loadErr  error
	saveErr  error
}

func (f *fakeStatsStore) SaveStatsSnapshot(ctx context.Context, snapshot map[string]core.CategoryStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, snapshot)
	return nil
}

func (f *fakeStatsStore) LoadStatsSnapshot(ctx context.Context) (map[string]core.CategoryStats, error) {
	return f.loadFrom, f.loadErr
}

func (f *fakeStatsStore) saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func newDetector(t *testing.T) *anomaly.Detector {
	t.Helper()
	d, err := anomaly.New(anomaly.NewStore(), anomaly.DefaultConfig())
	if err != nil {
		t.Fatalf("anomaly.New: %v", err)
	}
	return d
}

func TestRestoreOnStartup(t *testing.T) {
	d := newDetector(t)
	store := &fakeStatsStore{loadFrom: map[string]core.CategoryStats{
		"food": {Mean: 100.4, Variance: 0.64, Count: 2},
	}}

	w := NewSnapshotWorker(d, store, time.Minute)
	if err := w.RestoreOnStartup(context.Background()); err != nil {
		t.Fatalf("RestoreOnStartup: %v", err)
	}

	got, ok := d.Stats("food")
	if !ok || got != store.loadFrom["food"] {
		t.Errorf("Stats(food) = %+v, %v; want restored triple", got, ok)
	}
}

func TestRestoreOnStartupEmptyIsFine(t *testing.T) {
	d := newDetector(t)
	w := NewSnapshotWorker(d, &fakeStatsStore{}, time.Minute)

	if err := w.RestoreOnStartup(context.Background()); err != nil {
		t.Errorf("RestoreOnStartup with empty store: %v", err)
	}
}

func TestRestoreOnStartupPropagatesLoadError(t *testing.T) {
	d := newDetector(t)
	w := NewSnapshotWorker(d, &fakeStatsStore{loadErr: errors.New("disk gone")}, time.Minute)

	if err := w.RestoreOnStartup(context.Background()); err == nil {
		t.Errorf("load error swallowed")
	}
}

func TestSnapshotOnce(t *testing.T) {
	d := newDetector(t)
	store := &fakeStatsStore{}
	w := NewSnapshotWorker(d, store, time.Minute)

	// Nothing tracked yet: no write.
	if err := w.SnapshotOnce(context.Background()); err != nil {
		t.Fatalf("SnapshotOnce (empty): %v", err)
	}
	if store.saves() != 0 {
		t.Fatalf("empty snapshot was persisted")
	}

	if _, err := d.Classify(core.Transaction{Category: "food", Amount: 100}); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if err := w.SnapshotOnce(context.Background()); err != nil {
		t.Fatalf("SnapshotOnce: %v", err)
	}
	if store.saves() != 1 {
		t.Fatalf("saves = %d, want 1", store.saves())
	}
	if got := store.saved[0]["food"]; got.Count != 1 || got.Mean != 100 {
		t.Errorf("persisted triple = %+v", got)
	}
}

func TestRunTakesFinalSnapshotOnShutdown(t *testing.T) {
	d := newDetector(t)
	store := &fakeStatsStore{}
	w := NewSnapshotWorker(d, store, time.Hour) // never ticks during the test

	if _, err := d.Classify(core.Transaction{Category: "food", Amount: 100}); err != nil {
		t.Fatalf("Classify: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}

	if store.saves() != 1 {
		t.Errorf("final snapshot not taken: saves = %d", store.saves())
	}
}
