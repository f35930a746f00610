package anomaly

import (
	"testing"

	"spendguard/internal/core"
)

func TestStoreGetSetRemove(t *testing.T) {
	s := NewStore()

	if _, ok := s.Get("food"); ok {
		t.Fatalf("Get on empty store reported a category")
	}

	want := core.CategoryStats{Mean: 10, Variance: 2.5, Count: 4}
	s.Set("food", want)

	got, ok := s.Get("food")
	if !ok || got != want {
		t.Fatalf("Get = %+v, %v; want %+v, true", got, ok, want)
	}

	s.Remove("food")
	if _, ok := s.Get("food"); ok {
		t.Fatalf("category survived Remove")
	}
}

func TestStoreClear(t *testing.T) {
	s := NewStore()
	s.Set("food", core.CategoryStats{Mean: 1, Count: 1})
	s.Set("rent", core.CategoryStats{Mean: 2, Count: 1})

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len = %d after Clear, want 0", s.Len())
	}
}

// Snapshot must be a copy, not a live view.
func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.Set("food", core.CategoryStats{Mean: 10, Variance: 1, Count: 3})

	snap := s.Snapshot()
	snap["food"] = core.CategoryStats{Mean: 999, Count: 1}
	snap["injected"] = core.CategoryStats{Mean: 1, Count: 1}

	got, ok := s.Get("food")
	if !ok || got.Mean != 10 {
		t.Errorf("mutating the snapshot leaked into the store: %+v", got)
	}
	if _, ok := s.Get("injected"); ok {
		t.Errorf("snapshot is a live view")
	}
}

func TestUpdateCreatesAndMutates(t *testing.T) {
	s := NewStore()

	first := s.Update("food", func(prev core.CategoryStats, exists bool) core.CategoryStats {
		if exists {
			t.Errorf("exists = true for a fresh category")
		}
		return core.CategoryStats{Mean: 100, Count: 1}
	})
	if first.Count != 1 {
		t.Fatalf("unexpected first update result: %+v", first)
	}

	second := s.Update("food", func(prev core.CategoryStats, exists bool) core.CategoryStats {
		if !exists {
			t.Errorf("exists = false for a known category")
		}
		prev.Count++
		return prev
	})
	if second.Count != 2 {
		t.Errorf("Count = %d, want 2", second.Count)
	}
}
