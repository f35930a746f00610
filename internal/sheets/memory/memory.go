// Package memory is an in-memory AnomalyReporter used in tests and when
// no spreadsheet is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"spendguard/internal/storage"
)

type Reporter struct {
	mu     sync.Mutex
	events []storage.AnomalyEvent
}

func NewReporter() *Reporter {
	return &Reporter{}
}

func (r *Reporter) Append(ctx context.Context, event storage.AnomalyEvent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return fmt.Sprintf("mem:%d", len(r.events)), nil
}

// Events returns a copy of everything appended so far.
func (r *Reporter) Events() []storage.AnomalyEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]storage.AnomalyEvent, len(r.events))
	copy(out, r.events)
	return out
}
