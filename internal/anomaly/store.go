// Package anomaly implements the streaming per-category anomaly detector:
// an online EWMA model of mean and variance per spending category, with a
// z-score classifier on top.
//
// The triple (mean, variance, count) is a complete statistical summary:
// the update recurrence never looks at earlier amounts, so restoring a
// snapshot reproduces bit-identical future behavior to having replayed
// the full transaction history. That property is what makes
// Snapshot/Set-based persistence sound.
package anomaly

import (
	"sync"

	"spendguard/internal/core"
)

type entry struct {
	mu    sync.Mutex
	stats core.CategoryStats
}

// Store maps category names to their running statistics. Distinct
// categories update in parallel; updates to the same category are
// serialized through the entry mutex. Category names are opaque and
// case-sensitive.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Get returns a copy of the category's statistics, or false if the
// category has never been observed.
func (s *Store) Get(category string) (core.CategoryStats, bool) {
	s.mu.RLock()
	e, ok := s.entries[category]
	s.mu.RUnlock()
	if !ok {
		return core.CategoryStats{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stats.Count == 0 {
		return core.CategoryStats{}, false
	}
	return e.stats, true
}

// Set overwrites the category's statistics unconditionally. Callers are
// responsible for supplying a valid triple; the store does not validate.
func (s *Store) Set(category string, stats core.CategoryStats) {
	e := s.entry(category)
	e.mu.Lock()
	e.stats = stats
	e.mu.Unlock()
}

// Update applies fn to the category's current statistics as one atomic
// read-modify-write and returns the stored result. fn receives the
// current triple and whether the category already existed.
//
// An Update racing with Remove on the same category may write to an
// entry that has just been unlinked; the write is then lost, which is
// indistinguishable from the reset having happened after the update.
func (s *Store) Update(category string, fn func(prev core.CategoryStats, exists bool) core.CategoryStats) core.CategoryStats {
	e := s.entry(category)
	e.mu.Lock()
	defer e.mu.Unlock()

	next := fn(e.stats, e.stats.Count > 0)
	e.stats = next
	return next
}

// Remove deletes the category; its next transaction is treated as
// first-ever.
func (s *Store) Remove(category string) {
	s.mu.Lock()
	delete(s.entries, category)
	s.mu.Unlock()
}

// Clear deletes all categories.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
}

// Snapshot returns a copy of the full category map, never a live view.
// Each triple is read under its entry lock, so a snapshot taken during
// concurrent updates contains no torn triples.
func (s *Store) Snapshot() map[string]core.CategoryStats {
	s.mu.RLock()
	refs := make(map[string]*entry, len(s.entries))
	for category, e := range s.entries {
		refs[category] = e
	}
	s.mu.RUnlock()

	out := make(map[string]core.CategoryStats, len(refs))
	for category, e := range refs {
		e.mu.Lock()
		if e.stats.Count > 0 {
			out[category] = e.stats
		}
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of tracked categories.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) entry(category string) *entry {
	s.mu.RLock()
	e, ok := s.entries[category]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[category]; ok {
		return e
	}
	e = &entry{}
	s.entries[category] = e
	return e
}
