package core

import (
	"errors"
	"math"
	"strings"
)

type (
	// Transaction is a single income or expense record as seen by the
	// anomaly detector. The CRUD layer owning the full record (date,
	// description, user) has already validated and persisted it.
	Transaction struct {
		Category string
		Amount   float64
	}

	// CategoryStats is the running EWMA summary for one category.
	// Mean and Variance are exponentially weighted estimates, biased
	// toward recent observations; Count only reports how many
	// transactions contributed.
	CategoryStats struct {
		Mean     float64 `json:"mean"`
		Variance float64 `json:"variance"`
		Count    uint64  `json:"count"`
	}

	// AnomalyResult is the verdict for one classified transaction.
	// Produced fresh per call, never stored by the detector itself.
	AnomalyResult struct {
		IsAnomaly        bool    `json:"is_anomaly"`
		ZScore           float64 `json:"z_score"`
		Message          string  `json:"message"`
		Category         string  `json:"category"`
		Amount           float64 `json:"amount"`
		EWMAMean         float64 `json:"ewma_mean"`
		EWMAStdDev       float64 `json:"ewma_std_dev"`
		TransactionCount uint64  `json:"transaction_count"`
	}
)

var (
	ErrEmptyCategory    = errors.New("empty category")
	ErrCategoryTooLong  = errors.New("category too long (max 100 characters)")
	ErrNonFiniteAmount  = errors.New("amount must be a finite number")
	ErrInvalidStats     = errors.New("invalid category statistics")
	ErrCategoryNotFound = errors.New("category not found")
)

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if len(t.Category) > 100 {
		return ErrCategoryTooLong
	}
	if !IsFinite(t.Amount) {
		return ErrNonFiniteAmount
	}
	return nil
}

// Validate checks that a triple is one the update recurrence could have
// produced: finite mean, finite non-negative variance, at least one
// observation. Restored snapshots must pass this before entering the store.
func (s CategoryStats) Validate() error {
	if !IsFinite(s.Mean) || !IsFinite(s.Variance) {
		return ErrInvalidStats
	}
	if s.Variance < 0 {
		return ErrInvalidStats
	}
	if s.Count < 1 {
		return ErrInvalidStats
	}
	return nil
}

// IsFinite reports whether f is neither NaN nor an infinity.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
