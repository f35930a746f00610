// Package sheets defines the outbound port for anomaly report sinks.
package sheets

import (
	"context"

	"spendguard/internal/storage"
)

// AnomalyReporter appends one flagged transaction to an external report
// and returns an opaque reference to the written row.
type AnomalyReporter interface {
	Append(ctx context.Context, event storage.AnomalyEvent) (rowRef string, err error)
}
