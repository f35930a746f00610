package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"spendguard/internal/core"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteRepository persists classified transactions, the per-category
// statistics snapshot, and the anomaly report queue.
type SQLiteRepository struct {
	db *sql.DB
}

// AnomalyEvent is a flagged transaction queued for external reporting.
// Served as JSON by the anomalies listing endpoint.
type AnomalyEvent struct {
	ID         int64     `json:"id"`
	Category   string    `json:"category"`
	Amount     float64   `json:"amount"`
	ZScore     float64   `json:"z_score"`
	EWMAMean   float64   `json:"ewma_mean"`
	EWMAStdDev float64   `json:"ewma_std_dev"`
	TxCount    uint64    `json:"transaction_count"`
	Message    string    `json:"message"`
	Reported   bool      `json:"reported"`
	CreatedAt  time.Time `json:"created_at"`
}

// PendingAnomaly carries the minimal data needed for report queue messages.
type PendingAnomaly struct {
	ID        int64
	Category  string
	CreatedAt time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// RecordTransaction appends a classified transaction to the log.
func (r *SQLiteRepository) RecordTransaction(ctx context.Context, res core.AnomalyResult) (int64, error) {
	isAnomaly := 0
	if res.IsAnomaly {
		isAnomaly = 1
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (category, amount, is_anomaly, z_score) VALUES (?, ?, ?, ?)`,
		res.Category, res.Amount, isAnomaly, res.ZScore)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction id: %w", err)
	}
	return id, nil
}

// SaveStatsSnapshot upserts a full snapshot of the category statistics
// in one transaction; a crash mid-snapshot never leaves a mixed state.
func (r *SQLiteRepository) SaveStatsSnapshot(ctx context.Context, snapshot map[string]core.CategoryStats) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	for category, stats := range snapshot {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO category_stats (category, mean, variance, tx_count, updated_at)
			 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(category) DO UPDATE SET
			   mean = excluded.mean,
			   variance = excluded.variance,
			   tx_count = excluded.tx_count,
			   updated_at = CURRENT_TIMESTAMP`,
			category, stats.Mean, stats.Variance, int64(stats.Count))
		if err != nil {
			return fmt.Errorf("upsert stats for %q: %w", category, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	slog.DebugContext(ctx, "Category stats snapshot saved", "categories", len(snapshot))
	return nil
}

// LoadStatsSnapshot returns the persisted category statistics for
// startup restore.
func (r *SQLiteRepository) LoadStatsSnapshot(ctx context.Context) (map[string]core.CategoryStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, mean, variance, tx_count FROM category_stats`)
	if err != nil {
		return nil, fmt.Errorf("query category stats: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string]core.CategoryStats)
	for rows.Next() {
		var (
			category string
			stats    core.CategoryStats
			count    int64
		)
		if err := rows.Scan(&category, &stats.Mean, &stats.Variance, &count); err != nil {
			return nil, fmt.Errorf("scan category stats: %w", err)
		}
		stats.Count = uint64(count)
		snapshot[category] = stats
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category stats: %w", err)
	}
	return snapshot, nil
}

// DeleteStats removes one category's persisted statistics, mirroring a
// detector reset.
func (r *SQLiteRepository) DeleteStats(ctx context.Context, category string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM category_stats WHERE category = ?`, category); err != nil {
		return fmt.Errorf("delete stats for %q: %w", category, err)
	}
	return nil
}

// DeleteAllStats clears the persisted statistics, mirroring a global reset.
func (r *SQLiteRepository) DeleteAllStats(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM category_stats`); err != nil {
		return fmt.Errorf("delete all stats: %w", err)
	}
	return nil
}

// RecordAnomaly queues a flagged transaction for external reporting.
func (r *SQLiteRepository) RecordAnomaly(ctx context.Context, res core.AnomalyResult) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO anomaly_events (category, amount, z_score, ewma_mean, ewma_std_dev, tx_count, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.Category, res.Amount, res.ZScore, res.EWMAMean, res.EWMAStdDev, int64(res.TransactionCount), res.Message)
	if err != nil {
		return 0, fmt.Errorf("insert anomaly event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("anomaly event id: %w", err)
	}

	slog.InfoContext(ctx, "Anomaly event recorded",
		"id", id,
		"category", res.Category,
		"z_score", res.ZScore)
	return id, nil
}

// GetAnomaly retrieves a single anomaly event by ID.
func (r *SQLiteRepository) GetAnomaly(ctx context.Context, id int64) (*AnomalyEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, category, amount, z_score, ewma_mean, ewma_std_dev, tx_count, message, reported, created_at
		 FROM anomaly_events WHERE id = ?`, id)

	e, err := scanAnomaly(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("anomaly event %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get anomaly event %d: %w", id, err)
	}
	return e, nil
}

// ListRecentAnomalies returns the newest anomaly events, newest first.
func (r *SQLiteRepository) ListRecentAnomalies(ctx context.Context, limit int) ([]AnomalyEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, category, amount, z_score, ewma_mean, ewma_std_dev, tx_count, message, reported, created_at
		 FROM anomaly_events ORDER BY id DESC LIMIT ?`, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list anomaly events: %w", err)
	}
	defer rows.Close()

	var events []AnomalyEvent
	for rows.Next() {
		e, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomaly events: %w", err)
	}
	return events, nil
}

// GetPendingReportAnomalies returns events not yet exported, oldest
// first, for the report worker's catch-up pass.
func (r *SQLiteRepository) GetPendingReportAnomalies(ctx context.Context, limit int) ([]PendingAnomaly, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, category, created_at FROM anomaly_events
		 WHERE reported = 0 AND report_attempts < 5
		 ORDER BY id ASC LIMIT ?`, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("query pending anomalies: %w", err)
	}
	defer rows.Close()

	var pending []PendingAnomaly
	for rows.Next() {
		var (
			p  PendingAnomaly
			ts string
		)
		if err := rows.Scan(&p.ID, &p.Category, &ts); err != nil {
			return nil, fmt.Errorf("scan pending anomaly: %w", err)
		}
		p.CreatedAt = parseTimestamp(ts)
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending anomalies: %w", err)
	}
	return pending, nil
}

// MarkReported marks an anomaly event as successfully exported.
func (r *SQLiteRepository) MarkReported(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE anomaly_events SET reported = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark anomaly reported: %w", err)
	}
	slog.InfoContext(ctx, "Anomaly event marked as reported", "id", id)
	return nil
}

// MarkReportError bumps the attempt counter after a failed export.
func (r *SQLiteRepository) MarkReportError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE anomaly_events SET report_attempts = report_attempts + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark anomaly report error: %w", err)
	}
	slog.WarnContext(ctx, "Anomaly event marked with report error", "id", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnomaly(row rowScanner) (*AnomalyEvent, error) {
	var (
		e        AnomalyEvent
		count    int64
		reported int64
		ts       string
	)
	err := row.Scan(&e.ID, &e.Category, &e.Amount, &e.ZScore, &e.EWMAMean, &e.EWMAStdDev,
		&count, &e.Message, &reported, &ts)
	if err != nil {
		return nil, err
	}
	e.TxCount = uint64(count)
	e.Reported = reported != 0
	e.CreatedAt = parseTimestamp(ts)
	return &e, nil
}

// parseTimestamp handles the text format SQLite uses for
// CURRENT_TIMESTAMP defaults.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
