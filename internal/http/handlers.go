package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"spendguard/internal/core"
	applog "spendguard/internal/log"
	"spendguard/internal/storage"
)

// classifyRequest is the POST /transactions payload.
type classifyRequest struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

// handleTransactions classifies a transaction against its category's
// running statistics and persists the verdict.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()

	var req classifyRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx := core.Transaction{
		Category: strings.TrimSpace(req.Category),
		Amount:   req.Amount,
	}

	result, err := s.detector.Classify(tx)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.InfoContext(ctx, "Transaction classified",
		applog.FieldCategory, result.Category,
		applog.FieldAmount, result.Amount,
		applog.FieldZScore, result.ZScore,
		applog.FieldIsAnomaly, result.IsAnomaly,
		applog.FieldTxCount, result.TransactionCount)

	if s.txLog != nil {
		if _, err := s.txLog.RecordTransaction(ctx, result); err != nil {
			// The in-memory verdict is already committed; the audit row is
			// best-effort.
			slog.ErrorContext(ctx, "Failed to record transaction",
				applog.FieldCategory, result.Category, applog.FieldError, err)
		}

		if result.IsAnomaly {
			s.recordAnomaly(r, result)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// recordAnomaly persists the anomaly event and hands it to the report
// queue. The periodic pending-report sweep picks up events whose publish
// failed.
func (s *Server) recordAnomaly(r *http.Request, result core.AnomalyResult) {
	ctx := r.Context()

	id, err := s.txLog.RecordAnomaly(ctx, result)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to record anomaly event",
			applog.FieldCategory, result.Category, applog.FieldError, err)
		return
	}
	s.anomaliesGen.Add(1)

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAnomalyReport(ctx, id, result.Category); err != nil {
		slog.WarnContext(ctx, "Failed to publish anomaly report, pending sweep will retry",
			applog.FieldAnomalyID, id, applog.FieldError, err)
	}
}

// handleStats serves the category statistics resource:
//
//	GET    /stats                    all categories
//	GET    /stats?category=food      one category
//	DELETE /stats?category=food      reset one category
//	DELETE /stats                    reset everything
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))

	switch r.Method {
	case http.MethodGet:
		if category == "" {
			writeJSON(w, http.StatusOK, s.detector.Export())
			return
		}
		stats, ok := s.detector.Stats(category)
		if !ok {
			writeError(w, http.StatusNotFound, core.ErrCategoryNotFound.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)

	case http.MethodDelete:
		if category == "" {
			s.resetAll(w, r)
			return
		}
		s.resetCategory(w, r, category)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) resetCategory(w http.ResponseWriter, r *http.Request, category string) {
	ctx := r.Context()

	if _, ok := s.detector.Stats(category); !ok {
		writeError(w, http.StatusNotFound, core.ErrCategoryNotFound.Error())
		return
	}

	s.detector.ResetCategory(category)
	if s.txLog != nil {
		if err := s.txLog.DeleteStats(ctx, category); err != nil {
			slog.ErrorContext(ctx, "Failed to delete persisted stats",
				applog.FieldCategory, category, applog.FieldError, err)
			writeError(w, http.StatusInternalServerError, "failed to delete persisted statistics")
			return
		}
	}

	slog.InfoContext(ctx, "Category statistics reset", applog.FieldCategory, category)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resetAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s.detector.ResetAll()
	if s.txLog != nil {
		if err := s.txLog.DeleteAllStats(ctx); err != nil {
			slog.ErrorContext(ctx, "Failed to delete persisted stats", applog.FieldError, err)
			writeError(w, http.StatusInternalServerError, "failed to delete persisted statistics")
			return
		}
	}

	slog.InfoContext(ctx, "All category statistics reset")
	w.WriteHeader(http.StatusNoContent)
}

// handleAnomalies lists recent anomaly events, newest first. Results
// are cached briefly; the cache generation is bumped whenever a new
// anomaly is recorded.
func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.txLog == nil {
		writeError(w, http.StatusServiceUnavailable, "anomaly history is not enabled")
		return
	}

	ctx := r.Context()
	limit := parseLimit(r, 20, 200)

	cacheKey := fmt.Sprintf("recent:%d:%d", s.anomaliesGen.Load(), limit)
	if events, found := s.anomaliesCache.Get(cacheKey); found {
		writeJSON(w, http.StatusOK, events)
		return
	}

	events, err := s.txLog.ListRecentAnomalies(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list anomalies", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to list anomalies")
		return
	}
	if events == nil {
		events = []storage.AnomalyEvent{}
	}

	s.anomaliesCache.Set(cacheKey, events)
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"categories": s.detector.Categories(),
		"requests":   s.tracer.TotalRequests(),
	})
}

// handleReady reports readiness; with persistence enabled it also
// verifies the anomaly log is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.txLog != nil {
		if _, err := s.txLog.ListRecentAnomalies(r.Context(), 1); err != nil && !errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusServiceUnavailable, "storage not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
