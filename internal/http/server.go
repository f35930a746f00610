package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"spendguard/internal/anomaly"
	"spendguard/internal/cache"
	"spendguard/internal/core"
	"spendguard/internal/middleware/trace"
	"spendguard/internal/storage"
)

// TransactionLog is the slice of the repository the API writes to.
// A nil TransactionLog disables persistence (diagnostics-only mode).
type TransactionLog interface {
	RecordTransaction(ctx context.Context, res core.AnomalyResult) (int64, error)
	RecordAnomaly(ctx context.Context, res core.AnomalyResult) (int64, error)
	ListRecentAnomalies(ctx context.Context, limit int) ([]storage.AnomalyEvent, error)
	DeleteStats(ctx context.Context, category string) error
	DeleteAllStats(ctx context.Context) error
}

// ReportPublisher queues a flagged transaction for the report worker.
// A nil ReportPublisher disables async reporting.
type ReportPublisher interface {
	PublishAnomalyReport(ctx context.Context, id int64, category string) error
}

type Server struct {
	http.Server

	detector  *anomaly.Detector
	txLog     TransactionLog
	publisher ReportPublisher

	rateLimiter *rateLimiter
	tracer      *trace.Middleware

	// Cache for the anomalies listing; the generation counter is bumped
	// on every new anomaly so stale pages fall out immediately.
	anomaliesCache *cache.LRUCache[[]storage.AnomalyEvent]
	anomaliesGen   atomic.Int64

	startedAt        time.Time
	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server. txLog and publisher may be nil.
func NewServer(addr string, detector *anomaly.Detector, txLog TransactionLog, publisher ReportPublisher) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		detector:         detector,
		txLog:            txLog,
		publisher:        publisher,
		rateLimiter:      newRateLimiter(),
		anomaliesCache:   cache.NewLRUCache[[]storage.AnomalyEvent](50, 30*time.Second),
		startedAt:        time.Now(),
		stopCacheCleanup: make(chan struct{}),
	}
	s.tracer = trace.NewMiddleware(clientIP)

	go s.startCacheCleanup()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/transactions", s.withMiddleware(s.handleTransactions))
	mux.Handle("/stats", s.withMiddleware(s.handleStats))
	mux.Handle("/anomalies", s.withMiddleware(s.handleAnomalies))

	return s
}

// withMiddleware adds tracing, security headers, and rate limiting for
// mutating methods.
func (s *Server) withMiddleware(next http.HandlerFunc) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(ip) {
			slog.WarnContext(r.Context(), "Rate limit exceeded",
				"client_ip", ip, "method", r.Method, "path", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next(w, r)
	})
	return s.tracer.Middleware(handler)
}

// startCacheCleanup runs periodic cleanup for the anomalies cache.
func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if cleaned := s.anomaliesCache.CleanExpired(); cleaned > 0 {
				slog.Debug("Cache cleanup completed", "entries_removed", cleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.stopCacheCleanup != nil {
			close(s.stopCacheCleanup)
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// Simple in-memory rate limiter, per client IP.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[ip]

	if !exists {
		rl.clients[ip] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}

	// Reset the counter once a minute has passed.
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes.
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) activeClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}
