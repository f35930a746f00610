package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"spendguard/internal/amqp"
	"spendguard/internal/anomaly"
	"spendguard/internal/config"
	apphttp "spendguard/internal/http"
	applog "spendguard/internal/log"
	"spendguard/internal/storage"
	"spendguard/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", applog.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	detector, err := anomaly.New(nil, anomaly.Config{Alpha: cfg.Alpha, Threshold: cfg.Threshold})
	if err != nil {
		logger.Error("Failed to initialize detector", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Restore category statistics from the last snapshot so verdicts
	// survive restarts.
	snapshotWorker := worker.NewSnapshotWorker(detector, repo, cfg.SnapshotInterval)
	if err := snapshotWorker.RestoreOnStartup(ctx); err != nil {
		logger.Error("Failed to restore statistics snapshot", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Statistics restored", applog.FieldCategoryCount, detector.Categories())

	// AMQP is optional: without a broker the pending-report sweep in the
	// worker still picks anomalies up from SQLite.
	var publisher apphttp.ReportPublisher
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("AMQP unavailable, anomaly reports will rely on the pending sweep", applog.FieldError, err)
	} else {
		defer amqpClient.Close()
		publisher = amqpClient
	}

	srv := apphttp.NewServer(":"+cfg.Port, detector, repo, publisher)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting spendguard server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := snapshotWorker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-gctx.Done():
			return gctx.Err()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
