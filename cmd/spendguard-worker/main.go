package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"spendguard/internal/amqp"
	"spendguard/internal/config"
	applog "spendguard/internal/log"
	"spendguard/internal/sheets"
	gsheet "spendguard/internal/sheets/google"
	mem "spendguard/internal/sheets/memory"
	"spendguard/internal/storage"
	"spendguard/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Component: applog.ComponentWorker})
	applog.SetDefault(logger)

	logger.Info("Starting spendguard-worker")

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

	// Anomaly reports land in Google Sheets when configured; the memory
	// reporter keeps the pipeline runnable without credentials.
	var reporter sheets.AnomalyReporter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
			os.Exit(1)
		}
		reporter = client
		logger.Info("Google Sheets reporter initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		reporter = mem.NewReporter()
		logger.Info("Google Sheets disabled - reporting to memory backend")
	}

	reportWorker := worker.NewReportWorker(repo, reporter, cfg.ReportBatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catch up on anomalies whose publish was missed while we were down.
	logger.Info("Performing startup report check...")
	if err := reportWorker.ProcessPendingAnomalies(ctx); err != nil {
		logger.Error("Failed startup report check", applog.FieldError, err)
		// Don't exit - continue with normal operation
	}

	go func() {
		err := amqp.ConsumeWithReconnect(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, reportWorker.HandleReportMessage)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", applog.FieldError, err)
			cancel()
		}
	}()

	// Periodic sweep for reports missed by the broker path.
	ticker := time.NewTicker(cfg.ReportInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := reportWorker.ProcessPendingAnomalies(ctx); err != nil {
					logger.Error("Periodic report sweep failed", applog.FieldError, err)
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down worker...")
	cancel()

	// Give in-flight report exports a moment to finish.
	time.Sleep(2 * time.Second)
	logger.Info("Worker shutdown complete")
}
