package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dollforge/internal/api"
	"dollforge/internal/config"
	"dollforge/internal/engine"
	"dollforge/internal/genapi"
	"dollforge/internal/storage"
	"dollforge/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("dollforge: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Root context for every pipeline. A shutdown signal cancels it so
	// in-flight poll and download loops unwind before Wait returns.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tasks left pending or processing by a previous run can never resume,
	// so they are failed before any new submission is accepted.
	recovered, err := db.RecoverStartup(ctx)
	if err != nil {
		log.Fatalf("startup recovery: %v", err)
	}
	if recovered > 0 {
		logger.Info("recovered interrupted tasks", "count", recovered)
	}

	settings, err := db.GetSettings(ctx)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	sched := engine.NewScheduler(ctx, db,
		storage.NewClient(),
		genapi.NewClient(""),
		settings.Concurrency,
		logger,
	)

	srv := api.NewServer(cfg.ListenAddr, db, sched, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	stop()
	sched.Wait()
	logger.Info("dollforge: stopped")
}
