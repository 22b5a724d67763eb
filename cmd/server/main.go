package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orka-vector-api/api/rest/routes"
	"orka-vector-api/config"
	"orka-vector-api/core/executor"
	"orka-vector-api/core/layers"
	"orka-vector-api/core/monitoring"
	"orka-vector-api/core/repository"
	"orka-vector-api/core/scheduler"
	"orka-vector-api/core/spatial"
	"orka-vector-api/storage"

	"github.com/gorilla/mux"
)

func main() {
	cfg := config.Load()

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize job store
	db, err := repository.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx, cfg.DBSchema, cfg.DBTable); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database connected successfully")

	jobRepo := repository.NewJobRepository(db, cfg.DBSchema, cfg.DBTable)

	// Initialize spatial backend
	pgConn := executor.PGConnection{
		Host:     cfg.PGHost,
		Port:     cfg.PGPort,
		Database: cfg.PGDatabase,
		User:     cfg.PGUser,
		Password: cfg.PGPassword,
	}
	spatialDB, err := repository.NewDB(repository.DriverPostgres, pgConn.ConnInfo())
	if err != nil {
		log.Fatalf("Failed to connect to spatial database: %v", err)
	}
	defer spatialDB.Close()
	postgis := spatial.NewPostGIS(spatialDB, cfg.AreaSRID)

	registry, err := layers.Load(cfg.LayerDir)
	if err != nil {
		log.Fatalf("Failed to load layer definitions: %v", err)
	}
	log.Printf("Loaded %d layer definitions from %s", len(registry.All()), cfg.LayerDir)

	artifacts, err := storage.NewArtifactStore(cfg.GPKGDir)
	if err != nil {
		log.Fatalf("Failed to prepare artifact directory: %v", err)
	}

	// Initialize export engine and watchdog
	engine := executor.NewExportEngine(cfg.Ogr2ogrBin, pgConn, registry, postgis, artifacts, executor.ExecRunner{})

	var reporter executor.StatusReporter = executor.NewStoreReporter(jobRepo)
	if cfg.CallbackURL != "" {
		reporter = executor.NewFallbackReporter(executor.NewHTTPReporter(cfg.CallbackURL, nil), reporter)
		log.Printf("Reporting job results to %s", cfg.CallbackURL)
	}
	watchdog := executor.NewExportWatchdog(engine, reporter, cfg.JobTimeout)

	// Initialize orchestrator
	orchestrator := scheduler.NewOrchestrator(jobRepo, postgis, registry, watchdog, artifacts, scheduler.Limits{
		MaxThreads: cfg.MaxThreads,
		MaxAreaKm2: cfg.MaxBBoxAreaKm,
	})

	tracker := monitoring.NewExportTracker()
	orchestrator.SetObserver(tracker)

	// Sweep jobs left RUNNING by an earlier process, then keep watching
	monitor := monitoring.NewJobMonitor(jobRepo, orchestrator, cfg.StaleAfter, cfg.MonitorInterval)
	if n, err := monitor.Sweep(ctx); err != nil {
		log.Printf("Initial stale job sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("Marked %d orphaned jobs as ERROR", n)
	}
	go monitor.Start(ctx)

	metrics := monitoring.NewMetricsExporter(jobRepo, tracker, cfg.MaxThreads)

	r := mux.NewRouter()
	routes.SetupRoutes(r, routes.Dependencies{
		Jobs:      orchestrator,
		Data:      jobRepo,
		Artifacts: artifacts,
		Metrics:   metrics,
	})

	// Start server
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Drain exports while the listener is still up so callbacks can land
	log.Printf("Waiting for %d running exports", orchestrator.ActiveCount())
	drainCtx, stopDrain := context.WithTimeout(context.Background(), cfg.JobTimeout)
	defer stopDrain()
	if err := orchestrator.Shutdown(drainCtx); err != nil {
		log.Printf("Exports cancelled during shutdown: %v", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	cancel()

	log.Println("Server exited")
}
