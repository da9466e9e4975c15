/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the store balance engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load the YAML config
  2. Initialize the storage backend (SQLite or JSON file)
  3. Create the operations service and debit engine
  4. Configure the HTTP router and background sweep scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to YAML config file (default: config.yml)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for an in-memory database
  -backend Storage backend: sqlite or file (overrides config)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the backend
  5. Exit

EXAMPLES:
  # Run with file-backed SQLite
  ./server -db="./data/saldo.db"

  # Run with the JSON file backend
  ./server -backend=file

  # Run on a different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration schema and defaults
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saldo/store-balance-engine/api"
	"github.com/saldo/store-balance-engine/auth"
	"github.com/saldo/store-balance-engine/config"
	"github.com/saldo/store-balance-engine/ops"
	"github.com/saldo/store-balance-engine/registry"
	"github.com/saldo/store-balance-engine/store/blob"
	"github.com/saldo/store-balance-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "config.yml", "path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	backend := flag.String("backend", "", "storage backend: sqlite or file (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}
	if *backend != "" {
		cfg.Backend = *backend
	}

	// Initialize storage
	var docs registry.DocumentStore
	var history registry.HistoryStore
	var closer io.Closer

	switch cfg.Backend {
	case config.BackendFile:
		fileStore, err := blob.New(cfg.DataDir)
		if err != nil {
			log.Fatalf("Failed to initialize file backend: %v", err)
		}
		docs, history = fileStore, fileStore
	default:
		sqlStore, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		docs, history, closer = sqlStore, sqlStore, sqlStore
	}

	// Wire the engine and service
	engine := registry.NewDebitEngine(cfg.Location())
	engine.CutoffHour = cfg.CutoffHour
	service := ops.NewService(docs, history, engine)

	// HTTP layer
	authMgr := auth.NewManager(cfg.AuthSecret, cfg.Users)
	handler := api.NewHandler(service, authMgr, cfg.CronSecret, cfg.Backend)
	router := api.NewRouter(handler)

	// Background sweep
	scheduler := api.NewSweepScheduler(service)
	scheduler.CheckInterval = cfg.SweepInterval
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d (backend: %s)", cfg.Port, cfg.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if closer != nil {
		closer.Close()
	}
	log.Println("Server stopped")
}
