/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the inpatient billing engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (env / .env)
  2. Initialize SQLite store
  3. Wire sequence generator, ward service, deposit ledger, billing
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION (environment, with .env support):
  PORT          HTTP server port (default: 8080)
  DB_PATH       SQLite database path (default: ./data/hospital.db)
                Use ":memory:" for in-memory database
  UHID_PREFIX   Hospital prefix for patient UHIDs (default: MH)
  CORS_ORIGINS  Comma-separated allowed origins
  LOG_LEVEL     zerolog level (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/hospital-engine/api"
	"github.com/warp/hospital-engine/billing"
	"github.com/warp/hospital-engine/config"
	"github.com/warp/hospital-engine/ledger"
	"github.com/warp/hospital-engine/sequence"
	"github.com/warp/hospital-engine/store/sqlite"
	"github.com/warp/hospital-engine/ward"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	// Wire services
	seq := sequence.New(store)
	wardSvc := ward.NewService(store, seq, nil, cfg.UHIDPrefix, log)
	led := ledger.New(store, seq, log)
	bil := billing.NewBilling(store, led, seq, log)

	handler := api.NewHandler(store, wardSvc, led, bil, seq, log)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
