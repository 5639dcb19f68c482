/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the KPI review server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment), apply flag overrides
  2. Build the logger
  3. Open the SQLite store and wire the refresh pipeline
  4. Configure HTTP router, start the freshness scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -addr    HTTP listen address (default: ADDR or :8080)
  -db      SQLite database path (default: DB_PATH or kpi.db)
           Use ":memory:" for in-memory database
  -env     .env file to load (default: ./.env when present)
  -check   Freshness check interval, 0 disables (default: 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the freshness scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Wait for background refreshes, close database connection
  5. Exit

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - app/app.go: Component wiring
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geekane/1127jixiao/api"
	"github.com/geekane/1127jixiao/app"
	"github.com/geekane/1127jixiao/config"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	addr := flag.String("addr", "", "HTTP listen address (overrides ADDR)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	envFile := flag.String("env", "", ".env file to load")
	check := flag.Duration("check", time.Hour, "freshness check interval, 0 disables")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(a.Service, logger.Named("api"))
	router := api.NewRouter(handler, cfg.CORSOrigins)

	scheduler := api.NewRefreshScheduler(a.Refresher, logger.Named("scheduler"))
	scheduler.CheckInterval = *check
	scheduler.Enabled = *check > 0
	scheduler.Start()
	defer scheduler.Stop()

	// Synchronous refreshes wait out two export settle delays and downloads.
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr), zap.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
