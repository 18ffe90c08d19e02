/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the energy billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, then environment)
  2. Build the zerolog logger
  3. Initialize SQLite store
  4. Connect the evaluator cache to redis when REDIS_ADDR is set
  5. Create API handler, periodic billing runner and router
  6. Start server with graceful shutdown

CONFIGURATION:
  See config/config.go for every key. Flags override the two most
  common ones:
  -addr    HTTP listen address (APP_ADDR)
  -db      SQLite database path (DB_PATH), ":memory:" for in-memory

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the billing runner (waits for a run in progress)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close redis and database connections

EXAMPLES:
  # Run with in-memory database and a daily billing run
  DB_PATH=":memory:" BILLING_INTERVAL=24h ./server

  # Run with the evaluator cache
  REDIS_ADDR=localhost:6379 ./server -addr=:3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Periodic billing runner
  - store/sqlite/sqlite.go: Database implementation
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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warp/energy-billing/api"
	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/config"
	"github.com/warp/energy-billing/indexation"
	"github.com/warp/energy-billing/logging"
	"github.com/warp/energy-billing/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	addr := flag.String("addr", cfg.AppAddr, "HTTP listen address")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	log := logging.New(cfg.AppEnv, cfg.LogLevel)

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", *dbPath).Msg("failed to initialize database")
	}
	defer store.Close()

	rdb := connectRedis(cfg.RedisAddr, log)
	if rdb != nil {
		defer rdb.Close()
	}
	evaluator := indexation.NewCachedEvaluator(rdb, cfg.IndexCacheTTL, log)

	// Initialize handler
	handler := api.NewHandler(store, evaluator, api.Invoicing{
		Options: billing.InvoiceOptions{
			TaxRate:         &cfg.VATRate,
			PaymentTermDays: cfg.PaymentTermsDays,
		},
		Concurrency: cfg.BillingConcurrency,
	}, log)

	runner := api.NewBillingRunner(handler, cfg.BillingInterval, log)
	runner.Start()

	// Create server
	server := &http.Server{
		Addr:         *addr,
		Handler:      api.NewRouter(handler, api.RouterOptions{Production: cfg.IsProduction()}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", *addr).Str("env", cfg.AppEnv).Msg("starting energy billing server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	runner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}

// connectRedis returns nil when no address is configured or the server does
// not answer; the evaluator then computes every request directly.
func connectRedis(addr string, log zerolog.Logger) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("redis unavailable, evaluator cache disabled")
		rdb.Close()
		return nil
	}
	log.Info().Str("addr", addr).Msg("evaluator cache connected")
	return rdb
}
