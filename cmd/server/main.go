/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing ledger HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration (.env + environment)
  2. Initialize SQLite store
  3. Build the billing service (clock, policy switches, rollover marker)
  4. Start the in-process rollover scheduler
  5. Configure HTTP router and serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -env     Path to a .env file (default: .env, ignored when missing)
  -db      SQLite database path, overrides DB_PATH
           Use ":memory:" for in-memory database

REDIS:
  When REDIS_ADDR is set the rollover marker lives in Redis, shared with
  the worker, and POST /api/admin/rollover?async=true enqueues the job.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and Redis connections

EXAMPLES:
  ./server -db="./data/billing.db"
  LOG_FORMAT=json APP_ADDR=:3000 ./server
  REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - cmd/worker/main.go: Queue worker
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/warp/billing-ledger/api"
	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/config"
	"github.com/warp/billing-ledger/jobs"
	"github.com/warp/billing-ledger/store/redismarker"
	"github.com/warp/billing-ledger/store/sqlite"
)

func main() {
	envFile := flag.String("env", ".env", "Path to a .env file")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := billing.NewService(store, cfg.Clock())
	svc.Logger = logger
	cfg.Apply(svc)

	handler := api.NewHandler(svc, store)
	handler.Logger = logger

	if cfg.RedisAddr != "" {
		rdb, err := redismarker.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		svc.Marker = redismarker.New(rdb, cfg.RedisPrefix)

		queue := jobs.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer queue.Close()
		handler.Queue = queue
		logger.Info("redis enabled", "addr", cfg.RedisAddr)
	}

	scheduler := api.NewRolloverScheduler(svc, logger)
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerEnabled
	handler.Scheduler = scheduler

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Production:         cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.AppAddr, "env", cfg.AppEnv, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
