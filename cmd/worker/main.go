/*
main.go - Queue worker entry point

PURPOSE:
  Runs billing background tasks from the asynq queue in Redis. Registers
  the daily fee rollover as a cron entry (ROLLOVER_CRON, evaluated in
  TIMEZONE) and serves rollovers enqueued by the API.

  The worker and the API share the Redis rollover marker, so whichever
  triggers first on a given day does the work.

REQUIRES:
  REDIS_ADDR, plus the same DB_PATH as the server.

SEE ALSO:
  - jobs/: Task types and handlers
  - cmd/server/main.go: HTTP server
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/config"
	"github.com/warp/billing-ledger/jobs"
	"github.com/warp/billing-ledger/store/redismarker"
	"github.com/warp/billing-ledger/store/sqlite"
)

func main() {
	envFile := flag.String("env", ".env", "Path to a .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg).With("component", "worker")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required for the worker")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	rdb, err := redismarker.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	svc := billing.NewService(store, cfg.Clock())
	svc.Logger = logger
	svc.Marker = redismarker.New(rdb, cfg.RedisPrefix)
	cfg.Apply(svc)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	task, err := jobs.NewFeeRolloverTask("cron")
	if err != nil {
		return err
	}
	rollover := jobs.NewRolloverJob(svc, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		Logger:   logger,
		Location: loc,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TypeFeeRollover, Handler: rollover.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RolloverCron, Task: task, Options: []asynq.Option{asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		return err
	}

	logger.Info("worker starting", "redis", cfg.RedisAddr, "cron", cfg.RolloverCron, "timezone", cfg.Timezone)
	return worker.Run(ctx)
}
