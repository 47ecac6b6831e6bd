/*
scheduler.go - In-process fee rollover scheduler

PURPOSE:
  Periodically runs the fee rollover so that scheduled price increases take
  effect on their effective date without an operator or a separate worker.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - The rollover itself runs at most once per day (billing.RolloverMarker),
    so checking hourly is safe
  - Keeps the last result for the admin endpoint

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRolloverScheduler(svc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRollover endpoint
  - jobs/: the same rollover as an asynq cron task
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/billing-ledger/billing"
)

// RolloverScheduler triggers billing.Service.RunRollover on a ticker.
type RolloverScheduler struct {
	Service       *billing.Service
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu      sync.Mutex
	lastResult *billing.RolloverResult
	lastCheck  time.Time
}

// NewRolloverScheduler creates a new scheduler.
func NewRolloverScheduler(svc *billing.Service, logger *slog.Logger) *RolloverScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RolloverScheduler{
		Service:       svc,
		Logger:        logger.With("component", "scheduler"),
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *RolloverScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.Logger.Info("scheduler started", "interval", rs.CheckInterval.String())
}

// Stop stops the scheduler and waits for an in-flight check.
func (rs *RolloverScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("scheduler stopped")
	}
}

func (rs *RolloverScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.check()

	for {
		select {
		case <-ticker.C:
			rs.check()
		case <-stop:
			return
		}
	}
}

func (rs *RolloverScheduler) check() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := rs.RunNow(ctx); err != nil {
		rs.Logger.Error("rollover check failed", "error", err)
	}
}

// RunNow runs the rollover immediately. Concurrent calls are serialized.
func (rs *RolloverScheduler) RunNow(ctx context.Context) (*billing.RolloverResult, error) {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()

	res, err := rs.Service.RunRollover(ctx)
	rs.lastCheck = time.Now()
	if err != nil {
		return nil, err
	}
	rs.lastResult = res
	return res, nil
}

// LastResult returns the most recent successful run and when it was checked.
func (rs *RolloverScheduler) LastResult() (*billing.RolloverResult, time.Time) {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	return rs.lastResult, rs.lastCheck
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *RolloverScheduler) GetNextRunTime() time.Time {
	_, last := rs.LastResult()
	if last.IsZero() {
		return time.Now()
	}
	return last.Add(rs.CheckInterval)
}
