package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/warp/billing-ledger/billing"
)

const (
	// QueueDefault is the queue every billing task runs on.
	QueueDefault = "default"
	// TypeFeeRollover promotes scheduled fee increases that are due today.
	TypeFeeRollover = "billing:fee_rollover"
)

// RolloverPayload identifies who asked for a rollover run.
type RolloverPayload struct {
	Trigger string `json:"trigger"`
}

// NewFeeRolloverTask constructs the rollover task.
func NewFeeRolloverTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(RolloverPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeFeeRollover, data), nil
}

// RolloverRunner is satisfied by *billing.Service.
type RolloverRunner interface {
	RunRollover(ctx context.Context) (*billing.RolloverResult, error)
}

// RolloverJob handles TypeFeeRollover.
type RolloverJob struct {
	Runner RolloverRunner
	Logger *slog.Logger
}

func NewRolloverJob(runner RolloverRunner, logger *slog.Logger) *RolloverJob {
	return &RolloverJob{Runner: runner, Logger: logger}
}

// Handle runs the rollover. A repeat on the same day is a logged no-op; a
// missing marker is a configuration error and is not retried.
func (j *RolloverJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("fee rollover: handler not configured")
	}
	var payload RolloverPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("fee rollover payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	logger := j.logger().With(slog.String("component", "worker"), slog.String("trigger", payload.Trigger))
	res, err := j.Runner.RunRollover(ctx)
	if errors.Is(err, billing.ErrNoRolloverMarker) {
		logger.Error("fee rollover misconfigured", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		logger.Error("fee rollover failed", slog.Any("error", err))
		return err
	}
	if !res.Ran {
		logger.Info("fee rollover already ran", slog.String("date", res.Date.String()))
		return nil
	}
	logger.Info("fee rollover complete",
		slog.String("run_id", res.RunID),
		slog.String("date", res.Date.String()),
		slog.Int("promoted", len(res.Clients)))
	return nil
}

func (j *RolloverJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
