package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/MaxBossMan1/ddgmotdv2/internal/jobs"
)

// Sweeper lifts lapsed bans. Satisfied by moderation.Engine.
type Sweeper interface {
	ExpireBans(ctx context.Context, limit int) (int, error)
}

// BanSweepJob runs the expiry sweep for TaskExpireBans.
type BanSweepJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewBanSweepJob initialises the sweep handler.
func NewBanSweepJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *BanSweepJob {
	return &BanSweepJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep.
func (j *BanSweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("ban sweep: handler not configured")
	}
	var payload BanSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			j.logger().Error("ban sweep: malformed payload", slog.Any("error", err), slog.Int("payload_bytes", len(t.Payload())))
			return fmt.Errorf("ban sweep: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.Metrics.Track(TaskExpireBans)
	defer func() {
		err = tracker.End(err)
	}()

	start := time.Now()
	cleared, err := j.Sweeper.ExpireBans(ctx, payload.Limit)
	if err != nil {
		j.logger().Error("ban sweep failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddCleared(cleared)
	j.logger().Info("ban sweep completed",
		slog.Int("cleared", cleared),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *BanSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
