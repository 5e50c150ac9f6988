package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpireBans clears temporary bans whose expiry has passed.
	TaskExpireBans = "moderation:expire_bans"
)

// BanSweepPayload bounds one sweep run.
type BanSweepPayload struct {
	Limit int `json:"limit,omitempty"`
}

// NewBanSweepTask constructs the expiry sweep task. Scheduled and manual runs
// share a uniqueness window so they never overlap.
func NewBanSweepTask(payload BanSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpireBans, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
		asynq.Unique(5*time.Minute),
	), nil
}
