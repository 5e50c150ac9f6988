package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/MaxBossMan1/ddgmotdv2/internal/jobs"
)

type fakeSweeper struct {
	cleared int
	err     error
	limits  []int
}

func (f *fakeSweeper) ExpireBans(ctx context.Context, limit int) (int, error) {
	f.limits = append(f.limits, limit)
	return f.cleared, f.err
}

func TestBanSweepJobRecordsRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	sweeper := &fakeSweeper{cleared: 3}
	job := NewBanSweepJob(sweeper, nil, metrics)

	task, err := NewBanSweepTask(BanSweepPayload{Limit: 50})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, []int{50}, sweeper.limits)
	count, err := testutil.GatherAndCount(reg, "motd_jobs_total", "motd_bans_expired_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestBanSweepJobPropagatesFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := NewBanSweepJob(&fakeSweeper{err: errors.New("db down")}, nil, jobmetrics.NewMetrics(reg))

	err := job.Handle(context.Background(), asynq.NewTask(TaskExpireBans, nil))
	require.Error(t, err)

	count, err := testutil.GatherAndCount(reg, "motd_jobs_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBanSweepJobSkipsRetryOnBadPayload(t *testing.T) {
	var logs bytes.Buffer
	sweeper := &fakeSweeper{}
	job := NewBanSweepJob(sweeper, slog.New(slog.NewJSONHandler(&logs, nil)), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskExpireBans, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), "decode payload")
	assert.Contains(t, err.Error(), "unexpected end of JSON input")
	assert.Contains(t, logs.String(), "malformed payload")
	assert.Empty(t, sweeper.limits, "sweep does not run")
}

func TestBanSweepJobRequiresSweeper(t *testing.T) {
	var job *BanSweepJob
	require.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskExpireBans, nil)))
}
