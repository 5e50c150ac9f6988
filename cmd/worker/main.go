package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/MaxBossMan1/ddgmotdv2/internal/app"
	"github.com/MaxBossMan1/ddgmotdv2/internal/moderation"
	"github.com/MaxBossMan1/ddgmotdv2/internal/observability"
	"github.com/MaxBossMan1/ddgmotdv2/internal/platform/db"
	"github.com/MaxBossMan1/ddgmotdv2/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("process", "worker"))

	runtime, err := app.LoadRuntime()
	if err != nil {
		logger.Error("load runtime switches", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, 4)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	engine := moderation.NewEngine(moderation.NewRepository(pool), moderation.DefaultPolicy(), logger).WithObserver(metrics)
	sweep := jobs.NewBanSweepJob(engine, logger, metrics.Jobs())

	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: cfg.AppReadTimeout}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() { _ = metricsServer.Close() }()
	}

	sweepTask, err := jobs.NewBanSweepTask(jobs.BanSweepPayload{})
	if err != nil {
		logger.Error("build ban sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	var cron []jobs.CronRegistration
	if runtime.Allows(app.EffectScheduler) {
		cron = append(cron, jobs.CronRegistration{Spec: cfg.BanSweepCron, Task: sweepTask})
	} else {
		logger.Warn("scheduler offline, ban sweep runs only when enqueued")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpireBans, Handler: sweep.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("ban_sweep_cron", cfg.BanSweepCron), slog.Int("cron_entries", len(cron)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
