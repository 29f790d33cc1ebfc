package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/roro-pixel/bokati-sub001/internal/app"
	jobmetrics "github.com/roro-pixel/bokati-sub001/internal/jobs"
	"github.com/roro-pixel/bokati-sub001/internal/observability"
	"github.com/roro-pixel/bokati-sub001/jobs"
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

	logger := app.NewLogger(cfg)

	services, err := app.BuildServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer services.Close()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	fiscalJobs := jobs.NewFiscalJobs(services.Fiscal, logger, jobMetrics)
	handlers := fiscalJobs.Handlers()

	scanTask, err := jobs.NewIntegrityScanTask("")
	if err != nil {
		logger.Error("build integrity scan task", slog.Any("error", err))
		os.Exit(1)
	}
	cron := []jobs.CronRegistration{
		{Spec: cfg.IntegrityScanCron, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}

	if services.Idempotency != nil {
		cleanup := &jobs.IdempotencyCleanupJob{Store: services.Idempotency, Logger: logger, Metrics: jobMetrics}
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle})
		cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyMaxAge)
		if err != nil {
			logger.Error("build cleanup task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.IdempotencyCleanup, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedisOptions(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadTimeout: 5 * time.Second}
		go func() {
			logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
