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
	fiscalhttp "github.com/roro-pixel/bokati-sub001/internal/fiscal/http"
	"github.com/roro-pixel/bokati-sub001/internal/i18n"
	"github.com/roro-pixel/bokati-sub001/internal/observability"
	"github.com/roro-pixel/bokati-sub001/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	opts := []fiscalhttp.Option{fiscalhttp.WithDefaultLocale(i18n.Parse(cfg.DefaultLocale))}
	if services.Idempotency != nil {
		opts = append(opts, fiscalhttp.WithIdempotency(services.Idempotency))
	}

	var jobHandler *jobs.Handler
	if services.Redis != nil {
		redisOpts := cfg.AsynqRedisOptions()
		client, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		opts = append(opts, fiscalhttp.WithDispatcher(client))

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)

		err = services.Reports.Subscribe(ctx, func(entity string, version int64) {
			logger.Debug("report cache invalidated", slog.String("entity", entity), slog.Int64("version", version))
		})
		if err != nil {
			logger.Warn("report cache subscription", slog.Any("error", err))
		}
	}

	fiscalHandler := fiscalhttp.NewHandler(logger, services.Fiscal, opts...)
	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		FiscalHandler: fiscalHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
