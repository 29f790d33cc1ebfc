package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roro-pixel/bokati-sub001/cmd/fiscalctl/cli"
	"github.com/roro-pixel/bokati-sub001/internal/app"
)

// env opens the configured stores on first use.
type env struct {
	cfg      *app.Config
	logger   *slog.Logger
	services *app.Services
	jobs     *cli.JobsCLI
}

func (e *env) Fiscal(ctx context.Context) (cli.FiscalService, error) {
	if e.services == nil {
		services, err := app.BuildServices(ctx, e.cfg, e.logger)
		if err != nil {
			return nil, err
		}
		e.services = services
	}
	return e.services.Fiscal, nil
}

func (e *env) Jobs(context.Context) (cli.JobsController, error) {
	if e.jobs == nil {
		jobsCLI, err := cli.NewJobsCLI(e.cfg.AsynqRedisOptions())
		if err != nil {
			return nil, err
		}
		e.jobs = jobsCLI
	}
	return e.jobs, nil
}

func (e *env) Close() {
	e.services.Close()
	if e.jobs != nil {
		if err := e.jobs.Close(); err != nil {
			e.logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	e := &env{cfg: cfg, logger: app.NewStderrLogger(cfg)}
	err = cli.NewRootCommand(e, cfg.DefaultLocale).ExecuteContext(ctx)
	e.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
