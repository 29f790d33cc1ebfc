package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
	jobmetrics "github.com/roro-pixel/bokati-sub001/internal/jobs"
)

type fiscalService interface {
	ListOpenFiscalYears(ctx context.Context) ([]fiscal.FiscalYear, error)
	ListPeriods(ctx context.Context, fiscalYearID uuid.UUID) ([]fiscal.Period, error)
	CheckDataIntegrity(ctx context.Context, periodID uuid.UUID) (fiscal.IntegrityReport, error)
	RegeneratePeriodBalances(ctx context.Context, periodID uuid.UUID, opts fiscal.RegenerationOptions, progress fiscal.Progress) (fiscal.RegenerationResult, error)
	RunPeriodClosing(ctx context.Context, workflowID, periodID uuid.UUID, actorID int64) (fiscal.Workflow, error)
	RunYearEnd(ctx context.Context, workflowID, fiscalYearID uuid.UUID, actorID int64) (fiscal.Workflow, error)
}

// FiscalJobs processes the fiscal lifecycle tasks.
type FiscalJobs struct {
	Service fiscalService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewFiscalJobs wires the fiscal task handlers.
func NewFiscalJobs(service fiscalService, logger *slog.Logger, metrics *jobmetrics.Metrics) *FiscalJobs {
	return &FiscalJobs{Service: service, Logger: logger, Metrics: metrics}
}

// Handlers lists the task handlers to mount on the worker.
func (j *FiscalJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskRegeneratePeriod, Handler: j.HandleRegenerate},
		{Type: TaskClosePeriod, Handler: j.HandleClosePeriod},
		{Type: TaskYearEnd, Handler: j.HandleYearEnd},
		{Type: TaskIntegrityScan, Handler: j.HandleIntegrityScan},
	}
}

// HandleRegenerate recomputes period balances and stores the result on the task.
func (j *FiscalJobs) HandleRegenerate(ctx context.Context, t *asynq.Task) (err error) {
	var payload RegeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskRegeneratePeriod)
	defer func() { err = tracker.End(err) }()

	logger := j.logger().With(slog.String("period_id", payload.PeriodID.String()), slog.Int64("actor_id", payload.ActorID))
	progress := func(percent int, step string) {
		logger.Debug("regeneration progress", slog.Int("percent", percent), slog.String("step", step))
	}
	result, err := j.Service.RegeneratePeriodBalances(ctx, payload.PeriodID, payload.Options, progress)
	if err != nil {
		logger.Error("regeneration failed", slog.Any("error", err))
		return retryable(err)
	}
	if !result.Success {
		logger.Warn("regeneration refused", slog.Any("errors", fiscal.Texts(result.Errors)))
	} else {
		logger.Info("regeneration completed",
			slog.Int("processed", result.Processed),
			slog.Duration("duration", result.Duration),
		)
	}
	return writeResult(t, result)
}

// HandleClosePeriod runs a prepared period closing workflow.
func (j *FiscalJobs) HandleClosePeriod(ctx context.Context, t *asynq.Task) (err error) {
	var payload WorkflowPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskClosePeriod)
	defer func() { err = tracker.End(err) }()

	wf, err := j.Service.RunPeriodClosing(ctx, payload.WorkflowID, payload.TargetID, payload.ActorID)
	return j.finishWorkflow(t, wf, err)
}

// HandleYearEnd runs a prepared year-end workflow.
func (j *FiscalJobs) HandleYearEnd(ctx context.Context, t *asynq.Task) (err error) {
	var payload WorkflowPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskYearEnd)
	defer func() { err = tracker.End(err) }()

	wf, err := j.Service.RunYearEnd(ctx, payload.WorkflowID, payload.TargetID, payload.ActorID)
	return j.finishWorkflow(t, wf, err)
}

func (j *FiscalJobs) finishWorkflow(t *asynq.Task, wf fiscal.Workflow, err error) error {
	logger := j.logger().With(
		slog.String("task", t.Type()),
		slog.String("workflow_id", wf.ID.String()),
		slog.String("state", string(wf.State)),
	)
	if err != nil {
		logger.Warn("workflow failed", slog.Any("error", err))
		return retryable(err)
	}
	logger.Info("workflow completed")
	return writeResult(t, wf)
}

// HandleIntegrityScan checks every open period of every open fiscal year
// and logs the issues it finds.
func (j *FiscalJobs) HandleIntegrityScan(ctx context.Context, t *asynq.Task) (err error) {
	var payload IntegrityScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskIntegrityScan)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	summary, err := j.scan(ctx, payload.Entity)
	if err != nil {
		j.logger().Error("integrity scan failed", slog.Any("error", err))
		return err
	}
	j.Metrics.SetIntegrityScan(summary.Periods, summary.Issues)
	j.logger().Info("integrity scan completed",
		slog.Int("fiscal_years", summary.FiscalYears),
		slog.Int("periods", summary.Periods),
		slog.Int("issues", summary.Issues),
		slog.Duration("duration", time.Since(start)),
	)
	return writeResult(t, summary)
}

// ScanSummary totals an integrity scan run.
type ScanSummary struct {
	FiscalYears int `json:"fiscal_years"`
	Periods     int `json:"periods"`
	Issues      int `json:"issues"`
}

func (j *FiscalJobs) scan(ctx context.Context, entity string) (ScanSummary, error) {
	years, err := j.Service.ListOpenFiscalYears(ctx)
	if err != nil {
		return ScanSummary{}, fmt.Errorf("list open fiscal years: %w", err)
	}
	var summary ScanSummary
	for _, fy := range years {
		if entity != "" && fy.Entity != entity {
			continue
		}
		summary.FiscalYears++
		periods, err := j.Service.ListPeriods(ctx, fy.ID)
		if err != nil {
			return summary, fmt.Errorf("list periods of %s: %w", fy.ID, err)
		}
		for _, p := range periods {
			if p.Status != fiscal.PeriodStatusOpen {
				continue
			}
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			report, err := j.Service.CheckDataIntegrity(ctx, p.ID)
			if err != nil {
				return summary, fmt.Errorf("check period %s: %w", p.ID, err)
			}
			summary.Periods++
			if report.IsValid {
				continue
			}
			summary.Issues += len(report.Issues)
			for _, issue := range report.Issues {
				j.Metrics.AddIntegrityIssues(issue.Code, 1)
				j.logger().Warn("integrity issue",
					slog.String("entity", fy.Entity),
					slog.String("fiscal_year", fy.Year),
					slog.String("period", p.Name),
					slog.String("code", issue.Code),
					slog.String("message", issue.Text),
				)
			}
		}
	}
	return summary, nil
}

func (j *FiscalJobs) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// retryable marks business refusals as final so Asynq does not replay them.
func retryable(err error) error {
	if fiscal.IsRefusal(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func writeResult(t *asynq.Task, v any) error {
	w := t.ResultWriter()
	if w == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
