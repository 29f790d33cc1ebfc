package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/roro-pixel/bokati-sub001/internal/jobs"
)

const defaultIdempotencyMaxAge = 72 * time.Hour

type idempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges idempotency keys past their retention.
type IdempotencyCleanupJob struct {
	Store   idempotencyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle deletes expired keys.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = defaultIdempotencyMaxAge
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	removed, err := j.Store.Cleanup(ctx, payload.OlderThan)
	if err != nil {
		return err
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("idempotency keys purged", slog.Int64("removed", removed), slog.Duration("older_than", payload.OlderThan))
	return nil
}
