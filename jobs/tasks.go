package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries user-initiated closing work.
	QueueCritical = "critical"

	// TaskRegeneratePeriod recomputes the stored balances of one period.
	TaskRegeneratePeriod = "fiscal:regenerate_period"
	// TaskClosePeriod drives a prepared period closing workflow.
	TaskClosePeriod = "fiscal:close_period"
	// TaskYearEnd drives a prepared year-end workflow.
	TaskYearEnd = "fiscal:year_end"
	// TaskIntegrityScan checks every open period of every open fiscal year.
	TaskIntegrityScan = "fiscal:integrity_scan"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

const resultRetention = 24 * time.Hour

// RegeneratePayload describes a queued balance regeneration.
type RegeneratePayload struct {
	PeriodID    uuid.UUID                  `json:"period_id"`
	Options     fiscal.RegenerationOptions `json:"options"`
	ActorID     int64                      `json:"actor_id"`
	RequestedAt time.Time                  `json:"requested_at"`
}

// WorkflowPayload identifies a prepared workflow and its target.
type WorkflowPayload struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	TargetID   uuid.UUID `json:"target_id"`
	ActorID    int64     `json:"actor_id"`
}

// IntegrityScanPayload scopes the nightly integrity scan.
type IntegrityScanPayload struct {
	Entity string `json:"entity,omitempty"`
}

// CleanupPayload configures the idempotency key purge.
type CleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewRegenerateTask constructs an Asynq task for a balance regeneration.
func NewRegenerateTask(payload RegeneratePayload) (*asynq.Task, error) {
	if payload.PeriodID == uuid.Nil {
		return nil, fmt.Errorf("jobs: regenerate task requires a period")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRegeneratePeriod, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(15*time.Minute),
		asynq.Retention(resultRetention),
	), nil
}

// NewClosePeriodTask constructs an Asynq task for a period closing workflow.
// The workflow ID doubles as task ID so a workflow is enqueued once.
func NewClosePeriodTask(payload WorkflowPayload) (*asynq.Task, error) {
	return newWorkflowTask(TaskClosePeriod, payload)
}

// NewYearEndTask constructs an Asynq task for a year-end workflow.
func NewYearEndTask(payload WorkflowPayload) (*asynq.Task, error) {
	return newWorkflowTask(TaskYearEnd, payload)
}

func newWorkflowTask(typ string, payload WorkflowPayload) (*asynq.Task, error) {
	if payload.WorkflowID == uuid.Nil || payload.TargetID == uuid.Nil {
		return nil, fmt.Errorf("jobs: %s task requires workflow and target", typ)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, data,
		asynq.Queue(QueueCritical),
		asynq.TaskID(payload.WorkflowID.String()),
		asynq.MaxRetry(2),
		asynq.Timeout(30*time.Minute),
	), nil
}

// NewIntegrityScanTask constructs the integrity scan task.
func NewIntegrityScanTask(entity string) (*asynq.Task, error) {
	data, err := json.Marshal(IntegrityScanPayload{Entity: entity})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrityScan, data, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs the idempotency key purge task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}
