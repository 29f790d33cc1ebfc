package fiscal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkflowKind names a multi-step lifecycle process.
type WorkflowKind string

const (
	WorkflowFiscalYearSetup WorkflowKind = "FISCAL_YEAR_SETUP"
	WorkflowPeriodClosing   WorkflowKind = "PERIOD_CLOSING"
	WorkflowYearEnd         WorkflowKind = "YEAR_END"
)

// WorkflowState is the current step of a workflow.
type WorkflowState string

const (
	WorkflowConfiguring WorkflowState = "CONFIGURING"
	WorkflowVerifying   WorkflowState = "VERIFYING"
	WorkflowProcessing  WorkflowState = "PROCESSING"
	WorkflowDone        WorkflowState = "DONE"
	WorkflowFailed      WorkflowState = "FAILED"
)

var workflowTransitions = map[WorkflowState][]WorkflowState{
	WorkflowConfiguring: {WorkflowVerifying, WorkflowFailed},
	WorkflowVerifying:   {WorkflowProcessing, WorkflowFailed},
	WorkflowProcessing:  {WorkflowDone, WorkflowFailed},
}

// ErrWorkflowTransition indicates an illegal workflow step.
var ErrWorkflowTransition = errors.New("fiscal: invalid workflow transition")

// Workflow is a snapshot of a lifecycle process owned by the service.
type Workflow struct {
	ID         uuid.UUID     `json:"id"`
	Kind       WorkflowKind  `json:"kind"`
	Target     uuid.UUID     `json:"target"`
	State      WorkflowState `json:"state"`
	Progress   int           `json:"progress"`
	Step       string        `json:"step"`
	Errors     []Message     `json:"errors"`
	Warnings   []Message     `json:"warnings"`
	Resumable  bool          `json:"resumable"`
	StartedAt  time.Time     `json:"started_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// NewWorkflow creates a workflow in the CONFIGURING state.
func NewWorkflow(id uuid.UUID, kind WorkflowKind, target uuid.UUID, at time.Time) Workflow {
	return Workflow{
		ID:        id,
		Kind:      kind,
		Target:    target,
		State:     WorkflowConfiguring,
		Errors:    []Message{},
		Warnings:  []Message{},
		StartedAt: at,
		UpdatedAt: at,
	}
}

// Terminal reports whether the workflow reached DONE or FAILED.
func (w Workflow) Terminal() bool {
	return w.State == WorkflowDone || w.State == WorkflowFailed
}

// Advance moves the workflow to the next state.
func (w *Workflow) Advance(to WorkflowState, at time.Time) error {
	for _, allowed := range workflowTransitions[w.State] {
		if allowed == to {
			w.State = to
			w.UpdatedAt = at
			if w.Terminal() {
				ts := at
				w.FinishedAt = &ts
				if to == WorkflowDone {
					w.Progress = 100
				}
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrWorkflowTransition, w.State, to)
}

// Resume puts a workflow that failed on a transient error back into
// CONFIGURING so it can be run again. Refused or finished workflows stay put.
func (w *Workflow) Resume(at time.Time) error {
	if w.State != WorkflowFailed || !w.Resumable {
		return fmt.Errorf("%w: %s is not resumable", ErrWorkflowTransition, w.State)
	}
	w.State = WorkflowConfiguring
	w.Resumable = false
	w.Progress = 0
	w.Step = ""
	w.Errors = []Message{}
	w.Warnings = []Message{}
	w.FinishedAt = nil
	w.UpdatedAt = at
	return nil
}

// MemoryWorkflowStore keeps workflow snapshots in process memory.
type MemoryWorkflowStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Workflow
}

// NewMemoryWorkflowStore constructs an empty store.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{items: make(map[uuid.UUID]Workflow)}
}

// Save stores a snapshot.
func (m *MemoryWorkflowStore) Save(_ context.Context, wf Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[wf.ID] = wf
	return nil
}

// Load returns a snapshot by identifier.
func (m *MemoryWorkflowStore) Load(_ context.Context, id uuid.UUID) (Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.items[id]
	if !ok {
		return Workflow{}, fmt.Errorf("%w: workflow %s", ErrNotFound, id)
	}
	return wf, nil
}

// PrepareWorkflow registers a CONFIGURING workflow so it can be polled
// before a worker picks it up.
func (s *Service) PrepareWorkflow(ctx context.Context, kind WorkflowKind, target uuid.UUID) (Workflow, error) {
	wf := NewWorkflow(s.newID(), kind, target, s.now())
	if err := s.workflows.Save(ctx, wf); err != nil {
		return Workflow{}, err
	}
	return wf, nil
}

// GetWorkflow returns the latest snapshot of a workflow.
func (s *Service) GetWorkflow(ctx context.Context, id uuid.UUID) (Workflow, error) {
	return s.workflows.Load(ctx, id)
}

// RunPeriodClosing drives a period close through the workflow states.
// A zero workflowID starts a fresh workflow.
func (s *Service) RunPeriodClosing(ctx context.Context, workflowID, periodID uuid.UUID, actorID int64) (Workflow, error) {
	wf, err := s.beginWorkflow(ctx, workflowID, WorkflowPeriodClosing, periodID)
	if err != nil {
		return Workflow{}, err
	}
	if err := s.step(ctx, &wf, WorkflowVerifying, 10, "verify"); err != nil {
		return wf, err
	}
	check, err := s.GetPeriodStatus(ctx, periodID)
	if err != nil {
		return s.fail(ctx, wf, err)
	}
	wf.Warnings = append(wf.Warnings, check.Warnings...)
	if !check.CanClose {
		return s.fail(ctx, wf, &CannotCloseError{Target: periodID.String(), Reasons: check.Errors})
	}
	if err := s.step(ctx, &wf, WorkflowProcessing, 60, "close"); err != nil {
		return wf, err
	}
	if _, err := s.ClosePeriod(ctx, periodID, actorID); err != nil {
		return s.fail(ctx, wf, err)
	}
	return s.finish(ctx, wf)
}

// RunYearEnd verifies the monthly periods, regenerates the adjustment
// entries, closes the adjustment period, and closes the fiscal year.
func (s *Service) RunYearEnd(ctx context.Context, workflowID, fiscalYearID uuid.UUID, actorID int64) (Workflow, error) {
	wf, err := s.beginWorkflow(ctx, workflowID, WorkflowYearEnd, fiscalYearID)
	if err != nil {
		return Workflow{}, err
	}
	if err := s.step(ctx, &wf, WorkflowVerifying, 10, "verify"); err != nil {
		return wf, err
	}
	periods, err := s.ListPeriods(ctx, fiscalYearID)
	if err != nil {
		return s.fail(ctx, wf, err)
	}
	var adjustment *Period
	open := 0
	for i := range periods {
		if periods[i].IsAdjustment {
			adjustment = &periods[i]
			continue
		}
		if !periods[i].Status.IsClosed() {
			open++
		}
	}
	switch {
	case open > 0:
		return s.fail(ctx, wf, &CannotCloseError{Target: fiscalYearID.String(), Reasons: []Message{NewMessage(CodeMonthlyPeriodsOpen, open)}})
	case adjustment == nil:
		return s.fail(ctx, wf, &CannotCloseError{Target: fiscalYearID.String(), Reasons: []Message{NewMessage(CodeAdjustmentPeriodMissing)}})
	}

	if err := s.step(ctx, &wf, WorkflowProcessing, 30, "adjustments"); err != nil {
		return wf, err
	}
	if !adjustment.Status.IsClosed() {
		if _, err := s.RegenerateAdjustmentEntries(ctx, adjustment.ID, actorID); err != nil {
			return s.fail(ctx, wf, err)
		}
		s.progress(ctx, &wf, 60, "close_adjustment")
		if _, err := s.ClosePeriod(ctx, adjustment.ID, actorID); err != nil {
			return s.fail(ctx, wf, err)
		}
	}
	s.progress(ctx, &wf, 80, "close_year")
	if _, err := s.CloseFiscalYear(ctx, fiscalYearID, actorID); err != nil {
		return s.fail(ctx, wf, err)
	}
	return s.finish(ctx, wf)
}

// RunFiscalYearSetup validates the input, checks for duplicates, and
// generates the fiscal year. The workflow target becomes the new year's ID.
func (s *Service) RunFiscalYearSetup(ctx context.Context, workflowID uuid.UUID, in GenerateInput) (Workflow, GenerateResult, error) {
	wf, err := s.beginWorkflow(ctx, workflowID, WorkflowFiscalYearSetup, uuid.Nil)
	if err != nil {
		return Workflow{}, GenerateResult{}, err
	}
	if err := s.step(ctx, &wf, WorkflowVerifying, 10, "verify"); err != nil {
		return wf, GenerateResult{}, err
	}
	if err := in.Validate(); err != nil {
		wf, err = s.fail(ctx, wf, err)
		return wf, GenerateResult{}, err
	}
	if err := s.step(ctx, &wf, WorkflowProcessing, 40, "generate"); err != nil {
		return wf, GenerateResult{}, err
	}
	result, err := s.GenerateFiscalYear(ctx, in)
	if err != nil {
		wf, err = s.fail(ctx, wf, err)
		return wf, GenerateResult{}, err
	}
	wf.Target = result.FiscalYear.ID
	wf.Warnings = append(wf.Warnings, result.Warnings...)
	wf, err = s.finish(ctx, wf)
	return wf, result, err
}

func (s *Service) beginWorkflow(ctx context.Context, id uuid.UUID, kind WorkflowKind, target uuid.UUID) (Workflow, error) {
	if id == uuid.Nil {
		return s.PrepareWorkflow(ctx, kind, target)
	}
	wf, err := s.workflows.Load(ctx, id)
	if err != nil {
		return Workflow{}, err
	}
	if wf.Kind == kind && wf.State == WorkflowFailed && wf.Resumable {
		if err := wf.Resume(s.now()); err != nil {
			return Workflow{}, err
		}
		if err := s.workflows.Save(ctx, wf); err != nil {
			return Workflow{}, err
		}
		s.logger.Info("resuming workflow", "workflow_id", id.String(), "kind", string(kind))
	}
	if wf.Kind != kind || wf.State != WorkflowConfiguring {
		return Workflow{}, fmt.Errorf("%w: workflow %s is %s %s", ErrWorkflowTransition, id, wf.Kind, wf.State)
	}
	return wf, nil
}

func (s *Service) step(ctx context.Context, wf *Workflow, to WorkflowState, percent int, step string) error {
	if err := ctx.Err(); err != nil {
		_, _ = s.fail(context.WithoutCancel(ctx), *wf, err)
		return err
	}
	if err := wf.Advance(to, s.now()); err != nil {
		return err
	}
	wf.Progress = percent
	wf.Step = step
	return s.workflows.Save(ctx, *wf)
}

func (s *Service) progress(ctx context.Context, wf *Workflow, percent int, step string) {
	wf.Progress = percent
	wf.Step = step
	wf.UpdatedAt = s.now()
	if err := s.workflows.Save(ctx, *wf); err != nil {
		s.logger.Warn("save workflow progress", "workflow_id", wf.ID.String(), "error", err)
	}
}

func (s *Service) fail(ctx context.Context, wf Workflow, cause error) (Workflow, error) {
	reasons := ReasonsOf(cause)
	if len(reasons) == 0 {
		reasons = []Message{{Code: "WORKFLOW_FAILED", Text: cause.Error()}}
	}
	wf.Errors = append(wf.Errors, reasons...)
	wf.Resumable = !IsRefusal(cause)
	if err := wf.Advance(WorkflowFailed, s.now()); err != nil {
		return wf, errors.Join(cause, err)
	}
	if err := s.workflows.Save(ctx, wf); err != nil {
		return wf, errors.Join(cause, err)
	}
	return wf, cause
}

func (s *Service) finish(ctx context.Context, wf Workflow) (Workflow, error) {
	if err := wf.Advance(WorkflowDone, s.now()); err != nil {
		return wf, err
	}
	wf.Step = "done"
	return wf, s.workflows.Save(ctx, wf)
}
