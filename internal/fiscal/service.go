package fiscal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/roro-pixel/bokati-sub001/internal/shared"
)

// Dependencies groups the collaborators consumed by the Service.
type Dependencies struct {
	Ledger         Ledger
	Reconciliation Reconciliation
	Depreciation   Depreciation
	Audit          AuditPort
	Reports        ReportInvalidator
	Workflows      WorkflowStore
	Logger         *slog.Logger
}

// Service orchestrates the fiscal year and accounting period lifecycle.
type Service struct {
	repo           Repository
	ledger         Ledger
	reconciliation Reconciliation
	depreciation   Depreciation
	audit          AuditPort
	reports        ReportInvalidator
	workflows      WorkflowStore
	logger         *slog.Logger
	locks          *lockTable
	integrity      singleflight.Group
	now            func() time.Time
	newID          func() uuid.UUID
}

// NewService constructs a Service instance.
func NewService(repo Repository, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workflows := deps.Workflows
	if workflows == nil {
		workflows = NewMemoryWorkflowStore()
	}
	return &Service{
		repo:           repo,
		ledger:         deps.Ledger,
		reconciliation: deps.Reconciliation,
		depreciation:   deps.Depreciation,
		audit:          deps.Audit,
		reports:        deps.Reports,
		workflows:      workflows,
		logger:         logger,
		locks:          newLockTable(),
		now:            time.Now,
		newID:          uuid.New,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ListOpenFiscalYears returns every fiscal year not yet closed.
func (s *Service) ListOpenFiscalYears(ctx context.Context) ([]FiscalYear, error) {
	return s.repo.ListOpenFiscalYears(ctx)
}

// GetFiscalYear returns a fiscal year by identifier.
func (s *Service) GetFiscalYear(ctx context.Context, id uuid.UUID) (FiscalYear, error) {
	return s.repo.GetFiscalYear(ctx, id)
}

// GetPeriod returns a single accounting period by identifier.
func (s *Service) GetPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	return s.repo.GetPeriod(ctx, id)
}

// ListPeriods returns the periods of a fiscal year ordered by number.
func (s *Service) ListPeriods(ctx context.Context, fiscalYearID uuid.UUID) ([]Period, error) {
	if _, err := s.repo.GetFiscalYear(ctx, fiscalYearID); err != nil {
		return nil, err
	}
	return s.repo.ListPeriods(ctx, fiscalYearID)
}

// GenerateFiscalYear creates a fiscal year with its 13 periods as one unit.
func (s *Service) GenerateFiscalYear(ctx context.Context, in GenerateInput) (GenerateResult, error) {
	fy, periods, err := BuildFiscalYear(in, s.now(), s.newID)
	if err != nil {
		return GenerateResult{}, err
	}
	if _, err := s.repo.FindFiscalYear(ctx, fy.Entity, fy.Year); err == nil {
		return GenerateResult{}, fmt.Errorf("%w: %s/%s", ErrConflict, fy.Entity, fy.Year)
	} else if !errors.Is(err, ErrNotFound) {
		return GenerateResult{}, err
	}

	result := GenerateResult{FiscalYear: fy, Periods: periods, Warnings: []Message{}}
	if in.CopyFromPrevious || in.IncludeOpeningBalances {
		balances, err := s.openingBalances(ctx, fy)
		if err != nil {
			s.logger.Warn("opening balances", slog.String("entity", fy.Entity), slog.String("year", fy.Year), slog.Any("error", err))
			result.Warnings = append(result.Warnings, NewMessage("OPENING_BALANCES_UNAVAILABLE"))
		} else if in.IncludeOpeningBalances {
			result.OpeningBalances = balances
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertFiscalYear(ctx, fy); err != nil {
			return err
		}
		return tx.InsertPeriods(ctx, periods)
	})
	if err != nil {
		return GenerateResult{}, err
	}
	s.record(ctx, in.ActorID, "fiscal_year.create", "fiscal_year", fy.ID, map[string]any{
		"entity":  fy.Entity,
		"year":    fy.Year,
		"periods": len(periods),
	})
	return result, nil
}

func (s *Service) openingBalances(ctx context.Context, fy FiscalYear) ([]AccountBalance, error) {
	if s.ledger == nil {
		return nil, errLedgerMissing
	}
	prevYear, ok := PreviousYear(fy.Year)
	if !ok {
		return nil, fmt.Errorf("%w: no fiscal year before %s", ErrNotFound, fy.Year)
	}
	prev, err := s.repo.FindFiscalYear(ctx, fy.Entity, prevYear)
	if err != nil {
		return nil, err
	}
	balances, err := s.ledger.ClosingBalances(ctx, prev.Entity, prev.StartDate, prev.EndDate)
	if err != nil {
		return nil, err
	}
	opening := make([]AccountBalance, 0, len(balances))
	for _, b := range balances {
		opening = append(opening, AccountBalance{
			AccountID: b.AccountID,
			Code:      b.Code,
			Name:      b.Name,
			Auxiliary: b.Auxiliary,
			Opening:   b.Closing(),
		})
	}
	return opening, nil
}

// ClosePeriod runs the verification protocol and closes the period when no
// blocking check fails. Closing an already closed period is a no-op.
func (s *Service) ClosePeriod(ctx context.Context, periodID uuid.UUID, actorID int64) (Period, error) {
	var closed Period
	var changed bool
	err := s.withPeriodLock(ctx, periodID, func(fy FiscalYear, period Period) error {
		if period.Status == PeriodStatusClosed {
			closed = period
			return nil
		}
		if fy.IsClosed {
			return ErrFiscalYearClosed
		}
		if err := ValidateTransition(period.Status, PeriodStatusClosed, false); err != nil {
			return err
		}
		check, err := s.verify(ctx, fy, period)
		if err != nil {
			return err
		}
		if !check.CanClose {
			return &CannotCloseError{Target: period.Name, Reasons: check.Errors}
		}
		closed, err = s.updatePeriod(ctx, markClosed(period, s.now(), actorID))
		changed = err == nil
		return err
	})
	if err != nil {
		return Period{}, err
	}
	if changed {
		s.record(ctx, actorID, "period.close", "period", closed.ID, map[string]any{"name": closed.Name})
	}
	return closed, nil
}

// ReopenPeriod reverses a close. The reason is mandatory and audited.
func (s *Service) ReopenPeriod(ctx context.Context, periodID uuid.UUID, reason string, actorID int64) (Period, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Period{}, validationError("reason", "REASON_REQUIRED")
	}
	var reopened Period
	var changed bool
	err := s.withPeriodLock(ctx, periodID, func(fy FiscalYear, period Period) error {
		if period.Status == PeriodStatusOpen {
			reopened = period
			return nil
		}
		if fy.IsClosed {
			return ErrFiscalYearClosed
		}
		if err := ValidateTransition(period.Status, PeriodStatusOpen, false); err != nil {
			return err
		}
		var err error
		reopened, err = s.updatePeriod(ctx, markOpen(period))
		changed = err == nil
		return err
	})
	if err != nil {
		return Period{}, err
	}
	if changed {
		s.logger.Warn("period reopened", slog.String("period_id", reopened.ID.String()), slog.Int64("actor_id", actorID), slog.String("reason", reason))
		s.record(ctx, actorID, "period.reopen", "period", reopened.ID, map[string]any{"name": reopened.Name, "reason": reason})
	}
	return reopened, nil
}

// ForceClosePeriod closes the period without running the verification
// protocol. The reason is mandatory and audited.
func (s *Service) ForceClosePeriod(ctx context.Context, periodID uuid.UUID, reason string, actorID int64) (Period, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Period{}, validationError("reason", "REASON_REQUIRED")
	}
	var closed Period
	var changed bool
	err := s.withPeriodLock(ctx, periodID, func(fy FiscalYear, period Period) error {
		if period.Status == PeriodStatusClosed {
			closed = period
			return nil
		}
		if fy.IsClosed {
			return ErrFiscalYearClosed
		}
		if err := ValidateTransition(period.Status, PeriodStatusClosed, false); err != nil {
			return err
		}
		var err error
		closed, err = s.updatePeriod(ctx, markClosed(period, s.now(), actorID))
		changed = err == nil
		return err
	})
	if err != nil {
		return Period{}, err
	}
	if changed {
		s.logger.Warn("period force closed", slog.String("period_id", closed.ID.String()), slog.Int64("actor_id", actorID), slog.String("reason", reason))
		s.record(ctx, actorID, "period.force_close", "period", closed.ID, map[string]any{"name": closed.Name, "reason": reason})
	}
	return closed, nil
}

// CloseFiscalYear closes the fiscal year once every owned period is closed
// and the trial balance nets to zero. Both conditions are re-read under the
// exclusive year lock.
func (s *Service) CloseFiscalYear(ctx context.Context, fiscalYearID uuid.UUID, actorID int64) (FiscalYear, error) {
	if s.ledger == nil {
		return FiscalYear{}, errLedgerMissing
	}
	if _, err := s.repo.GetFiscalYear(ctx, fiscalYearID); err != nil {
		return FiscalYear{}, err
	}
	release, err := s.locks.lockYear(ctx, fiscalYearID)
	if err != nil {
		return FiscalYear{}, err
	}
	defer release()

	fy, err := s.repo.GetFiscalYear(ctx, fiscalYearID)
	if err != nil {
		return FiscalYear{}, err
	}
	if fy.IsClosed {
		return fy, nil
	}
	totals, err := s.ledger.TrialBalance(ctx, fy.Entity, fy.StartDate, fy.EndDate)
	if err != nil {
		return FiscalYear{}, err
	}
	var updated FiscalYear
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		periods, err := tx.ListPeriods(ctx, fy.ID)
		if err != nil {
			return err
		}
		reasons := make([]Message, 0, 2)
		open := 0
		for _, p := range periods {
			if !p.Status.IsClosed() {
				open++
			}
		}
		if open > 0 {
			reasons = append(reasons, NewMessage(CodePeriodsNotClosed, open))
		}
		if !totals.Balanced() {
			reasons = append(reasons, NewMessage(CodeTrialBalanceUnbalanced, totals.Difference()))
		}
		if len(reasons) > 0 {
			return &CannotCloseError{Target: "exercice " + fy.Year, Reasons: reasons}
		}
		closedAt := s.now()
		closedBy := actorID
		next := fy
		next.IsClosed = true
		next.ClosedAt = &closedAt
		next.ClosedBy = &closedBy
		updated, err = tx.UpdateFiscalYear(ctx, next)
		return err
	})
	if err != nil {
		return FiscalYear{}, err
	}
	s.record(ctx, actorID, "fiscal_year.close", "fiscal_year", updated.ID, map[string]any{
		"entity": updated.Entity,
		"year":   updated.Year,
	})
	return updated, nil
}

// withPeriodLock loads the period, takes its lock, and hands fn a fresh read.
func (s *Service) withPeriodLock(ctx context.Context, periodID uuid.UUID, fn func(FiscalYear, Period) error) error {
	period, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return err
	}
	release, err := s.locks.lockPeriod(ctx, period.FiscalYearID, period.ID)
	if err != nil {
		return err
	}
	defer release()
	period, err = s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return err
	}
	fy, err := s.repo.GetFiscalYear(ctx, period.FiscalYearID)
	if err != nil {
		return err
	}
	return fn(fy, period)
}

func (s *Service) updatePeriod(ctx context.Context, p Period) (Period, error) {
	var updated Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.UpdatePeriod(ctx, p)
		return err
	})
	return updated, err
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Error("audit record", slog.String("action", action), slog.String("entity_id", id.String()), slog.Any("error", err))
	}
}
