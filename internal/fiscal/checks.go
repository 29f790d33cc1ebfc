package fiscal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Check codes of the pre-closing protocol.
const (
	CheckEntriesPosted          = "ENTRIES_NOT_POSTED"
	CheckBankReconciliation     = "BANK_RECONCILIATION_INCOMPLETE"
	CheckDepreciation           = "DEPRECIATION_NOT_CALCULATED"
	CheckAccruals               = "ACCRUALS_NOT_RECORDED"
	CheckOpenJournals           = "OPEN_JOURNALS"
	CodePeriodNotFound          = "PERIOD_NOT_FOUND"
	CodeFiscalYearNotFound      = "FISCAL_YEAR_NOT_FOUND"
	CodeMonthlyPeriodsOpen      = "MONTHLY_PERIODS_OPEN"
	CodeAdjustmentPeriodOpen    = "ADJUSTMENT_PERIOD_OPEN"
	CodeAdjustmentPeriodMissing = "ADJUSTMENT_PERIOD_MISSING"
	CodeTrialBalanceUnbalanced  = "TRIAL_BALANCE_UNBALANCED"
	CodePeriodsNotClosed        = "PERIODS_NOT_CLOSED"
)

var (
	errCollaboratorsMissing = errors.New("fiscal: closing collaborators not configured")
	errLedgerMissing        = errors.New("fiscal: ledger not configured")
)

// blockingChecks lists the checks whose failure prevents closing. The
// others are advisory and only produce warnings.
var blockingChecks = map[string]bool{
	CheckEntriesPosted:      true,
	CheckBankReconciliation: false,
	CheckDepreciation:       true,
	CheckAccruals:           false,
	CheckOpenJournals:       true,
}

// IsBlocking reports whether a failed check prevents closing.
func IsBlocking(code string) bool {
	return blockingChecks[code]
}

// closingSignals are the raw collaborator answers for one period.
type closingSignals struct {
	DraftEntries           int
	PendingReconciliations int
	DepreciationCalculated bool
	AccrualsRecorded       bool
	OpenJournals           int
}

// classify turns collaborator answers into the closing check result.
func classify(periodID uuid.UUID, sig closingSignals, at time.Time) PeriodClosingCheck {
	check := PeriodClosingCheck{
		PeriodID: periodID,
		Checks: ClosingChecks{
			EntriesPosted:          sig.DraftEntries == 0,
			BankReconciled:         sig.PendingReconciliations == 0,
			DepreciationCalculated: sig.DepreciationCalculated,
			AccrualsRecorded:       sig.AccrualsRecorded,
			NoOpenJournals:         sig.OpenJournals == 0,
		},
		Errors:    []Message{},
		Warnings:  []Message{},
		CheckedAt: at,
	}
	failed := make([]Message, 0, 5)
	if !check.Checks.EntriesPosted {
		failed = append(failed, NewMessage(CheckEntriesPosted, sig.DraftEntries))
	}
	if !check.Checks.BankReconciled {
		failed = append(failed, NewMessage(CheckBankReconciliation, sig.PendingReconciliations))
	}
	if !check.Checks.DepreciationCalculated {
		failed = append(failed, NewMessage(CheckDepreciation))
	}
	if !check.Checks.AccrualsRecorded {
		failed = append(failed, NewMessage(CheckAccruals))
	}
	if !check.Checks.NoOpenJournals {
		failed = append(failed, NewMessage(CheckOpenJournals, sig.OpenJournals))
	}
	for _, msg := range failed {
		if IsBlocking(msg.Code) {
			check.Errors = append(check.Errors, msg)
		} else {
			check.Warnings = append(check.Warnings, msg)
		}
	}
	check.CanClose = len(check.Errors) == 0
	return check
}

func periodNotFoundCheck(periodID uuid.UUID, at time.Time) PeriodClosingCheck {
	return PeriodClosingCheck{
		PeriodID:  periodID,
		Errors:    []Message{NewMessage(CodePeriodNotFound)},
		Warnings:  []Message{},
		CanClose:  false,
		CheckedAt: at,
	}
}

// GetPeriodStatus runs the pre-closing verification protocol. An unknown
// period yields a non-closable result instead of an error.
func (s *Service) GetPeriodStatus(ctx context.Context, periodID uuid.UUID) (PeriodClosingCheck, error) {
	period, err := s.repo.GetPeriod(ctx, periodID)
	if errors.Is(err, ErrNotFound) {
		return periodNotFoundCheck(periodID, s.now()), nil
	}
	if err != nil {
		return PeriodClosingCheck{}, err
	}
	fy, err := s.repo.GetFiscalYear(ctx, period.FiscalYearID)
	if errors.Is(err, ErrNotFound) {
		return periodNotFoundCheck(periodID, s.now()), nil
	}
	if err != nil {
		return PeriodClosingCheck{}, err
	}
	return s.verify(ctx, fy, period)
}

// verify queries the collaborators concurrently and classifies the answers.
func (s *Service) verify(ctx context.Context, fy FiscalYear, period Period) (PeriodClosingCheck, error) {
	if s.ledger == nil || s.reconciliation == nil || s.depreciation == nil {
		return PeriodClosingCheck{}, errCollaboratorsMissing
	}
	scope := scopeOf(fy, period)
	var sig closingSignals
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.ledger.DraftEntryCount(gctx, scope)
		sig.DraftEntries = n
		return err
	})
	g.Go(func() error {
		n, err := s.reconciliation.PendingReconciliations(gctx, scope)
		sig.PendingReconciliations = n
		return err
	})
	g.Go(func() error {
		ok, err := s.depreciation.DepreciationCalculated(gctx, scope)
		sig.DepreciationCalculated = ok
		return err
	})
	g.Go(func() error {
		ok, err := s.depreciation.AccrualsRecorded(gctx, scope)
		sig.AccrualsRecorded = ok
		return err
	})
	g.Go(func() error {
		n, err := s.ledger.OpenJournalCount(gctx, scope)
		sig.OpenJournals = n
		return err
	})
	if err := g.Wait(); err != nil {
		return PeriodClosingCheck{}, err
	}
	return classify(period.ID, sig, s.now()), nil
}

// CanCloseFiscalYear evaluates year-end eligibility. When periods is nil the
// owned periods are loaded from the repository.
func (s *Service) CanCloseFiscalYear(ctx context.Context, fiscalYearID uuid.UUID, periods []Period) (FiscalYearClosingCheck, error) {
	fy, err := s.repo.GetFiscalYear(ctx, fiscalYearID)
	if errors.Is(err, ErrNotFound) {
		return FiscalYearClosingCheck{
			FiscalYearID: fiscalYearID,
			Reasons:      []Message{NewMessage(CodeFiscalYearNotFound)},
		}, nil
	}
	if err != nil {
		return FiscalYearClosingCheck{}, err
	}
	if periods == nil {
		periods, err = s.repo.ListPeriods(ctx, fiscalYearID)
		if err != nil {
			return FiscalYearClosingCheck{}, err
		}
	}
	if s.ledger == nil {
		return FiscalYearClosingCheck{}, errLedgerMissing
	}
	totals, err := s.ledger.TrialBalance(ctx, fy.Entity, fy.StartDate, fy.EndDate)
	if err != nil {
		return FiscalYearClosingCheck{}, err
	}
	return yearEligibility(fy, periods, totals), nil
}

func yearEligibility(fy FiscalYear, periods []Period, totals TrialBalanceTotals) FiscalYearClosingCheck {
	check := FiscalYearClosingCheck{
		FiscalYearID: fy.ID,
		Reasons:      []Message{},
		TrialBalance: totals,
	}
	monthlyOpen := 0
	adjustmentSeen := false
	adjustmentOpen := false
	for _, p := range periods {
		if p.FiscalYearID != fy.ID {
			continue
		}
		if p.IsAdjustment {
			adjustmentSeen = true
			if !p.Status.IsClosed() {
				adjustmentOpen = true
			}
			continue
		}
		if !p.Status.IsClosed() {
			monthlyOpen++
		}
	}
	check.OpenPeriods = monthlyOpen
	if monthlyOpen > 0 {
		check.Reasons = append(check.Reasons, NewMessage(CodeMonthlyPeriodsOpen, monthlyOpen))
	}
	switch {
	case !adjustmentSeen:
		check.Reasons = append(check.Reasons, NewMessage(CodeAdjustmentPeriodMissing))
	case adjustmentOpen:
		check.OpenPeriods++
		check.Reasons = append(check.Reasons, NewMessage(CodeAdjustmentPeriodOpen))
	}
	if !totals.Balanced() {
		check.Reasons = append(check.Reasons, NewMessage(CodeTrialBalanceUnbalanced, totals.Difference()))
	}
	check.CanClose = len(check.Reasons) == 0
	return check
}

func scopeOf(fy FiscalYear, p Period) Scope {
	return Scope{
		Entity:       fy.Entity,
		FiscalYearID: fy.ID,
		PeriodID:     p.ID,
		Start:        p.StartDate,
		End:          p.EndDate,
		Adjustment:   p.IsAdjustment,
	}
}
