package fiscal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/roro-pixel/bokati-sub001/internal/shared"
)

// Repository abstracts fiscal year and period storage.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetFiscalYear(ctx context.Context, id uuid.UUID) (FiscalYear, error)
	FindFiscalYear(ctx context.Context, entity, year string) (FiscalYear, error)
	ListOpenFiscalYears(ctx context.Context) ([]FiscalYear, error)
	GetPeriod(ctx context.Context, id uuid.UUID) (Period, error)
	ListPeriods(ctx context.Context, fiscalYearID uuid.UUID) ([]Period, error)
	ListAccountBalances(ctx context.Context, periodID uuid.UUID) ([]AccountBalance, error)
}

// TxRepository exposes transactional writes. Updates compare the Version of
// the supplied record with the stored one and fail with ErrStaleVersion on
// mismatch; the returned record carries the incremented version.
type TxRepository interface {
	GetPeriod(ctx context.Context, id uuid.UUID) (Period, error)
	ListPeriods(ctx context.Context, fiscalYearID uuid.UUID) ([]Period, error)
	InsertFiscalYear(ctx context.Context, fy FiscalYear) error
	InsertPeriods(ctx context.Context, periods []Period) error
	UpdatePeriod(ctx context.Context, p Period) (Period, error)
	UpdateFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error)
	UpsertAccountBalances(ctx context.Context, periodID uuid.UUID, balances []AccountBalance) (int, error)
	UpsertJournalTotals(ctx context.Context, periodID uuid.UUID, totals []JournalTotal) (int, error)
}

// Scope identifies the ledger slice a collaborator should look at.
type Scope struct {
	Entity       string
	FiscalYearID uuid.UUID
	PeriodID     uuid.UUID
	Start        time.Time
	End          time.Time
	Adjustment   bool
}

// Ledger answers posting and balance questions about a period.
type Ledger interface {
	DraftEntryCount(ctx context.Context, scope Scope) (int, error)
	OpenJournalCount(ctx context.Context, scope Scope) (int, error)
	IntegrityStats(ctx context.Context, scope Scope) (IntegrityStats, error)
	AccountActivity(ctx context.Context, scope Scope, includeAuxiliary bool) ([]AccountBalance, error)
	JournalTotals(ctx context.Context, scope Scope) ([]JournalTotal, error)
	TrialBalance(ctx context.Context, entity string, start, end time.Time) (TrialBalanceTotals, error)
	ClosingBalances(ctx context.Context, entity string, start, end time.Time) ([]AccountBalance, error)
}

// Reconciliation reports bank reconciliation progress.
type Reconciliation interface {
	PendingReconciliations(ctx context.Context, scope Scope) (int, error)
}

// Depreciation reports on amortization and accrual processing.
type Depreciation interface {
	DepreciationCalculated(ctx context.Context, scope Scope) (bool, error)
	AccrualsRecorded(ctx context.Context, scope Scope) (bool, error)
	AdjustmentEntries(ctx context.Context, scope Scope) ([]AdjustmentEntry, error)
}

// AuditPort records lifecycle events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReportInvalidator marks dependent financial statement caches stale.
type ReportInvalidator interface {
	Invalidate(ctx context.Context, entity string) error
}

// WorkflowStore persists workflow snapshots for polling callers.
type WorkflowStore interface {
	Save(ctx context.Context, wf Workflow) error
	Load(ctx context.Context, id uuid.UUID) (Workflow, error)
}

// Progress receives completion percentages from long-running steps.
type Progress func(percent int, step string)

func (p Progress) report(percent int, step string) {
	if p != nil {
		p(percent, step)
	}
}
