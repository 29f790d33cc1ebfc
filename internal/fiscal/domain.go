package fiscal

import (
	"time"

	"github.com/google/uuid"
)

// PeriodStatus enumerates accounting period lifecycle stages.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	// PeriodStatusLocked is reserved for post-audit immutability. No service
	// operation moves a period into it.
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// IsClosed reports whether the status freezes the period against posting.
func (s PeriodStatus) IsClosed() bool {
	return s == PeriodStatusClosed || s == PeriodStatusLocked
}

// AdjustmentPeriodNumber is the period number reserved for year-end adjustments.
const AdjustmentPeriodNumber = 13

// FiscalYear is a one-year accounting cycle owned by an entity.
type FiscalYear struct {
	ID        uuid.UUID
	Entity    string
	Year      string
	StartDate time.Time
	EndDate   time.Time
	IsClosed  bool
	ClosedAt  *time.Time
	ClosedBy  *int64
	CreatedAt time.Time
	CreatedBy int64
	Version   int64
}

// Period is a sub-interval of a fiscal year in which transactions are posted.
type Period struct {
	ID           uuid.UUID
	FiscalYearID uuid.UUID
	Number       int
	Name         string
	StartDate    time.Time
	EndDate      time.Time
	Status       PeriodStatus
	IsAdjustment bool
	ClosedAt     *time.Time
	ClosedBy     *int64
	CreatedAt    time.Time
	Version      int64
}

// Contains reports whether the date falls inside the period window.
func (p Period) Contains(date time.Time) bool {
	d := truncateDay(date)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// AccountBalance is the recomputed position of one account for a period.
// Amounts are minor currency units.
type AccountBalance struct {
	AccountID string
	Code      string
	Name      string
	Auxiliary bool
	Opening   int64
	Debit     int64
	Credit    int64
}

// Closing computes the closing balance for the account.
func (b AccountBalance) Closing() int64 {
	return b.Opening + b.Debit - b.Credit
}

// JournalTotal is the rollup of one journal for a period.
type JournalTotal struct {
	JournalCode string
	Entries     int
	Debit       int64
	Credit      int64
}

// TrialBalanceTotals aggregates debit and credit balances across accounts.
type TrialBalanceTotals struct {
	Debit  int64
	Credit int64
}

// Difference returns debit minus credit.
func (t TrialBalanceTotals) Difference() int64 {
	return t.Debit - t.Credit
}

// Balanced reports whether debits equal credits exactly.
func (t TrialBalanceTotals) Balanced() bool {
	return t.Debit == t.Credit
}

// AdjustmentEntry is an amortization or provision entry re-generated for a period.
type AdjustmentEntry struct {
	Kind        string
	AccountCode string
	Label       string
	Amount      int64
}

// GenerateInput captures parameters for fiscal year creation.
type GenerateInput struct {
	Entity                 string
	Year                   string
	StartMonth             time.Month
	CopyFromPrevious       bool
	IncludeOpeningBalances bool
	ActorID                int64
}

// GenerateResult bundles the registered fiscal year and its periods.
type GenerateResult struct {
	FiscalYear      FiscalYear
	Periods         []Period
	OpeningBalances []AccountBalance
	Warnings        []Message
}

// ClosingChecks holds the five named pre-closing flags.
type ClosingChecks struct {
	EntriesPosted          bool `json:"entries_posted"`
	BankReconciled         bool `json:"bank_reconciliations_complete"`
	DepreciationCalculated bool `json:"depreciation_calculated"`
	AccrualsRecorded       bool `json:"accruals_recorded"`
	NoOpenJournals         bool `json:"no_open_journals"`
}

// PeriodClosingCheck is the derived result of the verification protocol.
type PeriodClosingCheck struct {
	PeriodID  uuid.UUID
	Checks    ClosingChecks
	Errors    []Message
	Warnings  []Message
	CanClose  bool
	CheckedAt time.Time
}

// FiscalYearClosingCheck reports year-end eligibility.
type FiscalYearClosingCheck struct {
	FiscalYearID uuid.UUID
	CanClose     bool
	Reasons      []Message
	OpenPeriods  int
	TrialBalance TrialBalanceTotals
}

// IntegrityReport is the outcome of a period data integrity check.
type IntegrityReport struct {
	PeriodID        uuid.UUID
	IsValid         bool
	Issues          []Message
	Recommendations []Message
}

// IntegrityStats are the raw anomaly counts reported by the ledger.
type IntegrityStats struct {
	UnbalancedEntries   int
	EntriesOutsideRange int
	UnknownAccountLines int
}

// RegenerationOptions configures a balance regeneration pass.
type RegenerationOptions struct {
	RecalculateBalances bool `json:"recalculate_balances"`
	RegenerateJournals  bool `json:"regenerate_journals"`
	UpdateReports       bool `json:"update_reports"`
	ForceRecalculation  bool `json:"force_recalculation"`
	IncludeAuxiliary    bool `json:"include_auxiliary"`
}

// RegenerationDetails counts the records touched by a regeneration.
type RegenerationDetails struct {
	Accounts int `json:"accounts"`
	Journals int `json:"journals"`
	Entries  int `json:"entries"`
	Balances int `json:"balances"`
}

// RegenerationResult is the structured outcome of a regeneration pass.
type RegenerationResult struct {
	PeriodID  uuid.UUID
	Success   bool
	Processed int
	Errors    []Message
	Warnings  []Message
	Duration  time.Duration
	Details   RegenerationDetails
}

// AdjustmentResult summarises regenerated adjustment entries.
type AdjustmentResult struct {
	PeriodID         uuid.UUID
	GeneratedEntries int
	UpdatedAccounts  int
	TotalAmount      int64
	Details          []AdjustmentEntry
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
