// Package ledger reads posting and balance figures from the general ledger
// tables on behalf of the fiscal lifecycle service.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
	"github.com/roro-pixel/bokati-sub001/internal/platform/money"
)

// Postgres implements fiscal.Ledger on PostgreSQL.
type Postgres struct {
	pool  *pgxpool.Pool
	scale money.Scale
}

// NewPostgres constructs the adapter. Amounts are converted with scale.
func NewPostgres(pool *pgxpool.Pool, scale money.Scale) *Postgres {
	return &Postgres{pool: pool, scale: scale}
}

var _ fiscal.Ledger = (*Postgres)(nil)

// DraftEntryCount counts entries of the period still awaiting validation.
func (p *Postgres) DraftEntryCount(ctx context.Context, scope fiscal.Scope) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries
WHERE period_id=$1 AND status='DRAFT'`, scope.PeriodID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger: draft entries: %w", err)
	}
	return n, nil
}

// OpenJournalCount counts journals not yet closed for the period.
func (p *Postgres) OpenJournalCount(ctx context.Context, scope fiscal.Scope) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM journal_periods
WHERE period_id=$1 AND status='OPEN'`, scope.PeriodID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger: open journals: %w", err)
	}
	return n, nil
}

// IntegrityStats counts unbalanced entries, entries dated outside the
// period window and lines booked on unknown or inactive accounts.
func (p *Postgres) IntegrityStats(ctx context.Context, scope fiscal.Scope) (fiscal.IntegrityStats, error) {
	var stats fiscal.IntegrityStats
	err := p.pool.QueryRow(ctx, `SELECT
  (SELECT COUNT(*) FROM (
     SELECT je.id FROM journal_entries je
     JOIN journal_lines jl ON jl.je_id = je.id
     WHERE je.period_id = $1
     GROUP BY je.id
     HAVING SUM(jl.debit) <> SUM(jl.credit)) u),
  (SELECT COUNT(*) FROM journal_entries
     WHERE period_id = $1 AND (date < $2 OR date > $3)),
  (SELECT COUNT(*) FROM journal_lines jl
     JOIN journal_entries je ON je.id = jl.je_id
     LEFT JOIN accounts a ON a.id = jl.account_id
     WHERE je.period_id = $1 AND (a.id IS NULL OR NOT a.is_active))`,
		scope.PeriodID, scope.Start, scope.End).
		Scan(&stats.UnbalancedEntries, &stats.EntriesOutsideRange, &stats.UnknownAccountLines)
	if err != nil {
		return fiscal.IntegrityStats{}, fmt.Errorf("ledger: integrity stats: %w", err)
	}
	return stats, nil
}

// AccountActivity returns, per account, the balance carried from earlier
// periods of the same fiscal year and the period's posted movements.
func (p *Postgres) AccountActivity(ctx context.Context, scope fiscal.Scope, includeAuxiliary bool) ([]fiscal.AccountBalance, error) {
	rows, err := p.pool.Query(ctx, `SELECT a.id::text, a.code, a.name, a.is_auxiliary,
  COALESCE(SUM(CASE WHEN fp.number < cur.number THEN jl.debit - jl.credit END), 0),
  COALESCE(SUM(CASE WHEN fp.id = cur.id THEN jl.debit END), 0),
  COALESCE(SUM(CASE WHEN fp.id = cur.id THEN jl.credit END), 0)
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.je_id AND je.status = 'POSTED'
JOIN fiscal_periods fp ON fp.id = je.period_id
JOIN fiscal_periods cur ON cur.id = $1 AND cur.fiscal_year_id = fp.fiscal_year_id AND fp.number <= cur.number
JOIN accounts a ON a.id = jl.account_id
WHERE $2 OR NOT a.is_auxiliary
GROUP BY a.id, a.code, a.name, a.is_auxiliary
ORDER BY a.code`, scope.PeriodID, includeAuxiliary)
	if err != nil {
		return nil, fmt.Errorf("ledger: account activity: %w", err)
	}
	return p.collectBalances(rows, true)
}

// JournalTotals aggregates posted movements per journal for the period.
func (p *Postgres) JournalTotals(ctx context.Context, scope fiscal.Scope) ([]fiscal.JournalTotal, error) {
	rows, err := p.pool.Query(ctx, `SELECT je.journal_code, COUNT(DISTINCT je.id),
  COALESCE(SUM(jl.debit), 0), COALESCE(SUM(jl.credit), 0)
FROM journal_entries je
JOIN journal_lines jl ON jl.je_id = je.id
WHERE je.period_id = $1 AND je.status = 'POSTED'
GROUP BY je.journal_code
ORDER BY je.journal_code`, scope.PeriodID)
	if err != nil {
		return nil, fmt.Errorf("ledger: journal totals: %w", err)
	}
	defer rows.Close()
	var out []fiscal.JournalTotal
	for rows.Next() {
		var jt fiscal.JournalTotal
		var debit, credit decimal.Decimal
		if err := rows.Scan(&jt.JournalCode, &jt.Entries, &debit, &credit); err != nil {
			return nil, err
		}
		if jt.Debit, err = p.scale.ToMinor(debit); err != nil {
			return nil, err
		}
		if jt.Credit, err = p.scale.ToMinor(credit); err != nil {
			return nil, err
		}
		out = append(out, jt)
	}
	return out, rows.Err()
}

// TrialBalance sums posted debits and credits of the entity over the range.
func (p *Postgres) TrialBalance(ctx context.Context, entity string, start, end time.Time) (fiscal.TrialBalanceTotals, error) {
	var debit, credit decimal.Decimal
	err := p.pool.QueryRow(ctx, `SELECT COALESCE(SUM(jl.debit), 0), COALESCE(SUM(jl.credit), 0)
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.je_id
WHERE je.entity = $1 AND je.status = 'POSTED' AND je.date BETWEEN $2 AND $3`, entity, start, end).Scan(&debit, &credit)
	if err != nil {
		return fiscal.TrialBalanceTotals{}, fmt.Errorf("ledger: trial balance: %w", err)
	}
	return p.trialTotals(debit, credit)
}

// trialTotals converts summed debits and credits. Sub-unit digits are an
// error rather than a rounding so that a residual difference cannot vanish.
func (p *Postgres) trialTotals(debit, credit decimal.Decimal) (fiscal.TrialBalanceTotals, error) {
	amounts, err := p.minorAll(debit, credit)
	if err != nil {
		return fiscal.TrialBalanceTotals{}, fmt.Errorf("ledger: trial balance: %w", err)
	}
	return fiscal.TrialBalanceTotals{Debit: amounts[0], Credit: amounts[1]}, nil
}

// ClosingBalances returns the range's balance sheet movements per account.
// Only classes 1 to 5 carry forward; income and expense accounts are
// settled into the result.
func (p *Postgres) ClosingBalances(ctx context.Context, entity string, start, end time.Time) ([]fiscal.AccountBalance, error) {
	rows, err := p.pool.Query(ctx, `SELECT a.id::text, a.code, a.name, a.is_auxiliary,
  COALESCE(SUM(jl.debit), 0), COALESCE(SUM(jl.credit), 0)
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.je_id
JOIN accounts a ON a.id = jl.account_id
WHERE je.entity = $1 AND je.status = 'POSTED' AND je.date BETWEEN $2 AND $3
  AND LEFT(a.code, 1) BETWEEN '1' AND '5'
GROUP BY a.id, a.code, a.name, a.is_auxiliary
ORDER BY a.code`, entity, start, end)
	if err != nil {
		return nil, fmt.Errorf("ledger: closing balances: %w", err)
	}
	return p.collectBalances(rows, false)
}

func (p *Postgres) collectBalances(rows pgx.Rows, withOpening bool) ([]fiscal.AccountBalance, error) {
	defer rows.Close()
	var out []fiscal.AccountBalance
	for rows.Next() {
		var b fiscal.AccountBalance
		var opening, debit, credit decimal.Decimal
		dest := []any{&b.AccountID, &b.Code, &b.Name, &b.Auxiliary}
		if withOpening {
			dest = append(dest, &opening)
		}
		dest = append(dest, &debit, &credit)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		amounts, err := p.minorAll(opening, debit, credit)
		if err != nil {
			return nil, fmt.Errorf("ledger: account %s: %w", b.Code, err)
		}
		b.Opening, b.Debit, b.Credit = amounts[0], amounts[1], amounts[2]
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) minorAll(values ...decimal.Decimal) ([]int64, error) {
	out := make([]int64, len(values))
	for i, v := range values {
		m, err := p.scale.ToMinor(v)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}
