// Package assets answers depreciation and accrual questions from the fixed
// asset register and the provision schedules.
package assets

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
	"github.com/roro-pixel/bokati-sub001/internal/platform/money"
)

// Run kinds recorded in depreciation_runs.
const (
	KindDepreciation = "DEPRECIATION"
	KindAccrual      = "ACCRUAL"
)

// Adjustment entry kinds.
const (
	EntryDepreciation = "DEPRECIATION"
	EntryProvision    = "PROVISION"
)

// Postgres implements fiscal.Depreciation on PostgreSQL.
type Postgres struct {
	pool  *pgxpool.Pool
	scale money.Scale
}

// NewPostgres constructs the adapter.
func NewPostgres(pool *pgxpool.Pool, scale money.Scale) *Postgres {
	return &Postgres{pool: pool, scale: scale}
}

var _ fiscal.Depreciation = (*Postgres)(nil)

// DepreciationCalculated is true when the period has a posted depreciation
// run or the entity holds no depreciable asset in service.
func (p *Postgres) DepreciationCalculated(ctx context.Context, scope fiscal.Scope) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, `SELECT
  EXISTS (SELECT 1 FROM depreciation_runs
          WHERE period_id = $1 AND kind = $4 AND status = 'POSTED')
  OR NOT EXISTS (SELECT 1 FROM fixed_assets
          WHERE entity = $2 AND in_service_on <= $3 AND disposed_on IS NULL)`,
		scope.PeriodID, scope.Entity, scope.End, KindDepreciation).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("assets: depreciation status: %w", err)
	}
	return ok, nil
}

// AccrualsRecorded is true when the period has a posted accrual run or no
// provision schedule falls due in it.
func (p *Postgres) AccrualsRecorded(ctx context.Context, scope fiscal.Scope) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, `SELECT
  EXISTS (SELECT 1 FROM depreciation_runs
          WHERE period_id = $1 AND kind = $5 AND status = 'POSTED')
  OR NOT EXISTS (SELECT 1 FROM accrual_schedules
          WHERE entity = $2 AND active AND due_on BETWEEN $3 AND $4)`,
		scope.PeriodID, scope.Entity, scope.Start, scope.End, KindAccrual).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("assets: accrual status: %w", err)
	}
	return ok, nil
}

// AdjustmentEntries computes the period's depreciation allowances and
// provisions. Nothing is written.
func (p *Postgres) AdjustmentEntries(ctx context.Context, scope fiscal.Scope) ([]fiscal.AdjustmentEntry, error) {
	rows, err := p.pool.Query(ctx, `SELECT $4::text, fa.expense_account_code, 'Dotation aux amortissements ' || fa.name, fa.monthly_depreciation
FROM fixed_assets fa
WHERE fa.entity = $1 AND fa.in_service_on <= $3 AND fa.disposed_on IS NULL AND fa.monthly_depreciation > 0
UNION ALL
SELECT $5::text, s.account_code, s.label, s.amount
FROM accrual_schedules s
WHERE s.entity = $1 AND s.active AND s.due_on BETWEEN $2 AND $3
ORDER BY 1, 2`, scope.Entity, scope.Start, scope.End, EntryDepreciation, EntryProvision)
	if err != nil {
		return nil, fmt.Errorf("assets: adjustment entries: %w", err)
	}
	defer rows.Close()
	var out []fiscal.AdjustmentEntry
	for rows.Next() {
		var e fiscal.AdjustmentEntry
		var amount decimal.Decimal
		if err := rows.Scan(&e.Kind, &e.AccountCode, &e.Label, &amount); err != nil {
			return nil, err
		}
		minor, err := p.scale.ToMinor(amount)
		if err != nil {
			return nil, fmt.Errorf("assets: %s: %w", e.AccountCode, err)
		}
		e.Amount = minor
		out = append(out, e)
	}
	return out, rows.Err()
}
