// Package banking reports bank reconciliation progress.
package banking

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
)

// Postgres implements fiscal.Reconciliation on PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs the adapter.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ fiscal.Reconciliation = (*Postgres)(nil)

// Bank accounts whose ledger account carries lines in the period and that
// have no completed reconciliation reaching the period end.
const pendingReconciliationsSQL = `SELECT COUNT(*) FROM bank_accounts ba
WHERE ba.entity = $1 AND ba.is_active
  AND EXISTS (
    SELECT 1 FROM journal_lines jl
    JOIN journal_entries je ON je.id = jl.je_id
    WHERE jl.account_id = ba.account_id AND je.period_id = $2)
  AND NOT EXISTS (
    SELECT 1 FROM bank_reconciliations br
    WHERE br.bank_account_id = ba.id
      AND br.status = 'COMPLETED'
      AND br.statement_date >= $3)`

func pendingReconciliationsArgs(scope fiscal.Scope) []any {
	return []any{scope.Entity, scope.PeriodID, scope.End}
}

// PendingReconciliations counts bank accounts touched in the period that are
// not reconciled up to its end.
func (p *Postgres) PendingReconciliations(ctx context.Context, scope fiscal.Scope) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, pendingReconciliationsSQL, pendingReconciliationsArgs(scope)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("banking: pending reconciliations: %w", err)
	}
	return n, nil
}
