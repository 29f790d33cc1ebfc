package fiscal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roro-pixel/bokati-sub001/internal/platform/db"
)

const uniqueViolation = "23505"

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgRepository persists fiscal years and periods in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs a repository on the given pool.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("fiscal: repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
	if errors.Is(err, db.ErrSerialization) && !errors.Is(err, ErrStaleVersion) {
		return fmt.Errorf("%w: %w", ErrStaleVersion, err)
	}
	return err
}

const fiscalYearColumns = `id, entity, year, start_date, end_date, is_closed, closed_at, closed_by, created_at, created_by, version`

const periodColumns = `id, fiscal_year_id, number, name, start_date, end_date, status, is_adjustment, closed_at, closed_by, created_at, version`

// GetFiscalYear returns a fiscal year by identifier.
func (r *PgRepository) GetFiscalYear(ctx context.Context, id uuid.UUID) (FiscalYear, error) {
	fy, err := scanFiscalYear(r.pool.QueryRow(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return FiscalYear{}, fmt.Errorf("%w: fiscal year %s", ErrNotFound, id)
	}
	return fy, err
}

// FindFiscalYear looks up the fiscal year of an entity by its label.
func (r *PgRepository) FindFiscalYear(ctx context.Context, entity, year string) (FiscalYear, error) {
	fy, err := scanFiscalYear(r.pool.QueryRow(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE entity=$1 AND year=$2`, entity, year))
	if errors.Is(err, pgx.ErrNoRows) {
		return FiscalYear{}, fmt.Errorf("%w: fiscal year %s/%s", ErrNotFound, entity, year)
	}
	return fy, err
}

// ListOpenFiscalYears returns fiscal years not yet closed.
func (r *PgRepository) ListOpenFiscalYears(ctx context.Context) ([]FiscalYear, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE NOT is_closed ORDER BY entity, year`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FiscalYear
	for rows.Next() {
		fy, err := scanFiscalYear(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fy)
	}
	return out, rows.Err()
}

// GetPeriod returns a period by identifier.
func (r *PgRepository) GetPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	return getPeriod(ctx, r.pool, id, false)
}

// ListPeriods returns the periods of a fiscal year ordered by number.
func (r *PgRepository) ListPeriods(ctx context.Context, fiscalYearID uuid.UUID) ([]Period, error) {
	return listPeriods(ctx, r.pool, fiscalYearID)
}

// ListAccountBalances returns the stored balances of a period ordered by code.
func (r *PgRepository) ListAccountBalances(ctx context.Context, periodID uuid.UUID) ([]AccountBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT account_id, account_code, account_name, auxiliary, opening, debit, credit
FROM period_account_balances WHERE period_id=$1 ORDER BY account_code`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.AccountID, &b.Code, &b.Name, &b.Auxiliary, &b.Opening, &b.Debit, &b.Credit); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	return getPeriod(ctx, t.tx, id, true)
}

func (t *pgTx) ListPeriods(ctx context.Context, fiscalYearID uuid.UUID) ([]Period, error) {
	return listPeriods(ctx, t.tx, fiscalYearID)
}

func (t *pgTx) InsertFiscalYear(ctx context.Context, fy FiscalYear) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO fiscal_years (`+fiscalYearColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		fy.ID, fy.Entity, fy.Year, fy.StartDate, fy.EndDate, fy.IsClosed, fy.ClosedAt, fy.ClosedBy, fy.CreatedAt, fy.CreatedBy, max(fy.Version, 1))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s/%s", ErrConflict, fy.Entity, fy.Year)
	}
	return err
}

func (t *pgTx) InsertPeriods(ctx context.Context, periods []Period) error {
	batch := &pgx.Batch{}
	for _, p := range periods {
		batch.Queue(`INSERT INTO fiscal_periods (`+periodColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			p.ID, p.FiscalYearID, p.Number, p.Name, p.StartDate, p.EndDate, string(p.Status), p.IsAdjustment, p.ClosedAt, p.ClosedBy, p.CreatedAt, max(p.Version, 1))
	}
	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()
	for range periods {
		if _, err := br.Exec(); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: duplicate period", ErrConflict)
			}
			return err
		}
	}
	return nil
}

func (t *pgTx) UpdatePeriod(ctx context.Context, p Period) (Period, error) {
	var version int64
	err := t.tx.QueryRow(ctx, `UPDATE fiscal_periods
SET status=$2, closed_at=$3, closed_by=$4, version=version+1
WHERE id=$1 AND version=$5
RETURNING version`, p.ID, string(p.Status), p.ClosedAt, p.ClosedBy, p.Version).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, t.missOrStale(ctx, "fiscal_periods", p.ID)
	}
	if err != nil {
		return Period{}, err
	}
	p.Version = version
	return p, nil
}

func (t *pgTx) UpdateFiscalYear(ctx context.Context, fy FiscalYear) (FiscalYear, error) {
	var version int64
	err := t.tx.QueryRow(ctx, `UPDATE fiscal_years
SET is_closed=$2, closed_at=$3, closed_by=$4, version=version+1
WHERE id=$1 AND version=$5
RETURNING version`, fy.ID, fy.IsClosed, fy.ClosedAt, fy.ClosedBy, fy.Version).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return FiscalYear{}, t.missOrStale(ctx, "fiscal_years", fy.ID)
	}
	if err != nil {
		return FiscalYear{}, err
	}
	fy.Version = version
	return fy, nil
}

func (t *pgTx) UpsertAccountBalances(ctx context.Context, periodID uuid.UUID, balances []AccountBalance) (int, error) {
	batch := &pgx.Batch{}
	for _, b := range balances {
		batch.Queue(`INSERT INTO period_account_balances
(period_id, account_code, account_id, account_name, auxiliary, opening, debit, credit, closing, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (period_id, account_code) DO UPDATE SET
account_id=EXCLUDED.account_id, account_name=EXCLUDED.account_name, auxiliary=EXCLUDED.auxiliary,
opening=EXCLUDED.opening, debit=EXCLUDED.debit, credit=EXCLUDED.credit, closing=EXCLUDED.closing, updated_at=NOW()`,
			periodID, b.Code, b.AccountID, b.Name, b.Auxiliary, b.Opening, b.Debit, b.Credit, b.Closing())
	}
	return execBatch(ctx, t.tx, batch)
}

func (t *pgTx) UpsertJournalTotals(ctx context.Context, periodID uuid.UUID, totals []JournalTotal) (int, error) {
	batch := &pgx.Batch{}
	for _, jt := range totals {
		batch.Queue(`INSERT INTO period_journal_totals (period_id, journal_code, entries, debit, credit, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (period_id, journal_code) DO UPDATE SET
entries=EXCLUDED.entries, debit=EXCLUDED.debit, credit=EXCLUDED.credit, updated_at=NOW()`,
			periodID, jt.JournalCode, jt.Entries, jt.Debit, jt.Credit)
	}
	return execBatch(ctx, t.tx, batch)
}

func (t *pgTx) missOrStale(ctx context.Context, table string, id uuid.UUID) error {
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s %s", ErrNotFound, table, id)
	}
	return fmt.Errorf("%w: %s %s", ErrStaleVersion, table, id)
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) (int, error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	written := 0
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			return written, err
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

func getPeriod(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (Period, error) {
	sql := `SELECT ` + periodColumns + ` FROM fiscal_periods WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	p, err := scanPeriod(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, fmt.Errorf("%w: period %s", ErrNotFound, id)
	}
	return p, err
}

func listPeriods(ctx context.Context, q querier, fiscalYearID uuid.UUID) ([]Period, error) {
	rows, err := q.Query(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE fiscal_year_id=$1 ORDER BY number`, fiscalYearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Period, 0, 13)
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanFiscalYear(row pgx.Row) (FiscalYear, error) {
	var fy FiscalYear
	err := row.Scan(&fy.ID, &fy.Entity, &fy.Year, &fy.StartDate, &fy.EndDate, &fy.IsClosed, &fy.ClosedAt, &fy.ClosedBy, &fy.CreatedAt, &fy.CreatedBy, &fy.Version)
	return fy, err
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var status string
	err := row.Scan(&p.ID, &p.FiscalYearID, &p.Number, &p.Name, &p.StartDate, &p.EndDate, &status, &p.IsAdjustment, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.Version)
	p.Status = PeriodStatus(status)
	return p, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
