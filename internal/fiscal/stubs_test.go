package fiscal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/roro-pixel/bokati-sub001/internal/shared"
)

var testNow = time.Date(2024, 12, 31, 17, 30, 0, 0, time.UTC)

type stubLedger struct {
	mu          sync.Mutex
	drafts      int
	openJournal int
	stats       IntegrityStats
	statsCalls  int
	statsDelay  time.Duration
	activity    []AccountBalance
	journals    []JournalTotal
	trial       TrialBalanceTotals
	closing     []AccountBalance
	closingErr  error
	err         error
}

func (s *stubLedger) DraftEntryCount(context.Context, Scope) (int, error) {
	return s.drafts, s.err
}

func (s *stubLedger) OpenJournalCount(context.Context, Scope) (int, error) {
	return s.openJournal, s.err
}

func (s *stubLedger) IntegrityStats(ctx context.Context, _ Scope) (IntegrityStats, error) {
	s.mu.Lock()
	s.statsCalls++
	s.mu.Unlock()
	if s.statsDelay > 0 {
		select {
		case <-time.After(s.statsDelay):
		case <-ctx.Done():
			return IntegrityStats{}, ctx.Err()
		}
	}
	return s.stats, s.err
}

func (s *stubLedger) AccountActivity(_ context.Context, _ Scope, includeAux bool) ([]AccountBalance, error) {
	out := make([]AccountBalance, 0, len(s.activity))
	for _, b := range s.activity {
		if b.Auxiliary && !includeAux {
			continue
		}
		out = append(out, b)
	}
	return out, s.err
}

func (s *stubLedger) JournalTotals(context.Context, Scope) ([]JournalTotal, error) {
	return s.journals, s.err
}

func (s *stubLedger) TrialBalance(context.Context, string, time.Time, time.Time) (TrialBalanceTotals, error) {
	return s.trial, s.err
}

func (s *stubLedger) ClosingBalances(context.Context, string, time.Time, time.Time) ([]AccountBalance, error) {
	return s.closing, s.closingErr
}

func (s *stubLedger) integrityCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsCalls
}

type stubReconciliation struct {
	pending int
	err     error
}

func (s *stubReconciliation) PendingReconciliations(context.Context, Scope) (int, error) {
	return s.pending, s.err
}

type stubDepreciation struct {
	depreciationMissing bool
	accrualsMissing     bool
	entries             []AdjustmentEntry
	err                 error
}

func (s *stubDepreciation) DepreciationCalculated(context.Context, Scope) (bool, error) {
	return !s.depreciationMissing, s.err
}

func (s *stubDepreciation) AccrualsRecorded(context.Context, Scope) (bool, error) {
	return !s.accrualsMissing, s.err
}

func (s *stubDepreciation) AdjustmentEntries(context.Context, Scope) ([]AdjustmentEntry, error) {
	return s.entries, s.err
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.Action)
	}
	return out
}

type stubReports struct {
	entities []string
	err      error
}

func (s *stubReports) Invalidate(_ context.Context, entity string) error {
	s.entities = append(s.entities, entity)
	return s.err
}

type fixture struct {
	svc    *Service
	repo   *MemoryRepository
	ledger *stubLedger
	recon  *stubReconciliation
	assets *stubDepreciation
	audit  *recordingAudit
	report *stubReports
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   NewMemoryRepository(),
		ledger: &stubLedger{},
		recon:  &stubReconciliation{},
		assets: &stubDepreciation{},
		audit:  &recordingAudit{},
		report: &stubReports{},
	}
	f.svc = NewService(f.repo, Dependencies{
		Ledger:         f.ledger,
		Reconciliation: f.recon,
		Depreciation:   f.assets,
		Audit:          f.audit,
		Reports:        f.report,
	})
	f.svc.WithNow(func() time.Time { return testNow })
	return f
}

func (f *fixture) generate(t *testing.T, entity, year string) GenerateResult {
	t.Helper()
	res, err := f.svc.GenerateFiscalYear(context.Background(), GenerateInput{Entity: entity, Year: year, ActorID: 1})
	require.NoError(t, err)
	return res
}

func (f *fixture) period(t *testing.T, id uuid.UUID) Period {
	t.Helper()
	p, err := f.repo.GetPeriod(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) setStatus(t *testing.T, id uuid.UUID, status PeriodStatus) {
	t.Helper()
	err := f.repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriod(ctx, id)
		if err != nil {
			return err
		}
		if status == PeriodStatusOpen {
			p = markOpen(p)
		} else {
			p = markClosed(p, testNow, 1)
			p.Status = status
		}
		_, err = tx.UpdatePeriod(ctx, p)
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) closeAllMonthly(t *testing.T, periods []Period) {
	t.Helper()
	for _, p := range periods {
		if !p.IsAdjustment {
			f.setStatus(t, p.ID, PeriodStatusClosed)
		}
	}
}
