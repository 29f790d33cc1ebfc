package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
	"github.com/roro-pixel/bokati-sub001/jobs"
)

type cliLedger struct {
	drafts int
	stats  fiscal.IntegrityStats
}

func (l *cliLedger) DraftEntryCount(context.Context, fiscal.Scope) (int, error) {
	return l.drafts, nil
}

func (l *cliLedger) OpenJournalCount(context.Context, fiscal.Scope) (int, error) { return 0, nil }

func (l *cliLedger) IntegrityStats(context.Context, fiscal.Scope) (fiscal.IntegrityStats, error) {
	return l.stats, nil
}

func (l *cliLedger) AccountActivity(context.Context, fiscal.Scope, bool) ([]fiscal.AccountBalance, error) {
	return []fiscal.AccountBalance{{AccountID: "1", Code: "521000", Name: "Banque", Debit: 500, Credit: 200}}, nil
}

func (l *cliLedger) JournalTotals(context.Context, fiscal.Scope) ([]fiscal.JournalTotal, error) {
	return nil, nil
}

func (l *cliLedger) TrialBalance(context.Context, string, time.Time, time.Time) (fiscal.TrialBalanceTotals, error) {
	return fiscal.TrialBalanceTotals{Debit: 100, Credit: 100}, nil
}

func (l *cliLedger) ClosingBalances(context.Context, string, time.Time, time.Time) ([]fiscal.AccountBalance, error) {
	return nil, nil
}

type cliBank struct{}

func (cliBank) PendingReconciliations(context.Context, fiscal.Scope) (int, error) { return 0, nil }

type cliAssets struct{}

func (cliAssets) DepreciationCalculated(context.Context, fiscal.Scope) (bool, error) {
	return true, nil
}

func (cliAssets) AccrualsRecorded(context.Context, fiscal.Scope) (bool, error) { return true, nil }

func (cliAssets) AdjustmentEntries(context.Context, fiscal.Scope) ([]fiscal.AdjustmentEntry, error) {
	return []fiscal.AdjustmentEntry{{Kind: "AMORTIZATION", AccountCode: "681100", Label: "Dotation", Amount: 1200}}, nil
}

type fakeJobs struct {
	triggered []string
	opts      TriggerOptions
}

func (f *fakeJobs) Trigger(_ context.Context, name string, opts TriggerOptions) (*asynq.TaskInfo, error) {
	f.triggered = append(f.triggered, name)
	f.opts = opts
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault, Type: name}, nil
}

func (f *fakeJobs) InspectQueue(_ context.Context, queue string) (QueueStats, error) {
	return QueueStats{Queue: queue, Pending: 2}, nil
}

type testEnv struct {
	svc    *fiscal.Service
	ledger *cliLedger
	jobs   *fakeJobs
}

func (e *testEnv) Fiscal(context.Context) (FiscalService, error) { return e.svc, nil }

func (e *testEnv) Jobs(context.Context) (JobsController, error) { return e.jobs, nil }

func newTestEnv() *testEnv {
	ledger := &cliLedger{}
	svc := fiscal.NewService(fiscal.NewMemoryRepository(), fiscal.Dependencies{
		Ledger:         ledger,
		Reconciliation: cliBank{},
		Depreciation:   cliAssets{},
	})
	return &testEnv{svc: svc, ledger: ledger, jobs: &fakeJobs{}}
}

func run(env Env, args ...string) (string, string, error) {
	cmd := NewRootCommand(env, "en")
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func generate(t *testing.T, env *testEnv) fiscal.GenerateResult {
	t.Helper()
	out, _, err := run(env, "generate", "--actor", "1", "--entity", "ACME", "--year", "2024", "--json")
	require.NoError(t, err)
	var res fiscal.GenerateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	return res
}

func TestGenerateRequiresActor(t *testing.T) {
	_, _, err := run(newTestEnv(), "generate", "--entity", "ACME", "--year", "2024")
	assert.ErrorIs(t, err, ErrActorRequired)
}

func TestGenerateListsPeriods(t *testing.T) {
	env := newTestEnv()
	out, _, err := run(env, "generate", "--actor", "1", "--entity", "ACME", "--year", "2024")
	require.NoError(t, err)
	assert.Contains(t, out, "ACME 2024 (2024-01-01 to 2024-12-31)")
	assert.Contains(t, out, "Janvier 2024")
	assert.Contains(t, out, "Ajustements 2024")

	_, stderr, err := run(env, "generate", "--actor", "1", "--entity", "ACME", "--year", "2024")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fiscal.ErrConflict))
	assert.Empty(t, stderr)
}

func TestGenerateJSON(t *testing.T) {
	res := generate(t, newTestEnv())
	assert.Len(t, res.Periods, 13)
	assert.True(t, res.Periods[12].IsAdjustment)
}

func TestPeriodsCommand(t *testing.T) {
	env := newTestEnv()
	res := generate(t, env)

	out, _, err := run(env, "periods", res.FiscalYear.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Décembre 2024")

	_, _, err = run(env, "periods", "not-a-uuid")
	assert.EqualError(t, err, `fiscalctl: invalid fiscal year id "not-a-uuid"`)
}

func TestStatusRendersLocalizedErrors(t *testing.T) {
	env := newTestEnv()
	res := generate(t, env)
	env.ledger.drafts = 3

	out, _, err := run(env, "status", res.Periods[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "can close: false")
	assert.Contains(t, out, "[ENTRIES_NOT_POSTED] Journal entries not posted (3 drafts)")
}

func TestCloseRefusedPrintsReasons(t *testing.T) {
	env := newTestEnv()
	res := generate(t, env)
	env.ledger.drafts = 2

	_, stderr, err := run(env, "close", "--actor", "7", res.Periods[0].ID.String())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fiscal.ErrCannotClose))
	assert.Contains(t, stderr, "[ENTRIES_NOT_POSTED] Journal entries not posted (2 drafts)")
}

func TestCloseAndReopen(t *testing.T) {
	env := newTestEnv()
	res := generate(t, env)
	id := res.Periods[0].ID.String()

	out, _, err := run(env, "close", "--actor", "7", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Janvier 2024 is CLOSED")

	_, _, err = run(env, "reopen", "--actor", "7", id)
	require.Error(t, err)

	out, _, err = run(env, "reopen", "--actor", "7", "--reason", "late invoice", id)
	require.NoError(t, err)
	assert.Contains(t, out, "is OPEN")
}

func TestForceCloseSkipsChecks(t *testing.T) {
	env := newTestEnv()
	res := generate(t, env)
	env.ledger.drafts = 9

	out, _, err := run(env, "force-close", "--actor", "2", "--reason", "audit", "--json", res.Periods[1].ID.String())
	require.NoError(t, err)
	var p fiscal.Period
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, fiscal.PeriodStatusClosed, p.Status)
}

func TestCloseYearCheckOnly(t *testing.T) {
	env := newTestEnv()
	res := generate(t, env)

	out, _, err := run(env, "close-year", "--check", res.FiscalYear.ID.String())
	assert.ErrorIs(t, err, ErrRefused)
	assert.Contains(t, out, "can close: false")
	assert.Contains(t, out, "[MONTHLY_PERIODS_OPEN] 12 monthly period(s) not closed")
	assert.Contains(t, out, "[ADJUSTMENT_PERIOD_OPEN] Adjustment period not closed")

	_, _, err = run(env, "close-year", res.FiscalYear.ID.String())
	assert.ErrorIs(t, err, ErrActorRequired)
}

func TestCloseYearAfterAllPeriodsClosed(t *testing.T) {
	env := newTestEnv()
	res := generate(t, env)
	for _, p := range res.Periods {
		_, _, err := run(env, "close", "--actor", "1", p.ID.String())
		require.NoError(t, err)
	}

	out, _, err := run(env, "close-year", "--actor", "1", res.FiscalYear.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "ACME 2024 closed")
}

func TestIntegrityReportsIssues(t *testing.T) {
	env := newTestEnv()
	res := generate(t, env)
	id := res.Periods[0].ID.String()

	out, _, err := run(env, "integrity", id)
	require.NoError(t, err)
	assert.Contains(t, out, "valid: true")

	env.ledger.stats = fiscal.IntegrityStats{UnbalancedEntries: 2}
	out, _, err = run(env, "integrity", id)
	assert.ErrorIs(t, err, ErrIntegrityIssues)
	assert.Contains(t, out, "[UNBALANCED_ENTRIES] 2 unbalanced entry(ies)")
}

func TestRegenerateReportsProgress(t *testing.T) {
	env := newTestEnv()
	res := generate(t, env)

	out, stderr, err := run(env, "regenerate", res.Periods[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "regenerated: true")
	assert.Contains(t, stderr, "100%")
}

func TestAdjustmentsCommand(t *testing.T) {
	env := newTestEnv()
	res := generate(t, env)

	out, _, err := run(env, "adjustments", "--actor", "3", res.Periods[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "1 entries")
	assert.Contains(t, out, "681100")
}

func TestUnknownPeriodNotFound(t *testing.T) {
	_, _, err := run(newTestEnv(), "close", "--actor", "1", uuid.NewString())
	assert.ErrorIs(t, err, fiscal.ErrNotFound)
}

func TestJobsCommands(t *testing.T) {
	env := newTestEnv()

	out, _, err := run(env, "jobs", "trigger", jobs.TaskIntegrityScan, "--entity", "ACME")
	require.NoError(t, err)
	assert.Contains(t, out, "enqueued fiscal:integrity_scan on default as task-1")
	assert.Equal(t, []string{jobs.TaskIntegrityScan}, env.jobs.triggered)
	assert.Equal(t, "ACME", env.jobs.opts.Entity)

	out, _, err = run(env, "jobs", "stats", "--json")
	require.NoError(t, err)
	var stats []QueueStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Len(t, stats, 2)
	assert.Equal(t, jobs.QueueCritical, stats[0].Queue)
	assert.Equal(t, 2, stats[1].Pending)
}
