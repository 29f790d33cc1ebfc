package fiscalhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
	"github.com/roro-pixel/bokati-sub001/internal/i18n"
	"github.com/roro-pixel/bokati-sub001/internal/platform/httpx"
	"github.com/roro-pixel/bokati-sub001/internal/shared"
)

type quietLedger struct {
	drafts int
}

func (l *quietLedger) DraftEntryCount(context.Context, fiscal.Scope) (int, error) {
	return l.drafts, nil
}

func (l *quietLedger) OpenJournalCount(context.Context, fiscal.Scope) (int, error) { return 0, nil }

func (l *quietLedger) IntegrityStats(context.Context, fiscal.Scope) (fiscal.IntegrityStats, error) {
	return fiscal.IntegrityStats{}, nil
}

func (l *quietLedger) AccountActivity(context.Context, fiscal.Scope, bool) ([]fiscal.AccountBalance, error) {
	return []fiscal.AccountBalance{{AccountID: "1", Code: "521000", Name: "Banque", Debit: 1500}}, nil
}

func (l *quietLedger) JournalTotals(context.Context, fiscal.Scope) ([]fiscal.JournalTotal, error) {
	return []fiscal.JournalTotal{{JournalCode: "BQ", Entries: 1, Debit: 1500, Credit: 1500}}, nil
}

func (l *quietLedger) TrialBalance(context.Context, string, time.Time, time.Time) (fiscal.TrialBalanceTotals, error) {
	return fiscal.TrialBalanceTotals{}, nil
}

func (l *quietLedger) ClosingBalances(context.Context, string, time.Time, time.Time) ([]fiscal.AccountBalance, error) {
	return nil, nil
}

type quietBank struct{}

func (quietBank) PendingReconciliations(context.Context, fiscal.Scope) (int, error) { return 0, nil }

type quietAssets struct{}

func (quietAssets) DepreciationCalculated(context.Context, fiscal.Scope) (bool, error) {
	return true, nil
}

func (quietAssets) AccrualsRecorded(context.Context, fiscal.Scope) (bool, error) { return true, nil }

func (quietAssets) AdjustmentEntries(context.Context, fiscal.Scope) ([]fiscal.AdjustmentEntry, error) {
	return []fiscal.AdjustmentEntry{{Kind: "DEPRECIATION", AccountCode: "681000", Label: "Dotation", Amount: 2500}}, nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	closings []uuid.UUID
	yearEnds []uuid.UUID
	regens   []fiscal.RegenerationOptions
}

func (d *recordingDispatcher) DispatchRegeneration(_ context.Context, _ uuid.UUID, opts fiscal.RegenerationOptions, _ int64) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regens = append(d.regens, opts)
	return "task-1", nil
}

func (d *recordingDispatcher) DispatchPeriodClosing(_ context.Context, workflowID, _ uuid.UUID, _ int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closings = append(d.closings, workflowID)
	return nil
}

func (d *recordingDispatcher) DispatchYearEnd(_ context.Context, workflowID, _ uuid.UUID, _ int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.yearEnds = append(d.yearEnds, workflowID)
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]struct{}{}
	}
	if _, ok := m.keys[module+"/"+key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

type testServer struct {
	router     http.Handler
	ledger     *quietLedger
	dispatcher *recordingDispatcher
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	ledger := &quietLedger{}
	svc := fiscal.NewService(fiscal.NewMemoryRepository(), fiscal.Dependencies{
		Ledger:         ledger,
		Reconciliation: quietBank{},
		Depreciation:   quietAssets{},
		Audit:          shared.NewSlogAuditor(slog.New(slog.NewTextHandler(io.Discard, nil))),
	})
	svc.WithNow(func() time.Time { return time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC) })
	dispatcher := &recordingDispatcher{}
	opts = append([]Option{WithDispatcher(dispatcher)}, opts...)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, opts...)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return &testServer{router: r, ledger: ledger, dispatcher: dispatcher}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(ActorHeader, "7")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) generate(t *testing.T, year string) generateResponse {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/fiscal-years", `{"entity":"ACME","year":"`+year+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var res generateResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	return res
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var p httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&p))
	return p
}

func TestGenerateFiscalYearReturnsThirteenPeriods(t *testing.T) {
	srv := newTestServer(t)
	res := srv.generate(t, "2024")

	assert.Equal(t, "2024-01-01", res.FiscalYear.StartDate)
	assert.Equal(t, "2024-12-31", res.FiscalYear.EndDate)
	require.Len(t, res.Periods, 13)
	assert.True(t, res.Periods[12].IsAdjustment)
	assert.Equal(t, "OPEN", res.Periods[0].Status)

	rr := srv.do(t, http.MethodGet, "/fiscal-years/"+res.FiscalYear.ID.String()+"/periods", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var listed struct {
		Periods []periodDTO `json:"periods"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&listed))
	assert.Len(t, listed.Periods, 13)
}

func TestGenerateFiscalYearDuplicateConflicts(t *testing.T) {
	srv := newTestServer(t)
	srv.generate(t, "2024")

	rr := srv.do(t, http.MethodPost, "/fiscal-years", `{"entity":"ACME","year":"2024"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Conflict", decodeProblem(t, rr).Title)
}

func TestGenerateFiscalYearRejectsInvalidBody(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodPost, "/fiscal-years", `{"entity":"ACME","year":"20x4"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	p := decodeProblem(t, rr)
	require.NotEmpty(t, p.Reasons)
	assert.Equal(t, "INVALID_YEAR", p.Reasons[0].Code)

	rr = srv.do(t, http.MethodPost, "/fiscal-years", `{"entity":"ACME","year":"2024","colour":"blue"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMutationsRequireActor(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/fiscal-years", strings.NewReader(`{"entity":"ACME","year":"2024"}`))
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	srv := newTestServer(t, WithIdempotency(&memoryIdempotency{}))
	body := `{"entity":"ACME","year":"2024"}`

	rr := srv.do(t, http.MethodPost, "/fiscal-years", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = srv.do(t, http.MethodPost, "/fiscal-years", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Duplicate Request", decodeProblem(t, rr).Title)
}

func TestIdempotencyKeyReleasedOnFailure(t *testing.T) {
	idem := &memoryIdempotency{}
	srv := newTestServer(t, WithIdempotency(idem))

	rr := srv.do(t, http.MethodPost, "/fiscal-years", `{"entity":"ACME","year":"1899"}`, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = srv.do(t, http.MethodPost, "/fiscal-years", `{"entity":"ACME","year":"2024"}`, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, rr.Code)
}

func TestClosePeriodBlockedReturnsLocalizedReasons(t *testing.T) {
	srv := newTestServer(t)
	res := srv.generate(t, "2024")
	srv.ledger.drafts = 3

	rr := srv.do(t, http.MethodPost, "/periods/"+res.Periods[0].ID.String()+"/close", "", "Accept-Language", "en-US")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	p := decodeProblem(t, rr)
	assert.Equal(t, "Cannot Close", p.Title)
	require.Len(t, p.Reasons, 1)
	assert.Equal(t, "ENTRIES_NOT_POSTED", p.Reasons[0].Code)
	assert.Equal(t, "Journal entries not posted (3 drafts)", p.Reasons[0].Message)
}

func TestClosePeriodThenReopen(t *testing.T) {
	srv := newTestServer(t)
	res := srv.generate(t, "2024")
	path := "/periods/" + res.Periods[0].ID.String()

	rr := srv.do(t, http.MethodPost, path+"/close", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var closed periodDTO
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&closed))
	assert.Equal(t, "CLOSED", closed.Status)
	require.NotNil(t, closed.ClosedBy)
	assert.Equal(t, int64(7), *closed.ClosedBy)

	rr = srv.do(t, http.MethodPost, path+"/reopen", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = srv.do(t, http.MethodPost, path+"/reopen", `{"reason":"late invoice"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var reopened periodDTO
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&reopened))
	assert.Equal(t, "OPEN", reopened.Status)
	assert.Nil(t, reopened.ClosedAt)
}

func TestForceCloseBypassesChecks(t *testing.T) {
	srv := newTestServer(t)
	res := srv.generate(t, "2024")
	srv.ledger.drafts = 2

	rr := srv.do(t, http.MethodPost, "/periods/"+res.Periods[1].ID.String()+"/force-close", `{"reason":"audit"}`)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestPeriodStatusUnknownPeriodReportsNotFound(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodGet, "/periods/"+uuid.NewString()+"/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var status periodStatusResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.False(t, status.CanClose)
	require.Len(t, status.Errors, 1)
	assert.Equal(t, "PERIOD_NOT_FOUND", status.Errors[0].Code)
}

func TestGetFiscalYearNotFound(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodGet, "/fiscal-years/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = srv.do(t, http.MethodGet, "/fiscal-years/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestClosingCheckListsOpenPeriods(t *testing.T) {
	srv := newTestServer(t)
	res := srv.generate(t, "2024")

	rr := srv.do(t, http.MethodGet, "/fiscal-years/"+res.FiscalYear.ID.String()+"/closing-check", "", "Accept-Language", "fr")
	require.Equal(t, http.StatusOK, rr.Code)
	var check yearCheckResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&check))
	assert.False(t, check.CanClose)
	assert.Equal(t, 13, check.OpenPeriods)
	require.NotEmpty(t, check.Reasons)

	rr = srv.do(t, http.MethodPost, "/fiscal-years/"+res.FiscalYear.ID.String()+"/close", "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestYearEndClosesAdjustmentAndYear(t *testing.T) {
	srv := newTestServer(t)
	res := srv.generate(t, "2024")
	for _, p := range res.Periods[:12] {
		rr := srv.do(t, http.MethodPost, "/periods/"+p.ID.String()+"/close", "")
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	rr := srv.do(t, http.MethodPost, "/fiscal-years/"+res.FiscalYear.ID.String()+"/year-end", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var wf workflowResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&wf))
	assert.Equal(t, "DONE", wf.State)
	assert.Equal(t, 100, wf.Progress)

	rr = srv.do(t, http.MethodGet, "/fiscal-years/"+res.FiscalYear.ID.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var fy fiscalYearDTO
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&fy))
	assert.True(t, fy.IsClosed)
}

func TestYearEndWithOpenMonthsFailsWorkflow(t *testing.T) {
	srv := newTestServer(t)
	res := srv.generate(t, "2024")

	rr := srv.do(t, http.MethodPost, "/fiscal-years/"+res.FiscalYear.ID.String()+"/year-end", "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var wf workflowResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&wf))
	assert.Equal(t, "FAILED", wf.State)
	require.Len(t, wf.Errors, 1)
	assert.Equal(t, "MONTHLY_PERIODS_OPEN", wf.Errors[0].Code)
}

func TestAsyncClosePreparesWorkflow(t *testing.T) {
	srv := newTestServer(t)
	res := srv.generate(t, "2024")

	rr := srv.do(t, http.MethodPost, "/periods/"+res.Periods[0].ID.String()+"/close?async=1", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	var wf workflowResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&wf))
	assert.Equal(t, "CONFIGURING", wf.State)
	assert.Equal(t, "PERIOD_CLOSING", wf.Kind)
	require.Len(t, srv.dispatcher.closings, 1)
	assert.Equal(t, wf.ID, srv.dispatcher.closings[0])

	rr = srv.do(t, http.MethodGet, "/workflows/"+wf.ID.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = srv.do(t, http.MethodGet, "/workflows/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAsyncRegenerationEnqueuesTask(t *testing.T) {
	srv := newTestServer(t)
	res := srv.generate(t, "2024")

	rr := srv.do(t, http.MethodPost, "/periods/"+res.Periods[0].ID.String()+"/regenerate?async=true", `{"recalculate_balances":true,"include_auxiliary":true}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var task taskResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&task))
	assert.Equal(t, "task-1", task.TaskID)
	require.Len(t, srv.dispatcher.regens, 1)
	assert.True(t, srv.dispatcher.regens[0].IncludeAuxiliary)
}

func TestRegenerateSynchronously(t *testing.T) {
	srv := newTestServer(t)
	res := srv.generate(t, "2024")

	rr := srv.do(t, http.MethodPost, "/periods/"+res.Periods[0].ID.String()+"/regenerate", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out regenerationResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Details.Accounts)
	assert.Equal(t, 1, out.Details.Journals)
}

func TestAdjustmentsAndIntegrity(t *testing.T) {
	srv := newTestServer(t)
	res := srv.generate(t, "2024")
	path := "/periods/" + res.Periods[12].ID.String()

	rr := srv.do(t, http.MethodPost, path+"/adjustments", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var adj adjustmentResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&adj))
	assert.Equal(t, 1, adj.GeneratedEntries)
	assert.Equal(t, int64(2500), adj.TotalAmount)

	rr = srv.do(t, http.MethodGet, path+"/integrity", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var report integrityResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&report))
	assert.True(t, report.IsValid)
}

func TestDefaultLocaleApplies(t *testing.T) {
	srv := newTestServer(t, WithDefaultLocale(i18n.English))
	res := srv.generate(t, "2024")
	srv.ledger.drafts = 1

	rr := srv.do(t, http.MethodGet, "/periods/"+res.Periods[0].ID.String()+"/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var status periodStatusResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	require.Len(t, status.Errors, 1)
	assert.Equal(t, "Journal entries not posted (1 drafts)", status.Errors[0].Message)
}

func TestFailHidesInternalErrors(t *testing.T) {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	rr := httptest.NewRecorder()
	h.fail(rr, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection refused")
}
