package fiscal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryState struct {
	years    map[uuid.UUID]FiscalYear
	periods  map[uuid.UUID]Period
	balances map[uuid.UUID]map[string]AccountBalance
	journals map[uuid.UUID]map[string]JournalTotal
}

func newMemoryState() *memoryState {
	return &memoryState{
		years:    make(map[uuid.UUID]FiscalYear),
		periods:  make(map[uuid.UUID]Period),
		balances: make(map[uuid.UUID]map[string]AccountBalance),
		journals: make(map[uuid.UUID]map[string]JournalTotal),
	}
}

func (st *memoryState) clone() *memoryState {
	out := newMemoryState()
	for k, v := range st.years {
		out.years[k] = v
	}
	for k, v := range st.periods {
		out.periods[k] = v
	}
	for k, v := range st.balances {
		m := make(map[string]AccountBalance, len(v))
		for code, b := range v {
			m[code] = b
		}
		out.balances[k] = m
	}
	for k, v := range st.journals {
		m := make(map[string]JournalTotal, len(v))
		for code, t := range v {
			m[code] = t
		}
		out.journals[k] = m
	}
	return out
}

// MemoryRepository is a process-local Repository. Transactions work on a
// copy of the state that replaces the original only on success.
type MemoryRepository struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *memoryState
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemoryState()}
}

// WithTx runs fn against a snapshot and commits it when fn succeeds.
// Transactions are serialized.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	r.mu.RLock()
	work := r.state.clone()
	r.mu.RUnlock()
	if err := fn(ctx, &memoryTx{state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.state = work
	r.mu.Unlock()
	return nil
}

// GetFiscalYear returns a fiscal year by identifier.
func (r *MemoryRepository) GetFiscalYear(_ context.Context, id uuid.UUID) (FiscalYear, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fy, ok := r.state.years[id]
	if !ok {
		return FiscalYear{}, fmt.Errorf("%w: fiscal year %s", ErrNotFound, id)
	}
	return fy, nil
}

// FindFiscalYear looks up the fiscal year of an entity by its label.
func (r *MemoryRepository) FindFiscalYear(_ context.Context, entity, year string) (FiscalYear, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, fy := range r.state.years {
		if fy.Entity == entity && fy.Year == year {
			return fy, nil
		}
	}
	return FiscalYear{}, fmt.Errorf("%w: fiscal year %s/%s", ErrNotFound, entity, year)
}

// ListOpenFiscalYears returns fiscal years not yet closed.
func (r *MemoryRepository) ListOpenFiscalYears(_ context.Context) ([]FiscalYear, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FiscalYear, 0)
	for _, fy := range r.state.years {
		if !fy.IsClosed {
			out = append(out, fy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].Year < out[j].Year
	})
	return out, nil
}

// GetPeriod returns a period by identifier.
func (r *MemoryRepository) GetPeriod(_ context.Context, id uuid.UUID) (Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.period(id)
}

// ListPeriods returns the periods of a fiscal year ordered by number.
func (r *MemoryRepository) ListPeriods(_ context.Context, fiscalYearID uuid.UUID) ([]Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.listPeriods(fiscalYearID), nil
}

// ListAccountBalances returns the stored balances of a period ordered by code.
func (r *MemoryRepository) ListAccountBalances(_ context.Context, periodID uuid.UUID) ([]AccountBalance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := r.state.balances[periodID]
	out := make([]AccountBalance, 0, len(rows))
	for _, b := range rows {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (st *memoryState) period(id uuid.UUID) (Period, error) {
	p, ok := st.periods[id]
	if !ok {
		return Period{}, fmt.Errorf("%w: period %s", ErrNotFound, id)
	}
	return p, nil
}

func (st *memoryState) listPeriods(fiscalYearID uuid.UUID) []Period {
	out := make([]Period, 0, 13)
	for _, p := range st.periods {
		if p.FiscalYearID == fiscalYearID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) GetPeriod(_ context.Context, id uuid.UUID) (Period, error) {
	return t.state.period(id)
}

func (t *memoryTx) ListPeriods(_ context.Context, fiscalYearID uuid.UUID) ([]Period, error) {
	return t.state.listPeriods(fiscalYearID), nil
}

func (t *memoryTx) InsertFiscalYear(_ context.Context, fy FiscalYear) error {
	for _, existing := range t.state.years {
		if existing.Entity == fy.Entity && existing.Year == fy.Year {
			return fmt.Errorf("%w: %s/%s", ErrConflict, fy.Entity, fy.Year)
		}
	}
	if _, ok := t.state.years[fy.ID]; ok {
		return fmt.Errorf("%w: fiscal year %s", ErrConflict, fy.ID)
	}
	if fy.Version == 0 {
		fy.Version = 1
	}
	t.state.years[fy.ID] = fy
	return nil
}

func (t *memoryTx) InsertPeriods(_ context.Context, periods []Period) error {
	for _, p := range periods {
		if _, ok := t.state.years[p.FiscalYearID]; !ok {
			return fmt.Errorf("%w: fiscal year %s", ErrNotFound, p.FiscalYearID)
		}
		if _, ok := t.state.periods[p.ID]; ok {
			return fmt.Errorf("%w: period %s", ErrConflict, p.ID)
		}
		if p.Version == 0 {
			p.Version = 1
		}
		t.state.periods[p.ID] = p
	}
	return nil
}

func (t *memoryTx) UpdatePeriod(_ context.Context, p Period) (Period, error) {
	current, err := t.state.period(p.ID)
	if err != nil {
		return Period{}, err
	}
	if current.Version != p.Version {
		return Period{}, fmt.Errorf("%w: period %s", ErrStaleVersion, p.ID)
	}
	p.Version++
	t.state.periods[p.ID] = p
	return p, nil
}

func (t *memoryTx) UpdateFiscalYear(_ context.Context, fy FiscalYear) (FiscalYear, error) {
	current, ok := t.state.years[fy.ID]
	if !ok {
		return FiscalYear{}, fmt.Errorf("%w: fiscal year %s", ErrNotFound, fy.ID)
	}
	if current.Version != fy.Version {
		return FiscalYear{}, fmt.Errorf("%w: fiscal year %s", ErrStaleVersion, fy.ID)
	}
	fy.Version++
	t.state.years[fy.ID] = fy
	return fy, nil
}

func (t *memoryTx) UpsertAccountBalances(_ context.Context, periodID uuid.UUID, balances []AccountBalance) (int, error) {
	rows, ok := t.state.balances[periodID]
	if !ok {
		rows = make(map[string]AccountBalance, len(balances))
		t.state.balances[periodID] = rows
	}
	for _, b := range balances {
		rows[b.Code] = b
	}
	return len(balances), nil
}

func (t *memoryTx) UpsertJournalTotals(_ context.Context, periodID uuid.UUID, totals []JournalTotal) (int, error) {
	rows, ok := t.state.journals[periodID]
	if !ok {
		rows = make(map[string]JournalTotal, len(totals))
		t.state.journals[periodID] = rows
	}
	for _, jt := range totals {
		rows[jt.JournalCode] = jt
	}
	return len(totals), nil
}
