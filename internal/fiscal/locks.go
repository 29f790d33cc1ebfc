package fiscal

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// yearWeight is the capacity of a fiscal year semaphore. Period operations
// take one unit, a fiscal year close takes all of them.
const yearWeight = 1 << 16

// lockTable serializes mutations within one process. Cross-process safety
// comes from the version stamps checked by the repository.
type lockTable struct {
	mu      sync.Mutex
	years   map[uuid.UUID]*lockEntry
	periods map[uuid.UUID]*lockEntry
}

// lockEntry counts holders and waiters; the entry is dropped when it reaches zero.
type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{
		years:   make(map[uuid.UUID]*lockEntry),
		periods: make(map[uuid.UUID]*lockEntry),
	}
}

func (l *lockTable) ref(table map[uuid.UUID]*lockEntry, id uuid.UUID, weight int64) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := table[id]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(weight)}
		table[id] = e
	}
	e.refs++
	return e
}

func (l *lockTable) unref(table map[uuid.UUID]*lockEntry, id uuid.UUID, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(table, id)
	}
}

func (l *lockTable) acquire(ctx context.Context, table map[uuid.UUID]*lockEntry, id uuid.UUID, capacity, n int64) (func(), error) {
	e := l.ref(table, id, capacity)
	if err := e.sem.Acquire(ctx, n); err != nil {
		l.unref(table, id, e)
		return nil, err
	}
	return func() {
		e.sem.Release(n)
		l.unref(table, id, e)
	}, nil
}

// lockPeriod holds the period exclusively and its fiscal year shared.
func (l *lockTable) lockPeriod(ctx context.Context, fiscalYearID, periodID uuid.UUID) (func(), error) {
	releaseYear, err := l.acquire(ctx, l.years, fiscalYearID, yearWeight, 1)
	if err != nil {
		return nil, err
	}
	releasePeriod, err := l.acquire(ctx, l.periods, periodID, 1, 1)
	if err != nil {
		releaseYear()
		return nil, err
	}
	return func() {
		releasePeriod()
		releaseYear()
	}, nil
}

// lockYear holds the fiscal year exclusively, excluding every period operation in it.
func (l *lockTable) lockYear(ctx context.Context, fiscalYearID uuid.UUID) (func(), error) {
	return l.acquire(ctx, l.years, fiscalYearID, yearWeight, yearWeight)
}

func (l *lockTable) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.years) + len(l.periods)
}
