package workflowstore

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
)

func newStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Hour), mr
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	at := time.Date(2024, 12, 31, 18, 0, 0, 0, time.UTC)
	wf := fiscal.NewWorkflow(uuid.New(), fiscal.WorkflowPeriodClosing, uuid.New(), at)
	require.NoError(t, wf.Advance(fiscal.WorkflowVerifying, at))
	wf.Errors = append(wf.Errors, fiscal.NewMessage(fiscal.CheckEntriesPosted, 3))

	require.NoError(t, store.Save(ctx, wf))
	got, err := store.Load(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, wf.ID, got.ID)
	require.Equal(t, fiscal.WorkflowVerifying, got.State)
	require.Len(t, got.Errors, 1)
	require.Equal(t, fiscal.CheckEntriesPosted, got.Errors[0].Code)
	require.Equal(t, []any{int64(3)}, got.Errors[0].Args)
	require.Equal(t, wf.Errors[0].Text, got.Errors[0].Text)
}

func TestLoadMissingIsNotFound(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.Load(context.Background(), uuid.New())
	require.True(t, errors.Is(err, fiscal.ErrNotFound))
}

func TestSnapshotsExpire(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	wf := fiscal.NewWorkflow(uuid.New(), fiscal.WorkflowYearEnd, uuid.New(), time.Now())
	require.NoError(t, store.Save(ctx, wf))
	mr.FastForward(2 * time.Hour)
	_, err := store.Load(ctx, wf.ID)
	require.ErrorIs(t, err, fiscal.ErrNotFound)
}
