package reportcache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Minute), mr
}

func TestInvalidateBumpsEntityVersion(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	ver, err := cache.Version(ctx, "ACME")
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)

	before, err := cache.BuildKey(ctx, "ACME", "balance", "2024")
	require.NoError(t, err)
	require.Equal(t, "reports:ACME:balance:2024:v1", before)

	require.NoError(t, cache.Invalidate(ctx, "ACME"))
	after, err := cache.BuildKey(ctx, "ACME", "balance", "2024")
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	other, err := cache.Version(ctx, "OTHER")
	require.NoError(t, err)
	require.Equal(t, int64(1), other)
}

func TestFetchJSONUsesLoaderOncePerVersion(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]int64{"debit": 100}, nil
	}

	key, err := cache.BuildKey(ctx, "ACME", "trial")
	require.NoError(t, err)
	var out map[string]int64
	require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
	require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, 1, calls)
	require.Equal(t, int64(100), out["debit"])

	require.NoError(t, cache.Invalidate(ctx, "ACME"))
	key, err = cache.BuildKey(ctx, "ACME", "trial")
	require.NoError(t, err)
	require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, 2, calls)
}

func TestSubscribeReceivesBumps(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 1)
	require.NoError(t, cache.Subscribe(ctx, func(entity string, version int64) {
		got <- entity
	}))
	require.NoError(t, cache.Invalidate(ctx, "ACME"))

	select {
	case entity := <-got:
		require.Equal(t, "ACME", entity)
	case <-time.After(2 * time.Second):
		t.Fatal("bump not delivered")
	}
}

func TestNilCacheIsNoop(t *testing.T) {
	var cache *Cache
	require.NoError(t, cache.Invalidate(context.Background(), "ACME"))
	key, err := cache.BuildKey(context.Background(), "ACME", "x")
	require.NoError(t, err)
	require.Equal(t, "reports:ACME:x", key)
}

func TestParseBump(t *testing.T) {
	entity, ver, ok := parseBump("ENT:A:7")
	require.True(t, ok)
	require.Equal(t, "ENT:A", entity)
	require.Equal(t, int64(7), ver)
	_, _, ok = parseBump("garbage")
	require.False(t, ok)
}
