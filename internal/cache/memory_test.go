package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreInvalidatesByTag(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(16, time.Hour)

	require.NoError(t, store.Set(ctx, "dashboard:all:30", []byte(`1`), time.Minute, []string{TagAttivita, TagCantieri}))
	require.NoError(t, store.Set(ctx, "dashboard:user:u-1:30", []byte(`2`), time.Minute, []string{TagAttivita, UserTag("u-1")}))
	require.NoError(t, store.Set(ctx, "mezzi", []byte(`3`), time.Minute, []string{TagMezzi}))

	require.NoError(t, store.Invalidate(ctx, UserTag("u-1")))
	_, ok, _ := store.Get(ctx, "dashboard:user:u-1:30")
	require.False(t, ok)
	_, ok, _ = store.Get(ctx, "dashboard:all:30")
	require.True(t, ok)

	require.NoError(t, store.Invalidate(ctx, TagCantieri, "", TagCantieri))
	_, ok, _ = store.Get(ctx, "dashboard:all:30")
	require.False(t, ok)

	raw, ok, err := store.Get(ctx, "mezzi")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`3`), raw)
	require.Equal(t, 1, store.Len())
}

func TestMemoryStoreHonoursPerEntryTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(16, time.Hour)
	clock := time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	require.NoError(t, store.Set(ctx, "k", []byte(`"v"`), 30*time.Second, nil))
	_, ok, _ := store.Get(ctx, "k")
	require.True(t, ok)

	clock = clock.Add(31 * time.Second)
	_, ok, _ = store.Get(ctx, "k")
	require.False(t, ok)
}

func TestRememberLoadsOnceUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(16, time.Hour)
	key := Key{Kind: "cantieri", Scope: "all"}
	calls := 0
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"Cantiere Nord", "Cantiere Sud"}, nil
	}

	first, err := Remember(ctx, store, key, time.Minute, []string{TagCantieri}, load)
	require.NoError(t, err)
	second, err := Remember(ctx, store, key, time.Minute, []string{TagCantieri}, load)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)

	require.NoError(t, store.Invalidate(ctx, TagCantieri))
	_, err = Remember(ctx, store, key, time.Minute, []string{TagCantieri}, load)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRememberDropsValueInvalidatedWhileLoading(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(16, time.Hour)
	key := Key{Kind: "dashboard", Scope: "all:30"}

	stale, err := Remember(ctx, store, key, time.Minute, []string{TagAttivita}, func(ctx context.Context) (int, error) {
		require.NoError(t, store.Invalidate(ctx, TagAttivita))
		return 1, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, stale)
	_, ok, err := store.Get(ctx, key.String())
	require.NoError(t, err)
	require.False(t, ok)

	fresh, err := Remember(ctx, store, key, time.Minute, []string{TagAttivita}, func(context.Context) (int, error) {
		return 2, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, fresh)
	_, ok, err = store.Get(ctx, key.String())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRememberDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(16, time.Hour)
	boom := errors.New("db down")

	_, err := Remember(ctx, store, Key{Kind: "users"}, time.Minute, nil, func(context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, store.Len())
}

func TestRememberWithNoopStoreAlwaysLoads(t *testing.T) {
	calls := 0
	for i := 0; i < 3; i++ {
		_, err := Remember(context.Background(), Noop{}, Key{Kind: "mezzi"}, time.Minute, nil, func(context.Context) (int, error) {
			calls++
			return calls, nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, 3, calls)
}

func TestKeyString(t *testing.T) {
	require.Equal(t, "dashboard", Key{Kind: "dashboard"}.String())
	require.Equal(t, "dashboard:user:u-1:30", Key{Kind: "dashboard", Scope: "user:u-1:30"}.String())
}
