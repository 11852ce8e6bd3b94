package cachestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/rainmanjam/social-flood-sub000/pkg/cachestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	store := cachestore.NewMemoryStore(cachestore.MemoryStoreConfig{})
	t.Cleanup(func() { _ = store.Close() })

	t.Run("read after set returns value", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k1", []byte("v1"), time.Minute))
		got, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)
	})

	t.Run("read after expiry behaves as a miss", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k2", []byte("v2"), 30*time.Millisecond))

		got, err := store.Get(ctx, "k2")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)

		time.Sleep(50 * time.Millisecond)
		_, err = store.Get(ctx, "k2")
		assert.ErrorIs(t, err, cachestore.ErrNotFound)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k3", []byte("v3"), 0))
		time.Sleep(10 * time.Millisecond)
		_, err := store.Get(ctx, "k3")
		assert.NoError(t, err)
	})
}

func TestMemoryStore_Scan(t *testing.T) {
	ctx := context.Background()
	store := cachestore.NewMemoryStore(cachestore.MemoryStoreConfig{})
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Set(ctx, "app:ads:a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "app:ads:b", []byte("2"), time.Minute))
	require.NoError(t, store.Set(ctx, "app:trends:a", []byte("3"), time.Minute))
	require.NoError(t, store.Set(ctx, "app:ads:expired", []byte("4"), time.Nanosecond))

	time.Sleep(5 * time.Millisecond)

	keys, err := store.Scan(ctx, "app:ads:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app:ads:a", "app:ads:b"}, keys, "expired and out-of-prefix keys must not be returned")
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := cachestore.NewMemoryStore(cachestore.MemoryStoreConfig{SweepInterval: 20 * time.Millisecond})
	store.Start(ctx)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Set(ctx, "short", []byte("x"), 10*time.Millisecond))
	require.NoError(t, store.Set(ctx, "long", []byte("y"), time.Minute))
	assert.Equal(t, 2, store.Len())

	// The janitor should reclaim the expired entry without any read touching it.
	require.Eventually(t, func() bool {
		return store.Len() == 1
	}, time.Second, 10*time.Millisecond, "sweeper should remove expired entries")
}
