package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*CartStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCartStore(client, time.Hour), mr
}

func TestCartStore_AddAccumulates(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	n, err := store.Add(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.Add(ctx, "u1", "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	items, err := store.Items(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 5}, items)
	assert.Equal(t, time.Hour, mr.TTL("cart:u1"))
}

func TestCartStore_SetRemoveClear(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "u1", "p1", 4))
	require.NoError(t, store.Set(ctx, "u1", "p2", 1))
	require.NoError(t, store.Remove(ctx, "u1", "p2"))

	items, err := store.Items(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 4}, items)

	require.NoError(t, store.Clear(ctx, "u1"))
	assert.False(t, mr.Exists("cart:u1"))

	items, err = store.Items(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCartStore_IsolatesUsers(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	_, err := store.Add(ctx, "u1", "p1", 1)
	require.NoError(t, err)

	items, err := store.Items(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCartStore_ExpiresIdleCart(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	_, err := store.Add(ctx, "u1", "p1", 1)
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	items, err := store.Items(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCartStore_Unavailable(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := NewCartStore(client, 0)

	_, err := store.Items(context.Background(), "u1")
	require.Error(t, err)
}
