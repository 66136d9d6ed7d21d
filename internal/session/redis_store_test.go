package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestNewRedisStorePing(t *testing.T) {
	store, _ := setupTestRedis(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore("not a url", time.Minute)
	assert.Error(t, err)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	_, ok, err := store.Lookup(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Store(ctx, "evt_1", map[string]any{"pageId": "pg_1", "ok": true}))
	payload, ok, err := store.Lookup(ctx, "evt_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pg_1", payload["pageId"])
	assert.Equal(t, true, payload["ok"])
	assert.True(t, mr.Exists("writeshare:receipt:evt_1"))
}

func TestRedisStoreKeepsFirstReceipt(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "evt_1", map[string]any{"attempt": "first"}))
	require.NoError(t, store.Store(ctx, "evt_1", map[string]any{"attempt": "second"}))

	payload, ok, err := store.Lookup(ctx, "evt_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", payload["attempt"])
}

func TestRedisStoreExpiresReceipts(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "evt_1", map[string]any{"ok": true}))
	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Lookup(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreExpiresReceipts(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "evt_1", map[string]any{"attempt": "first"}))
	require.NoError(t, store.Store(ctx, "evt_1", map[string]any{"attempt": "second"}))
	payload, ok, err := store.Lookup(ctx, "evt_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", payload["attempt"])

	payload["attempt"] = "mutated"
	again, _, _ := store.Lookup(ctx, "evt_1")
	assert.Equal(t, "first", again["attempt"])

	now = now.Add(2 * time.Minute)
	_, ok, err = store.Lookup(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

var (
	_ Receipts = (*RedisStore)(nil)
	_ Receipts = (*MemoryStore)(nil)
)
