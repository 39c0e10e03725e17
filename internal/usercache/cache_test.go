package usercache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/globalization/internal/domain"
)

func TestCache_SetGetInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewCache(client, time.Minute)
	ctx := context.Background()

	miss, err := cache.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Nil(t, miss)

	user := &domain.User{ID: "u-1", Name: "Ana", PaymentChannels: []string{"paypal"}}
	require.NoError(t, cache.Set(ctx, user))
	assert.Equal(t, time.Minute, mr.TTL("user:u-1"))

	got, err := cache.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, user, got)

	require.NoError(t, cache.Invalidate(ctx, "u-1"))
	assert.False(t, mr.Exists("user:u-1"))
}

func TestCache_NilIsNoop(t *testing.T) {
	var cache *Cache
	got, err := cache.Get(context.Background(), "u-1")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, cache.Set(context.Background(), &domain.User{ID: "u-1"}))
	assert.NoError(t, cache.Invalidate(context.Background(), "u-1"))
}

func TestCache_MissingMarker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewCache(client, 10*time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.MarkMissing(ctx, "ghost"))
	assert.Equal(t, maxMissingTTL, mr.TTL("user:ghost"))

	_, err := cache.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrMissing)

	require.NoError(t, cache.Invalidate(ctx, "ghost"))
	got, err := cache.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_CorruptEntryIsDropped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, mr.Set("user:u-1", "{not json"))
	require.NoError(t, mr.Set("user:u-2", `{"id":"someone-else"}`))

	cache := NewCache(client, time.Minute)
	for _, id := range []string{"u-1", "u-2"} {
		got, err := cache.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.False(t, mr.Exists("user:"+id))
	}
}
