package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receipt struct {
	Reference string `json:"reference"`
	Channel   string `json:"channel"`
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManager_ExecutesOnceAndReplays(t *testing.T) {
	client, _ := setupTestRedis(t)
	m := NewManager(NewRedisStore(client, testLogger()), testLogger())
	ctx := context.Background()

	calls := 0
	op := func(context.Context) (interface{}, error) {
		calls++
		return &receipt{Reference: "ref-1", Channel: "stripe"}, nil
	}

	first, err := m.Execute(ctx, "payout-1", time.Hour, op)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := m.Execute(ctx, "payout-1", time.Hour, op)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, calls)

	var decoded receipt
	require.NoError(t, second.Decode(&decoded))
	assert.Equal(t, receipt{Reference: "ref-1", Channel: "stripe"}, decoded)
}

func TestManager_FailureAllowsRetry(t *testing.T) {
	client, _ := setupTestRedis(t)
	m := NewManager(NewRedisStore(client, testLogger()), testLogger())
	ctx := context.Background()

	errGateway := errors.New("gateway down")
	_, err := m.Execute(ctx, "payout-2", time.Hour, func(context.Context) (interface{}, error) {
		return nil, errGateway
	})
	require.ErrorIs(t, err, errGateway)

	result, err := m.Execute(ctx, "payout-2", time.Hour, func(context.Context) (interface{}, error) {
		return &receipt{Reference: "ref-2"}, nil
	})
	require.NoError(t, err)
	assert.False(t, result.FromCache)
}

func TestManager_CompletedResultSurvivesCallerCancel(t *testing.T) {
	client, mr := setupTestRedis(t)
	m := NewManager(NewRedisStore(client, testLogger()), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	op := func(context.Context) (interface{}, error) {
		calls++
		cancel()
		return &receipt{Reference: "ref-9", Channel: "paypal"}, nil
	}

	first, err := m.Execute(ctx, "payout-9", time.Hour, op)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	// past the lock TTL, a processing record would have expired by now
	mr.FastForward(6 * time.Minute)

	second, err := m.Execute(context.Background(), "payout-9", time.Hour, op)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, calls)
}

func TestManager_StoreFailureAfterSuccessReturnsResult(t *testing.T) {
	client, mr := setupTestRedis(t)
	m := NewManager(NewRedisStore(client, testLogger()), testLogger())

	result, err := m.Execute(context.Background(), "payout-10", time.Hour, func(context.Context) (interface{}, error) {
		mr.SetError("READONLY")
		return &receipt{Reference: "ref-10"}, nil
	})
	mr.SetError("")

	require.NoError(t, err)
	assert.Equal(t, &receipt{Reference: "ref-10"}, result.Response)
}

func TestManager_ConcurrentDuplicateIsRejected(t *testing.T) {
	client, _ := setupTestRedis(t)
	m := NewManager(NewRedisStore(client, testLogger()), testLogger())
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := m.Execute(ctx, "payout-3", time.Hour, func(context.Context) (interface{}, error) {
			close(started)
			<-release
			return &receipt{Reference: "ref-3"}, nil
		})
		done <- err
	}()

	<-started
	_, err := m.Execute(ctx, "payout-3", time.Hour, func(context.Context) (interface{}, error) {
		t.Fatal("duplicate must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrRequestInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestManager_RejectsNilOperation(t *testing.T) {
	client, _ := setupTestRedis(t)
	m := NewManager(NewRedisStore(client, testLogger()), testLogger())

	_, err := m.Execute(context.Background(), "k", time.Hour, nil)
	assert.Error(t, err)
}

func TestCleaner_RemovesKeysWithoutExpiry(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "idempotency:stale", "x", 0).Err())
	require.NoError(t, client.Set(ctx, "idempotency:fresh", "x", time.Hour).Err())
	require.NoError(t, client.Set(ctx, "unrelated", "x", 0).Err())

	c := NewCleaner(client, testLogger(), time.Minute, 24*time.Hour)
	assert.Equal(t, 1, c.cleanup(ctx))

	assert.Equal(t, int64(0), client.Exists(ctx, "idempotency:stale").Val())
	assert.Equal(t, int64(1), client.Exists(ctx, "idempotency:fresh").Val())
	assert.Equal(t, int64(1), client.Exists(ctx, "unrelated").Val())
}

func TestScopedKey(t *testing.T) {
	key := ScopedKey("payout", "u-1", "abc")
	assert.Equal(t, key, ScopedKey("payout", "u-1", "abc"))
	assert.NotEqual(t, key, ScopedKey("payout", "u-2", "abc"))
	assert.NotEqual(t, ScopedKey("payout", "ab", "c"), ScopedKey("payout", "a", "bc"))
	assert.True(t, strings.HasPrefix(key, "payout:"))
}

func TestKeyFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, KeyFromContext(ctx))
	assert.Equal(t, ctx, WithKey(ctx, ""))
	assert.Equal(t, "abc", KeyFromContext(WithKey(ctx, "abc")))
}

func TestRedisStore_LockOwnership(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisStore(client, testLogger())
	ctx := context.Background()

	token, err := store.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	second, err := store.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, second)

	require.NoError(t, store.ReleaseLock(ctx, "k", "someone-else"))
	assert.Equal(t, int64(1), client.Exists(ctx, lockKey("k")).Val())

	require.NoError(t, store.ReleaseLock(ctx, "k", token))
	assert.Equal(t, int64(0), client.Exists(ctx, lockKey("k")).Val())
}

func TestRedisStore_RecordRoundTrip(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisStore(client, testLogger())
	ctx := context.Background()

	stored := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Set(ctx, "k", &Record{Status: StatusCompleted, Response: []byte(`{"reference":"r"}`), StoredAt: stored}, time.Hour))

	record, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, record.Status)
	assert.JSONEq(t, `{"reference":"r"}`, string(record.Response))
	assert.True(t, stored.Equal(record.StoredAt))
	assert.Equal(t, time.Hour, mr.TTL(recordKey("k")))

	require.NoError(t, store.Delete(ctx, "k"))
	record, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, record)
}
