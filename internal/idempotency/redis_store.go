package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

const keyPrefix = "idempotency:"

// Record is the stored state of one key. Response holds the JSON result.
type Record struct {
	Status   string
	Response []byte
	StoredAt time.Time
}

// Store persists idempotency records and the short-lived lock that guards
// their first execution.
type Store interface {
	// Lock returns an owner token, or "" when someone else holds the lock.
	Lock(ctx context.Context, key string, lockTTL time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, record *Record, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// releaseLock deletes the lock only while it still carries the caller's token,
// so an expired holder cannot drop a lock taken over by another request.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps records as hashes next to a SET NX lock key.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisStore(client *redis.Client, log *slog.Logger) Store {
	if log == nil {
		log = slog.Default()
	}

	return &RedisStore{
		client: client,
		log:    log,
	}
}

func (s *RedisStore) Lock(ctx context.Context, key string, lockTTL time.Duration) (string, error) {
	token := uuid.NewString()

	acquired, err := s.client.SetNX(ctx, lockKey(key), token, lockTTL).Result()
	if err != nil {
		s.log.Error("failed to acquire idempotency lock", slog.String("key", key), slog.Any("error", err))
		return "", err
	}
	if !acquired {
		return "", nil
	}

	return token, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}

	if err := releaseLock.Run(ctx, s.client, []string{lockKey(key)}, token).Err(); err != nil {
		s.log.Error("failed to release idempotency lock", slog.String("key", key), slog.Any("error", err))
		return err
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, recordKey(key)).Result()
	if err != nil {
		s.log.Error("failed to fetch idempotency record", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}

	if len(fields) == 0 {
		return nil, nil
	}

	record := &Record{Status: fields["status"]}
	if response := fields["response"]; response != "" {
		record.Response = []byte(response)
	}
	if ms, err := strconv.ParseInt(fields["stored_at"], 10, 64); err == nil {
		record.StoredAt = time.UnixMilli(ms).UTC()
	}

	return record, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, record *Record, ttl time.Duration) error {
	if record == nil {
		return errors.New("idempotency record is nil")
	}

	storedAt := record.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordKey(key))
	pipe.HSet(ctx, recordKey(key),
		"status", record.Status,
		"response", string(record.Response),
		"stored_at", strconv.FormatInt(storedAt.UnixMilli(), 10),
	)
	pipe.Expire(ctx, recordKey(key), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("failed to store idempotency record", slog.String("key", key), slog.Any("error", err))
		return err
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, recordKey(key)).Err(); err != nil {
		s.log.Error("failed to delete idempotency record", slog.String("key", key), slog.Any("error", err))
		return err
	}

	return nil
}

func recordKey(key string) string {
	return keyPrefix + key
}

func lockKey(key string) string {
	return keyPrefix + key + ":lock"
}
