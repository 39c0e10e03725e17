package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

var ErrRequestInProgress = errors.New("request with this key is already in progress")

const (
	lockTTL      = 5 * time.Minute
	pollInterval = 100 * time.Millisecond
)

type Operation func(ctx context.Context) (interface{}, error)

// Result carries the operation outcome. Raw holds the stored JSON so cached
// results can be decoded into the caller's concrete type.
type Result struct {
	Response  interface{}
	Raw       []byte
	FromCache bool
}

// Decode unmarshals the stored response into v.
func (r *Result) Decode(v interface{}) error {
	if r == nil || len(r.Raw) == 0 {
		return nil
	}
	return json.Unmarshal(r.Raw, v)
}

type Manager interface {
	Execute(
		ctx context.Context,
		key string,
		ttl time.Duration,
		fn Operation,
	) (*Result, error)
}

type manager struct {
	store Store
	log   *slog.Logger
}

func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		store: store,
		log:   log,
	}
}

// Execute runs fn at most once per key within ttl. A completed result is
// replayed from the store; a concurrent call with the same key fails with
// ErrRequestInProgress; a failed run leaves no record so the caller may retry.
func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	for {
		token, err := m.store.Lock(ctx, key, lockTTL)
		if err != nil {
			return nil, err
		}

		if token != "" {
			return m.run(ctx, key, token, ttl, fn)
		}

		record, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		if record != nil {
			switch record.Status {
			case StatusProcessing:
				return nil, ErrRequestInProgress
			case StatusCompleted:
				var response interface{}
				if len(record.Response) > 0 {
					if err := json.Unmarshal(record.Response, &response); err != nil {
						return nil, err
					}
				}
				return &Result{Response: response, Raw: record.Response, FromCache: true}, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (m *manager) run(ctx context.Context, key, token string, ttl time.Duration, fn Operation) (*Result, error) {
	defer func() {
		if err := m.store.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			m.log.Warn("failed to release idempotency lock", slog.String("key", key), slog.Any("error", err))
		}
	}()

	if record, err := m.store.Get(ctx, key); err != nil {
		return nil, err
	} else if record != nil && record.Status == StatusCompleted {
		return &Result{Raw: record.Response, FromCache: true, Response: decodeAny(record.Response)}, nil
	}

	if err := m.store.Set(ctx, key, &Record{Status: StatusProcessing}, lockTTL); err != nil {
		return nil, err
	}

	result, err := fn(ctx)
	if err != nil {
		if delErr := m.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			m.log.Warn("failed to drop idempotency record", slog.String("key", key), slog.Any("error", delErr))
		}
		return nil, err
	}

	// fn has taken effect; the caller going away must not lose the record.
	storeCtx := context.WithoutCancel(ctx)

	responseBytes, err := json.Marshal(result)
	if err != nil {
		m.log.Error("failed to encode idempotent result", slog.String("key", key), slog.Any("error", err))
		return &Result{Response: result}, nil
	}

	if err := m.store.Set(storeCtx, key, &Record{
		Status:   StatusCompleted,
		Response: responseBytes,
	}, ttl); err != nil {
		m.log.Error("failed to store idempotent result", slog.String("key", key), slog.Any("error", err))
	}

	return &Result{
		Response:  result,
		Raw:       responseBytes,
		FromCache: false,
	}, nil
}

func decodeAny(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}
