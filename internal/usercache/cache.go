// Package usercache caches user profiles in Redis.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Proton-105/globalization/internal/domain"
)

// ErrMissing is returned by Get when the id was recently looked up and not found.
var ErrMissing = errors.New("user is known to be missing")

// tombstone marks an id that does not exist. Real entries are JSON objects.
const tombstone = "-"

const maxMissingTTL = 30 * time.Second

// Cache stores user profiles and short-lived "not found" markers. A nil
// *Cache or a Cache without a client is a no-op.
type Cache struct {
	client     *redis.Client
	ttl        time.Duration
	missingTTL time.Duration
}

// NewCache constructs a user cache whose entries expire after ttl.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	missingTTL := ttl
	if missingTTL <= 0 || missingTTL > maxMissingTTL {
		missingTTL = maxMissingTTL
	}

	return &Cache{client: client, ttl: ttl, missingTTL: missingTTL}
}

// Get fetches a cached user profile. A miss returns (nil, nil). Entries that
// no longer decode are dropped and reported as a miss.
func (c *Cache) Get(ctx context.Context, userID string) (*domain.User, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached user: %w", err)
	}

	if string(data) == tombstone {
		return nil, ErrMissing
	}

	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil || user.ID != userID {
		if delErr := c.client.Del(ctx, cacheKey(userID)).Err(); delErr != nil {
			return nil, fmt.Errorf("drop corrupt cached user: %w", delErr)
		}
		return nil, nil
	}

	return &user, nil
}

// Set stores the user profile.
func (c *Cache) Set(ctx context.Context, user *domain.User) error {
	if c == nil || c.client == nil || user == nil {
		return nil
	}

	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user for cache: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(user.ID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached user: %w", err)
	}

	return nil
}

// MarkMissing remembers for a short while that userID does not exist.
func (c *Cache) MarkMissing(ctx context.Context, userID string) error {
	if c == nil || c.client == nil {
		return nil
	}

	if err := c.client.Set(ctx, cacheKey(userID), tombstone, c.missingTTL).Err(); err != nil {
		return fmt.Errorf("mark user missing: %w", err)
	}

	return nil
}

// Invalidate removes the cached profile or missing marker.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	if c == nil || c.client == nil {
		return nil
	}

	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete cached user: %w", err)
	}

	return nil
}

func cacheKey(userID string) string {
	return "user:" + userID
}
