// Package ratelimit implements sliding-window limits for API clients and
// outbound push channels.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

// Result captures the outcome of a rate-limit evaluation.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns whole seconds until the window frees a slot, at least 1.
func (r *Result) RetryAfter(now time.Time) int {
	if r == nil {
		return 1
	}

	secs := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter checks and records one hit against key.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// ErrLimitExceeded indicates the rate limit has been reached for the key.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// keyPrefix namespaces limiter keys in Redis.
const keyPrefix = "ratelimit:"

// ChannelKey is the limiter key for an outbound push channel.
func ChannelKey(channel string) string {
	return "push:" + channel
}

// ClientKey is the limiter key for an API client.
func ClientKey(clientID string) string {
	return "client:" + clientID
}
