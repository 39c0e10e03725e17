package ratelimit

import (
	"errors"
	"strings"
	"time"

	"github.com/Proton-105/globalization/pkg/config"
)

// ErrNoRule indicates that no limit is configured for the requested scope.
var ErrNoRule = errors.New("no rate limit rule configured")

// Rules encapsulates configured rate limits and helper methods.
type Rules struct {
	config config.RateLimitConfig
}

// NewRules constructs rate limiting rules from configuration settings.
func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{config: cfg}
}

// IsWhitelisted returns true if the client bypasses rate limits.
func (r *Rules) IsWhitelisted(clientID string) bool {
	for _, id := range r.config.Whitelist {
		if id == clientID {
			return true
		}
	}
	return false
}

// GetChannelLimit returns the limit and window for a push channel, or ErrNoRule.
func (r *Rules) GetChannelLimit(channel string) (int, time.Duration, error) {
	rule, ok := r.config.Channels[strings.ToLower(channel)]
	if !ok || rule.Limit <= 0 {
		return 0, 0, ErrNoRule
	}
	return parseRule(rule)
}

// GetPerClientLimit returns the per-client API rate limiting rule.
func (r *Rules) GetPerClientLimit() (int, time.Duration, error) {
	if r.config.PerClient.Limit <= 0 {
		return 0, 0, ErrNoRule
	}
	return parseRule(r.config.PerClient)
}

func parseRule(rule config.RateLimitRule) (int, time.Duration, error) {
	if rule.Window == "" {
		return rule.Limit, 0, errors.New("window duration is not set")
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return 0, 0, err
	}
	return rule.Limit, window, nil
}
