package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/ratelimit"
)

// ClientIDHeader identifies API clients. Requests without it are keyed by remote address.
const ClientIDHeader = "X-Client-ID"

// RateLimit enforces the per-client request limit.
type RateLimit struct {
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	log     *slog.Logger
}

func NewRateLimit(limiter ratelimit.Limiter, rules *ratelimit.Rules, log *slog.Logger) *RateLimit {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimit{limiter: limiter, rules: rules, log: log}
}

// Handler rejects clients over their limit with 429 and a Retry-After header.
// Limiter outages let requests through.
func (m *RateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil || m.rules == nil {
			next.ServeHTTP(w, r)
			return
		}

		clientID := ClientID(r)
		if m.rules.IsWhitelisted(clientID) {
			next.ServeHTTP(w, r)
			return
		}

		limit, window, err := m.rules.GetPerClientLimit()
		if err != nil {
			if !errors.Is(err, ratelimit.ErrNoRule) {
				m.log.Error("failed to load per-client rate limit", slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}

		result, err := m.limiter.Check(r.Context(), ratelimit.ClientKey(clientID), limit, window)
		if err != nil && !errors.Is(err, ratelimit.ErrLimitExceeded) {
			m.log.Warn("rate limiter error", slog.String("client_id", clientID), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}

		if result != nil && !result.Allowed {
			retryAfter := result.RetryAfter(time.Now())
			m.log.Warn("rate limit exceeded", slog.String("client_id", clientID), slog.Int("retry_after", retryAfter))
			writeRateLimited(w, retryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientID returns the caller identity used for rate limiting.
func ClientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ClientIDHeader)); id != "" {
		return id
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	appErr := apperrors.NewRateLimitError(retryAfter)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":      appErr.Code,
		"message":   appErr.UserMessage,
		"retryable": appErr.Retryable,
	})
}
