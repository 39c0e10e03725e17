package middleware

import (
	"net/http"
	"strings"

	"github.com/Proton-105/globalization/internal/idempotency"
)

// IdempotencyKeyHeader carries the caller's idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 255

// IdempotencyKey moves the Idempotency-Key header into the request context.
func IdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		if len(key) > maxIdempotencyKeyLen {
			http.Error(w, "idempotency key too long", http.StatusBadRequest)
			return
		}

		next.ServeHTTP(w, r.WithContext(idempotency.WithKey(r.Context(), key)))
	})
}
