package middleware

import (
	"net/http"
	"time"

	"github.com/Proton-105/globalization/pkg/metrics"
)

// Metrics records request counts and latency per route pattern of mux.
// Unmatched requests share a single label to keep cardinality bounded.
func Metrics(mux *http.ServeMux) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := wrap(w)

			next.ServeHTTP(sw, r)

			route := "unmatched"
			if mux != nil {
				if _, pattern := mux.Handler(r); pattern != "" {
					route = pattern
				}
			}

			metrics.RecordHTTPRequest(r.Method, route, sw.Status(), time.Since(start))
		})
	}
}
