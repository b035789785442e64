package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/edgeflare/pumprelay/pkg/metrics"
)

// Metrics counts requests and observes latency by route pattern. It reads the pattern the
// ServeMux matched, so it must wrap the mux directly: register it as the last root middleware.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewResponseRecorder(w)
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.StatusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
