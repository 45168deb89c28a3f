package api

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/referral-dashboard/internal/ratelimit"
)

// clientKey identifies the caller for rate limiting
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware charges each request its route's cost against the
// caller's budget. Routes without a name cost the default.
func RateLimitMiddleware(limiter ratelimit.Limiter, costs *ratelimit.CostRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := ""
			if current := mux.CurrentRoute(r); current != nil {
				route = current.GetName()
			}
			cost := costs.GetCost(route)

			allowed, wait := limiter.Allow(r.Context(), clientKey(r), cost)
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				respondError(w, http.StatusTooManyRequests, ErrCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", map[string]interface{}{
					"route":        route,
					"cost":         cost,
					"retryAfterMs": wait.Milliseconds(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
