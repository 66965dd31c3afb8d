package ratelimit

import (
	"encoding/json"
	"net/http"

	"github.com/nwvaras/lebrely-backend/internal/clientip"
	"github.com/nwvaras/lebrely-backend/internal/logger"
	"github.com/nwvaras/lebrely-backend/internal/metrics"
)

// Middleware rejects requests over the limit with 429. Clients are keyed by
// clientip.Info.RateLimitKey, so clientip.Middleware must run first.
func Middleware(limiter RateLimiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := clientip.FromRequest(r)
			key := info.RateLimitKey
			if key == "" {
				key = r.RemoteAddr
			}

			if !limiter.Allow(r.Context(), scope+":"+key) {
				logger.Ctx(r.Context()).Warn("rate limit exceeded",
					"scope", scope, "client_ip", info.Primary, "path", r.URL.Path)
				metrics.RateLimitedTotal.WithLabelValues(scope).Inc()

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"detail": "Rate limit exceeded. Please try again later.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
