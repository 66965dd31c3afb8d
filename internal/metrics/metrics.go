package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lebrely_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lebrely_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// Auth metrics
	AuthEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lebrely_auth_events_total",
			Help: "Authentication events by outcome",
		},
		[]string{"event", "result"}, // event: signup, signin, refresh, signout, password_reset
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lebrely_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	AuthCleanupDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lebrely_auth_cleanup_deleted_total",
			Help: "Expired sessions and reset tokens removed by the cleanup job",
		},
	)
)

// unmatchedRoute labels requests that matched no route, keeping
// label cardinality bounded
const unmatchedRoute = "unmatched"

// Middleware records request count and latency per chi route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// AuthEvent counts one authentication event
func AuthEvent(event string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	AuthEventsTotal.WithLabelValues(event, result).Inc()
}
