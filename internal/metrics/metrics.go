// Package metrics provides Prometheus metrics for the auth core and its
// HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "panelgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "panelgate",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// LoginAttemptsTotal counts login attempts by result
	// (success, invalid_credentials, locked, rate_limited, error)
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelgate",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by result",
		},
		[]string{"result"},
	)

	// RegistrationsTotal counts registration attempts by result
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelgate",
			Subsystem: "auth",
			Name:      "registrations_total",
			Help:      "Total number of registration attempts by result",
		},
		[]string{"result"},
	)

	// AccountLockoutsTotal counts account lockouts triggered
	AccountLockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "panelgate",
			Subsystem: "auth",
			Name:      "account_lockouts_total",
			Help:      "Total number of account lockouts triggered",
		},
	)

	// RateLimitedTotal counts requests rejected by the abuse layer
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelgate",
			Subsystem: "abuse",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the abuse mitigation layer",
		},
		[]string{"limiter"},
	)

	// FederationFlowsTotal counts federation flow outcomes
	// (completed, linked, created, invalid_state, failed)
	FederationFlowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "panelgate",
			Subsystem: "federation",
			Name:      "flows_total",
			Help:      "Total number of federation flow outcomes",
		},
		[]string{"outcome"},
	)

	// InviteConsumedTotal counts successfully consumed invite codes
	InviteConsumedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "panelgate",
			Subsystem: "invite",
			Name:      "consumed_total",
			Help:      "Total number of invite codes consumed",
		},
	)

	// SecurityEventsDroppedTotal counts security events dropped because the
	// recorder buffer was full
	SecurityEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "panelgate",
			Subsystem: "securitylog",
			Name:      "events_dropped_total",
			Help:      "Total number of security events dropped due to a full buffer",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		path := getRoutePattern(r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// getRoutePattern returns the route pattern from chi context, falling back
// to the URL path if no pattern is available
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
