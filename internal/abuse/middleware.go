package abuse

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/movalabs/panelgate/internal/metrics"
	"github.com/movalabs/panelgate/internal/securitylog"
)

// Gate is the HTTP front door of the abuse mitigation layer. Requests pass
// the blocked-source check and the fixed-window limiter before any
// credential work happens.
type Gate struct {
	tracker  *Tracker
	recorder *securitylog.Recorder
}

// NewGate creates a Gate over the shared failure tracker
func NewGate(tracker *Tracker, recorder *securitylog.Recorder) *Gate {
	return &Gate{tracker: tracker, recorder: recorder}
}

// Limit returns middleware that enforces the given fixed-window limiter
// and then rejects blocked sources. The cheap counter check runs first so
// a flood never touches the tracker state. The limiter name labels the
// metric.
func (g *Gate) Limit(limiter *Limiter, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)

			if !limiter.Allow(ip) {
				metrics.RateLimitedTotal.WithLabelValues(name).Inc()
				g.recorder.Record(securitylog.Event{
					Category: securitylog.CategoryRateLimited,
					IP:       ip,
					Fields:   map[string]string{"reason": "rate limit", "limiter": name},
				})
				writeRateLimited(w, limiter.Reset(ip), "Too many attempts. Please try again later.")
				return
			}

			if blocked, until := g.tracker.Blocked(ip); blocked {
				metrics.RateLimitedTotal.WithLabelValues("blocked").Inc()
				g.recorder.Record(securitylog.Event{
					Category: securitylog.CategoryRateLimited,
					IP:       ip,
					Fields:   map[string]string{"reason": "source blocked"},
				})
				writeRateLimited(w, until, "Too many failed attempts. This source is temporarily blocked.")
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(ip)))
			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimited writes a 429 response with a Retry-After header
func writeRateLimited(w http.ResponseWriter, reset time.Time, message string) {
	retryAfter := int64(time.Until(reset).Seconds())
	if retryAfter < 0 {
		retryAfter = 0
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	w.WriteHeader(http.StatusTooManyRequests)

	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": message,
			"details": map[string]interface{}{
				"retry_after": retryAfter,
			},
		},
		"timestamp": time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// ClientIP extracts the client IP address from the request, preferring
// proxy headers over the socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
