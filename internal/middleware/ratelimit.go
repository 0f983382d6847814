package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit throttles requests per tenant, or per client IP before
// authentication.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return limiter(requestLimit, windowLength, func(r *http.Request) string {
		if tenantID := GetTenantID(r.Context()); tenantID != "" {
			return "tenant:" + tenantID
		}
		return ""
	})
}

// UserRateLimit throttles requests per authenticated user. Agent routes use
// it on top of the tenant limit so one agent cannot starve the others.
func UserRateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return limiter(requestLimit, windowLength, func(r *http.Request) string {
		if userID := GetUserID(r.Context()); userID != "" {
			return "user:" + GetTenantID(r.Context()) + ":" + userID
		}
		return ""
	})
}

// limiter falls back to the client IP when key returns "".
func limiter(requestLimit int, windowLength time.Duration, key func(*http.Request) string) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(windowLength.Seconds())))
	body := []byte(`{"error":"rate limit exceeded","retry_after":` + retryAfter + `}`)

	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if k := key(r); k != "" {
				return k, nil
			}
			return "ip:" + clientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write(body)
		}),
	)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
