package daemon

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
)

// attemptLimiter caps attempt writes per learner. Keys fall back to the
// client address when no user is set.
type attemptLimiter struct {
	limiter ratelimit.RateLimiter
}

func newAttemptLimiter(perMinute int) *attemptLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &attemptLimiter{
		limiter: ratelimit.New(&ratelimit.Config{
			Rate:     perMinute,
			Burst:    perMinute,
			Interval: time.Minute,
		}),
	}
}

// wrap rejects requests over the limit with 429. A nil limiter passes
// everything through.
func (l *attemptLimiter) wrap(next http.HandlerFunc) http.HandlerFunc {
	if l == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key := GetUserID(r.Context())
		if key == "" {
			key = clientIP(r)
		}

		if !l.limiter.Allow(r.Context(), key) {
			slog.Warn("rate limit exceeded",
				"key", key,
				"path", r.URL.Path,
				"correlation_id", GetCorrelationID(r.Context()),
			)
			w.Header().Set("Retry-After", "60")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests, please try again later"}`))
			return
		}

		next(w, r)
	}
}

func (l *attemptLimiter) Close() error {
	if l == nil {
		return nil
	}
	return l.limiter.Close()
}

// clientIP extracts the client address, honouring proxy headers
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
