package middleware

import (
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"paykiosk/pkg/errors"
)

var errRateLimited = errors.New(errors.ErrTypeApp, "RATE_LIMITED", "control API rate limit exceeded").
	WithUserMessage("Too many requests").
	WithRetryable(true)

// RateLimit caps the request rate of the whole control API. The kiosk has
// a single local client, so one limiter is shared by every caller.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(1))
				writeError(w, http.StatusTooManyRequests, errRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
