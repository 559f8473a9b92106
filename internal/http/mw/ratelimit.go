package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitByKey returns a middleware that rate limits by presented API key,
// falling back to client IP for unauthenticated requests. It runs before the
// auth layer, so it keys on the Authorization header rather than the resolved
// identity.
func RateLimitByKey(requestsPerMinute int) func(http.Handler) http.Handler {
	limiter := httprate.NewRateLimiter(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if header := r.Header.Get("Authorization"); header != "" {
				return "key:" + OwnerIDFromKey(extractBearer(header)), nil
			}
			return httprate.KeyByIP(r)
		}),
	)
	return limiter.Handler
}
