package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// LoginRateLimit returns an HTTP middleware throttling requests per client
// IP. It guards the admin login endpoint against credential stuffing and
// is separate from the per-workspace API budget enforced by the gateway.
func LoginRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
