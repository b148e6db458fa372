// Package gateway composes authentication, scope checking, and rate
// limiting into the single per-request decision consumed by every v1 route
// handler. The facade never returns an error to its callers: every failure
// path is a structured Rejection with the right status code and headers.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/ratelimit"
	"github.com/gatehousehq/gatehouse/internal/service"
)

// Taxonomy codes carried in the error envelope. Authentication failures
// past the format checks all surface the same generic message so clients
// cannot probe which keys exist; the precise code still lands in the
// server-side logs.
const (
	CodeMissingHeader = "MISSING_HEADER"
	CodeMalformed     = "MALFORMED"
	CodeNotFound      = "NOT_FOUND"
	CodeRevoked       = "REVOKED"
	CodeExpired       = "EXPIRED"
	CodeForbidden     = "FORBIDDEN"
	CodeRateLimited   = "RATE_LIMITED"
	CodeInternalError = "INTERNAL_ERROR"
)

// Rejection describes a refused request: the HTTP status to return, the
// taxonomy code, and the client-facing message.
type Rejection struct {
	Status  int
	Code    string
	Message string
}

// Result is the gateway decision for one request. When Allowed is true,
// Headers carries the rate-limit state for transparency; otherwise Reject
// describes the refusal. Principal is set whenever authentication
// succeeded, including on scope and rate-limit rejections, so call
// logging can attribute the attempt.
type Result struct {
	Allowed   bool
	Principal *service.Principal
	Reject    *Rejection
	Headers   http.Header
}

// Guard is the gateway decision facade.
type Guard struct {
	auth     *service.AuthService
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	failOpen bool
	now      func() time.Time
}

// New creates a Guard. failOpen controls behavior when the store is
// unreachable during the rate-limit step after authentication already
// succeeded: true lets the request through (without rate headers), false
// rejects with INTERNAL_ERROR.
func New(auth *service.AuthService, limiter *ratelimit.Limiter, logger *slog.Logger, failOpen bool) *Guard {
	return &Guard{
		auth:     auth,
		limiter:  limiter,
		logger:   logger,
		failOpen: failOpen,
		now:      time.Now,
	}
}

// Check runs the per-request decision in strict order: authenticate, then
// scope, then rate limit. Unauthenticated or unauthorized traffic never
// touches a workspace's counter, so invalid keys cannot exhaust anyone's
// quota. requiredScope may be empty for endpoints that need authentication
// only.
func (g *Guard) Check(ctx context.Context, authHeader, clientIP string, requiredScope model.Scope) Result {
	principal, err := g.auth.Authenticate(ctx, authHeader, clientIP)
	if err != nil {
		return g.rejectAuth(err, clientIP)
	}

	if !service.RequireScope(principal, requiredScope) {
		return Result{
			Principal: principal,
			Reject: &Rejection{
				Status:  http.StatusForbidden,
				Code:    CodeForbidden,
				Message: string(requiredScope) + " scope required",
			},
			Headers: http.Header{},
		}
	}

	decision, err := g.limiter.Check(ctx, principal.WorkspaceID, principal.RateLimitRPM)
	if err != nil {
		g.logger.Error("rate limit check failed",
			"workspace_id", principal.WorkspaceID,
			"fail_open", g.failOpen,
			"error", err,
		)
		if g.failOpen {
			return Result{
				Allowed:   true,
				Principal: principal,
				Headers:   http.Header{},
			}
		}
		return Result{
			Principal: principal,
			Reject: &Rejection{
				Status:  http.StatusInternalServerError,
				Code:    CodeInternalError,
				Message: "Internal server error",
			},
			Headers: http.Header{},
		}
	}

	headers := rateLimitHeaders(decision)
	if !decision.Allowed {
		headers.Set("Retry-After", strconv.Itoa(decision.RetryAfter(g.now())))
		return Result{
			Principal: principal,
			Reject: &Rejection{
				Status:  http.StatusTooManyRequests,
				Code:    CodeRateLimited,
				Message: "Too many requests",
			},
			Headers: headers,
		}
	}

	return Result{
		Allowed:   true,
		Principal: principal,
		Headers:   headers,
	}
}

// rejectAuth maps an authentication failure to its rejection. No
// rate-limit headers are attached: the identity is unknown, so there is
// no counter to report against.
func (g *Guard) rejectAuth(err error, clientIP string) Result {
	var code, message string
	status := http.StatusUnauthorized

	switch {
	case errors.Is(err, service.ErrMissingHeader):
		code, message = CodeMissingHeader, "Missing Authorization header"
	case errors.Is(err, service.ErrMalformed):
		code, message = CodeMalformed, "Invalid API key format"
	case errors.Is(err, service.ErrKeyNotFound):
		code, message = CodeNotFound, "Invalid API key"
	case errors.Is(err, service.ErrKeyRevoked):
		code, message = CodeRevoked, "Invalid API key"
	case errors.Is(err, service.ErrKeyExpired):
		code, message = CodeExpired, "Invalid API key"
	case errors.Is(err, service.ErrIPNotAllowed):
		status = http.StatusForbidden
		code, message = CodeForbidden, "IP not allowed"
	default:
		status = http.StatusInternalServerError
		code, message = CodeInternalError, "Internal server error"
		g.logger.Error("authentication store error", "error", err)
	}

	if code != CodeInternalError {
		g.logger.Warn("request rejected", "code", code, "client_ip", clientIP)
	}

	return Result{
		Reject: &Rejection{
			Status:  status,
			Code:    code,
			Message: message,
		},
		Headers: http.Header{},
	}
}

func rateLimitHeaders(d ratelimit.Decision) http.Header {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	return h
}
