package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gatehousehq/gatehouse/internal/gateway"
	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/service"
	"github.com/gatehousehq/gatehouse/internal/telemetry"
)

type contextKeyAuth string

const (
	// PrincipalKey is the context key for the authenticated API key principal.
	PrincipalKey contextKeyAuth = "principal"
	// AdminKey is the context key for the authenticated admin identity.
	AdminKey contextKeyAuth = "admin"
)

// Guard returns the middleware protecting the public v1 surface. Every
// request passes the full gateway decision (authenticate, scope, rate
// limit) before reaching its handler; rejected requests get the error
// envelope plus whatever headers the decision produced. requiredScope may
// be empty for endpoints that need authentication only.
func Guard(g *gateway.Guard, recorder *telemetry.Recorder, requiredScope model.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			res := g.Check(r.Context(), r.Header.Get("Authorization"), ClientIP(r), requiredScope)
			for key, vals := range res.Headers {
				for _, v := range vals {
					w.Header().Add(key, v)
				}
			}

			if !res.Allowed {
				writeEnvelope(w, res.Reject.Status,
					model.NewErrorResponse(res.Reject.Code, res.Reject.Message))
				// Unauthenticated attempts carry no principal, so there is
				// nothing to attribute the call log entry to.
				if recorder != nil && res.Principal != nil {
					recorder.Record(&model.APICallLog{
						APIKeyID:     res.Principal.KeyID,
						WorkspaceID:  res.Principal.WorkspaceID,
						Endpoint:     r.URL.Path,
						Method:       r.Method,
						StatusCode:   res.Reject.Status,
						LatencyMs:    time.Since(start).Milliseconds(),
						ErrorMessage: res.Reject.Code,
					})
				}
				return
			}

			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			ctx := context.WithValue(r.Context(), PrincipalKey, res.Principal)
			next.ServeHTTP(ww, r.WithContext(ctx))

			if recorder != nil {
				recorder.Record(&model.APICallLog{
					APIKeyID:    res.Principal.KeyID,
					WorkspaceID: res.Principal.WorkspaceID,
					Endpoint:    r.URL.Path,
					Method:      r.Method,
					StatusCode:  ww.status,
					LatencyMs:   time.Since(start).Milliseconds(),
				})
			}
		})
	}
}

// RequireAdmin returns the middleware protecting the internal dashboard
// surface. It validates the JWT session token from the Authorization
// header and attaches the admin identity to the context.
func RequireAdmin(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeEnvelope(w, http.StatusUnauthorized,
					model.NewErrorResponse(gateway.CodeMissingHeader, "Missing Authorization header"))
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			admin, err := authSvc.ValidateJWT(r.Context(), token)
			if err != nil {
				writeEnvelope(w, http.StatusUnauthorized,
					model.NewErrorResponse(gateway.CodeNotFound, "Invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), AdminKey, admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the API key principal from the context. Returns
// nil on the internal surface or before the guard has run.
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(PrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

// GetAdmin extracts the admin identity from the context.
func GetAdmin(ctx context.Context) *service.JWTPrincipal {
	if a, ok := ctx.Value(AdminKey).(*service.JWTPrincipal); ok {
		return a
	}
	return nil
}

// ClientIP resolves the client address, preferring the first entry of
// X-Forwarded-For when a proxy added one.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeEnvelope(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
