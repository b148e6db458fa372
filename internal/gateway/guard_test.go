package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/ratelimit"
	"github.com/gatehousehq/gatehouse/internal/service"
	"github.com/gatehousehq/gatehouse/internal/store"
)

func newTestGuard(t *testing.T) (*Guard, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := service.NewAuthService(st, "test-secret")
	limiter := ratelimit.New(st, time.Minute, logger)
	return New(auth, limiter, logger, false), st
}

func seedKey(t *testing.T, st *store.Store, workspaceID string, scopes model.Scopes, rpm int) string {
	t.Helper()
	gen, err := service.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	key := service.NewAPIKeyRecord(gen, workspaceID, "test", scopes, rpm, nil)
	if err := st.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return gen.Raw
}

func currentWindow() int64 {
	return time.Now().Unix() / 60 * 60
}

func TestGuardValidReadRequest(t *testing.T) {
	g, st := newTestGuard(t)
	ctx := context.Background()

	raw := seedKey(t, st, "ws-1", model.Scopes{model.ScopeRead}, 10)

	res := g.Check(ctx, "Bearer "+raw, "", "")
	if !res.Allowed {
		t.Fatalf("expected Proceed, got %+v", res.Reject)
	}
	if res.Principal.WorkspaceID != "ws-1" {
		t.Errorf("WorkspaceID: got %q", res.Principal.WorkspaceID)
	}
	if got := res.Headers.Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want 10", got)
	}
	if got := res.Headers.Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("X-RateLimit-Remaining = %q, want 9 (limit - 1)", got)
	}
	if res.Headers.Get("X-RateLimit-Reset") == "" {
		t.Error("missing X-RateLimit-Reset")
	}
}

func TestGuardMissingAndMalformedHeader(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		header   string
		wantCode string
	}{
		{name: "no header", header: "", wantCode: CodeMissingHeader},
		{name: "garbage", header: "Bearer not-a-key", wantCode: CodeMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := g.Check(ctx, tt.header, "", "")
			if res.Allowed {
				t.Fatal("expected rejection")
			}
			if res.Reject.Status != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", res.Reject.Status)
			}
			if res.Reject.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", res.Reject.Code, tt.wantCode)
			}
			if res.Headers.Get("X-RateLimit-Limit") != "" {
				t.Error("401 must not carry rate-limit headers")
			}
		})
	}
}

func TestGuardRevokedKeyGenericMessage(t *testing.T) {
	g, st := newTestGuard(t)
	ctx := context.Background()

	raw := seedKey(t, st, "ws-1", nil, 10)
	keys, _ := st.ListAPIKeys(ctx, "ws-1")
	if err := st.RevokeAPIKey(ctx, keys[0].ID, "ws-1"); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	res := g.Check(ctx, "Bearer "+raw, "", "")
	if res.Allowed {
		t.Fatal("revoked key must not pass")
	}
	if res.Reject.Status != http.StatusUnauthorized || res.Reject.Code != CodeRevoked {
		t.Errorf("got %d/%s, want 401/REVOKED", res.Reject.Status, res.Reject.Code)
	}
	// The message must not reveal whether the key exists.
	if res.Reject.Message != "Invalid API key" {
		t.Errorf("message leaks key state: %q", res.Reject.Message)
	}
}

func TestGuardScopeRejectionLeavesCounterUntouched(t *testing.T) {
	g, st := newTestGuard(t)
	ctx := context.Background()

	raw := seedKey(t, st, "ws-1", model.Scopes{model.ScopeRead}, 10)

	res := g.Check(ctx, "Bearer "+raw, "", model.ScopeWrite)
	if res.Allowed {
		t.Fatal("expected 403")
	}
	if res.Reject.Status != http.StatusForbidden || res.Reject.Code != CodeForbidden {
		t.Errorf("got %d/%s, want 403/FORBIDDEN", res.Reject.Status, res.Reject.Code)
	}

	count, err := st.GetCounter(ctx, "ws-1", currentWindow())
	if err != nil {
		t.Fatalf("GetCounter: %v", err)
	}
	if count != 0 {
		t.Errorf("scope rejection consumed rate budget: count = %d", count)
	}
}

func TestGuardInvalidKeyNeverConsumesBudget(t *testing.T) {
	g, st := newTestGuard(t)
	ctx := context.Background()

	// Exhaust ws-1's budget with a valid key.
	raw := seedKey(t, st, "ws-1", nil, 1)
	if res := g.Check(ctx, "Bearer "+raw, "", ""); !res.Allowed {
		t.Fatal("first request should pass")
	}

	// An invalid key gets 401, not 429, even though some workspace's
	// budget is exhausted.
	bogus := "Bearer sk-" + strconvRepeat('f', 64)
	res := g.Check(ctx, bogus, "", "")
	if res.Allowed {
		t.Fatal("invalid key must not pass")
	}
	if res.Reject.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 (auth is checked before rate limit)", res.Reject.Status)
	}

	count, _ := st.GetCounter(ctx, "ws-1", currentWindow())
	if count != 1 {
		t.Errorf("invalid key mutated the workspace counter: count = %d", count)
	}
}

func TestGuardBurstAtCeiling(t *testing.T) {
	g, st := newTestGuard(t)
	ctx := context.Background()

	const ceiling = 60
	raw := seedKey(t, st, "ws-1", nil, ceiling)

	for i := 1; i <= ceiling; i++ {
		res := g.Check(ctx, "Bearer "+raw, "", "")
		if !res.Allowed {
			t.Fatalf("request %d denied below ceiling", i)
		}
	}

	res := g.Check(ctx, "Bearer "+raw, "", "")
	if res.Allowed {
		t.Fatal("request past ceiling allowed")
	}
	if res.Reject.Status != http.StatusTooManyRequests || res.Reject.Code != CodeRateLimited {
		t.Errorf("got %d/%s, want 429/RATE_LIMITED", res.Reject.Status, res.Reject.Code)
	}
	if got := res.Headers.Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	retry, err := strconv.Atoi(res.Headers.Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After not an integer: %v", err)
	}
	if retry <= 0 || retry > 60 {
		t.Errorf("Retry-After = %d, want in (0, 60]", retry)
	}
}

func TestGuardIPAllowlist(t *testing.T) {
	g, st := newTestGuard(t)
	ctx := context.Background()

	gen, err := service.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	key := service.NewAPIKeyRecord(gen, "ws-1", "pinned", nil, 10, nil)
	key.AllowedIPs = model.IPList{"10.0.0.1"}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	res := g.Check(ctx, "Bearer "+gen.Raw, "203.0.113.9", "")
	if res.Allowed {
		t.Fatal("disallowed IP must not pass")
	}
	if res.Reject.Status != http.StatusForbidden || res.Reject.Code != CodeForbidden {
		t.Errorf("got %d/%s, want 403/FORBIDDEN", res.Reject.Status, res.Reject.Code)
	}

	if res := g.Check(ctx, "Bearer "+gen.Raw, "10.0.0.1", ""); !res.Allowed {
		t.Errorf("allowed IP rejected: %+v", res.Reject)
	}
}

func TestGuardStoreFailureFailClosed(t *testing.T) {
	// Auth and limiter use separate stores so the limiter's can be broken
	// after authentication succeeds.
	authStore, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { authStore.Close() })

	brokenStore, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	brokenStore.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := service.NewAuthService(authStore, "test-secret")
	limiter := ratelimit.New(brokenStore, time.Minute, logger)

	raw := seedKey(t, authStore, "ws-1", nil, 10)
	ctx := context.Background()

	closed := New(auth, limiter, logger, false)
	res := closed.Check(ctx, "Bearer "+raw, "", "")
	if res.Allowed {
		t.Fatal("fail-closed guard allowed through a broken limiter")
	}
	if res.Reject.Status != http.StatusInternalServerError || res.Reject.Code != CodeInternalError {
		t.Errorf("got %d/%s, want 500/INTERNAL_ERROR", res.Reject.Status, res.Reject.Code)
	}

	open := New(auth, limiter, logger, true)
	res = open.Check(ctx, "Bearer "+raw, "", "")
	if !res.Allowed {
		t.Fatalf("fail-open guard rejected: %+v", res.Reject)
	}
	if res.Headers.Get("X-RateLimit-Limit") != "" {
		t.Error("fail-open proceed must not fabricate rate-limit headers")
	}
}

func strconvRepeat(c byte, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = c
	}
	return string(buf)
}
