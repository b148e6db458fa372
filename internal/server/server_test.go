package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/service"
	"github.com/gatehousehq/gatehouse/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret = "test-secret-for-jwt-integration-tests"
	testPassword  = "supersecretpassword"
)

// testEnv holds the shared state for integration tests.
type testEnv struct {
	server  *Server
	store   *store.Store
	authSvc *service.AuthService
}

// newTestEnv creates a fresh environment with an in-memory store and a
// fully wired Server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	authSvc := service.NewAuthService(st, testJWTSecret)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := New(DefaultConfig(), st, authSvc, logger)
	srv.recorder.Start()
	t.Cleanup(srv.recorder.Shutdown)

	return &testEnv{server: srv, store: st, authSvc: authSvc}
}

// seedKey mints an API key directly in the store and returns the raw secret.
func (e *testEnv) seedKey(t *testing.T, workspaceID string, scopes model.Scopes, rpm int) string {
	t.Helper()
	gen, err := service.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	key := service.NewAPIKeyRecord(gen, workspaceID, "test", scopes, rpm, nil)
	if err := e.store.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return gen.Raw
}

func (e *testEnv) seedAgent(t *testing.T, workspaceID, name string) *model.Agent {
	t.Helper()
	agent := &model.Agent{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Name:        name,
		IsActive:    true,
	}
	if err := e.store.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	return agent
}

// request performs an HTTP request against the wired router.
func (e *testEnv) request(method, path, bearer string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope model.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v (body: %s)", err, rr.Body.String())
	}
	return envelope.Error.Code
}

// ---------------------------------------------------------------------------
// Health and spec
// ---------------------------------------------------------------------------

func TestHealthEndpointsUnauthenticated(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/openapi.json"} {
		rr := e.request("GET", path, "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rr.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// Guard behavior through the full stack
// ---------------------------------------------------------------------------

func TestV1RequiresAuthentication(t *testing.T) {
	e := newTestEnv(t)

	rr := e.request("GET", "/api/v1/agents", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if code := errorCode(t, rr); code != "MISSING_HEADER" {
		t.Errorf("code = %q, want MISSING_HEADER", code)
	}
}

func TestV1SuccessCarriesRateHeaders(t *testing.T) {
	e := newTestEnv(t)
	raw := e.seedKey(t, "ws-1", nil, 10)

	rr := e.request("GET", "/api/v1/agents", raw, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-RateLimit-Limit") != "10" {
		t.Errorf("X-RateLimit-Limit = %q", rr.Header().Get("X-RateLimit-Limit"))
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "9" {
		t.Errorf("X-RateLimit-Remaining = %q", rr.Header().Get("X-RateLimit-Remaining"))
	}
	if rr.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("missing X-RateLimit-Reset")
	}
}

func TestV1BurstAtCeiling(t *testing.T) {
	e := newTestEnv(t)
	const ceiling = 60
	raw := e.seedKey(t, "ws-1", nil, ceiling)

	for i := 1; i <= ceiling; i++ {
		rr := e.request("GET", "/api/v1/agents", raw, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rr.Code)
		}
	}

	rr := e.request("GET", "/api/v1/agents", raw, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if code := errorCode(t, rr); code != "RATE_LIMITED" {
		t.Errorf("code = %q, want RATE_LIMITED", code)
	}
	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || retry <= 0 || retry > 60 {
		t.Errorf("Retry-After = %q, want integer in (0, 60]", rr.Header().Get("Retry-After"))
	}
}

func TestV1WriteScopeEnforced(t *testing.T) {
	e := newTestEnv(t)
	raw := e.seedKey(t, "ws-1", model.Scopes{model.ScopeRead}, 10)
	agent := e.seedAgent(t, "ws-1", "support-bot")

	body := []byte(`{"title":"T","content":"C"}`)
	rr := e.request("POST", "/api/v1/agents/"+agent.ID+"/knowledge", raw, body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if code := errorCode(t, rr); code != "FORBIDDEN" {
		t.Errorf("code = %q, want FORBIDDEN", code)
	}

	// A read under the same key still proceeds with a full budget minus
	// the one read: the 403 consumed nothing.
	rr = e.request("GET", "/api/v1/agents", raw, nil)
	if rr.Header().Get("X-RateLimit-Remaining") != "9" {
		t.Errorf("X-RateLimit-Remaining = %q, want 9 after a scope rejection",
			rr.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestV1RevokedKeyRejected(t *testing.T) {
	e := newTestEnv(t)
	raw := e.seedKey(t, "ws-1", nil, 10)

	keys, _ := e.store.ListAPIKeys(context.Background(), "ws-1")
	if err := e.store.RevokeAPIKey(context.Background(), keys[0].ID, "ws-1"); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	rr := e.request("GET", "/api/v1/agents", raw, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if code := errorCode(t, rr); code != "REVOKED" {
		t.Errorf("code = %q, want REVOKED", code)
	}
}

func TestV1ChatFlow(t *testing.T) {
	e := newTestEnv(t)
	raw := e.seedKey(t, "ws-1", nil, 10)
	agent := e.seedAgent(t, "ws-1", "support-bot")

	body := []byte(`{"message":"hello"}`)
	rr := e.request("POST", "/api/v1/agents/"+agent.ID+"/chat", raw, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			AgentID   string `json:"agent_id"`
			SessionID string `json:"session_id"`
			Reply     string `json:"reply"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !envelope.Success || envelope.Data.Reply == "" {
		t.Errorf("unexpected response: %+v", envelope)
	}
}

// ---------------------------------------------------------------------------
// Internal surface
// ---------------------------------------------------------------------------

func seedAdminAccount(t *testing.T, e *testEnv) {
	t.Helper()
	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: store.HashKey(testPassword),
		Name:         "Test Admin",
		IsActive:     true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
}

func login(t *testing.T, e *testEnv) string {
	t.Helper()
	body := []byte(`{"email":"admin@example.com","password":"` + testPassword + `"}`)
	rr := e.request("POST", "/api/internal/session", "", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body: %s", rr.Code, rr.Body.String())
	}
	var envelope struct {
		Data struct {
			Token string `json:"session_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return envelope.Data.Token
}

func TestInternalSurfaceRequiresJWT(t *testing.T) {
	e := newTestEnv(t)

	rr := e.request("GET", "/api/internal/workspaces/ws-1/keys", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}

	// A workspace API key is not an admin session.
	raw := e.seedKey(t, "ws-1", nil, 10)
	rr = e.request("GET", "/api/internal/workspaces/ws-1/keys", raw, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("api key on internal surface: status = %d, want 401", rr.Code)
	}
}

func TestInternalKeyLifecycleEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	seedAdminAccount(t, e)
	token := login(t, e)

	// Mint a key through the dashboard API.
	body := []byte(`{"name":"e2e key","rate_limit_rpm":5}`)
	rr := e.request("POST", "/api/internal/workspaces/ws-1/keys", token, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create key status = %d, body: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Data struct {
			ID  string `json:"id"`
			Key string `json:"api_key"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// The minted key works on the public surface with its configured limit.
	rr = e.request("GET", "/api/v1/agents", created.Data.Key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("minted key status = %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "5" {
		t.Errorf("X-RateLimit-Limit = %q, want 5", rr.Header().Get("X-RateLimit-Limit"))
	}

	// Revoke it; the next public request is a 401.
	rr = e.request("DELETE", "/api/internal/workspaces/ws-1/keys/"+created.Data.ID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", rr.Code)
	}
	rr = e.request("GET", "/api/v1/agents", created.Data.Key, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("revoked key status = %d, want 401", rr.Code)
	}
}

func TestInternalUsageCountsCalls(t *testing.T) {
	e := newTestEnv(t)
	seedAdminAccount(t, e)
	token := login(t, e)
	raw := e.seedKey(t, "ws-usage", nil, 10)

	for i := 0; i < 3; i++ {
		e.request("GET", "/api/v1/agents", raw, nil)
	}
	// Drain the async recorder so the counts are visible.
	e.server.recorder.Shutdown()

	rr := e.request("GET", "/api/internal/workspaces/ws-usage/usage", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("usage status = %d", rr.Code)
	}
	var envelope struct {
		Data struct {
			TotalCalls int64 `json:"total_calls"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.TotalCalls != 3 {
		t.Errorf("total_calls = %d, want 3", envelope.Data.TotalCalls)
	}
}
