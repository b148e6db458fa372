package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/service"
	"github.com/gatehousehq/gatehouse/internal/store"
)

// SystemHandler serves the internal dashboard surface: admin sessions, key
// management per workspace, MCP tokens, and usage counts. Everything here
// sits behind the admin JWT middleware except Login itself.
type SystemHandler struct {
	store   *store.Store
	authSvc *service.AuthService
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(st *store.Store, authSvc *service.AuthService) *SystemHandler {
	return &SystemHandler{store: st, authSvc: authSvc}
}

// ---------------------------------------------------------------------------
// Admin sessions
// ---------------------------------------------------------------------------

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   int64  `json:"admin_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates an admin and returns a JWT session token.
// POST /api/internal/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Email and password are required")
		return
	}

	admin, err := h.store.GetAdminByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, codeBadRequest, "Invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "Authentication error")
		return
	}
	if !admin.IsActive {
		writeError(w, http.StatusUnauthorized, codeBadRequest, "Invalid credentials")
		return
	}
	if store.HashKey(req.Password) != admin.PasswordHash {
		writeError(w, http.StatusUnauthorized, codeBadRequest, "Invalid credentials")
		return
	}

	ttl := 24 * time.Hour
	token, err := h.authSvc.IssueJWT(r.Context(), admin.ID, admin.Email, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to issue token")
		return
	}

	_ = h.store.UpdateAdminLastLogin(r.Context(), admin.ID)

	writeData(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(ttl.Seconds()),
		AdminID:   admin.ID,
		Email:     admin.Email,
		Name:      admin.Name,
	})
}

// Logout invalidates the current session. JWTs are stateless, so this is a
// no-op server side; clients discard their token.
// DELETE /api/internal/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]interface{}{
		"message": "Session invalidated",
	})
}

// ---------------------------------------------------------------------------
// API key management
// ---------------------------------------------------------------------------

// ListAPIKeys returns a workspace's keys without exposing hashes.
// GET /api/internal/workspaces/{workspaceId}/keys
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")

	keys, err := h.store.ListAPIKeys(r.Context(), workspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to list API keys")
		return
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
	})
}

type createAPIKeyRequest struct {
	Name         string     `json:"name"`
	Scopes       []string   `json:"scopes,omitempty"`
	RateLimitRPM int        `json:"rate_limit_rpm,omitempty"`
	AllowedIPs   []string   `json:"allowed_ips,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// createAPIKeyResponse includes the plaintext key, shown exactly once.
type createAPIKeyResponse struct {
	ID           string       `json:"id"`
	Key          string       `json:"api_key"`
	Prefix       string       `json:"prefix"`
	Name         string       `json:"name"`
	Scopes       model.Scopes `json:"scopes"`
	RateLimitRPM int          `json:"rate_limit_rpm"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// CreateAPIKey mints a workspace API key. Only the SHA-256 hash is stored;
// the raw key appears in this response and nowhere else.
// POST /api/internal/workspaces/{workspaceId}/keys
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")

	var req createAPIKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "name is required")
		return
	}

	scopes, err := model.ParseScopes(req.Scopes)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	gen, err := service.GenerateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to generate key")
		return
	}

	key := service.NewAPIKeyRecord(gen, workspaceID, req.Name, scopes, req.RateLimitRPM, req.ExpiresAt)
	key.AllowedIPs = model.IPList(req.AllowedIPs)

	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to save API key")
		return
	}

	writeData(w, http.StatusCreated, createAPIKeyResponse{
		ID:           key.ID,
		Key:          gen.Raw,
		Prefix:       key.Prefix,
		Name:         key.Name,
		Scopes:       key.Scopes,
		RateLimitRPM: key.RateLimitRPM,
		ExpiresAt:    key.ExpiresAt,
		CreatedAt:    key.CreatedAt,
	})
}

// RevokeAPIKey deactivates a key. Revocation takes effect on the next
// request; there is no caching to mask it.
// DELETE /api/internal/workspaces/{workspaceId}/keys/{keyId}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")
	keyID := chi.URLParam(r, "keyId")

	if err := h.store.RevokeAPIKey(r.Context(), keyID, workspaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "API key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to revoke API key")
		return
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"revoked": keyID,
	})
}

// ---------------------------------------------------------------------------
// MCP tokens
// ---------------------------------------------------------------------------

type createMCPTokenResponse struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateMCPToken mints an MCP access token for a workspace. Same
// hash-only storage as API keys.
// POST /api/internal/workspaces/{workspaceId}/mcp-tokens
func (h *SystemHandler) CreateMCPToken(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")

	gen, err := service.GenerateMCPToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to generate token")
		return
	}

	token := &model.MCPToken{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		TokenHash:   gen.Hash,
		Prefix:      gen.Prefix,
		IsActive:    true,
	}
	if err := h.store.CreateMCPToken(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to save token")
		return
	}

	writeData(w, http.StatusCreated, createMCPTokenResponse{
		ID:        token.ID,
		Token:     gen.Raw,
		Prefix:    token.Prefix,
		CreatedAt: token.CreatedAt,
	})
}

// ---------------------------------------------------------------------------
// Usage
// ---------------------------------------------------------------------------

// Usage returns the call-log count for a workspace.
// GET /api/internal/workspaces/{workspaceId}/usage
func (h *SystemHandler) Usage(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceId")

	count, err := h.store.CountCallLogs(r.Context(), workspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load usage")
		return
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"workspace_id": workspaceID,
		"total_calls":  count,
	})
}
