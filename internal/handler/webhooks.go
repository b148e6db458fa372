package handler

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/server/middleware"
	"github.com/gatehousehq/gatehouse/internal/store"
)

// knownEvents is the closed set of events a webhook may subscribe to.
var knownEvents = map[string]bool{
	"agent.reply":      true,
	"knowledge.added":  true,
	"key.revoked":      true,
	"usage.limit_near": true,
	"usage.limit_hit":  true,
}

// WebhookHandler serves the tenant webhook registration endpoints.
type WebhookHandler struct {
	store *store.Store
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(st *store.Store) *WebhookHandler {
	return &WebhookHandler{store: st}
}

// ListWebhooks returns the workspace's registered webhooks. Secrets are
// never included; the model excludes them from JSON.
// GET /api/v1/webhooks
func (h *WebhookHandler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())

	hooks, err := h.store.ListWebhooks(r.Context(), p.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to list webhooks")
		return
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"webhooks": hooks,
		"count":    len(hooks),
	})
}

// createWebhookRequest is the expected payload for CreateWebhook.
type createWebhookRequest struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// createWebhookResponse includes the signing secret, shown exactly once.
type createWebhookResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	URL       string          `json:"url"`
	Events    model.EventList `json:"events"`
	Secret    string          `json:"secret"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreateWebhook registers a callback endpoint and mints its signing
// secret. The secret is returned once and stored server side for outbound
// delivery signatures. Requires the write scope.
// POST /api/v1/webhooks
func (h *WebhookHandler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())

	var req createWebhookRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "name is required")
		return
	}
	if !validWebhookURL(req.URL) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "url must be a valid http(s) URL")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "at least one event is required")
		return
	}
	for _, ev := range req.Events {
		if !knownEvents[ev] {
			writeError(w, http.StatusBadRequest, codeBadRequest, "unknown event: "+ev)
			return
		}
	}

	secret, err := generateWebhookSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to generate secret")
		return
	}

	hook := &model.Webhook{
		ID:          uuid.New().String(),
		WorkspaceID: p.WorkspaceID,
		Name:        req.Name,
		URL:         req.URL,
		Events:      model.EventList(req.Events),
		Secret:      secret,
		IsActive:    true,
	}
	if err := h.store.CreateWebhook(r.Context(), hook); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to save webhook")
		return
	}

	writeData(w, http.StatusCreated, createWebhookResponse{
		ID:        hook.ID,
		Name:      hook.Name,
		URL:       hook.URL,
		Events:    hook.Events,
		Secret:    secret,
		IsActive:  hook.IsActive,
		CreatedAt: hook.CreatedAt,
	})
}

// DeleteWebhook removes a webhook registration, scoped to the caller's
// workspace. Requires the write scope.
// DELETE /api/v1/webhooks/{webhookId}
func (h *WebhookHandler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "webhookId")

	if err := h.store.DeleteWebhook(r.Context(), id, p.WorkspaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "Webhook not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to delete webhook")
		return
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"deleted": id,
	})
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func generateWebhookSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
