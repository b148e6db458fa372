package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/server/middleware"
	"github.com/gatehousehq/gatehouse/internal/store"
)

// KnowledgeHandler serves the per-agent knowledge base endpoints.
type KnowledgeHandler struct {
	store *store.Store
}

// NewKnowledgeHandler creates a KnowledgeHandler.
func NewKnowledgeHandler(st *store.Store) *KnowledgeHandler {
	return &KnowledgeHandler{store: st}
}

// ListDocuments returns an agent's knowledge documents.
// GET /api/v1/agents/{agentId}/knowledge
func (h *KnowledgeHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	agentID := chi.URLParam(r, "agentId")

	if _, err := h.store.GetAgent(r.Context(), agentID, p.WorkspaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "Agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load agent")
		return
	}

	docs, err := h.store.ListDocuments(r.Context(), agentID, p.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to list documents")
		return
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
	})
}

// addDocumentRequest is the expected payload for AddDocument.
type addDocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// AddDocument attaches a document to an agent's knowledge base. Requires
// the write scope, enforced by the route's guard.
// POST /api/v1/agents/{agentId}/knowledge
func (h *KnowledgeHandler) AddDocument(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	agentID := chi.URLParam(r, "agentId")

	var req addDocumentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "title is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "content is required")
		return
	}

	if _, err := h.store.GetAgent(r.Context(), agentID, p.WorkspaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "Agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load agent")
		return
	}

	doc := &model.KnowledgeDocument{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		WorkspaceID: p.WorkspaceID,
		Title:       req.Title,
		Content:     req.Content,
	}
	if err := h.store.CreateDocument(r.Context(), doc); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to save document")
		return
	}

	writeData(w, http.StatusCreated, doc)
}

// Search performs a substring search over an agent's knowledge base.
// GET /api/v1/agents/{agentId}/knowledge/search?q=...
func (h *KnowledgeHandler) Search(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	agentID := chi.URLParam(r, "agentId")

	query := strings.TrimSpace(queryString(r, "q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "q is required")
		return
	}

	if _, err := h.store.GetAgent(r.Context(), agentID, p.WorkspaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "Agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load agent")
		return
	}

	docs, err := h.store.SearchDocuments(r.Context(), agentID, p.WorkspaceID, query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Search failed")
		return
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"query":     query,
		"documents": docs,
		"count":     len(docs),
	})
}
