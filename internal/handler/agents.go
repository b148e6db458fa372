package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gatehousehq/gatehouse/internal/server/middleware"
	"github.com/gatehousehq/gatehouse/internal/store"
)

// Handler-level error codes. Guard-level codes (MISSING_HEADER, RATE_LIMITED,
// and the rest) are owned by the gateway package; these cover validation and
// lookup failures inside the handlers themselves.
const (
	codeBadRequest    = "BAD_REQUEST"
	codeNotFound      = "NOT_FOUND"
	codeInternalError = "INTERNAL_ERROR"
)

// AgentHandler serves the public agent endpoints.
type AgentHandler struct {
	store *store.Store
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(st *store.Store) *AgentHandler {
	return &AgentHandler{store: st}
}

// ListAgents returns the workspace's agents.
// GET /api/v1/agents
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())

	agents, err := h.store.ListAgents(r.Context(), p.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to list agents")
		return
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"agents": agents,
		"count":  len(agents),
	})
}

// chatRequest is the expected payload for the Chat endpoint.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// chatResponse echoes the session and carries the agent's reply.
type chatResponse struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// Chat accepts a message for an agent and returns its reply. Reply
// generation is delegated to an external model backend; until one is wired
// in, a canned response keeps the endpoint contract stable for clients.
// POST /api/v1/agents/{agentId}/chat
func (h *AgentHandler) Chat(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	agentID := chi.URLParam(r, "agentId")

	var req chatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "message is required")
		return
	}

	agent, err := h.store.GetAgent(r.Context(), agentID, p.WorkspaceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "Agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "Failed to load agent")
		return
	}
	if !agent.IsActive {
		writeError(w, http.StatusNotFound, codeNotFound, "Agent not found")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	writeData(w, http.StatusOK, chatResponse{
		AgentID:   agent.ID,
		SessionID: sessionID,
		Reply:     "This is a placeholder response from agent " + agent.Name + ".",
	})
}
