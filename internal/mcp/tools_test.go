package mcp

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/store"
)

func newTestServer(t *testing.T, workspaceID string) (*MCPServer, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMCPServer(st, workspaceID, logger), st
}

func seedAgent(t *testing.T, st *store.Store, workspaceID, name string, active bool) *model.Agent {
	t.Helper()
	agent := &model.Agent{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Name:        name,
		IsActive:    active,
	}
	if err := st.CreateAgent(t.Context(), agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	return agent
}

func seedDocument(t *testing.T, st *store.Store, agent *model.Agent, title, content string) {
	t.Helper()
	doc := &model.KnowledgeDocument{
		ID:          uuid.New().String(),
		AgentID:     agent.ID,
		WorkspaceID: agent.WorkspaceID,
		Title:       title,
		Content:     content,
	}
	if err := st.CreateDocument(t.Context(), doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

// resultJSON decodes the text payload of a successful tool result into out.
func resultJSON(t *testing.T, result *mcp.CallToolResult, out interface{}) {
	t.Helper()
	if result.IsError {
		t.Fatalf("unexpected tool error: %v", result.Content)
	}
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", result.Content[0])
	}
	if err := json.Unmarshal([]byte(text.Text), out); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
}

func errorText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if !result.IsError {
		t.Fatal("expected tool error result")
	}
	if len(result.Content) == 0 {
		t.Fatal("error result has no content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", result.Content[0])
	}
	return text.Text
}

func TestListAgentsTool(t *testing.T) {
	srv, st := newTestServer(t, "ws_1")
	seedAgent(t, st, "ws_1", "support-bot", true)
	seedAgent(t, st, "ws_1", "sales-bot", true)
	seedAgent(t, st, "ws_other", "hidden-bot", true)

	result, err := srv.handleListAgents(t.Context(), callRequest(nil))
	if err != nil {
		t.Fatalf("handleListAgents: %v", err)
	}

	var payload struct {
		Agents []model.Agent `json:"agents"`
		Count  int           `json:"count"`
	}
	resultJSON(t, result, &payload)

	if payload.Count != 2 {
		t.Errorf("count = %d, want 2", payload.Count)
	}
	for _, agent := range payload.Agents {
		if agent.Name == "hidden-bot" {
			t.Error("agent from another workspace leaked into the listing")
		}
	}
}

func TestChatTool(t *testing.T) {
	srv, st := newTestServer(t, "ws_1")
	agent := seedAgent(t, st, "ws_1", "support-bot", true)

	result, err := srv.handleChat(t.Context(), callRequest(map[string]interface{}{
		"agent_id": agent.ID,
		"message":  "hello there",
	}))
	if err != nil {
		t.Fatalf("handleChat: %v", err)
	}

	var payload struct {
		AgentID   string `json:"agent_id"`
		SessionID string `json:"session_id"`
		Reply     string `json:"reply"`
	}
	resultJSON(t, result, &payload)

	if payload.AgentID != agent.ID {
		t.Errorf("agent_id = %q, want %q", payload.AgentID, agent.ID)
	}
	if payload.SessionID == "" {
		t.Error("expected a generated session_id")
	}
	if !strings.Contains(payload.Reply, "support-bot") {
		t.Errorf("reply %q does not mention the agent name", payload.Reply)
	}
}

func TestChatToolPreservesSession(t *testing.T) {
	srv, st := newTestServer(t, "ws_1")
	agent := seedAgent(t, st, "ws_1", "support-bot", true)

	result, err := srv.handleChat(t.Context(), callRequest(map[string]interface{}{
		"agent_id":   agent.ID,
		"message":    "second turn",
		"session_id": "sess-abc",
	}))
	if err != nil {
		t.Fatalf("handleChat: %v", err)
	}

	var payload struct {
		SessionID string `json:"session_id"`
	}
	resultJSON(t, result, &payload)

	if payload.SessionID != "sess-abc" {
		t.Errorf("session_id = %q, want sess-abc", payload.SessionID)
	}
}

func TestChatToolErrors(t *testing.T) {
	srv, st := newTestServer(t, "ws_1")
	inactive := seedAgent(t, st, "ws_1", "retired-bot", false)
	foreign := seedAgent(t, st, "ws_other", "other-bot", true)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing agent_id", map[string]interface{}{"message": "hi"}},
		{"missing message", map[string]interface{}{"agent_id": inactive.ID}},
		{"blank message", map[string]interface{}{"agent_id": inactive.ID, "message": "   "}},
		{"unknown agent", map[string]interface{}{"agent_id": "nope", "message": "hi"}},
		{"inactive agent", map[string]interface{}{"agent_id": inactive.ID, "message": "hi"}},
		{"cross-workspace agent", map[string]interface{}{"agent_id": foreign.ID, "message": "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.handleChat(t.Context(), callRequest(tt.args))
			if err != nil {
				t.Fatalf("handleChat: %v", err)
			}
			if !result.IsError {
				t.Error("expected a tool error result")
			}
		})
	}
}

func TestSearchKnowledgeTool(t *testing.T) {
	srv, st := newTestServer(t, "ws_1")
	agent := seedAgent(t, st, "ws_1", "support-bot", true)
	seedDocument(t, st, agent, "Refund policy", "Refunds are issued within 14 days.")
	seedDocument(t, st, agent, "Shipping", "Orders ship within 2 business days.")

	result, err := srv.handleSearchKnowledge(t.Context(), callRequest(map[string]interface{}{
		"agent_id": agent.ID,
		"query":    "refund",
	}))
	if err != nil {
		t.Fatalf("handleSearchKnowledge: %v", err)
	}

	var payload struct {
		Documents []model.KnowledgeDocument `json:"documents"`
		Count     int                       `json:"count"`
	}
	resultJSON(t, result, &payload)

	if payload.Count != 1 {
		t.Fatalf("count = %d, want 1", payload.Count)
	}
	if payload.Documents[0].Title != "Refund policy" {
		t.Errorf("title = %q, want Refund policy", payload.Documents[0].Title)
	}
}

func TestSearchKnowledgeToolBlankQuery(t *testing.T) {
	srv, st := newTestServer(t, "ws_1")
	agent := seedAgent(t, st, "ws_1", "support-bot", true)

	result, err := srv.handleSearchKnowledge(t.Context(), callRequest(map[string]interface{}{
		"agent_id": agent.ID,
		"query":    "  ",
	}))
	if err != nil {
		t.Fatalf("handleSearchKnowledge: %v", err)
	}
	if got := errorText(t, result); !strings.Contains(got, "blank") {
		t.Errorf("error = %q, want mention of blank query", got)
	}
}

func TestListDocumentsTool(t *testing.T) {
	srv, st := newTestServer(t, "ws_1")
	agent := seedAgent(t, st, "ws_1", "support-bot", true)
	for i := 0; i < 5; i++ {
		seedDocument(t, st, agent, "Doc", "content")
	}

	result, err := srv.handleListDocuments(t.Context(), callRequest(map[string]interface{}{
		"agent_id": agent.ID,
		"limit":    3,
	}))
	if err != nil {
		t.Fatalf("handleListDocuments: %v", err)
	}

	var payload struct {
		Count int `json:"count"`
	}
	resultJSON(t, result, &payload)

	if payload.Count != 3 {
		t.Errorf("count = %d, want 3 (limit applied)", payload.Count)
	}
}

func TestAgentsResource(t *testing.T) {
	srv, st := newTestServer(t, "ws_1")
	seedAgent(t, st, "ws_1", "support-bot", true)

	var req mcp.ReadResourceRequest
	req.Params.URI = "gatehouse://agents"

	contents, err := srv.handleAgentsResource(t.Context(), req)
	if err != nil {
		t.Fatalf("handleAgentsResource: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents are %T, want TextResourceContents", contents[0])
	}

	var agents []model.Agent
	if err := json.Unmarshal([]byte(text.Text), &agents); err != nil {
		t.Fatalf("decode resource: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "support-bot" {
		t.Errorf("unexpected agents payload: %+v", agents)
	}
}

func TestKnowledgeResourceRejectsBadURI(t *testing.T) {
	srv, _ := newTestServer(t, "ws_1")

	var req mcp.ReadResourceRequest
	req.Params.URI = "gatehouse://agents"

	if _, err := srv.handleKnowledgeResource(t.Context(), req); err == nil {
		t.Error("expected an error for a non-knowledge URI")
	}
}
