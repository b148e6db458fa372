package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gatehousehq/gatehouse/internal/store"
)

// registerTools registers all Gatehouse MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Discovery tools -----

	srv.AddTool(
		mcp.NewTool("gatehouse_list_agents",
			mcp.WithDescription(
				"List all active agents in the workspace. Returns each agent's ID, "+
					"name, and creation time. Use this first to discover which agents "+
					"are available before chatting or searching knowledge.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListAgents,
	)

	srv.AddTool(
		mcp.NewTool("gatehouse_list_documents",
			mcp.WithDescription(
				"List the documents in an agent's knowledge base, including titles "+
					"and creation times. Use this to explore what an agent knows before "+
					"searching for specific content.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("ID of the agent whose knowledge base to list"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of documents to return (default 25, max 200)"),
			),
		),
		s.handleListDocuments,
	)

	// ----- Knowledge search tool -----

	srv.AddTool(
		mcp.NewTool("gatehouse_search_knowledge",
			mcp.WithDescription(
				"Search an agent's knowledge base for documents matching a query. "+
					"The query is matched case-insensitively against document titles "+
					"and content. Returns matching documents as JSON.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("ID of the agent whose knowledge base to search"),
			),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Search terms to match against titles and content"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of documents to return (default 25, max 200)"),
			),
		),
		s.handleSearchKnowledge,
	)

	// ----- Chat tool -----

	srv.AddTool(
		mcp.NewTool("gatehouse_chat",
			mcp.WithDescription(
				"Send a message to an agent and receive its reply. Pass the "+
					"session_id from a previous reply to continue the same "+
					"conversation; omit it to start a new one.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("ID of the agent to chat with"),
			),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("The message to send to the agent"),
			),
			mcp.WithString("session_id",
				mcp.Description("Conversation session ID. Omit to start a new session."),
			),
		),
		s.handleChat,
	)
}

// --------------------------------------------------------------------------
// Tool handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleListAgents(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	agents, err := s.store.ListAgents(ctx, s.workspaceID)
	if err != nil {
		return toolError("failed to list agents: %v", err)
	}

	return successJSON(map[string]interface{}{
		"agents": agents,
		"count":  len(agents),
	})
}

func (s *MCPServer) handleListDocuments(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	agentID, err := requireString(request, "agent_id")
	if err != nil {
		return toolError("%v", err)
	}
	limit := clamp(optionalInt(request, "limit", 25), 1, 200)

	if _, err := s.store.GetAgent(ctx, agentID, s.workspaceID); err != nil {
		return agentLookupError(agentID, err)
	}

	docs, err := s.store.ListDocuments(ctx, agentID, s.workspaceID)
	if err != nil {
		return toolError("failed to list documents: %v", err)
	}
	if len(docs) > limit {
		docs = docs[:limit]
	}

	return successJSON(map[string]interface{}{
		"agent_id":  agentID,
		"documents": docs,
		"count":     len(docs),
	})
}

func (s *MCPServer) handleSearchKnowledge(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	agentID, err := requireString(request, "agent_id")
	if err != nil {
		return toolError("%v", err)
	}
	query, err := requireString(request, "query")
	if err != nil {
		return toolError("%v", err)
	}
	if strings.TrimSpace(query) == "" {
		return toolError("query must not be blank")
	}
	limit := clamp(optionalInt(request, "limit", 25), 1, 200)

	if _, err := s.store.GetAgent(ctx, agentID, s.workspaceID); err != nil {
		return agentLookupError(agentID, err)
	}

	docs, err := s.store.SearchDocuments(ctx, agentID, s.workspaceID, query)
	if err != nil {
		return toolError("search failed: %v", err)
	}
	if len(docs) > limit {
		docs = docs[:limit]
	}

	return successJSON(map[string]interface{}{
		"agent_id":  agentID,
		"query":     query,
		"documents": docs,
		"count":     len(docs),
	})
}

func (s *MCPServer) handleChat(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	agentID, err := requireString(request, "agent_id")
	if err != nil {
		return toolError("%v", err)
	}
	message, err := requireString(request, "message")
	if err != nil {
		return toolError("%v", err)
	}
	if strings.TrimSpace(message) == "" {
		return toolError("message must not be blank")
	}

	agent, err := s.store.GetAgent(ctx, agentID, s.workspaceID)
	if err != nil {
		return agentLookupError(agentID, err)
	}
	if !agent.IsActive {
		return toolError("agent %q is not active", agentID)
	}

	sessionID := optionalString(request, "session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	reply := fmt.Sprintf("This is a placeholder response from agent %s.", agent.Name)

	return successJSON(map[string]interface{}{
		"agent_id":   agent.ID,
		"session_id": sessionID,
		"reply":      reply,
	})
}

// agentLookupError maps a store lookup failure to a tool error, hiding the
// distinction between missing and cross-workspace agents.
func agentLookupError(agentID string, err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, store.ErrNotFound) {
		return toolError("agent %q not found in this workspace; use gatehouse_list_agents to see available agents", agentID)
	}
	return toolError("failed to load agent %q: %v", agentID, err)
}
