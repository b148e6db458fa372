package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// gatehouse://agents — list of the workspace's agents
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"gatehouse://agents",
			"Workspace Agents",
			mcp.WithResourceDescription(
				"List of all agents in the workspace, "+
					"including their name, active status, and creation time.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleAgentsResource,
	)

	// -------------------------------------------------------------------
	// gatehouse://knowledge/{agent} — an agent's knowledge base (template)
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"gatehouse://knowledge/{agent}",
			"Agent Knowledge Base",
			mcp.WithTemplateDescription(
				"Full knowledge base for an agent, "+
					"including every document's title, content, and creation time.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleKnowledgeResource,
	)
}

// handleAgentsResource returns a JSON list of the workspace's agents.
func (s *MCPServer) handleAgentsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	agents, err := s.store.ListAgents(ctx, s.workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	b, err := json.MarshalIndent(agents, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agents: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "gatehouse://agents",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// handleKnowledgeResource returns every document in an agent's knowledge base.
func (s *MCPServer) handleKnowledgeResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	// Extract agent ID from URI: "gatehouse://knowledge/{agent}"
	uri := request.Params.URI
	agentID := strings.TrimPrefix(uri, "gatehouse://knowledge/")
	if agentID == "" || agentID == uri {
		return nil, fmt.Errorf("invalid knowledge URI %q: expected gatehouse://knowledge/{agent}", uri)
	}

	if _, err := s.store.GetAgent(ctx, agentID, s.workspaceID); err != nil {
		return nil, fmt.Errorf("agent %q not found: %w", agentID, err)
	}

	docs, err := s.store.ListDocuments(ctx, agentID, s.workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents for %q: %w", agentID, err)
	}

	b, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal documents: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
